package authorization

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
)

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleEncoder     Role = "encoder"
	RoleViewer      Role = "viewer"
)

const (
	ObjectProgram      = "program"
	ObjectInventory    = "inventory"
	ObjectAllocation   = "allocation"
	ObjectCalculation  = "calculation"
	ObjectBeneficiary  = "beneficiary"
	ObjectDisbursement = "disbursement"
)

const (
	ActionProgramManage     = "program.manage"
	ActionProgramApprove    = "program.approve"
	ActionProgramDistribute = "program.distribute"

	ActionInventoryManage     = "inventory.manage"
	ActionInventoryManageCost = "inventory.manage_cost"

	ActionAllocationManage = "allocation.manage"

	ActionCalculationManage = "calculation.manage"

	ActionBeneficiaryEnroll   = "beneficiary.enroll"
	ActionBeneficiaryApprove  = "beneficiary.approve"
	ActionBeneficiaryOverride = "beneficiary.override"

	ActionDisbursementRelease = "disbursement.release"
	ActionDisbursementClose   = "disbursement.close"
)

// Principal is the acting user as seen by the subsidy core.
type Principal struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"not null" json:"name"`
	Role      Role         `gorm:"not null" json:"role"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Principal) TableName() string { return "principals" }

// AdminPermission carries the approval capability and budget ceiling of an admin.
type AdminPermission struct {
	ID                 snowflake.ID        `gorm:"primaryKey" json:"id"`
	PrincipalID        snowflake.ID        `gorm:"not null;uniqueIndex" json:"principal_id"`
	CanApprovePrograms bool                `gorm:"not null;default:false" json:"can_approve_programs"`
	MaxBudgetLimit     decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"max_budget_limit"`
	IsActive           bool                `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time           `gorm:"not null" json:"created_at"`
}

func (AdminPermission) TableName() string { return "admin_permissions" }

type Service interface {
	Authorize(ctx context.Context, principalID snowflake.ID, object string, action string) error
	CanApproveProgram(ctx context.Context, principalID snowflake.ID, totalBudget decimal.Decimal) error
}

var (
	ErrForbidden       = errs.New(errs.KindAuthorization, "forbidden")
	ErrInvalidActor    = errs.New(errs.KindAuthorization, "invalid_actor")
	ErrInactiveActor   = errs.New(errs.KindAuthorization, "inactive_actor")
	ErrBudgetCeiling   = errs.New(errs.KindAuthorization, "budget_ceiling_exceeded")
	ErrInvalidObject   = errs.New(errs.KindValidation, "invalid_object")
	ErrInvalidAction   = errs.New(errs.KindValidation, "invalid_action")
	ErrNoApprovalGrant = errs.New(errs.KindAuthorization, "approval_permission_missing")
)
