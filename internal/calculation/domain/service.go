package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"gorm.io/gorm"
)

type CreateRuleRequest struct {
	ProgramID              snowflake.ID
	Name                   string
	InventoryID            *snowflake.ID
	FinancialSubsidyTypeID *snowflake.ID
	Method                 MethodKind
	QuantityPerHectare     *decimal.Decimal
	AmountPerHectare       *decimal.Decimal
	// SlidingScale is the keyed form, e.g. {"0-1": {"quantity": 1, "amount": 2000}}.
	SlidingScale        []byte
	MinimumQuantity     *decimal.Decimal
	MaximumQuantity     *decimal.Decimal
	MinimumAmount       *decimal.Decimal
	MaximumAmount       *decimal.Decimal
	MinFarmSizeHectares *decimal.Decimal
	MaxFarmSizeHectares *decimal.Decimal
	FarmTypeEligible    string
	TenureEligible      string
	Notes               string
	Priority            int
	ActorID             snowflake.ID
}

type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (Rule, error)
	DeactivateRule(ctx context.Context, ruleID snowflake.ID, actorID snowflake.ID) (Rule, error)
	ListRules(ctx context.Context, programID snowflake.ID) ([]Rule, error)
	CalculateForProgram(ctx context.Context, programID snowflake.ID) ([]BeneficiaryResult, error)
	Preview(ctx context.Context, programID snowflake.ID) ([]PreviewRow, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rule *Rule) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Rule, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, rule *Rule) error
	// List returns rules in evaluation order: priority, then id.
	List(ctx context.Context, db *gorm.DB, programID snowflake.ID, activeOnly bool) ([]Rule, error)
}

var (
	ErrNotFound            = errs.New(errs.KindNotFound, "calculation_rule_not_found")
	ErrInvalidMethod       = errs.New(errs.KindValidation, "invalid_calculation_method")
	ErrInvalidTarget       = errs.New(errs.KindValidation, "invalid_rule_target")
	ErrMissingRate         = errs.New(errs.KindValidation, "missing_rate")
	ErrInvalidSlidingScale = errs.New(errs.KindValidation, "invalid_sliding_scale")
	ErrInvalidBounds       = errs.New(errs.KindValidation, "invalid_bounds")
	ErrInvalidEligibility  = errs.New(errs.KindValidation, "invalid_eligibility")
	ErrProgramClosed       = errs.New(errs.KindInvalidStateTransition, "program_closed")
)
