package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	"gorm.io/gorm"
)

type EnrollRequest struct {
	ProgramID   snowflake.ID
	FarmerID    snowflake.ID
	CommodityID snowflake.ID
	ActorID     snowflake.ID
}

type ReviewRequest struct {
	BeneficiaryID snowflake.ID
	ActorID       snowflake.ID
}

// OverrideRequest sets approved values. A nil side clears that value.
type OverrideRequest struct {
	ItemID   snowflake.ID
	Quantity *decimal.Decimal
	Amount   *decimal.Decimal
	Reason   string
	ActorID  snowflake.ID
}

type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (ProgramBeneficiary, error)
	Approve(ctx context.Context, req ReviewRequest) (ProgramBeneficiary, error)
	Reject(ctx context.Context, req ReviewRequest) (ProgramBeneficiary, error)
	Get(ctx context.Context, id snowflake.ID) (ProgramBeneficiary, error)
	List(ctx context.Context, programID snowflake.ID) ([]ProgramBeneficiary, error)
	ListApproved(ctx context.Context, programID snowflake.ID) ([]ProgramBeneficiary, error)
	ListItems(ctx context.Context, programID snowflake.ID) ([]ProgramBeneficiaryItem, error)
	OverrideApproved(ctx context.Context, req OverrideRequest) (ProgramBeneficiaryItem, error)

	// Transaction helpers for the calculation engine, the program state
	// machine and disbursement.
	RefreshSnapshotTx(ctx context.Context, tx *gorm.DB, beneficiaryID snowflake.ID, summary farmdomain.Summary, eligible bool) error
	UpsertEntitlementTx(ctx context.Context, tx *gorm.DB, beneficiary ProgramBeneficiary, e Entitlement) (ProgramBeneficiaryItem, bool, error)
	CountApprovedTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (int64, error)
	GetItemTx(ctx context.Context, tx *gorm.DB, itemID snowflake.ID) (ProgramBeneficiaryItem, error)
	// ReleaseItemTx locks the beneficiary before the item, re-validates and
	// marks the item released.
	ReleaseItemTx(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, r Release) (ProgramBeneficiaryItem, ReleaseOutcome, error)
	CancelProgramItemsTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, b *ProgramBeneficiary) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ProgramBeneficiary, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ProgramBeneficiary, error)
	FindByKey(ctx context.Context, db *gorm.DB, programID, farmerID, commodityID snowflake.ID) (*ProgramBeneficiary, error)
	Update(ctx context.Context, db *gorm.DB, b *ProgramBeneficiary) error
	List(ctx context.Context, db *gorm.DB, programID snowflake.ID, status Status) ([]ProgramBeneficiary, error)
	CountByStatus(ctx context.Context, db *gorm.DB, programID snowflake.ID, status Status) (int64, error)

	InsertItem(ctx context.Context, db *gorm.DB, item *ProgramBeneficiaryItem) error
	LockItem(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ProgramBeneficiaryItem, error)
	FindItem(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ProgramBeneficiaryItem, error)
	LockItemByKey(ctx context.Context, db *gorm.DB, beneficiaryID snowflake.ID, key string) (*ProgramBeneficiaryItem, error)
	UpdateItem(ctx context.Context, db *gorm.DB, item *ProgramBeneficiaryItem) error
	ListItemsByProgram(ctx context.Context, db *gorm.DB, programID snowflake.ID) ([]ProgramBeneficiaryItem, error)
	CountItems(ctx context.Context, db *gorm.DB, beneficiaryID snowflake.ID, status DisbursementStatus) (int64, error)
	CountItemsInBatch(ctx context.Context, db *gorm.DB, beneficiaryID, batchID snowflake.ID) (int64, error)
	CancelOpenItems(ctx context.Context, db *gorm.DB, programID snowflake.ID) (int64, error)
}

var (
	ErrNotFound         = errs.New(errs.KindNotFound, "beneficiary_not_found")
	ErrItemNotFound     = errs.New(errs.KindNotFound, "beneficiary_item_not_found")
	ErrInvalidFarmer    = errs.New(errs.KindValidation, "invalid_farmer")
	ErrInvalidCommodity = errs.New(errs.KindValidation, "invalid_commodity")
	ErrAlreadyEnrolled  = errs.New(errs.KindValidation, "beneficiary_already_enrolled")
	ErrInvalidStatus    = errs.New(errs.KindInvalidStateTransition, "invalid_beneficiary_status")
	ErrProgramClosed    = errs.New(errs.KindInvalidStateTransition, "program_closed")
	ErrItemReleased     = errs.New(errs.KindValidation, "item_already_released")
	ErrItemCancelled    = errs.New(errs.KindValidation, "item_cancelled")
	ErrInvalidQuantity  = errs.New(errs.KindValidation, "invalid_quantity")
	ErrInvalidAmount    = errs.New(errs.KindValidation, "invalid_amount")
	ErrNoEntitlement    = errs.New(errs.KindValidation, "no_approved_entitlement")
	ErrExceedsApproved  = errs.New(errs.KindValidation, "exceeds_approved")
	ErrInvalidKey       = errs.New(errs.KindValidation, "invalid_entitlement_key")
)
