package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"gorm.io/gorm"
)

type InventoryLine struct {
	InventoryID snowflake.ID
	Quantity    decimal.Decimal
}

type AllocateInventoryRequest struct {
	ProgramID snowflake.ID
	Lines     []InventoryLine
	ActorID   snowflake.ID
}

type FinancialLine struct {
	SubsidyTypeID        snowflake.ID
	AmountPerBeneficiary decimal.Decimal
	TargetBeneficiaries  int
	DisbursementMethod   DisbursementMethod
}

type AllocateFinancialRequest struct {
	ProgramID snowflake.ID
	Lines     []FinancialLine
	ActorID   snowflake.ID
}

type CreateSubsidyTypeRequest struct {
	Name          string
	Code          string
	Description   string
	DefaultAmount decimal.Decimal
}

type Service interface {
	AllocateInventory(ctx context.Context, req AllocateInventoryRequest) ([]AllocationResult, error)
	// AllocateInventoryTx reserves stock for a program already locked by the
	// caller. Hooks that take a *Program only change it in memory; the caller
	// writes it back.
	AllocateInventoryTx(ctx context.Context, tx *gorm.DB, program *programdomain.Program, lines []InventoryLine, actorID snowflake.ID) ([]AllocationResult, error)
	CancelInventoryAllocation(ctx context.Context, allocationID snowflake.ID, actorID snowflake.ID) (InventoryAllocation, error)

	CreateSubsidyType(ctx context.Context, req CreateSubsidyTypeRequest) (FinancialSubsidyType, error)
	ListSubsidyTypes(ctx context.Context) ([]FinancialSubsidyType, error)
	AllocateFinancial(ctx context.Context, req AllocateFinancialRequest) ([]AllocationResult, error)
	CancelFinancialAllocation(ctx context.Context, allocationID snowflake.ID, actorID snowflake.ID) (FinancialAllocation, error)

	// Lifecycle hooks run by the program state machine inside its transaction.
	ActivateProgramTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) (Activation, error)
	StartDistributingTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) error
	CompleteProgramTx(ctx context.Context, tx *gorm.DB, programID snowflake.ID) error
	CancelProgramTx(ctx context.Context, tx *gorm.DB, program *programdomain.Program) error

	// Draw hooks run by the disbursement coordinator for one released line.
	DrawInventoryTx(ctx context.Context, tx *gorm.DB, programID, inventoryID snowflake.ID, quantity decimal.Decimal) (InventoryAllocation, error)
	DrawFinancialTx(ctx context.Context, tx *gorm.DB, programID, subsidyTypeID snowflake.ID, amount decimal.Decimal) (FinancialAllocation, error)

	Summary(ctx context.Context, programID snowflake.ID) (Summary, error)
}

var (
	ErrNotFound               = errs.New(errs.KindNotFound, "allocation_not_found")
	ErrSubsidyTypeNotFound    = errs.New(errs.KindNotFound, "financial_subsidy_type_not_found")
	ErrEmptyLines             = errs.New(errs.KindValidation, "allocation_lines_required")
	ErrDuplicateLine          = errs.New(errs.KindValidation, "duplicate_allocation_line")
	ErrInvalidQuantity        = errs.New(errs.KindValidation, "invalid_quantity")
	ErrInvalidAmount          = errs.New(errs.KindValidation, "invalid_amount")
	ErrInvalidTarget          = errs.New(errs.KindValidation, "invalid_target_beneficiaries")
	ErrInvalidMethod          = errs.New(errs.KindValidation, "invalid_disbursement_method")
	ErrInvalidName            = errs.New(errs.KindValidation, "invalid_name")
	ErrDuplicateCode          = errs.New(errs.KindValidation, "duplicate_subsidy_type_code")
	ErrSubsidyTypeInactive    = errs.New(errs.KindValidation, "financial_subsidy_type_inactive")
	ErrNotSubsidizable        = errs.New(errs.KindNotSubsidizable, "item_not_subsidizable")
	ErrAmountMismatch         = errs.New(errs.KindValidation, "amount_per_beneficiary_mismatch")
	ErrAllocationClosed       = errs.New(errs.KindInvalidStateTransition, "allocation_closed")
	ErrAllocationInactive     = errs.New(errs.KindInsufficientAllocation, "allocation_inactive")
	ErrInsufficientAllocation = errs.New(errs.KindInsufficientAllocation, "insufficient_allocation")
)
