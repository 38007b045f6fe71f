package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Stage follows the owning program through its lifecycle.
type Stage string

const (
	StagePending      Stage = "pending"
	StageAllocated    Stage = "allocated"
	StageDistributing Stage = "distributing"
	StageCompleted    Stage = "completed"
	StageCancelled    Stage = "cancelled"
)

type DisbursementMethod string

const (
	MethodCash         DisbursementMethod = "cash"
	MethodBankTransfer DisbursementMethod = "bank_transfer"
	MethodCheck        DisbursementMethod = "check"
	MethodEWallet      DisbursementMethod = "e_wallet"
	MethodVoucher      DisbursementMethod = "voucher"
)

func (m DisbursementMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCheck, MethodEWallet, MethodVoucher:
		return true
	default:
		return false
	}
}

type InventoryAllocation struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProgramID           snowflake.ID    `gorm:"not null;uniqueIndex:uq_program_inventory_allocation" json:"program_id"`
	InventoryID         snowflake.ID    `gorm:"not null;uniqueIndex:uq_program_inventory_allocation" json:"inventory_id"`
	AllocatedQuantity   decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"allocated_quantity"`
	DistributedQuantity decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"distributed_quantity"`
	RemainingQuantity   decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"remaining_quantity"`
	UnitCost            decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"unit_cost"`
	TotalCost           decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_cost"`
	Status              Status          `gorm:"not null" json:"status"`
	Stage               Stage           `gorm:"column:allocation_stage;not null" json:"allocation_stage"`
	AllocatedBy         snowflake.ID    `json:"allocated_by,omitempty"`
	Version             int64           `gorm:"not null" json:"version"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (InventoryAllocation) TableName() string { return "program_inventory_allocations" }

// Draw moves quantity from remaining to distributed and completes the
// allocation once nothing is left.
func (a *InventoryAllocation) Draw(quantity decimal.Decimal) error {
	if a.Status == StatusCompleted {
		return ErrInsufficientAllocation.With("allocation %s is exhausted", a.ID)
	}
	if a.Status != StatusActive {
		return ErrAllocationInactive.With("allocation %s is %s", a.ID, a.Status)
	}
	if quantity.GreaterThan(a.RemainingQuantity) {
		return ErrInsufficientAllocation.With("requested %s, remaining %s", quantity.String(), a.RemainingQuantity.String())
	}
	a.DistributedQuantity = a.DistributedQuantity.Add(quantity)
	a.RemainingQuantity = a.AllocatedQuantity.Sub(a.DistributedQuantity)
	if a.RemainingQuantity.IsZero() {
		a.Status = StatusCompleted
		a.Stage = StageCompleted
	}
	return nil
}

type FinancialSubsidyType struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"not null" json:"name"`
	Code          string          `gorm:"not null;uniqueIndex" json:"code"`
	Description   string          `json:"description,omitempty"`
	DefaultAmount decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"default_amount"`
	IsActive      bool            `gorm:"not null" json:"is_active"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
}

func (FinancialSubsidyType) TableName() string { return "financial_subsidy_types" }

type FinancialAllocation struct {
	ID                   snowflake.ID       `gorm:"primaryKey" json:"id"`
	ProgramID            snowflake.ID       `gorm:"not null;uniqueIndex:uq_program_financial_allocation" json:"program_id"`
	SubsidyTypeID        snowflake.ID       `gorm:"column:financial_subsidy_type_id;not null;uniqueIndex:uq_program_financial_allocation" json:"financial_subsidy_type_id"`
	AmountPerBeneficiary decimal.Decimal    `gorm:"type:numeric(18,4);not null" json:"amount_per_beneficiary"`
	TargetBeneficiaries  int                `gorm:"not null" json:"target_beneficiaries"`
	TotalAllocatedAmount decimal.Decimal    `gorm:"type:numeric(18,4);not null" json:"total_allocated_amount"`
	DisbursedAmount      decimal.Decimal    `gorm:"type:numeric(18,4);not null" json:"disbursed_amount"`
	RemainingAmount      decimal.Decimal    `gorm:"type:numeric(18,4);not null" json:"remaining_amount"`
	DisbursementMethod   DisbursementMethod `gorm:"not null" json:"disbursement_method"`
	Status               Status             `gorm:"not null" json:"status"`
	AllocatedBy          snowflake.ID       `json:"allocated_by,omitempty"`
	Version              int64              `gorm:"not null" json:"version"`
	CreatedAt            time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"not null" json:"updated_at"`
}

func (FinancialAllocation) TableName() string { return "program_financial_allocations" }

func (a *FinancialAllocation) Draw(amount decimal.Decimal) error {
	if a.Status == StatusCompleted {
		return ErrInsufficientAllocation.With("allocation %s is exhausted", a.ID)
	}
	if a.Status != StatusActive {
		return ErrAllocationInactive.With("allocation %s is %s", a.ID, a.Status)
	}
	if amount.GreaterThan(a.RemainingAmount) {
		return ErrInsufficientAllocation.With("requested %s, remaining %s", amount.String(), a.RemainingAmount.String())
	}
	a.DisbursedAmount = a.DisbursedAmount.Add(amount)
	a.RemainingAmount = a.TotalAllocatedAmount.Sub(a.DisbursedAmount)
	if a.RemainingAmount.IsZero() {
		a.Status = StatusCompleted
	}
	return nil
}

type Kind string

const (
	KindInventory Kind = "inventory"
	KindFinancial Kind = "financial"
)

type AllocationResult struct {
	Kind          Kind            `json:"kind"`
	AllocationID  snowflake.ID    `json:"allocation_id"`
	InventoryID   snowflake.ID    `json:"inventory_id,omitempty"`
	SubsidyTypeID snowflake.ID    `json:"financial_subsidy_type_id,omitempty"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

// Activation reports what a program holds when it is approved.
type Activation struct {
	InventoryLines int
	FinancialLines int
}

type SummaryLine struct {
	Kind         Kind            `json:"kind"`
	AllocationID snowflake.ID    `json:"allocation_id"`
	ReferenceID  snowflake.ID    `json:"reference_id"`
	Status       Status          `json:"status"`
	Allocated    decimal.Decimal `json:"allocated"`
	Distributed  decimal.Decimal `json:"distributed"`
	Remaining    decimal.Decimal `json:"remaining"`
	Value        decimal.Decimal `json:"value"`
}

type Summary struct {
	ProgramID        snowflake.ID    `json:"program_id"`
	Lines            []SummaryLine   `json:"lines"`
	AllocatedValue   decimal.Decimal `json:"allocated_value"`
	DistributedValue decimal.Decimal `json:"distributed_value"`
	UtilisationRate  decimal.Decimal `json:"utilisation_rate"`
}
