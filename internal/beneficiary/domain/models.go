package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusReleased Status = "released"
	StatusRejected Status = "rejected"
)

type DisbursementStatus string

const (
	DisbursementPending   DisbursementStatus = "pending"
	DisbursementReserved  DisbursementStatus = "reserved"
	DisbursementReleased  DisbursementStatus = "released"
	DisbursementCancelled DisbursementStatus = "cancelled"
)

// ProgramBeneficiary is one farmer enrolled in a program for a commodity. The
// farm columns are a snapshot refreshed on every calculation run.
type ProgramBeneficiary struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProgramID         snowflake.ID    `gorm:"not null;uniqueIndex:ux_program_beneficiaries_key" json:"program_id"`
	FarmerID          snowflake.ID    `gorm:"not null;uniqueIndex:ux_program_beneficiaries_key" json:"farmer_id"`
	CommodityID       snowflake.ID    `gorm:"not null;uniqueIndex:ux_program_beneficiaries_key" json:"commodity_id"`
	TotalFarmHectares decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_farm_hectares"`
	PrimaryFarmType   string          `json:"primary_farm_type"`
	PrimaryTenureType string          `json:"primary_tenure_type"`
	IsEligible        bool            `gorm:"not null" json:"is_eligible"`
	Status            Status          `gorm:"not null;index" json:"status"`
	ApprovedBy        snowflake.ID    `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	Version           int64           `gorm:"not null" json:"version"`
	CreatedAt         time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (ProgramBeneficiary) TableName() string { return "program_beneficiaries" }

// ProgramBeneficiaryItem is one entitlement line. calculated_* is owned by the
// engine and approved_* by coordinators once overridden.
type ProgramBeneficiaryItem struct {
	ID                     snowflake.ID        `gorm:"primaryKey" json:"id"`
	BeneficiaryID          snowflake.ID        `gorm:"not null;uniqueIndex:ux_beneficiary_items_key" json:"beneficiary_id"`
	EntitlementKey         string              `gorm:"not null;uniqueIndex:ux_beneficiary_items_key" json:"entitlement_key"`
	ProgramID              snowflake.ID        `gorm:"not null;index" json:"program_id"`
	InventoryID            *snowflake.ID       `json:"inventory_id,omitempty"`
	FinancialSubsidyTypeID *snowflake.ID       `json:"financial_subsidy_type_id,omitempty"`
	CalculationRuleID      snowflake.ID        `json:"calculation_rule_id,omitempty"`
	CalculatedQuantity     decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"calculated_quantity"`
	CalculatedAmount       decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"calculated_amount"`
	ApprovedQuantity       decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"approved_quantity"`
	ApprovedAmount         decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"approved_amount"`
	ApprovedOverridden     bool                `gorm:"not null" json:"approved_overridden"`
	CalculationNotes       string              `json:"calculation_notes,omitempty"`
	DisbursementStatus     DisbursementStatus  `gorm:"not null" json:"disbursement_status"`
	DisbursedQuantity      decimal.Decimal     `gorm:"type:numeric(18,4);not null" json:"disbursed_quantity"`
	DisbursedAmount        decimal.Decimal     `gorm:"type:numeric(18,4);not null" json:"disbursed_amount"`
	DisbursementBatchID    *snowflake.ID       `gorm:"index" json:"disbursement_batch_id,omitempty"`
	DisbursementMethod     string              `json:"disbursement_method,omitempty"`
	RecipientName          string              `json:"recipient_name,omitempty"`
	ReferenceNumber        string              `json:"reference_number,omitempty"`
	Remarks                string              `json:"remarks,omitempty"`
	ReleasedBy             snowflake.ID        `json:"released_by,omitempty"`
	ReleasedAt             *time.Time          `json:"released_at,omitempty"`
	Version                int64               `gorm:"not null" json:"version"`
	CreatedAt              time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time           `gorm:"not null" json:"updated_at"`
}

func (ProgramBeneficiaryItem) TableName() string { return "program_beneficiary_items" }

func InventoryKey(inventoryID snowflake.ID) string {
	return "inv:" + inventoryID.String()
}

func FinancialKey(subsidyTypeID snowflake.ID) string {
	return "fin:" + subsidyTypeID.String()
}

func (i *ProgramBeneficiaryItem) Released() bool {
	return i.DisbursementStatus == DisbursementReleased
}

func (i *ProgramBeneficiaryItem) IsInventory() bool {
	return i.InventoryID != nil
}

// Entitlement is one computed line produced by the calculation engine.
type Entitlement struct {
	RuleID                 snowflake.ID
	InventoryID            *snowflake.ID
	FinancialSubsidyTypeID *snowflake.ID
	Quantity               decimal.NullDecimal
	Amount                 decimal.NullDecimal
	Notes                  string
}

func (e Entitlement) Key() string {
	if e.InventoryID != nil {
		return InventoryKey(*e.InventoryID)
	}
	if e.FinancialSubsidyTypeID != nil {
		return FinancialKey(*e.FinancialSubsidyTypeID)
	}
	return ""
}

// Recalculate refreshes the calculated values. Approved values follow unless a
// coordinator overrode them. Released items are left alone and report false.
func (i *ProgramBeneficiaryItem) Recalculate(e Entitlement) bool {
	if i.Released() {
		return false
	}
	i.CalculationRuleID = e.RuleID
	i.CalculatedQuantity = e.Quantity
	i.CalculatedAmount = e.Amount
	i.CalculationNotes = e.Notes
	if !i.ApprovedOverridden {
		i.ApprovedQuantity = e.Quantity
		i.ApprovedAmount = e.Amount
	}
	return true
}

// Override replaces the approved values without touching calculated values.
func (i *ProgramBeneficiaryItem) Override(quantity, amount decimal.NullDecimal) error {
	if i.Released() {
		return ErrItemReleased
	}
	if quantity.Valid && quantity.Decimal.IsNegative() {
		return ErrInvalidQuantity
	}
	if amount.Valid && amount.Decimal.IsNegative() {
		return ErrInvalidAmount
	}
	i.ApprovedQuantity = quantity
	i.ApprovedAmount = amount
	i.ApprovedOverridden = true
	return nil
}

// Entitled is the approved value disbursement draws against: quantity for
// inventory lines, amount for financial lines.
func (i *ProgramBeneficiaryItem) Entitled() decimal.NullDecimal {
	if i.IsInventory() {
		return i.ApprovedQuantity
	}
	return i.ApprovedAmount
}

// Release is the outcome of a disbursed line.
type Release struct {
	Value           decimal.Decimal
	BatchID         snowflake.ID
	Method          string
	RecipientName   string
	ReferenceNumber string
	Remarks         string
	ActorID         snowflake.ID
	At              time.Time
}

// MarkReleased validates value against the approved entitlement and freezes
// the item.
func (i *ProgramBeneficiaryItem) MarkReleased(r Release) error {
	if i.Released() {
		return ErrItemReleased
	}
	if i.DisbursementStatus == DisbursementCancelled {
		return ErrItemCancelled
	}
	if !r.Value.IsPositive() {
		return ErrInvalidQuantity
	}
	entitled := i.Entitled()
	if !entitled.Valid {
		return ErrNoEntitlement
	}
	if r.Value.GreaterThan(entitled.Decimal) {
		return ErrExceedsApproved.With("requested %s, approved %s", r.Value.String(), entitled.Decimal.String())
	}

	if i.IsInventory() {
		i.DisbursedQuantity = r.Value
	} else {
		i.DisbursedAmount = r.Value
	}
	batchID := r.BatchID
	at := r.At
	i.DisbursementStatus = DisbursementReleased
	i.DisbursementBatchID = &batchID
	i.DisbursementMethod = r.Method
	i.RecipientName = r.RecipientName
	i.ReferenceNumber = r.ReferenceNumber
	i.Remarks = r.Remarks
	i.ReleasedBy = r.ActorID
	i.ReleasedAt = &at
	return nil
}

// ReleaseOutcome reports the side effects of a release on counters kept
// outside the beneficiary tables.
type ReleaseOutcome struct {
	FirstForBeneficiary bool
	FirstInBatch        bool
	BeneficiaryReleased bool
}
