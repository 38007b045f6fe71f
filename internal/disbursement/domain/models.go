package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
)

type BatchStatus string

const (
	BatchPlanned   BatchStatus = "planned"
	BatchOngoing   BatchStatus = "ongoing"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

// Open batches still accept lines.
func (s BatchStatus) Open() bool {
	return s == BatchPlanned || s == BatchOngoing
}

type Batch struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	ProgramID          snowflake.ID    `gorm:"not null;index" json:"program_id"`
	BatchNumber        string          `gorm:"not null;uniqueIndex" json:"batch_number"`
	DisbursementDate   time.Time       `gorm:"not null" json:"disbursement_date"`
	Location           string          `json:"location,omitempty"`
	Remarks            string          `json:"remarks,omitempty"`
	TotalBeneficiaries int             `gorm:"not null" json:"total_beneficiaries"`
	TotalItems         int             `gorm:"not null" json:"total_items"`
	TotalValue         decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_value"`
	Status             BatchStatus     `gorm:"not null;index" json:"status"`
	CreatedBy          snowflake.ID    `gorm:"not null" json:"created_by"`
	ClosedBy           snowflake.ID    `json:"closed_by,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	Version            int64           `gorm:"not null" json:"version"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (Batch) TableName() string { return "disbursement_batches" }

// Accumulate adds one released line to the batch totals.
func (b *Batch) Accumulate(value decimal.Decimal, newBeneficiary bool) {
	b.TotalItems++
	b.TotalValue = b.TotalValue.Add(value)
	if newBeneficiary {
		b.TotalBeneficiaries++
	}
}

// BatchPrefix is the batch number prefix shared by every batch created on day.
func BatchPrefix(day time.Time) string {
	return "BATCH-" + day.Format("20060102") + "-"
}

// BatchNumber renders BATCH-YYYYMMDD-NNN for the seq-th batch of day.
func BatchNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s%03d", BatchPrefix(day), seq)
}

// FinancialDisbursementRecord is the append-only ledger of cash releases.
type FinancialDisbursementRecord struct {
	ID                    snowflake.ID                        `gorm:"primaryKey" json:"id"`
	BeneficiaryItemID     snowflake.ID                        `gorm:"not null;uniqueIndex" json:"beneficiary_item_id"`
	ProgramID             snowflake.ID                        `gorm:"not null;index" json:"program_id"`
	FinancialAllocationID snowflake.ID                        `gorm:"not null;index" json:"financial_allocation_id"`
	BatchID               snowflake.ID                        `gorm:"not null;index" json:"batch_id"`
	Amount                decimal.Decimal                     `gorm:"type:numeric(18,4);not null" json:"amount"`
	DisbursementMethod    allocationdomain.DisbursementMethod `gorm:"not null" json:"disbursement_method"`
	RecipientName         string                              `json:"recipient_name,omitempty"`
	ReferenceNumber       string                              `json:"reference_number,omitempty"`
	DisbursedBy           snowflake.ID                        `gorm:"not null" json:"disbursed_by"`
	CreatedAt             time.Time                           `gorm:"not null" json:"created_at"`
}

func (FinancialDisbursementRecord) TableName() string { return "financial_disbursement_records" }

type Line struct {
	BeneficiaryItemID  snowflake.ID
	QuantityOrAmount   decimal.Decimal
	DisbursementMethod allocationdomain.DisbursementMethod
	RecipientName      string
	ReferenceNumber    string
	Remarks            string
}

type LineStatus string

const (
	LineReleased LineStatus = "released"
	LineFailed   LineStatus = "failed"
)

// LineResult reports the outcome of one line. Failed lines carry the error
// kind and a reason; nothing from them was applied.
type LineResult struct {
	BeneficiaryItemID snowflake.ID    `json:"beneficiary_item_id"`
	Status            LineStatus      `json:"status"`
	Kind              string          `json:"kind,omitempty"`
	Value             decimal.Decimal `json:"value"`
	MovementID        snowflake.ID    `json:"movement_id,omitempty"`
	RecordID          snowflake.ID    `json:"record_id,omitempty"`
	ErrorKind         string          `json:"error_kind,omitempty"`
	Reason            string          `json:"reason,omitempty"`

	err error
}

func (r LineResult) Err() error { return r.err }

func Failed(itemID snowflake.ID, err error, kind, reason string) LineResult {
	return LineResult{
		BeneficiaryItemID: itemID,
		Status:            LineFailed,
		ErrorKind:         kind,
		Reason:            reason,
		err:               err,
	}
}
