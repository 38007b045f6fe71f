package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusCompleted || s == StatusCancelled
}

type SubsidyType string

const (
	SubsidyInventoryOnly SubsidyType = "inventory_only"
	SubsidyFinancialOnly SubsidyType = "financial_only"
	SubsidyMixed         SubsidyType = "mixed"
)

// DeriveSubsidyType classifies a program from the allocation kinds it holds.
func DeriveSubsidyType(hasInventory, hasFinancial bool, fallback SubsidyType) SubsidyType {
	switch {
	case hasInventory && hasFinancial:
		return SubsidyMixed
	case hasInventory:
		return SubsidyInventoryOnly
	case hasFinancial:
		return SubsidyFinancialOnly
	default:
		return fallback
	}
}

type Action string

const (
	ActionCreate            Action = "create"
	ActionSubmit            Action = "submit"
	ActionApprove           Action = "approve"
	ActionDeny              Action = "deny"
	ActionStartDistribution Action = "start_distribution"
	ActionComplete          Action = "complete"
	ActionCancel            Action = "cancel"
)

type Program struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	Title                string          `gorm:"not null" json:"title"`
	Description          string          `json:"description,omitempty"`
	CommodityID          snowflake.ID    `gorm:"not null;index" json:"commodity_id"`
	SubsidyType          SubsidyType     `gorm:"not null" json:"subsidy_type"`
	TotalBudget          decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_budget"`
	AllocatedBudget      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"allocated_budget"`
	DisbursedAmount      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"disbursed_amount"`
	RemainingBudget      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"remaining_budget"`
	TargetBeneficiaries  int             `gorm:"not null" json:"target_beneficiaries"`
	ActualBeneficiaries  int             `gorm:"not null" json:"actual_beneficiaries"`
	StartDate            *time.Time      `json:"start_date,omitempty"`
	EndDate              *time.Time      `json:"end_date,omitempty"`
	Status               Status          `gorm:"not null;index" json:"status"`
	InventoryAllocated   bool            `gorm:"not null" json:"inventory_allocated"`
	ReadyForDistribution bool            `gorm:"not null" json:"ready_for_distribution"`
	CreatedBy            snowflake.ID    `gorm:"not null" json:"created_by"`
	ApprovedBy           snowflake.ID    `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	Version              int64           `gorm:"not null" json:"version"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"not null" json:"updated_at"`
}

func (Program) TableName() string { return "subsidy_programs" }

// Disburse books value handed out against the program budget.
func (p *Program) Disburse(value decimal.Decimal) error {
	if value.GreaterThan(p.RemainingBudget) {
		return ErrBudgetExceeded.With("value %s, remaining %s", value.String(), p.RemainingBudget.String())
	}
	p.DisbursedAmount = p.DisbursedAmount.Add(value)
	p.RemainingBudget = p.TotalBudget.Sub(p.DisbursedAmount)
	return nil
}

// ApprovalLog is the append-only record of every status transition.
type ApprovalLog struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	ProgramID      snowflake.ID `gorm:"not null;index" json:"program_id"`
	Action         Action       `gorm:"not null" json:"action"`
	PreviousStatus Status       `json:"previous_status,omitempty"`
	NewStatus      Status       `gorm:"not null" json:"new_status"`
	Remarks        string       `json:"remarks,omitempty"`
	ActorID        snowflake.ID `gorm:"not null" json:"actor_id"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (ApprovalLog) TableName() string { return "program_approval_logs" }

var transitions = map[Status]map[Action]Status{
	StatusDraft: {
		ActionSubmit: StatusSubmitted,
		ActionCancel: StatusCancelled,
	},
	StatusSubmitted: {
		ActionApprove: StatusApproved,
		ActionDeny:    StatusDenied,
		ActionCancel:  StatusCancelled,
	},
	StatusApproved: {
		ActionStartDistribution: StatusActive,
		ActionCancel:            StatusCancelled,
	},
	StatusActive: {
		ActionComplete: StatusCompleted,
		ActionCancel:   StatusCancelled,
	},
}

// Next returns the status reached by applying action to from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", ErrInvalidTransition.With("cannot %s a %s program", action, from)
	}
	return to, nil
}
