package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
)

type CreateProgramRequest struct {
	Title               string
	Description         string
	CommodityID         snowflake.ID
	SubsidyType         SubsidyType
	TotalBudget         decimal.Decimal
	TargetBeneficiaries int
	StartDate           *time.Time
	EndDate             *time.Time
	ActorID             snowflake.ID
}

type AllocationLine struct {
	InventoryID snowflake.ID
	Quantity    decimal.Decimal
}

// SubmitRequest may carry inventory lines that are reserved as part of the
// submission.
type SubmitRequest struct {
	ProgramID            snowflake.ID
	InventoryAllocations []AllocationLine
	Remarks              string
	ActorID              snowflake.ID
}

type ProcessRequest struct {
	ProgramID snowflake.ID
	Action    Action
	Remarks   string
	ActorID   snowflake.ID
}

type TransitionRequest struct {
	ProgramID snowflake.ID
	Remarks   string
	ActorID   snowflake.ID
}

type StatusResult struct {
	ProgramID      snowflake.ID `json:"program_id"`
	PreviousStatus Status       `json:"previous_status"`
	Status         Status       `json:"status"`
	Program        Program      `json:"program"`
}

type Service interface {
	Create(ctx context.Context, req CreateProgramRequest) (Program, error)
	Get(ctx context.Context, id snowflake.ID) (Program, error)
	Submit(ctx context.Context, req SubmitRequest) (StatusResult, error)
	Process(ctx context.Context, req ProcessRequest) (StatusResult, error)
	StartDistribution(ctx context.Context, req TransitionRequest) (StatusResult, error)
	Complete(ctx context.Context, req TransitionRequest) (StatusResult, error)
	Cancel(ctx context.Context, req TransitionRequest) (StatusResult, error)
	History(ctx context.Context, programID snowflake.ID) ([]ApprovalLog, error)
	PendingApprovals(ctx context.Context) ([]Program, error)
}

var (
	ErrNotFound          = errs.New(errs.KindNotFound, "program_not_found")
	ErrInvalidTitle      = errs.New(errs.KindValidation, "invalid_title")
	ErrInvalidCommodity  = errs.New(errs.KindValidation, "invalid_commodity")
	ErrInvalidBudget     = errs.New(errs.KindValidation, "invalid_budget")
	ErrInvalidTarget     = errs.New(errs.KindValidation, "invalid_target_beneficiaries")
	ErrInvalidDates      = errs.New(errs.KindValidation, "invalid_program_dates")
	ErrInvalidSubsidy    = errs.New(errs.KindValidation, "invalid_subsidy_type")
	ErrInvalidAction     = errs.New(errs.KindValidation, "invalid_action")
	ErrIncomplete        = errs.New(errs.KindValidation, "program_incomplete")
	ErrInvalidTransition = errs.New(errs.KindInvalidStateTransition, "invalid_state_transition")
	ErrNotAllocatable    = errs.New(errs.KindInvalidStateTransition, "program_not_allocatable")
	ErrNotDistributing   = errs.New(errs.KindInvalidStateTransition, "program_not_active")
	ErrNotReady          = errs.New(errs.KindInvalidStateTransition, "program_not_ready_for_distribution")
	ErrBudgetExceeded    = errs.New(errs.KindInsufficientAllocation, "program_budget_exceeded")
)
