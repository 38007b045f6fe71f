package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"gorm.io/gorm"
)

type CreateBatchRequest struct {
	ProgramID snowflake.ID
	Date      time.Time
	Location  string
	Remarks   string
	ActorID   snowflake.ID
}

type DisburseRequest struct {
	BatchID snowflake.ID
	Lines   []Line
	ActorID snowflake.ID
}

type BatchActionRequest struct {
	BatchID snowflake.ID
	Remarks string
	ActorID snowflake.ID
}

type Service interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (Batch, error)
	GetBatch(ctx context.Context, id snowflake.ID) (Batch, error)
	ListBatches(ctx context.Context, programID snowflake.ID) ([]Batch, error)
	// Disburse applies each line in its own transaction and reports every
	// line, failed or not.
	Disburse(ctx context.Context, req DisburseRequest) ([]LineResult, error)
	CloseBatch(ctx context.Context, req BatchActionRequest) (Batch, error)
	CancelBatch(ctx context.Context, req BatchActionRequest) (Batch, error)
	ListFinancialRecords(ctx context.Context, batchID snowflake.ID) ([]FinancialDisbursementRecord, error)
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *Batch) error
	FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	LockBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	UpdateBatch(ctx context.Context, db *gorm.DB, batch *Batch) error
	ListBatches(ctx context.Context, db *gorm.DB, programID snowflake.ID) ([]Batch, error)
	CountBatchesWithPrefix(ctx context.Context, db *gorm.DB, prefix string) (int64, error)

	InsertRecord(ctx context.Context, db *gorm.DB, record *FinancialDisbursementRecord) error
	ListRecords(ctx context.Context, db *gorm.DB, batchID snowflake.ID) ([]FinancialDisbursementRecord, error)
}

var (
	ErrBatchNotFound    = errs.New(errs.KindNotFound, "disbursement_batch_not_found")
	ErrInvalidProgram   = errs.New(errs.KindValidation, "invalid_program")
	ErrInvalidDate      = errs.New(errs.KindValidation, "invalid_disbursement_date")
	ErrEmptyLines       = errs.New(errs.KindValidation, "disbursement_lines_required")
	ErrInvalidLine      = errs.New(errs.KindValidation, "invalid_disbursement_line")
	ErrInvalidMethod    = errs.New(errs.KindValidation, "invalid_disbursement_method")
	ErrProgramMismatch  = errs.New(errs.KindValidation, "item_not_in_batch_program")
	ErrProgramNotReady  = errs.New(errs.KindInvalidStateTransition, "program_not_disbursable")
	ErrBatchClosed      = errs.New(errs.KindInvalidStateTransition, "disbursement_batch_closed")
	ErrBatchNotPlanned  = errs.New(errs.KindInvalidStateTransition, "disbursement_batch_not_planned")
	ErrBatchHasReleases = errs.New(errs.KindInvalidStateTransition, "disbursement_batch_has_releases")
	ErrBatchBusy        = errs.New(errs.KindConcurrencyConflict, "disbursement_batch_busy")
)
