package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, program *Program) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Program, error)
	// LockByID reads the program under a row lock. Callers write it back with
	// Update so the version check catches writers that skipped the lock.
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Program, error)
	Update(ctx context.Context, db *gorm.DB, program *Program) error
	ListByStatus(ctx context.Context, db *gorm.DB, status Status) ([]Program, error)

	InsertLog(ctx context.Context, db *gorm.DB, entry *ApprovalLog) error
	ListLogs(ctx context.Context, db *gorm.DB, programID snowflake.ID) ([]ApprovalLog, error)
}
