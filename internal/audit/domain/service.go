package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service writes the administrative audit trail. Passing a non-nil tx makes
// the entry commit or roll back with the caller's operation.
type Service interface {
	AuditLog(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, action string, targetType string, targetID string, metadata map[string]any) error
	ListByTarget(ctx context.Context, targetType string, targetID string) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, targetType, targetID string) ([]AuditLog, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
