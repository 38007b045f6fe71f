package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertItem(ctx context.Context, db *gorm.DB, item *Item) error
	FindItem(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Item, error)
	FindItemByCode(ctx context.Context, db *gorm.DB, code string) (*Item, error)
	UpdateItem(ctx context.Context, db *gorm.DB, item *Item) error
	HasDistribution(ctx context.Context, db *gorm.DB, inventoryID snowflake.ID) (bool, error)

	// LockStock reads the snapshot under a row lock. It returns nil when the
	// item has never had a snapshot.
	LockStock(ctx context.Context, db *gorm.DB, inventoryID snowflake.ID) (*CurrentStock, error)
	FindStock(ctx context.Context, db *gorm.DB, inventoryID snowflake.ID) (*CurrentStock, error)
	InsertStock(ctx context.Context, db *gorm.DB, stock *CurrentStock) error
	// UpdateStock writes the snapshot if its version is still expectedVersion.
	UpdateStock(ctx context.Context, db *gorm.DB, stock *CurrentStock, expectedVersion int64) (bool, error)

	InsertMovement(ctx context.Context, db *gorm.DB, movement *StockMovement) error
	ListMovements(ctx context.Context, db *gorm.DB, inventoryID snowflake.ID, limit int) ([]StockMovement, error)

	ListSubsidizable(ctx context.Context, db *gorm.DB) ([]AvailableItem, error)
	ListTrackedItemIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error)
}
