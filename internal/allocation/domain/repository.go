package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindInventoryAllocation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*InventoryAllocation, error)
	LockInventoryAllocation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*InventoryAllocation, error)
	LockInventoryAllocationFor(ctx context.Context, db *gorm.DB, programID, inventoryID snowflake.ID) (*InventoryAllocation, error)
	ListInventoryAllocations(ctx context.Context, db *gorm.DB, programID snowflake.ID) ([]InventoryAllocation, error)
	InsertInventoryAllocation(ctx context.Context, db *gorm.DB, allocation *InventoryAllocation) error
	UpdateInventoryAllocation(ctx context.Context, db *gorm.DB, allocation *InventoryAllocation) error

	InsertSubsidyType(ctx context.Context, db *gorm.DB, subsidyType *FinancialSubsidyType) error
	FindSubsidyType(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FinancialSubsidyType, error)
	FindSubsidyTypeByCode(ctx context.Context, db *gorm.DB, code string) (*FinancialSubsidyType, error)
	ListSubsidyTypes(ctx context.Context, db *gorm.DB) ([]FinancialSubsidyType, error)

	FindFinancialAllocation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FinancialAllocation, error)
	LockFinancialAllocation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FinancialAllocation, error)
	LockFinancialAllocationFor(ctx context.Context, db *gorm.DB, programID, subsidyTypeID snowflake.ID) (*FinancialAllocation, error)
	ListFinancialAllocations(ctx context.Context, db *gorm.DB, programID snowflake.ID) ([]FinancialAllocation, error)
	InsertFinancialAllocation(ctx context.Context, db *gorm.DB, allocation *FinancialAllocation) error
	UpdateFinancialAllocation(ctx context.Context, db *gorm.DB, allocation *FinancialAllocation) error
}
