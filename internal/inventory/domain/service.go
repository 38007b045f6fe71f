package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"gorm.io/gorm"
)

type CreateItemRequest struct {
	ItemCode         string
	Name             string
	Unit             string
	UnitCost         decimal.Decimal
	IsSubsidizable   bool
	IsTrackableStock bool
}

// UpdateItemRequest changes identity and flags. Nil fields are left alone.
type UpdateItemRequest struct {
	ID             snowflake.ID
	ItemCode       *string
	Name           *string
	Unit           *string
	IsSubsidizable *bool
	ActorID        snowflake.ID
}

type UpdateItemCostRequest struct {
	ID       snowflake.ID
	UnitCost decimal.Decimal
	ActorID  snowflake.ID
}

type RecordMovementRequest struct {
	InventoryID   snowflake.ID
	Quantity      decimal.Decimal
	MovementType  MovementType
	UnitCost      decimal.Decimal
	ReferenceType string
	ReferenceID   snowflake.ID
	Remarks       string
	ActorID       snowflake.ID
}

type AddStockRequest struct {
	InventoryID snowflake.ID
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	Remarks     string
	ActorID     snowflake.ID
}

type Service interface {
	CreateItem(ctx context.Context, req CreateItemRequest) (Item, error)
	UpdateItem(ctx context.Context, req UpdateItemRequest) (Item, error)
	UpdateItemCost(ctx context.Context, req UpdateItemCostRequest) (Item, error)
	GetItem(ctx context.Context, id snowflake.ID) (Item, error)
	GetItemTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Item, error)

	RecordMovement(ctx context.Context, req RecordMovementRequest) (StockMovement, error)
	// PostMovementTx records a movement inside the caller's transaction.
	PostMovementTx(ctx context.Context, tx *gorm.DB, req RecordMovementRequest) (StockMovement, error)
	AddStock(ctx context.Context, req AddStockRequest) (StockMovement, error)
	GetCurrentStock(ctx context.Context, inventoryID snowflake.ID) (StockLevel, error)

	ReserveTx(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID, quantity decimal.Decimal) error
	ReleaseTx(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID, quantity decimal.Decimal) error

	ListMovements(ctx context.Context, inventoryID snowflake.ID, limit int) ([]StockMovement, error)
	ListSubsidizable(ctx context.Context) ([]AvailableItem, error)

	Reconcile(ctx context.Context, inventoryID snowflake.ID) (Drift, error)
	ListTrackedItemIDs(ctx context.Context) ([]snowflake.ID, error)
}

var (
	ErrNotFound               = errs.New(errs.KindNotFound, "inventory_not_found")
	ErrInvalidName            = errs.New(errs.KindValidation, "invalid_name")
	ErrInvalidUnit            = errs.New(errs.KindValidation, "invalid_unit")
	ErrInvalidUnitCost        = errs.New(errs.KindValidation, "invalid_unit_cost")
	ErrInvalidQuantity        = errs.New(errs.KindValidation, "invalid_quantity")
	ErrInvalidMovementType    = errs.New(errs.KindValidation, "invalid_movement_type")
	ErrDuplicateItemCode      = errs.New(errs.KindValidation, "duplicate_item_code")
	ErrItemLocked             = errs.New(errs.KindValidation, "item_identity_locked")
	ErrNotTrackable           = errs.New(errs.KindInvalidMovement, "item_not_trackable")
	ErrNegativeBalance        = errs.New(errs.KindInvalidMovement, "negative_balance")
	ErrBelowReserved          = errs.New(errs.KindInvalidMovement, "balance_below_reserved")
	ErrInsufficientStock      = errs.New(errs.KindInsufficientStock, "insufficient_stock")
	ErrReleaseExceedsReserved = errs.New(errs.KindInvalidMovement, "release_exceeds_reserved")
)
