package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type MovementType string

const (
	MovementStockIn      MovementType = "stock_in"
	MovementStockOut     MovementType = "stock_out"
	MovementAdjustment   MovementType = "adjustment"
	MovementTransfer     MovementType = "transfer"
	MovementDistribution MovementType = "distribution"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementStockIn, MovementStockOut, MovementAdjustment, MovementTransfer, MovementDistribution:
		return true
	default:
		return false
	}
}

type Item struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	ItemCode         string          `gorm:"not null;uniqueIndex" json:"item_code"`
	Name             string          `gorm:"not null" json:"name"`
	Unit             string          `gorm:"not null" json:"unit"`
	UnitCost         decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"unit_cost"`
	IsSubsidizable   bool            `gorm:"not null" json:"is_subsidizable"`
	IsTrackableStock bool            `gorm:"not null" json:"is_trackable_stock"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
}

func (Item) TableName() string { return "inventory_items" }

// StockMovement is one append-only ledger entry. Quantity is signed.
type StockMovement struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	InventoryID    snowflake.ID    `gorm:"not null;index:idx_stock_movements_item" json:"inventory_id"`
	Quantity       decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"quantity"`
	MovementType   MovementType    `gorm:"not null" json:"movement_type"`
	UnitCost       decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"unit_cost"`
	TotalValue     decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_value"`
	RunningBalance decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"running_balance"`
	ReferenceType  string          `json:"reference_type,omitempty"`
	ReferenceID    snowflake.ID    `json:"reference_id,omitempty"`
	Remarks        string          `json:"remarks,omitempty"`
	CreatedBy      snowflake.ID    `json:"created_by,omitempty"`
	CreatedAt      time.Time       `gorm:"not null;index:idx_stock_movements_item" json:"created_at"`
}

func (StockMovement) TableName() string { return "stock_movements" }

// CurrentStock is the ledger-maintained snapshot of one item.
type CurrentStock struct {
	InventoryID       snowflake.ID    `gorm:"primaryKey;autoIncrement:false" json:"inventory_id"`
	CurrentQuantity   decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"current_quantity"`
	ReservedQuantity  decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"reserved_quantity"`
	AvailableQuantity decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"available_quantity"`
	TotalValue        decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total_value"`
	AverageUnitCost   decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"average_unit_cost"`
	Version           int64           `gorm:"not null" json:"version"`
	LastMovementAt    *time.Time      `json:"last_movement_at,omitempty"`
	UpdatedAt         time.Time       `gorm:"not null" json:"updated_at"`
}

func (CurrentStock) TableName() string { return "current_stocks" }

func (s *CurrentStock) recompute() {
	s.AvailableQuantity = s.CurrentQuantity.Sub(s.ReservedQuantity)
	s.TotalValue = s.CurrentQuantity.Mul(s.AverageUnitCost).Round(4)
}

// Apply posts a signed quantity onto the snapshot and returns the new
// running balance. Incoming stock re-weights the average unit cost.
func (s *CurrentStock) Apply(quantity, unitCost decimal.Decimal) (decimal.Decimal, error) {
	next := s.CurrentQuantity.Add(quantity)
	if next.IsNegative() {
		return decimal.Zero, ErrNegativeBalance.With("balance %s, movement %s", s.CurrentQuantity.String(), quantity.String())
	}
	if next.LessThan(s.ReservedQuantity) {
		return decimal.Zero, ErrBelowReserved.With("balance %s would fall below reserved %s", next.String(), s.ReservedQuantity.String())
	}
	if quantity.IsPositive() && next.IsPositive() {
		weighted := s.CurrentQuantity.Mul(s.AverageUnitCost).Add(quantity.Mul(unitCost))
		s.AverageUnitCost = weighted.Div(next).Round(4)
	}
	s.CurrentQuantity = next
	s.recompute()
	return next, nil
}

func (s *CurrentStock) Reserve(quantity decimal.Decimal) error {
	available := s.CurrentQuantity.Sub(s.ReservedQuantity)
	if quantity.GreaterThan(available) {
		return ErrInsufficientStock.With("requested %s, available %s", quantity.String(), available.String())
	}
	s.ReservedQuantity = s.ReservedQuantity.Add(quantity)
	s.recompute()
	return nil
}

func (s *CurrentStock) Release(quantity decimal.Decimal) error {
	if quantity.GreaterThan(s.ReservedQuantity) {
		return ErrReleaseExceedsReserved.With("release %s, reserved %s", quantity.String(), s.ReservedQuantity.String())
	}
	s.ReservedQuantity = s.ReservedQuantity.Sub(quantity)
	s.recompute()
	return nil
}

type StockLevel struct {
	InventoryID     snowflake.ID    `json:"inventory_id"`
	Current         decimal.Decimal `json:"current"`
	Reserved        decimal.Decimal `json:"reserved"`
	Available       decimal.Decimal `json:"available"`
	Value           decimal.Decimal `json:"value"`
	AverageUnitCost decimal.Decimal `json:"average_unit_cost"`
}

// AvailableItem is a subsidizable item with stock free for allocation.
type AvailableItem struct {
	Item
	Available decimal.Decimal `json:"available"`
}

// Drift compares the snapshot with a fresh sum of the ledger.
type Drift struct {
	InventoryID     snowflake.ID    `json:"inventory_id"`
	LedgerBalance   decimal.Decimal `json:"ledger_balance"`
	SnapshotBalance decimal.Decimal `json:"snapshot_balance"`
	LastRunning     decimal.Decimal `json:"last_running_balance"`
	Movements       int             `json:"movements"`
	AvailableOK     bool            `json:"available_ok"`
}

func (d Drift) Consistent() bool {
	return d.LedgerBalance.Equal(d.SnapshotBalance) &&
		d.LedgerBalance.Equal(d.LastRunning) &&
		d.AvailableOK
}
