package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Authz      authorization.Service
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	authz      authorization.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("inventory.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		authz:      p.Authz,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateItem(ctx context.Context, req domain.CreateItemRequest) (domain.Item, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Item{}, domain.ErrInvalidName
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		return domain.Item{}, domain.ErrInvalidUnit
	}
	if req.UnitCost.IsNegative() {
		return domain.Item{}, domain.ErrInvalidUnitCost
	}

	code := itemCode(req.ItemCode, name)
	existing, err := s.repo.FindItemByCode(ctx, s.db, code)
	if err != nil {
		return domain.Item{}, err
	}
	if existing != nil {
		return domain.Item{}, domain.ErrDuplicateItemCode.With("item_code %s", code)
	}

	now := s.clock.Now()
	item := domain.Item{
		ID:               s.genID.Generate(),
		ItemCode:         code,
		Name:             name,
		Unit:             unit,
		UnitCost:         req.UnitCost,
		IsSubsidizable:   req.IsSubsidizable,
		IsTrackableStock: req.IsTrackableStock,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.InsertItem(ctx, s.db, &item); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Item{}, domain.ErrDuplicateItemCode.With("item_code %s", code)
		}
		return domain.Item{}, err
	}
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, req domain.UpdateItemRequest) (domain.Item, error) {
	var updated domain.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindItem(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}

		identityChanged := false
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.ErrInvalidName
			}
			identityChanged = identityChanged || name != item.Name
			item.Name = name
		}
		if req.Unit != nil {
			unit := strings.TrimSpace(*req.Unit)
			if unit == "" {
				return domain.ErrInvalidUnit
			}
			identityChanged = identityChanged || unit != item.Unit
			item.Unit = unit
		}
		if req.ItemCode != nil {
			code := itemCode(*req.ItemCode, item.Name)
			if code != item.ItemCode {
				other, err := s.repo.FindItemByCode(ctx, tx, code)
				if err != nil {
					return err
				}
				if other != nil {
					return domain.ErrDuplicateItemCode.With("item_code %s", code)
				}
				identityChanged = true
			}
			item.ItemCode = code
		}
		if req.IsSubsidizable != nil {
			item.IsSubsidizable = *req.IsSubsidizable
		}

		if identityChanged {
			distributed, err := s.repo.HasDistribution(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			if distributed {
				return domain.ErrItemLocked.With("item %s has distribution movements", item.ID)
			}
		}

		item.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}
	return updated, nil
}

// UpdateItemCost changes the catalogue unit cost. It requires the cost
// management capability and leaves an audit entry.
func (s *Service) UpdateItemCost(ctx context.Context, req domain.UpdateItemCostRequest) (domain.Item, error) {
	if req.UnitCost.IsNegative() {
		return domain.Item{}, domain.ErrInvalidUnitCost
	}
	if err := s.authz.Authorize(ctx, req.ActorID, authorization.ObjectInventory, authorization.ActionInventoryManageCost); err != nil {
		return domain.Item{}, err
	}

	var updated domain.Item
	var previous decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindItem(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		previous = item.UnitCost
		item.UnitCost = req.UnitCost
		item.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateItem(ctx, tx, item); err != nil {
			return err
		}
		if s.auditSvc != nil {
			if err := s.auditSvc.AuditLog(ctx, tx, req.ActorID, "inventory.unit_cost_changed", "inventory_item", item.ID.String(), map[string]any{
				"previous_unit_cost": previous.String(),
				"unit_cost":          req.UnitCost.String(),
			}); err != nil {
				return err
			}
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.Item{}, err
	}

	s.log.Info("inventory unit cost changed",
		zap.String("inventory_id", updated.ID.String()),
		zap.String("previous_unit_cost", previous.String()),
		zap.String("unit_cost", updated.UnitCost.String()),
	)
	return updated, nil
}

func (s *Service) GetItem(ctx context.Context, id snowflake.ID) (domain.Item, error) {
	return s.GetItemTx(ctx, s.db, id)
}

func (s *Service) GetItemTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (domain.Item, error) {
	item, err := s.repo.FindItem(ctx, tx, id)
	if err != nil {
		return domain.Item{}, err
	}
	if item == nil {
		return domain.Item{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) RecordMovement(ctx context.Context, req domain.RecordMovementRequest) (domain.StockMovement, error) {
	var movement domain.StockMovement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		movement, err = s.PostMovementTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return domain.StockMovement{}, db.ClassifyContention(err)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordStockMovement(ctx, string(movement.MovementType))
	}
	return movement, nil
}

func (s *Service) PostMovementTx(ctx context.Context, tx *gorm.DB, req domain.RecordMovementRequest) (domain.StockMovement, error) {
	if err := validateMovement(req); err != nil {
		return domain.StockMovement{}, err
	}

	item, err := s.repo.FindItem(ctx, tx, req.InventoryID)
	if err != nil {
		return domain.StockMovement{}, err
	}
	if item == nil {
		return domain.StockMovement{}, domain.ErrNotFound
	}
	if !item.IsTrackableStock {
		return domain.StockMovement{}, domain.ErrNotTrackable.With("item %s", item.ItemCode)
	}

	unitCost := req.UnitCost
	if unitCost.IsZero() {
		unitCost = item.UnitCost
	}

	stock, err := s.lockStock(ctx, tx, item.ID)
	if err != nil {
		return domain.StockMovement{}, err
	}
	running, err := stock.Apply(req.Quantity, unitCost)
	if err != nil {
		return domain.StockMovement{}, err
	}

	now := s.clock.Now()
	stock.LastMovementAt = &now
	stock.UpdatedAt = now
	if err := s.saveStock(ctx, tx, stock); err != nil {
		return domain.StockMovement{}, err
	}

	movement := domain.StockMovement{
		ID:             s.genID.Generate(),
		InventoryID:    item.ID,
		Quantity:       req.Quantity,
		MovementType:   req.MovementType,
		UnitCost:       unitCost,
		TotalValue:     req.Quantity.Mul(unitCost).Round(4),
		RunningBalance: running,
		ReferenceType:  strings.TrimSpace(req.ReferenceType),
		ReferenceID:    req.ReferenceID,
		Remarks:        strings.TrimSpace(req.Remarks),
		CreatedBy:      req.ActorID,
		CreatedAt:      now,
	}
	if err := s.repo.InsertMovement(ctx, tx, &movement); err != nil {
		return domain.StockMovement{}, fmt.Errorf("insert stock movement: %w", err)
	}
	return movement, nil
}

func (s *Service) AddStock(ctx context.Context, req domain.AddStockRequest) (domain.StockMovement, error) {
	return s.RecordMovement(ctx, domain.RecordMovementRequest{
		InventoryID:  req.InventoryID,
		Quantity:     req.Quantity,
		MovementType: domain.MovementStockIn,
		UnitCost:     req.UnitCost,
		Remarks:      req.Remarks,
		ActorID:      req.ActorID,
	})
}

func (s *Service) GetCurrentStock(ctx context.Context, inventoryID snowflake.ID) (domain.StockLevel, error) {
	item, err := s.repo.FindItem(ctx, s.db, inventoryID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	if item == nil {
		return domain.StockLevel{}, domain.ErrNotFound
	}
	stock, err := s.repo.FindStock(ctx, s.db, inventoryID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	if stock == nil {
		return domain.StockLevel{
			InventoryID:     inventoryID,
			Current:         decimal.Zero,
			Reserved:        decimal.Zero,
			Available:       decimal.Zero,
			Value:           decimal.Zero,
			AverageUnitCost: decimal.Zero,
		}, nil
	}
	return levelOf(stock), nil
}

func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return domain.ErrInvalidQuantity
	}
	stock, err := s.lockExistingStock(ctx, tx, inventoryID)
	if err != nil {
		return err
	}
	if err := stock.Reserve(quantity); err != nil {
		return err
	}
	stock.UpdatedAt = s.clock.Now()
	return s.saveStock(ctx, tx, stock)
}

func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID, quantity decimal.Decimal) error {
	if quantity.IsZero() {
		return nil
	}
	if quantity.IsNegative() {
		return domain.ErrInvalidQuantity
	}
	stock, err := s.lockExistingStock(ctx, tx, inventoryID)
	if err != nil {
		return err
	}
	if err := stock.Release(quantity); err != nil {
		return err
	}
	stock.UpdatedAt = s.clock.Now()
	return s.saveStock(ctx, tx, stock)
}

func (s *Service) ListMovements(ctx context.Context, inventoryID snowflake.ID, limit int) ([]domain.StockMovement, error) {
	item, err := s.repo.FindItem(ctx, s.db, inventoryID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.ListMovements(ctx, s.db, inventoryID, limit)
}

func (s *Service) ListSubsidizable(ctx context.Context) ([]domain.AvailableItem, error) {
	return s.repo.ListSubsidizable(ctx, s.db)
}

// Reconcile replays the movement ledger of one item and compares the result
// with the current stock snapshot. It never writes.
func (s *Service) Reconcile(ctx context.Context, inventoryID snowflake.ID) (domain.Drift, error) {
	item, err := s.repo.FindItem(ctx, s.db, inventoryID)
	if err != nil {
		return domain.Drift{}, err
	}
	if item == nil {
		return domain.Drift{}, domain.ErrNotFound
	}

	movements, err := s.repo.ListMovements(ctx, s.db, inventoryID, 0)
	if err != nil {
		return domain.Drift{}, err
	}
	stock, err := s.repo.FindStock(ctx, s.db, inventoryID)
	if err != nil {
		return domain.Drift{}, err
	}

	drift := domain.Drift{
		InventoryID:     inventoryID,
		LedgerBalance:   decimal.Zero,
		SnapshotBalance: decimal.Zero,
		LastRunning:     decimal.Zero,
		Movements:       len(movements),
		AvailableOK:     true,
	}
	for _, m := range movements {
		drift.LedgerBalance = drift.LedgerBalance.Add(m.Quantity)
		drift.LastRunning = m.RunningBalance
	}
	if stock != nil {
		drift.SnapshotBalance = stock.CurrentQuantity
		drift.AvailableOK = stock.AvailableQuantity.Equal(stock.CurrentQuantity.Sub(stock.ReservedQuantity)) &&
			!stock.AvailableQuantity.IsNegative() &&
			!stock.ReservedQuantity.GreaterThan(stock.CurrentQuantity)
	}
	return drift, nil
}

func (s *Service) ListTrackedItemIDs(ctx context.Context) ([]snowflake.ID, error) {
	return s.repo.ListTrackedItemIDs(ctx, s.db)
}

func (s *Service) lockStock(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID) (*domain.CurrentStock, error) {
	stock, err := s.repo.LockStock(ctx, tx, inventoryID)
	if err != nil {
		return nil, err
	}
	if stock != nil {
		return stock, nil
	}

	fresh := &domain.CurrentStock{
		InventoryID:       inventoryID,
		CurrentQuantity:   decimal.Zero,
		ReservedQuantity:  decimal.Zero,
		AvailableQuantity: decimal.Zero,
		TotalValue:        decimal.Zero,
		AverageUnitCost:   decimal.Zero,
		UpdatedAt:         s.clock.Now(),
	}
	if err := s.repo.InsertStock(ctx, tx, fresh); err != nil {
		return nil, err
	}
	stock, err = s.repo.LockStock(ctx, tx, inventoryID)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, errs.ErrConcurrencyConflict.With("current stock for %s vanished", inventoryID)
	}
	return stock, nil
}

// lockExistingStock is used by hold changes, which need a known item but
// may still run before the first movement.
func (s *Service) lockExistingStock(ctx context.Context, tx *gorm.DB, inventoryID snowflake.ID) (*domain.CurrentStock, error) {
	item, err := s.repo.FindItem(ctx, tx, inventoryID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return s.lockStock(ctx, tx, inventoryID)
}

func (s *Service) saveStock(ctx context.Context, tx *gorm.DB, stock *domain.CurrentStock) error {
	ok, err := s.repo.UpdateStock(ctx, tx, stock, stock.Version)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("current stock version conflict",
			zap.String("inventory_id", stock.InventoryID.String()),
			zap.Int64("version", stock.Version),
		)
		return errs.ErrConcurrencyConflict.With("current stock %s changed concurrently", stock.InventoryID)
	}
	stock.Version++
	return nil
}

func validateMovement(req domain.RecordMovementRequest) error {
	if !req.MovementType.Valid() {
		return domain.ErrInvalidMovementType.With("movement_type %q", req.MovementType)
	}
	if req.Quantity.IsZero() {
		return domain.ErrInvalidQuantity.With("quantity must not be zero")
	}
	if req.UnitCost.IsNegative() {
		return domain.ErrInvalidUnitCost
	}
	switch req.MovementType {
	case domain.MovementStockIn:
		if !req.Quantity.IsPositive() {
			return domain.ErrInvalidQuantity.With("stock_in requires a positive quantity")
		}
	case domain.MovementStockOut, domain.MovementDistribution:
		if !req.Quantity.IsNegative() {
			return domain.ErrInvalidQuantity.With("%s requires a negative quantity", req.MovementType)
		}
	}
	return nil
}

func itemCode(code, name string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		code = name
	}
	return slug.Make(code)
}

func levelOf(stock *domain.CurrentStock) domain.StockLevel {
	return domain.StockLevel{
		InventoryID:     stock.InventoryID,
		Current:         stock.CurrentQuantity,
		Reserved:        stock.ReservedQuantity,
		Available:       stock.AvailableQuantity,
		Value:           stock.TotalValue,
		AverageUnitCost: stock.AverageUnitCost,
	}
}
