package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertItem(ctx context.Context, conn *gorm.DB, item *domain.Item) error {
	return conn.WithContext(ctx).Create(item).Error
}

func (r *repo) FindItem(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Item, error) {
	var item domain.Item
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindItemByCode(ctx context.Context, conn *gorm.DB, code string) (*domain.Item, error) {
	var item domain.Item
	err := conn.WithContext(ctx).
		Where("item_code = ?", code).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateItem(ctx context.Context, conn *gorm.DB, item *domain.Item) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET item_code = ?, name = ?, unit = ?, unit_cost = ?, is_subsidizable = ?, is_trackable_stock = ?, updated_at = ?
		 WHERE id = ?`,
		item.ItemCode,
		item.Name,
		item.Unit,
		item.UnitCost,
		item.IsSubsidizable,
		item.IsTrackableStock,
		item.UpdatedAt,
		item.ID,
	).Error
}

func (r *repo) HasDistribution(ctx context.Context, conn *gorm.DB, inventoryID snowflake.ID) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.StockMovement{}).
		Where("inventory_id = ? AND movement_type = ?", inventoryID, domain.MovementDistribution).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) LockStock(ctx context.Context, conn *gorm.DB, inventoryID snowflake.ID) (*domain.CurrentStock, error) {
	var stock domain.CurrentStock
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("inventory_id = ?", inventoryID).
		Limit(1).
		Find(&stock).Error
	if err != nil {
		return nil, err
	}
	if stock.InventoryID == 0 {
		return nil, nil
	}
	return &stock, nil
}

func (r *repo) FindStock(ctx context.Context, conn *gorm.DB, inventoryID snowflake.ID) (*domain.CurrentStock, error) {
	var stock domain.CurrentStock
	err := conn.WithContext(ctx).
		Where("inventory_id = ?", inventoryID).
		Limit(1).
		Find(&stock).Error
	if err != nil {
		return nil, err
	}
	if stock.InventoryID == 0 {
		return nil, nil
	}
	return &stock, nil
}

// InsertStock creates the snapshot row; a concurrent creator wins silently.
func (r *repo) InsertStock(ctx context.Context, conn *gorm.DB, stock *domain.CurrentStock) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(stock).Error
}

func (r *repo) UpdateStock(ctx context.Context, conn *gorm.DB, stock *domain.CurrentStock, expectedVersion int64) (bool, error) {
	res := conn.WithContext(ctx).
		Model(&domain.CurrentStock{}).
		Where("inventory_id = ? AND version = ?", stock.InventoryID, expectedVersion).
		Updates(map[string]any{
			"current_quantity":   stock.CurrentQuantity,
			"reserved_quantity":  stock.ReservedQuantity,
			"available_quantity": stock.AvailableQuantity,
			"total_value":        stock.TotalValue,
			"average_unit_cost":  stock.AverageUnitCost,
			"last_movement_at":   stock.LastMovementAt,
			"updated_at":         stock.UpdatedAt,
			"version":            expectedVersion + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertMovement(ctx context.Context, conn *gorm.DB, movement *domain.StockMovement) error {
	return conn.WithContext(ctx).Create(movement).Error
}

func (r *repo) ListMovements(ctx context.Context, conn *gorm.DB, inventoryID snowflake.ID, limit int) ([]domain.StockMovement, error) {
	var movements []domain.StockMovement
	stmt := conn.WithContext(ctx).
		Where("inventory_id = ?", inventoryID).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *repo) ListSubsidizable(ctx context.Context, conn *gorm.DB) ([]domain.AvailableItem, error) {
	var rows []domain.AvailableItem
	err := conn.WithContext(ctx).Raw(
		`SELECT i.id, i.item_code, i.name, i.unit, i.unit_cost, i.is_subsidizable, i.is_trackable_stock,
		        i.created_at, i.updated_at, s.available_quantity AS available
		 FROM inventory_items i
		 JOIN current_stocks s ON s.inventory_id = i.id
		 WHERE i.is_subsidizable = ? AND s.available_quantity > 0
		 ORDER BY i.name ASC, i.id ASC`,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListTrackedItemIDs(ctx context.Context, conn *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := conn.WithContext(ctx).
		Model(&domain.Item{}).
		Where("is_trackable_stock = ?", true).
		Order("id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
