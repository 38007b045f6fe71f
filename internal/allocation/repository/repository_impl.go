package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindInventoryAllocation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.InventoryAllocation, error) {
	var allocation domain.InventoryAllocation
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, nil
	}
	return &allocation, nil
}

func (r *repo) LockInventoryAllocation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.InventoryAllocation, error) {
	var allocation domain.InventoryAllocation
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, nil
	}
	return &allocation, nil
}

func (r *repo) LockInventoryAllocationFor(ctx context.Context, conn *gorm.DB, programID, inventoryID snowflake.ID) (*domain.InventoryAllocation, error) {
	var allocation domain.InventoryAllocation
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("program_id = ? AND inventory_id = ?", programID, inventoryID).
		Limit(1).
		Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, nil
	}
	return &allocation, nil
}

func (r *repo) ListInventoryAllocations(ctx context.Context, conn *gorm.DB, programID snowflake.ID) ([]domain.InventoryAllocation, error) {
	var allocations []domain.InventoryAllocation
	err := conn.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("id asc").
		Find(&allocations).Error
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repo) InsertInventoryAllocation(ctx context.Context, conn *gorm.DB, allocation *domain.InventoryAllocation) error {
	return conn.WithContext(ctx).Create(allocation).Error
}

func (r *repo) UpdateInventoryAllocation(ctx context.Context, conn *gorm.DB, allocation *domain.InventoryAllocation) error {
	res := conn.WithContext(ctx).
		Model(&domain.InventoryAllocation{}).
		Where("id = ? AND version = ?", allocation.ID, allocation.Version).
		Updates(map[string]any{
			"allocated_quantity":   allocation.AllocatedQuantity,
			"distributed_quantity": allocation.DistributedQuantity,
			"remaining_quantity":   allocation.RemainingQuantity,
			"unit_cost":            allocation.UnitCost,
			"total_cost":           allocation.TotalCost,
			"status":               allocation.Status,
			"allocation_stage":     allocation.Stage,
			"allocated_by":         allocation.AllocatedBy,
			"updated_at":           allocation.UpdatedAt,
			"version":              allocation.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrConcurrencyConflict.With("inventory allocation %s changed concurrently", allocation.ID)
	}
	allocation.Version++
	return nil
}

func (r *repo) InsertSubsidyType(ctx context.Context, conn *gorm.DB, subsidyType *domain.FinancialSubsidyType) error {
	return conn.WithContext(ctx).Create(subsidyType).Error
}

func (r *repo) FindSubsidyType(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.FinancialSubsidyType, error) {
	var subsidyType domain.FinancialSubsidyType
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&subsidyType).Error
	if err != nil {
		return nil, err
	}
	if subsidyType.ID == 0 {
		return nil, nil
	}
	return &subsidyType, nil
}

func (r *repo) FindSubsidyTypeByCode(ctx context.Context, conn *gorm.DB, code string) (*domain.FinancialSubsidyType, error) {
	var subsidyType domain.FinancialSubsidyType
	err := conn.WithContext(ctx).
		Where("code = ?", code).
		Limit(1).
		Find(&subsidyType).Error
	if err != nil {
		return nil, err
	}
	if subsidyType.ID == 0 {
		return nil, nil
	}
	return &subsidyType, nil
}

func (r *repo) ListSubsidyTypes(ctx context.Context, conn *gorm.DB) ([]domain.FinancialSubsidyType, error) {
	var types []domain.FinancialSubsidyType
	err := conn.WithContext(ctx).
		Order("code asc").
		Find(&types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}

func (r *repo) FindFinancialAllocation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.FinancialAllocation, error) {
	var allocation domain.FinancialAllocation
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, nil
	}
	return &allocation, nil
}

func (r *repo) LockFinancialAllocation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.FinancialAllocation, error) {
	var allocation domain.FinancialAllocation
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, nil
	}
	return &allocation, nil
}

func (r *repo) LockFinancialAllocationFor(ctx context.Context, conn *gorm.DB, programID, subsidyTypeID snowflake.ID) (*domain.FinancialAllocation, error) {
	var allocation domain.FinancialAllocation
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("program_id = ? AND financial_subsidy_type_id = ?", programID, subsidyTypeID).
		Limit(1).
		Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, nil
	}
	return &allocation, nil
}

func (r *repo) ListFinancialAllocations(ctx context.Context, conn *gorm.DB, programID snowflake.ID) ([]domain.FinancialAllocation, error) {
	var allocations []domain.FinancialAllocation
	err := conn.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("id asc").
		Find(&allocations).Error
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repo) InsertFinancialAllocation(ctx context.Context, conn *gorm.DB, allocation *domain.FinancialAllocation) error {
	return conn.WithContext(ctx).Create(allocation).Error
}

func (r *repo) UpdateFinancialAllocation(ctx context.Context, conn *gorm.DB, allocation *domain.FinancialAllocation) error {
	res := conn.WithContext(ctx).
		Model(&domain.FinancialAllocation{}).
		Where("id = ? AND version = ?", allocation.ID, allocation.Version).
		Updates(map[string]any{
			"amount_per_beneficiary": allocation.AmountPerBeneficiary,
			"target_beneficiaries":   allocation.TargetBeneficiaries,
			"total_allocated_amount": allocation.TotalAllocatedAmount,
			"disbursed_amount":       allocation.DisbursedAmount,
			"remaining_amount":       allocation.RemainingAmount,
			"disbursement_method":    allocation.DisbursementMethod,
			"status":                 allocation.Status,
			"allocated_by":           allocation.AllocatedBy,
			"updated_at":             allocation.UpdatedAt,
			"version":                allocation.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrConcurrencyConflict.With("financial allocation %s changed concurrently", allocation.ID)
	}
	allocation.Version++
	return nil
}
