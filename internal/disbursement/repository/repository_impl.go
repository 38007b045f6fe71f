package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/disbursement/domain"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	return conn.WithContext(ctx).Create(batch).Error
}

func (r *repo) FindBatch(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) LockBatch(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) UpdateBatch(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	res := conn.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]any{
			"total_beneficiaries": batch.TotalBeneficiaries,
			"total_items":         batch.TotalItems,
			"total_value":         batch.TotalValue,
			"status":              batch.Status,
			"remarks":             batch.Remarks,
			"closed_by":           batch.ClosedBy,
			"closed_at":           batch.ClosedAt,
			"updated_at":          batch.UpdatedAt,
			"version":             batch.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrConcurrencyConflict.With("batch %s changed concurrently", batch.ID)
	}
	batch.Version++
	return nil
}

func (r *repo) ListBatches(ctx context.Context, conn *gorm.DB, programID snowflake.ID) ([]domain.Batch, error) {
	var batches []domain.Batch
	err := conn.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("disbursement_date asc, id asc").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) CountBatchesWithPrefix(ctx context.Context, conn *gorm.DB, prefix string) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.Batch{}).
		Where("batch_number LIKE ?", prefix+"%").
		Count(&count).Error
	return count, err
}

func (r *repo) InsertRecord(ctx context.Context, conn *gorm.DB, record *domain.FinancialDisbursementRecord) error {
	return conn.WithContext(ctx).Create(record).Error
}

func (r *repo) ListRecords(ctx context.Context, conn *gorm.DB, batchID snowflake.ID) ([]domain.FinancialDisbursementRecord, error) {
	var records []domain.FinancialDisbursementRecord
	err := conn.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
