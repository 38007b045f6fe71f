package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, b *domain.ProgramBeneficiary) error {
	return conn.WithContext(ctx).Create(b).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ProgramBeneficiary, error) {
	return findBeneficiary(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ProgramBeneficiary, error) {
	return findBeneficiary(db.ForUpdate(conn.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindByKey(ctx context.Context, conn *gorm.DB, programID, farmerID, commodityID snowflake.ID) (*domain.ProgramBeneficiary, error) {
	return findBeneficiary(conn.WithContext(ctx).
		Where("program_id = ? AND farmer_id = ? AND commodity_id = ?", programID, farmerID, commodityID))
}

func findBeneficiary(q *gorm.DB) (*domain.ProgramBeneficiary, error) {
	var b domain.ProgramBeneficiary
	if err := q.Limit(1).Find(&b).Error; err != nil {
		return nil, err
	}
	if b.ID == 0 {
		return nil, nil
	}
	return &b, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, b *domain.ProgramBeneficiary) error {
	res := conn.WithContext(ctx).
		Model(&domain.ProgramBeneficiary{}).
		Where("id = ? AND version = ?", b.ID, b.Version).
		Updates(map[string]any{
			"total_farm_hectares": b.TotalFarmHectares,
			"primary_farm_type":   b.PrimaryFarmType,
			"primary_tenure_type": b.PrimaryTenureType,
			"is_eligible":         b.IsEligible,
			"status":              b.Status,
			"approved_by":         b.ApprovedBy,
			"approved_at":         b.ApprovedAt,
			"updated_at":          b.UpdatedAt,
			"version":             b.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrConcurrencyConflict.With("beneficiary %s changed concurrently", b.ID)
	}
	b.Version++
	return nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, programID snowflake.ID, status domain.Status) ([]domain.ProgramBeneficiary, error) {
	q := conn.WithContext(ctx).Where("program_id = ?", programID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.ProgramBeneficiary
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB, programID snowflake.ID, status domain.Status) (int64, error) {
	var n int64
	err := conn.WithContext(ctx).
		Model(&domain.ProgramBeneficiary{}).
		Where("program_id = ? AND status = ?", programID, status).
		Count(&n).Error
	return n, err
}

func (r *repo) InsertItem(ctx context.Context, conn *gorm.DB, item *domain.ProgramBeneficiaryItem) error {
	return conn.WithContext(ctx).Create(item).Error
}

func (r *repo) LockItem(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ProgramBeneficiaryItem, error) {
	return findItem(db.ForUpdate(conn.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindItem(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ProgramBeneficiaryItem, error) {
	return findItem(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockItemByKey(ctx context.Context, conn *gorm.DB, beneficiaryID snowflake.ID, key string) (*domain.ProgramBeneficiaryItem, error) {
	return findItem(db.ForUpdate(conn.WithContext(ctx)).
		Where("beneficiary_id = ? AND entitlement_key = ?", beneficiaryID, key))
}

func findItem(q *gorm.DB) (*domain.ProgramBeneficiaryItem, error) {
	var item domain.ProgramBeneficiaryItem
	if err := q.Limit(1).Find(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateItem(ctx context.Context, conn *gorm.DB, item *domain.ProgramBeneficiaryItem) error {
	res := conn.WithContext(ctx).
		Model(&domain.ProgramBeneficiaryItem{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(map[string]any{
			"calculation_rule_id":   item.CalculationRuleID,
			"calculated_quantity":   item.CalculatedQuantity,
			"calculated_amount":     item.CalculatedAmount,
			"approved_quantity":     item.ApprovedQuantity,
			"approved_amount":       item.ApprovedAmount,
			"approved_overridden":   item.ApprovedOverridden,
			"calculation_notes":     item.CalculationNotes,
			"disbursement_status":   item.DisbursementStatus,
			"disbursed_quantity":    item.DisbursedQuantity,
			"disbursed_amount":      item.DisbursedAmount,
			"disbursement_batch_id": item.DisbursementBatchID,
			"disbursement_method":   item.DisbursementMethod,
			"recipient_name":        item.RecipientName,
			"reference_number":      item.ReferenceNumber,
			"remarks":               item.Remarks,
			"released_by":           item.ReleasedBy,
			"released_at":           item.ReleasedAt,
			"updated_at":            item.UpdatedAt,
			"version":               item.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrConcurrencyConflict.With("beneficiary item %s changed concurrently", item.ID)
	}
	item.Version++
	return nil
}

func (r *repo) ListItemsByProgram(ctx context.Context, conn *gorm.DB, programID snowflake.ID) ([]domain.ProgramBeneficiaryItem, error) {
	var out []domain.ProgramBeneficiaryItem
	err := conn.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("beneficiary_id asc, entitlement_key asc").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) CountItems(ctx context.Context, conn *gorm.DB, beneficiaryID snowflake.ID, status domain.DisbursementStatus) (int64, error) {
	q := conn.WithContext(ctx).
		Model(&domain.ProgramBeneficiaryItem{}).
		Where("beneficiary_id = ?", beneficiaryID)
	if status != "" {
		q = q.Where("disbursement_status = ?", status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (r *repo) CountItemsInBatch(ctx context.Context, conn *gorm.DB, beneficiaryID, batchID snowflake.ID) (int64, error) {
	var n int64
	err := conn.WithContext(ctx).
		Model(&domain.ProgramBeneficiaryItem{}).
		Where("beneficiary_id = ? AND disbursement_batch_id = ?", beneficiaryID, batchID).
		Count(&n).Error
	return n, err
}

func (r *repo) CancelOpenItems(ctx context.Context, conn *gorm.DB, programID snowflake.ID) (int64, error) {
	res := conn.WithContext(ctx).
		Model(&domain.ProgramBeneficiaryItem{}).
		Where("program_id = ? AND disbursement_status IN ?", programID,
			[]domain.DisbursementStatus{domain.DisbursementPending, domain.DisbursementReserved}).
		Updates(map[string]any{
			"disbursement_status": domain.DisbursementCancelled,
			"version":             gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}
