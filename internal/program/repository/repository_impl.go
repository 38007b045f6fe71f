package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"github.com/smallbiznis/agrisubsidy/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, program *domain.Program) error {
	return conn.WithContext(ctx).Create(program).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Program, error) {
	var program domain.Program
	err := conn.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&program).Error
	if err != nil {
		return nil, err
	}
	if program.ID == 0 {
		return nil, nil
	}
	return &program, nil
}

func (r *repo) LockByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Program, error) {
	var program domain.Program
	err := db.ForUpdate(conn.WithContext(ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&program).Error
	if err != nil {
		return nil, err
	}
	if program.ID == 0 {
		return nil, nil
	}
	return &program, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, program *domain.Program) error {
	res := conn.WithContext(ctx).Exec(
		`UPDATE subsidy_programs
		 SET title = ?, description = ?, subsidy_type = ?, total_budget = ?, allocated_budget = ?,
		     disbursed_amount = ?, remaining_budget = ?, target_beneficiaries = ?, actual_beneficiaries = ?,
		     status = ?, inventory_allocated = ?, ready_for_distribution = ?, approved_by = ?, approved_at = ?,
		     updated_at = ?, version = ?
		 WHERE id = ? AND version = ?`,
		program.Title,
		program.Description,
		program.SubsidyType,
		program.TotalBudget,
		program.AllocatedBudget,
		program.DisbursedAmount,
		program.RemainingBudget,
		program.TargetBeneficiaries,
		program.ActualBeneficiaries,
		program.Status,
		program.InventoryAllocated,
		program.ReadyForDistribution,
		program.ApprovedBy,
		program.ApprovedAt,
		program.UpdatedAt,
		program.Version+1,
		program.ID,
		program.Version,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrConcurrencyConflict.With("program %s changed concurrently", program.ID)
	}
	program.Version++
	return nil
}

func (r *repo) ListByStatus(ctx context.Context, conn *gorm.DB, status domain.Status) ([]domain.Program, error) {
	var programs []domain.Program
	err := conn.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc, id asc").
		Find(&programs).Error
	if err != nil {
		return nil, err
	}
	return programs, nil
}

func (r *repo) InsertLog(ctx context.Context, conn *gorm.DB, entry *domain.ApprovalLog) error {
	return conn.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListLogs(ctx context.Context, conn *gorm.DB, programID snowflake.ID) ([]domain.ApprovalLog, error) {
	var logs []domain.ApprovalLog
	err := conn.WithContext(ctx).
		Where("program_id = ?", programID).
		Order("created_at asc, id asc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
