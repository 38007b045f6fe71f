package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/calculation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *domain.Rule) error {
	return db.WithContext(ctx).Create(rule).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Rule, error) {
	var rule domain.Rule
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, rule *domain.Rule) error {
	return db.WithContext(ctx).
		Model(&domain.Rule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]any{
			"is_active":  rule.IsActive,
			"updated_at": rule.UpdatedAt,
		}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, programID snowflake.ID, activeOnly bool) ([]domain.Rule, error) {
	q := db.WithContext(ctx).Where("program_id = ?", programID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rules []domain.Rule
	if err := q.Order("priority asc, id asc").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}
