package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, parcel *domain.FarmParcel) error {
	return db.WithContext(ctx).Create(parcel).Error
}

func (r *repo) ListByFarmerCommodity(ctx context.Context, db *gorm.DB, farmerID, commodityID snowflake.ID) ([]domain.FarmParcel, error) {
	var parcels []domain.FarmParcel
	err := db.WithContext(ctx).
		Where("farmer_id = ? AND commodity_id = ?", farmerID, commodityID).
		Order("id asc").
		Find(&parcels).Error
	if err != nil {
		return nil, err
	}
	return parcels, nil
}
