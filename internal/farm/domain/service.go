package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, parcel *FarmParcel) error
	ListByFarmerCommodity(ctx context.Context, db *gorm.DB, farmerID, commodityID snowflake.ID) ([]FarmParcel, error)
}

type RegisterParcelRequest struct {
	FarmerID    snowflake.ID
	CommodityID snowflake.ID
	FarmArea    decimal.Decimal
	FarmType    FarmType
	TenureType  TenureType
}

// Aggregator answers farm-size questions for the calculation engine.
type Aggregator interface {
	Summarize(ctx context.Context, farmerID, commodityID snowflake.ID) (Summary, error)
	SummarizeTx(ctx context.Context, tx *gorm.DB, farmerID, commodityID snowflake.ID) (Summary, error)
	RegisterParcel(ctx context.Context, req RegisterParcelRequest) (FarmParcel, error)
}

var (
	ErrInvalidFarmer     = errs.New(errs.KindValidation, "invalid_farmer")
	ErrInvalidCommodity  = errs.New(errs.KindValidation, "invalid_commodity")
	ErrInvalidFarmArea   = errs.New(errs.KindValidation, "invalid_farm_area")
	ErrInvalidFarmType   = errs.New(errs.KindValidation, "invalid_farm_type")
	ErrInvalidTenureType = errs.New(errs.KindValidation, "invalid_tenure_type")
)
