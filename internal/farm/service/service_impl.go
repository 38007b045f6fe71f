package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agrisubsidy/internal/clock"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Config *config.CalculationConfigHolder `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	config *config.CalculationConfigHolder
}

func New(p Params) domain.Aggregator {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("farm.aggregator"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		config: p.Config,
	}
}

func (s *Service) Summarize(ctx context.Context, farmerID, commodityID snowflake.ID) (domain.Summary, error) {
	return s.SummarizeTx(ctx, s.db, farmerID, commodityID)
}

func (s *Service) SummarizeTx(ctx context.Context, tx *gorm.DB, farmerID, commodityID snowflake.ID) (domain.Summary, error) {
	parcels, err := s.repo.ListByFarmerCommodity(ctx, tx, farmerID, commodityID)
	if err != nil {
		return domain.Summary{}, err
	}
	cfg := s.config.Get()
	summary := domain.Summarize(parcels, domain.Fallbacks{
		FarmType:   domain.FarmType(cfg.FallbackFarmType),
		TenureType: domain.TenureType(cfg.FallbackTenureType),
	})
	summary.FarmerID = farmerID
	summary.CommodityID = commodityID
	return summary, nil
}

func (s *Service) RegisterParcel(ctx context.Context, req domain.RegisterParcelRequest) (domain.FarmParcel, error) {
	if req.FarmerID == 0 {
		return domain.FarmParcel{}, domain.ErrInvalidFarmer
	}
	if req.CommodityID == 0 {
		return domain.FarmParcel{}, domain.ErrInvalidCommodity
	}
	if !req.FarmArea.IsPositive() {
		return domain.FarmParcel{}, domain.ErrInvalidFarmArea
	}
	if !req.FarmType.Valid() {
		return domain.FarmParcel{}, domain.ErrInvalidFarmType.With("farm_type %q", req.FarmType)
	}
	if !req.TenureType.Valid() {
		return domain.FarmParcel{}, domain.ErrInvalidTenureType.With("tenure_type %q", req.TenureType)
	}

	parcel := domain.FarmParcel{
		ID:          s.genID.Generate(),
		FarmerID:    req.FarmerID,
		CommodityID: req.CommodityID,
		FarmArea:    req.FarmArea,
		FarmType:    req.FarmType,
		TenureType:  req.TenureType,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &parcel); err != nil {
		return domain.FarmParcel{}, err
	}
	return parcel, nil
}
