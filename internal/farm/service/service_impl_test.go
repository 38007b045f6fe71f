package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/errs"
	"github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	"github.com/smallbiznis/agrisubsidy/internal/farm/repository"
	"github.com/smallbiznis/agrisubsidy/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAggregator(t *testing.T, holder *config.CalculationConfigHolder) domain.Aggregator {
	t.Helper()
	conn := testkit.OpenDB(t, &domain.FarmParcel{})
	return New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  testkit.Node(t),
		Clock:  testkit.Clock(),
		Repo:   repository.Provide(),
		Config: holder,
	})
}

func TestRegisterParcelValidates(t *testing.T) {
	agg := newAggregator(t, nil)
	ctx := context.Background()
	valid := domain.RegisterParcelRequest{
		FarmerID:    10,
		CommodityID: 20,
		FarmArea:    decimal.RequireFromString("1.5"),
		FarmType:    domain.FarmIrrigated,
		TenureType:  domain.TenureTenant,
	}

	cases := []struct {
		name   string
		mutate func(*domain.RegisterParcelRequest)
		want   error
	}{
		{"missing farmer", func(r *domain.RegisterParcelRequest) { r.FarmerID = 0 }, domain.ErrInvalidFarmer},
		{"missing commodity", func(r *domain.RegisterParcelRequest) { r.CommodityID = 0 }, domain.ErrInvalidCommodity},
		{"zero area", func(r *domain.RegisterParcelRequest) { r.FarmArea = decimal.Zero }, domain.ErrInvalidFarmArea},
		{"unknown farm type", func(r *domain.RegisterParcelRequest) { r.FarmType = "orchard" }, domain.ErrInvalidFarmType},
		{"unknown tenure", func(r *domain.RegisterParcelRequest) { r.TenureType = "squatter" }, domain.ErrInvalidTenureType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := agg.RegisterParcel(ctx, req)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
}

func TestSummarizeAggregatesRegisteredParcels(t *testing.T) {
	agg := newAggregator(t, nil)
	ctx := context.Background()

	register := func(farmer, commodity int64, area string, farmType domain.FarmType, tenure domain.TenureType) {
		_, err := agg.RegisterParcel(ctx, domain.RegisterParcelRequest{
			FarmerID:    snowflake.ID(farmer),
			CommodityID: snowflake.ID(commodity),
			FarmArea:    decimal.RequireFromString(area),
			FarmType:    farmType,
			TenureType:  tenure,
		})
		require.NoError(t, err)
	}
	register(1, 100, "2", domain.FarmIrrigated, domain.TenureRegisteredOwner)
	register(1, 100, "0.5", domain.FarmRainfedUpland, domain.TenureTenant)
	register(1, 200, "9", domain.FarmRainfedLowland, domain.TenureLessee)
	register(2, 100, "4", domain.FarmRainfedLowland, domain.TenureLessee)

	summary, err := agg.Summarize(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Parcels)
	assert.True(t, summary.TotalHectares.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, domain.FarmIrrigated, summary.PrimaryFarmType)
	assert.Equal(t, domain.TenureRegisteredOwner, summary.PrimaryTenure)
	assert.Equal(t, snowflake.ID(1), summary.FarmerID)
	assert.Equal(t, snowflake.ID(100), summary.CommodityID)
}

func TestSummarizeWithoutParcelsUsesConfiguredFallbacks(t *testing.T) {
	cfg := config.DefaultCalculationConfig()
	cfg.FallbackFarmType = string(domain.FarmRainfedLowland)
	cfg.FallbackTenureType = string(domain.TenureLessee)
	agg := newAggregator(t, config.NewStaticCalculationConfig(cfg))

	summary, err := agg.Summarize(context.Background(), 7, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Parcels)
	assert.True(t, summary.TotalHectares.IsZero())
	assert.Equal(t, domain.FarmRainfedLowland, summary.PrimaryFarmType)
	assert.Equal(t, domain.TenureLessee, summary.PrimaryTenure)
}
