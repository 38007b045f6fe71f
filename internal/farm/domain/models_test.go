package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func parcel(area string, farmType FarmType, tenure TenureType) FarmParcel {
	return FarmParcel{FarmArea: decimal.RequireFromString(area), FarmType: farmType, TenureType: tenure}
}

func TestSummarizeDominantByArea(t *testing.T) {
	summary := Summarize([]FarmParcel{
		parcel("0.75", FarmIrrigated, TenureRegisteredOwner),
		parcel("1.5", FarmRainfedUpland, TenureTenant),
		parcel("0.5", FarmIrrigated, TenureTenant),
	}, Fallbacks{FarmType: FarmRainfedLowland, TenureType: TenureLessee})

	assert.True(t, summary.TotalHectares.Equal(decimal.RequireFromString("2.75")))
	assert.Equal(t, 3, summary.Parcels)
	assert.Equal(t, FarmRainfedUpland, summary.PrimaryFarmType)
	assert.Equal(t, TenureTenant, summary.PrimaryTenure)
	assert.True(t, summary.HectaresByType[FarmIrrigated].Equal(decimal.RequireFromString("1.25")))
}

func TestSummarizeTieBreaksLexicographically(t *testing.T) {
	summary := Summarize([]FarmParcel{
		parcel("1", FarmRainfedUpland, TenureTenant),
		parcel("1", FarmIrrigated, TenureRegisteredOwner),
	}, Fallbacks{})

	assert.Equal(t, FarmIrrigated, summary.PrimaryFarmType)
	assert.Equal(t, TenureRegisteredOwner, summary.PrimaryTenure)
}

func TestSummarizeWithoutParcelsUsesFallbacks(t *testing.T) {
	summary := Summarize(nil, Fallbacks{FarmType: FarmRainfedLowland, TenureType: TenureRegisteredOwner})

	assert.True(t, summary.TotalHectares.IsZero())
	assert.Equal(t, 0, summary.Parcels)
	assert.Equal(t, FarmRainfedLowland, summary.PrimaryFarmType)
	assert.Equal(t, TenureRegisteredOwner, summary.PrimaryTenure)
}
