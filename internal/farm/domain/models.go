package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type FarmType string

const (
	FarmIrrigated      FarmType = "irrigated"
	FarmRainfedUpland  FarmType = "rainfed_upland"
	FarmRainfedLowland FarmType = "rainfed_lowland"
)

func (t FarmType) Valid() bool {
	switch t {
	case FarmIrrigated, FarmRainfedUpland, FarmRainfedLowland:
		return true
	default:
		return false
	}
}

type TenureType string

const (
	TenureRegisteredOwner TenureType = "registered_owner"
	TenureTenant          TenureType = "tenant"
	TenureLessee          TenureType = "lessee"
)

func (t TenureType) Valid() bool {
	switch t {
	case TenureRegisteredOwner, TenureTenant, TenureLessee:
		return true
	default:
		return false
	}
}

// FarmParcel is enrollment data owned by the registry. The subsidy core only
// reads it.
type FarmParcel struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	FarmerID    snowflake.ID    `gorm:"not null;index:idx_farm_parcels_farmer_commodity" json:"farmer_id"`
	CommodityID snowflake.ID    `gorm:"not null;index:idx_farm_parcels_farmer_commodity" json:"commodity_id"`
	FarmArea    decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"farm_area"`
	FarmType    FarmType        `gorm:"not null" json:"farm_type"`
	TenureType  TenureType      `gorm:"not null" json:"tenure_type"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

func (FarmParcel) TableName() string { return "farm_parcels" }

type Summary struct {
	FarmerID         snowflake.ID                   `json:"farmer_id"`
	CommodityID      snowflake.ID                   `json:"commodity_id"`
	TotalHectares    decimal.Decimal                `json:"total_hectares"`
	HectaresByType   map[FarmType]decimal.Decimal   `json:"hectares_by_type"`
	HectaresByTenure map[TenureType]decimal.Decimal `json:"hectares_by_tenure"`
	Parcels          int                            `json:"parcels"`
	PrimaryFarmType  FarmType                       `json:"primary_farm_type"`
	PrimaryTenure    TenureType                     `json:"primary_tenure_type"`
}

// Fallbacks apply when a farmer has no parcel for the commodity.
type Fallbacks struct {
	FarmType   FarmType
	TenureType TenureType
}

// Summarize aggregates parcels. The dominant type is the one with the largest
// area; equal areas resolve to the lexicographically smallest name.
func Summarize(parcels []FarmParcel, fallbacks Fallbacks) Summary {
	summary := Summary{
		TotalHectares:    decimal.Zero,
		HectaresByType:   make(map[FarmType]decimal.Decimal),
		HectaresByTenure: make(map[TenureType]decimal.Decimal),
		Parcels:          len(parcels),
		PrimaryFarmType:  fallbacks.FarmType,
		PrimaryTenure:    fallbacks.TenureType,
	}
	for _, p := range parcels {
		summary.TotalHectares = summary.TotalHectares.Add(p.FarmArea)
		summary.HectaresByType[p.FarmType] = summary.HectaresByType[p.FarmType].Add(p.FarmArea)
		summary.HectaresByTenure[p.TenureType] = summary.HectaresByTenure[p.TenureType].Add(p.FarmArea)
	}

	if t, ok := dominant(summary.HectaresByType); ok {
		summary.PrimaryFarmType = t
	}
	if t, ok := dominant(summary.HectaresByTenure); ok {
		summary.PrimaryTenure = t
	}
	return summary
}

func dominant[K ~string](areas map[K]decimal.Decimal) (K, bool) {
	var best K
	if len(areas) == 0 {
		return best, false
	}
	keys := make([]K, 0, len(areas))
	for k := range areas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	best = keys[0]
	for _, k := range keys[1:] {
		if areas[k].GreaterThan(areas[best]) {
			best = k
		}
	}
	return best, true
}
