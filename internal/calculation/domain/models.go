package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	"gorm.io/datatypes"
)

const EligibleAll = "all"

// Rule targets exactly one inventory item or financial subsidy type.
type Rule struct {
	ID                     snowflake.ID        `gorm:"primaryKey" json:"id"`
	ProgramID              snowflake.ID        `gorm:"not null;index" json:"program_id"`
	Name                   string              `gorm:"not null" json:"name"`
	InventoryID            *snowflake.ID       `json:"inventory_id,omitempty"`
	FinancialSubsidyTypeID *snowflake.ID       `json:"financial_subsidy_type_id,omitempty"`
	CalculationMethod      MethodKind          `gorm:"not null" json:"calculation_method"`
	QuantityPerHectare     decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"quantity_per_hectare"`
	AmountPerHectare       decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"amount_per_hectare"`
	SlidingScale           datatypes.JSON      `json:"sliding_scale,omitempty"`
	MinimumQuantity        decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"minimum_quantity"`
	MaximumQuantity        decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"maximum_quantity"`
	MinimumAmount          decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"minimum_amount"`
	MaximumAmount          decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"maximum_amount"`
	MinFarmSizeHectares    decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"min_farm_size_hectares"`
	MaxFarmSizeHectares    decimal.NullDecimal `gorm:"type:numeric(18,4)" json:"max_farm_size_hectares"`
	FarmTypeEligible       string              `gorm:"not null" json:"farm_type_eligible"`
	TenureEligible         string              `gorm:"not null" json:"tenure_eligible"`
	CalculationNotes       string              `json:"calculation_notes,omitempty"`
	IsActive               bool                `gorm:"not null" json:"is_active"`
	Priority               int                 `gorm:"not null" json:"priority"`
	CreatedBy              snowflake.ID        `json:"created_by,omitempty"`
	CreatedAt              time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time           `gorm:"not null" json:"updated_at"`
}

func (Rule) TableName() string { return "calculation_rules" }

// Method builds the rule's calculation variant from its columns.
func (r Rule) Method() (Method, error) {
	switch r.CalculationMethod {
	case MethodPerHectare:
		return PerHectare{QuantityPerHectare: r.QuantityPerHectare, AmountPerHectare: r.AmountPerHectare}, nil
	case MethodPerFarmer:
		return PerFarmer{Quantity: r.QuantityPerHectare, Amount: r.AmountPerHectare}, nil
	case MethodSlidingScale:
		ranges, err := DecodeRanges(r.SlidingScale)
		if err != nil {
			return nil, err
		}
		return SlidingScale{Ranges: ranges}, nil
	default:
		return nil, ErrInvalidMethod.With("method %q", r.CalculationMethod)
	}
}

func (r Rule) IsInventory() bool {
	return r.InventoryID != nil
}

// Eligible applies the farm-size and category gates. The reason names the
// first gate that failed.
func (r Rule) Eligible(summary farmdomain.Summary) (bool, string) {
	hectares := summary.TotalHectares
	if r.MinFarmSizeHectares.Valid && hectares.LessThan(r.MinFarmSizeHectares.Decimal) {
		return false, "below_min_farm_size"
	}
	if r.MaxFarmSizeHectares.Valid && hectares.GreaterThan(r.MaxFarmSizeHectares.Decimal) {
		return false, "above_max_farm_size"
	}
	if r.FarmTypeEligible != EligibleAll && r.FarmTypeEligible != string(summary.PrimaryFarmType) {
		return false, "farm_type"
	}
	if r.TenureEligible != EligibleAll && r.TenureEligible != string(summary.PrimaryTenure) {
		return false, "tenure_type"
	}
	return true, ""
}

// CompiledRule pairs a rule with its parsed method so a calculation run
// decodes each rule once.
type CompiledRule struct {
	Rule
	method Method
}

func Compile(r Rule) (CompiledRule, error) {
	m, err := r.Method()
	if err != nil {
		return CompiledRule{}, err
	}
	return CompiledRule{Rule: r, method: m}, nil
}

// Evaluate computes and clamps both sides for hectares.
func (c CompiledRule) Evaluate(hectares decimal.Decimal) (quantity, amount decimal.NullDecimal) {
	quantity, amount = c.method.Compute(hectares)
	return Clamp(quantity, c.MinimumQuantity, c.MaximumQuantity), Clamp(amount, c.MinimumAmount, c.MaximumAmount)
}

func (c CompiledRule) Notes(hectares decimal.Decimal) string {
	return fmt.Sprintf("Calculated based on %s hectares using %s method", hectares.String(), c.CalculationMethod)
}

type ItemResult struct {
	RuleID             snowflake.ID        `json:"rule_id"`
	ItemID             snowflake.ID        `json:"item_id"`
	EntitlementKey     string              `json:"entitlement_key"`
	Method             MethodKind          `json:"calculation_method"`
	CalculatedQuantity decimal.NullDecimal `json:"calculated_quantity"`
	CalculatedAmount   decimal.NullDecimal `json:"calculated_amount"`
	ApprovedQuantity   decimal.NullDecimal `json:"approved_quantity"`
	ApprovedAmount     decimal.NullDecimal `json:"approved_amount"`
	Released           bool                `json:"released,omitempty"`
}

type RuleSkip struct {
	RuleID snowflake.ID `json:"rule_id"`
	Reason string       `json:"reason"`
}

type BeneficiaryResult struct {
	BeneficiaryID snowflake.ID    `json:"beneficiary_id"`
	FarmerID      snowflake.ID    `json:"farmer_id"`
	FarmHectares  decimal.Decimal `json:"farm_size_hectares"`
	Items         []ItemResult    `json:"calculated_items"`
	Skipped       []RuleSkip      `json:"skipped_rules,omitempty"`
	Error         string          `json:"error,omitempty"`
}

type PreviewLine struct {
	RuleID   snowflake.ID        `json:"rule_id"`
	RuleName string              `json:"rule_name"`
	ItemType string              `json:"item_type"`
	Quantity decimal.NullDecimal `json:"calculated_quantity"`
	Amount   decimal.NullDecimal `json:"calculated_amount"`
}

type PreviewRow struct {
	FarmSizeHectares decimal.Decimal `json:"farm_size_hectares"`
	Lines            []PreviewLine   `json:"calculated_subsidies"`
}
