package domain

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type MethodKind string

const (
	MethodPerHectare   MethodKind = "per_hectare"
	MethodPerFarmer    MethodKind = "per_farmer"
	MethodSlidingScale MethodKind = "sliding_scale"
)

func (k MethodKind) Valid() bool {
	switch k {
	case MethodPerHectare, MethodPerFarmer, MethodSlidingScale:
		return true
	default:
		return false
	}
}

// Method computes an unclamped entitlement from a farm size. Either side may
// be null, meaning the rule yields nothing on that side.
type Method interface {
	Kind() MethodKind
	Compute(hectares decimal.Decimal) (quantity, amount decimal.NullDecimal)
}

type PerHectare struct {
	QuantityPerHectare decimal.NullDecimal
	AmountPerHectare   decimal.NullDecimal
}

func (PerHectare) Kind() MethodKind { return MethodPerHectare }

func (m PerHectare) Compute(hectares decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal) {
	return scale(m.QuantityPerHectare, hectares), scale(m.AmountPerHectare, hectares)
}

func scale(rate decimal.NullDecimal, hectares decimal.Decimal) decimal.NullDecimal {
	if !rate.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(rate.Decimal.Mul(hectares))
}

// PerFarmer grants a flat value regardless of farm size. The values come from
// the rule's per-hectare columns.
type PerFarmer struct {
	Quantity decimal.NullDecimal
	Amount   decimal.NullDecimal
}

func (PerFarmer) Kind() MethodKind { return MethodPerFarmer }

func (m PerFarmer) Compute(decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal) {
	return m.Quantity, m.Amount
}

// Range is the half-open hectare interval [Min, Max). A null Max is unbounded.
type Range struct {
	Min      decimal.Decimal     `json:"min"`
	Max      decimal.NullDecimal `json:"max"`
	Quantity decimal.NullDecimal `json:"quantity"`
	Amount   decimal.NullDecimal `json:"amount"`
}

func (r Range) Contains(hectares decimal.Decimal) bool {
	if hectares.LessThan(r.Min) {
		return false
	}
	return !r.Max.Valid || hectares.LessThan(r.Max.Decimal)
}

// SlidingScale holds ranges ordered by lower bound. The first match wins.
type SlidingScale struct {
	Ranges []Range
}

func (SlidingScale) Kind() MethodKind { return MethodSlidingScale }

func (m SlidingScale) Compute(hectares decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal) {
	for _, r := range m.Ranges {
		if r.Contains(hectares) {
			return r.Quantity, r.Amount
		}
	}
	return decimal.NullDecimal{}, decimal.NullDecimal{}
}

type rangeValues struct {
	Quantity *decimal.Decimal `json:"quantity"`
	Amount   *decimal.Decimal `json:"amount"`
}

// ParseSlidingScale reads the keyed form {"0-1": {...}, "5+": {...}} and
// returns validated, non-overlapping ranges ordered by lower bound.
func ParseSlidingScale(raw []byte) ([]Range, error) {
	var keyed map[string]rangeValues
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, ErrInvalidSlidingScale.With("%v", err)
	}
	if len(keyed) == 0 {
		return nil, ErrInvalidSlidingScale.With("no ranges")
	}

	ranges := make([]Range, 0, len(keyed))
	for key, values := range keyed {
		r, err := parseRangeKey(key)
		if err != nil {
			return nil, err
		}
		if values.Quantity == nil && values.Amount == nil {
			return nil, ErrInvalidSlidingScale.With("range %q has no quantity or amount", key)
		}
		if values.Quantity != nil {
			if values.Quantity.IsNegative() {
				return nil, ErrInvalidSlidingScale.With("range %q has a negative quantity", key)
			}
			r.Quantity = decimal.NewNullDecimal(*values.Quantity)
		}
		if values.Amount != nil {
			if values.Amount.IsNegative() {
				return nil, ErrInvalidSlidingScale.With("range %q has a negative amount", key)
			}
			r.Amount = decimal.NewNullDecimal(*values.Amount)
		}
		ranges = append(ranges, r)
	}
	return orderRanges(ranges)
}

func parseRangeKey(key string) (Range, error) {
	key = strings.TrimSpace(key)
	if lower, ok := strings.CutSuffix(key, "+"); ok {
		lo, err := decimal.NewFromString(strings.TrimSpace(lower))
		if err != nil || lo.IsNegative() {
			return Range{}, ErrInvalidSlidingScale.With("range %q", key)
		}
		return Range{Min: lo}, nil
	}

	lower, upper, ok := strings.Cut(key, "-")
	if !ok {
		return Range{}, ErrInvalidSlidingScale.With("range %q", key)
	}
	lo, err := decimal.NewFromString(strings.TrimSpace(lower))
	if err != nil || lo.IsNegative() {
		return Range{}, ErrInvalidSlidingScale.With("range %q", key)
	}
	hi, err := decimal.NewFromString(strings.TrimSpace(upper))
	if err != nil || !hi.GreaterThan(lo) {
		return Range{}, ErrInvalidSlidingScale.With("range %q", key)
	}
	return Range{Min: lo, Max: decimal.NewNullDecimal(hi)}, nil
}

func orderRanges(ranges []Range) ([]Range, error) {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Min.LessThan(ranges[j].Min) })
	for i := 1; i < len(ranges); i++ {
		prev := ranges[i-1]
		if !prev.Max.Valid {
			return nil, ErrInvalidSlidingScale.With("open range from %s must be last", prev.Min.String())
		}
		if prev.Max.Decimal.GreaterThan(ranges[i].Min) {
			return nil, ErrInvalidSlidingScale.With("ranges starting at %s and %s overlap",
				prev.Min.String(), ranges[i].Min.String())
		}
	}
	return ranges, nil
}

// DecodeRanges reads the canonical array form persisted on a rule.
func DecodeRanges(raw []byte) ([]Range, error) {
	var ranges []Range
	if err := json.Unmarshal(raw, &ranges); err != nil {
		return nil, ErrInvalidSlidingScale.With("%v", err)
	}
	if len(ranges) == 0 {
		return nil, ErrInvalidSlidingScale.With("no ranges")
	}
	return orderRanges(ranges)
}

// Clamp bounds v to [lo, hi]. Null bounds leave that side open and a null
// value stays null.
func Clamp(v, lo, hi decimal.NullDecimal) decimal.NullDecimal {
	if !v.Valid {
		return v
	}
	if lo.Valid && v.Decimal.LessThan(lo.Decimal) {
		return lo
	}
	if hi.Valid && v.Decimal.GreaterThan(hi.Decimal) {
		return hi
	}
	return v
}
