package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRecalculateFollowsCalculatedUntilOverridden(t *testing.T) {
	inventoryID := snowflake.ID(7)
	item := ProgramBeneficiaryItem{InventoryID: &inventoryID, DisbursementStatus: DisbursementPending}

	assert.True(t, item.Recalculate(Entitlement{Quantity: decimal.NewNullDecimal(decimal.NewFromInt(4))}))
	assert.True(t, item.ApprovedQuantity.Decimal.Equal(decimal.NewFromInt(4)))

	assert.NoError(t, item.Override(decimal.NewNullDecimal(decimal.NewFromInt(2)), decimal.NullDecimal{}))
	item.Recalculate(Entitlement{Quantity: decimal.NewNullDecimal(decimal.NewFromInt(6))})
	assert.True(t, item.CalculatedQuantity.Decimal.Equal(decimal.NewFromInt(6)))
	assert.True(t, item.ApprovedQuantity.Decimal.Equal(decimal.NewFromInt(2)))
}

func TestOverrideRejectsNegativeAndReleased(t *testing.T) {
	item := ProgramBeneficiaryItem{DisbursementStatus: DisbursementPending}
	assert.ErrorIs(t, item.Override(decimal.NullDecimal{}, decimal.NewNullDecimal(decimal.NewFromInt(-1))), ErrInvalidAmount)

	item.DisbursementStatus = DisbursementReleased
	assert.ErrorIs(t, item.Override(decimal.NullDecimal{}, decimal.NullDecimal{}), ErrItemReleased)
}

func TestEntitlementKey(t *testing.T) {
	typeID := snowflake.ID(42)
	assert.Equal(t, "fin:42", Entitlement{FinancialSubsidyTypeID: &typeID}.Key())
	assert.Equal(t, "", Entitlement{}.Key())
}

func TestMarkReleasedFinancialLine(t *testing.T) {
	typeID := snowflake.ID(3)
	item := ProgramBeneficiaryItem{
		FinancialSubsidyTypeID: &typeID,
		ApprovedAmount:         decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		DisbursementStatus:     DisbursementPending,
	}
	assert.ErrorIs(t, item.MarkReleased(Release{Value: decimal.NewFromInt(6000)}), ErrExceedsApproved)
	assert.NoError(t, item.MarkReleased(Release{Value: decimal.NewFromInt(5000), Method: "cash"}))
	assert.True(t, item.DisbursedAmount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, item.DisbursedQuantity.IsZero())
	assert.True(t, item.Released())
}
