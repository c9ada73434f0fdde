package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

func TestCalculatePoints(t *testing.T) {
	tiers := referenceTiers(t)
	program := referenceProgram()

	tier := func(id model.TierID) model.Tier {
		tr, ok := tiers.Lookup(id)
		require.True(t, ok)
		return tr
	}

	tests := []struct {
		name   string
		amount string
		tier   model.TierID
		want   int64
	}{
		{name: "silver hundred dollars", amount: "100", tier: model.TierSilver, want: 125},
		{name: "bronze at minimum", amount: "10", tier: model.TierBronze, want: 10},
		{name: "below minimum", amount: "9.99", tier: model.TierPlatinum, want: 0},
		{name: "zero", amount: "0", tier: model.TierGold, want: 0},
		// floor(10.99) = 10, floor(10 * 1.25) = 12; a single floor of 13.7375 would give 13.
		{name: "double floor silver", amount: "10.99", tier: model.TierSilver, want: 12},
		{name: "double floor gold", amount: "33.50", tier: model.TierGold, want: 49},
		{name: "platinum", amount: "45.75", tier: model.TierPlatinum, want: 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePoints(program, decimal.RequireFromString(tt.amount), tier(tt.tier))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculatePoints_SubMinimumNeverAccrues(t *testing.T) {
	tiers := referenceTiers(t)
	program := referenceProgram()

	for cents := int64(0); cents < 1000; cents += 13 {
		amount := decimal.New(cents, -2)
		for _, tier := range tiers.All() {
			require.Zero(t, CalculatePoints(program, amount, tier), "amount %s tier %s", amount, tier.ID)
		}
	}
}

func TestProgram_Validate(t *testing.T) {
	p := referenceProgram()
	require.NoError(t, p.Validate())

	p.PointsPerDollar = decimal.Zero
	assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)

	p = referenceProgram()
	p.MinimumPurchaseAmount = decimal.NewFromInt(-1)
	assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)

	p = referenceProgram()
	p.ReferralBonusPoints = -1
	assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)

	p = referenceProgram()
	p.PointsExpirationMonths = -1
	assert.ErrorIs(t, p.Validate(), ErrInvalidProgram)
}
