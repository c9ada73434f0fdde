package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

func referenceTierList() []model.Tier {
	return []model.Tier{
		{ID: model.TierBronze, Name: "Bronze", MinPoints: 0, Multiplier: decimal.RequireFromString("1"), Color: "#CD7F32"},
		{ID: model.TierSilver, Name: "Silver", MinPoints: 500, Multiplier: decimal.RequireFromString("1.25"), Color: "#C0C0C0"},
		{ID: model.TierGold, Name: "Gold", MinPoints: 1000, Multiplier: decimal.RequireFromString("1.5"), Color: "#FFD700"},
		{ID: model.TierPlatinum, Name: "Platinum", MinPoints: 2500, Multiplier: decimal.RequireFromString("2"), Color: "#E5E4E2"},
	}
}

func referenceTiers(t *testing.T) *TierTable {
	t.Helper()
	tiers, err := NewTierTable(referenceTierList())
	require.NoError(t, err)
	return tiers
}

func referenceRewards() []model.Reward {
	return []model.Reward{
		{ID: "reward-1", Name: "$5 Off Your Purchase", PointsCost: 100, Active: true},
		{ID: "reward-2", Name: "$10 Off Your Purchase", PointsCost: 200, Active: true},
		{ID: "reward-3", Name: "$20 Off Your Purchase", PointsCost: 400, Active: true},
		{ID: "reward-4", Name: "Free Pre-Roll", PointsCost: 150, Active: true, CodePrefix: "PREROLL"},
		{ID: "reward-5", Name: "Buy One Get One 50% Off", PointsCost: 300, Active: true},
		{ID: "reward-6", Name: "Exclusive Gold Member Discount", PointsCost: 500, Active: true, MinimumTier: model.TierGold},
		{ID: "reward-7", Name: "Platinum VIP Experience", PointsCost: 1000, Active: true, MinimumTier: model.TierPlatinum},
		{ID: "reward-retired", Name: "Retired Tote Bag", PointsCost: 50, Active: false},
	}
}

func referenceCatalog(t *testing.T, tiers *TierTable) *Catalog {
	t.Helper()
	c, err := NewCatalog(referenceRewards(), tiers)
	require.NoError(t, err)
	return c
}

func referenceProgram() Program {
	return Program{
		PointsPerDollar:       decimal.NewFromInt(1),
		MinimumPurchaseAmount: decimal.NewFromInt(10),
		BirthdayBonusPoints:   100,
		ReferralBonusPoints:   50,
		RedemptionTTL:         DefaultRedemptionTTL,
	}
}
