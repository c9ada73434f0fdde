package loyalty

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

func TestProgressToNextTier(t *testing.T) {
	tiers := referenceTiers(t)

	tests := []struct {
		name     string
		points   int64
		wantNext int64
		wantPct  int64
		wantTier model.TierID
	}{
		{name: "fresh member", points: 0, wantNext: 500, wantPct: 0, wantTier: model.TierSilver},
		{name: "halfway to gold", points: 750, wantNext: 1000, wantPct: 50, wantTier: model.TierGold},
		{name: "rounds down", points: 1499, wantNext: 2500, wantPct: 33, wantTier: model.TierPlatinum},
		{name: "just below", points: 499, wantNext: 500, wantPct: 99, wantTier: model.TierSilver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProgressToNextTier(model.Member{Points: tt.points}, tiers)
			assert.Equal(t, tt.points, p.Current)
			assert.Equal(t, tt.wantNext, p.Next)
			assert.Equal(t, tt.wantPct, p.Percentage)
			require.NotNil(t, p.NextTier)
			assert.Equal(t, tt.wantTier, p.NextTier.ID)
		})
	}
}

func TestProgressToNextTier_TopTier(t *testing.T) {
	tiers := referenceTiers(t)

	p := ProgressToNextTier(model.Member{Points: 3200}, tiers)
	assert.Equal(t, int64(100), p.Percentage)
	assert.Equal(t, int64(2500), p.Next)
	assert.Nil(t, p.NextTier)
}

func TestRecomputeDerived(t *testing.T) {
	tiers := referenceTiers(t)
	catalog := referenceCatalog(t, tiers)

	d := RecomputeDerived(model.Member{ID: "m", Points: 1500}, tiers, catalog)
	assert.Equal(t, model.TierGold, d.Tier.ID)
	assert.Len(t, d.EligibleRewards, 6)
	assert.Equal(t, int64(33), d.Progress.Percentage)

	assert.Equal(t, d, RecomputeDerived(model.Member{ID: "m", Points: 1500}, tiers, catalog))
}

func TestWithTier(t *testing.T) {
	tiers := referenceTiers(t)

	m := WithTier(model.Member{Points: 620, Tier: model.TierPlatinum}, tiers)
	assert.Equal(t, model.TierSilver, m.Tier)
}

func TestNewRedemptionCode(t *testing.T) {
	tests := []struct {
		prefix string
		want   *regexp.Regexp
	}{
		{prefix: "", want: regexp.MustCompile(`^REWARD-[A-Z0-9]{6}$`)},
		{prefix: "preroll", want: regexp.MustCompile(`^PREROLL-[A-Z0-9]{6}$`)},
		{prefix: " DISC5 ", want: regexp.MustCompile(`^DISC5-[A-Z0-9]{6}$`)},
	}

	for _, tt := range tests {
		code, err := NewRedemptionCode(tt.prefix)
		require.NoError(t, err)
		assert.Regexp(t, tt.want, code)
	}

	seen := make(map[string]struct{})
	for range 200 {
		code, err := NewRedemptionCode("")
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}
