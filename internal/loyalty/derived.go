package loyalty

import "github.com/mmeshcher/greenway-loyalty/internal/model"

// Derived содержит значения, вычисляемые по состоянию участника после каждого изменения.
type Derived struct {
	Tier            model.Tier     `json:"tier"`
	EligibleRewards []model.Reward `json:"availableRewards"`
	Progress        model.Progress `json:"progress"`
}

// RecomputeDerived пересчитывает уровень, доступные награды и прогресс участника.
func RecomputeDerived(member model.Member, tiers *TierTable, catalog *Catalog) Derived {
	tier := tiers.Resolve(member.Points)
	return Derived{
		Tier:            tier,
		EligibleRewards: EligibleRewards(member, catalog, tiers),
		Progress:        ProgressToNextTier(member, tiers),
	}
}

// ProgressToNextTier считает продвижение к следующему уровню.
// На верхнем уровне прогресс равен 100%, а следующий уровень отсутствует.
func ProgressToNextTier(member model.Member, tiers *TierTable) model.Progress {
	tier := tiers.Resolve(member.Points)
	next, ok := tiers.Next(tier.ID)
	if !ok {
		return model.Progress{
			Current:    member.Points,
			Next:       tier.MinPoints,
			Percentage: 100,
		}
	}

	pct := (member.Points - tier.MinPoints) * 100 / (next.MinPoints - tier.MinPoints)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	return model.Progress{
		Current:    member.Points,
		Next:       next.MinPoints,
		Percentage: pct,
		NextTier:   &next,
	}
}

// WithTier возвращает копию участника с уровнем, вычисленным по текущему балансу.
func WithTier(member model.Member, tiers *TierTable) model.Member {
	member.Tier = tiers.Resolve(member.Points).ID
	return member
}
