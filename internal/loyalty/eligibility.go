package loyalty

import (
	"errors"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// Причины отказа в обмене баллов. Это не ошибки выполнения: они возвращаются
// в результате операции и показываются пользователю.
var (
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrRewardNotFound     = errors.New("reward not found")
	ErrRewardInactive     = errors.New("reward inactive")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrTierTooLow         = errors.New("tier too low")
)

// CheckReward сверяет награду с балансом и уровнем участника.
// Возвращает nil, если награду можно обменять.
func CheckReward(member model.Member, reward model.Reward, tiers *TierTable) error {
	if !reward.Active {
		return ErrRewardInactive
	}
	if member.Points < reward.PointsCost {
		return ErrInsufficientPoints
	}
	if reward.MinimumTier != "" {
		memberRank, _ := tiers.Rank(tiers.Resolve(member.Points).ID)
		required, ok := tiers.Rank(reward.MinimumTier)
		if !ok || memberRank < required {
			return ErrTierTooLow
		}
	}
	return nil
}

// EligibleRewards возвращает награды каталога, доступные участнику, в порядке каталога.
func EligibleRewards(member model.Member, catalog *Catalog, tiers *TierTable) []model.Reward {
	out := make([]model.Reward, 0)
	for _, r := range catalog.rewards {
		if CheckReward(member, r, tiers) == nil {
			out = append(out, r)
		}
	}
	return out
}
