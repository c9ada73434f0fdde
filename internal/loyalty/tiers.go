// Package loyalty реализует правила программы лояльности: уровни, начисление баллов,
// доступность наград и обмен баллов на награды.
package loyalty

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// ErrInvalidTierTable возвращается при построении таблицы уровней из некорректных данных.
var ErrInvalidTierTable = errors.New("invalid tier table")

// TierTable хранит неизменяемый список уровней, упорядоченный по возрастанию порогов.
type TierTable struct {
	tiers []model.Tier
	rank  map[model.TierID]int
}

// NewTierTable проверяет и строит таблицу уровней.
// Таблица не может быть пустой, первый порог равен нулю, пороги строго возрастают,
// множители не меньше единицы.
func NewTierTable(tiers []model.Tier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers defined", ErrInvalidTierTable)
	}
	if tiers[0].MinPoints != 0 {
		return nil, fmt.Errorf("%w: lowest tier %q must start at 0 points", ErrInvalidTierTable, tiers[0].ID)
	}

	t := &TierTable{
		tiers: make([]model.Tier, len(tiers)),
		rank:  make(map[model.TierID]int, len(tiers)),
	}
	copy(t.tiers, tiers)

	for i, tier := range t.tiers {
		if tier.ID == "" {
			return nil, fmt.Errorf("%w: tier #%d has no id", ErrInvalidTierTable, i)
		}
		if _, dup := t.rank[tier.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTierTable, tier.ID)
		}
		if i > 0 && tier.MinPoints <= t.tiers[i-1].MinPoints {
			return nil, fmt.Errorf("%w: tier %q threshold %d is not above %d",
				ErrInvalidTierTable, tier.ID, tier.MinPoints, t.tiers[i-1].MinPoints)
		}
		if tier.Multiplier.LessThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: tier %q multiplier %s is below 1", ErrInvalidTierTable, tier.ID, tier.Multiplier)
		}
		t.rank[tier.ID] = i
	}

	return t, nil
}

// Resolve возвращает уровень с наибольшим порогом, не превышающим points.
// Для значений ниже всех порогов возвращается нижний уровень.
func (t *TierTable) Resolve(points int64) model.Tier {
	resolved := t.tiers[0]
	for _, tier := range t.tiers[1:] {
		if tier.MinPoints > points {
			break
		}
		resolved = tier
	}
	return resolved
}

// Rank возвращает позицию уровня в таблице.
func (t *TierTable) Rank(id model.TierID) (int, bool) {
	r, ok := t.rank[id]
	return r, ok
}

// Lookup возвращает уровень по идентификатору.
func (t *TierTable) Lookup(id model.TierID) (model.Tier, bool) {
	r, ok := t.rank[id]
	if !ok {
		return model.Tier{}, false
	}
	return t.tiers[r], true
}

// Next возвращает уровень, следующий за указанным.
func (t *TierTable) Next(id model.TierID) (model.Tier, bool) {
	r, ok := t.rank[id]
	if !ok || r+1 >= len(t.tiers) {
		return model.Tier{}, false
	}
	return t.tiers[r+1], true
}

// All возвращает копию таблицы в порядке возрастания порогов.
func (t *TierTable) All() []model.Tier {
	out := make([]model.Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
