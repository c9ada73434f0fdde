package loyalty

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// ErrInvalidCatalog возвращается при построении каталога наград из некорректных данных.
var ErrInvalidCatalog = errors.New("invalid reward catalog")

// Catalog хранит неизменяемый каталог наград в исходном порядке.
type Catalog struct {
	rewards []model.Reward
	byID    map[string]int
}

// NewCatalog проверяет награды и строит каталог.
// Ссылки на минимальный уровень проверяются по таблице уровней.
func NewCatalog(rewards []model.Reward, tiers *TierTable) (*Catalog, error) {
	c := &Catalog{
		rewards: make([]model.Reward, len(rewards)),
		byID:    make(map[string]int, len(rewards)),
	}
	copy(c.rewards, rewards)

	for i, r := range c.rewards {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: reward #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate reward %q", ErrInvalidCatalog, r.ID)
		}
		if r.PointsCost <= 0 {
			return nil, fmt.Errorf("%w: reward %q must cost at least one point", ErrInvalidCatalog, r.ID)
		}
		if r.MinimumTier != "" {
			if _, ok := tiers.Rank(r.MinimumTier); !ok {
				return nil, fmt.Errorf("%w: reward %q references unknown tier %q", ErrInvalidCatalog, r.ID, r.MinimumTier)
			}
		}
		c.byID[r.ID] = i
	}

	return c, nil
}

// Get возвращает награду по идентификатору.
func (c *Catalog) Get(id string) (model.Reward, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Reward{}, false
	}
	return c.rewards[i], true
}

// All возвращает копию каталога.
func (c *Catalog) All() []model.Reward {
	out := make([]model.Reward, len(c.rewards))
	copy(out, c.rewards)
	return out
}
