// Package products собирает витрину из нескольких источников товаров.
package products

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

var (
	// ErrProductNotFound возвращается, если товара нет ни в одном источнике.
	ErrProductNotFound = errors.New("product not found")
	// ErrSourcesUnavailable возвращается, если не ответил ни один источник.
	ErrSourcesUnavailable = errors.New("product sources unavailable")
)

// Порядок сортировки витрины.
const (
	SortFeatured  = "featured"
	SortPriceLow  = "price-low"
	SortPriceHigh = "price-high"
	SortNameAsc   = "name-asc"
	SortNameDesc  = "name-desc"
)

// Filter ограничивает выборку товаров. Пустые поля не фильтруют.
type Filter struct {
	Category string
	Strain   string
	Search   string
	Sort     string
}

// Match сообщает, подходит ли товар под фильтр.
func (f Filter) Match(p model.Product) bool {
	if f.Category != "" && f.Category != "all" && p.Category != f.Category {
		return false
	}
	if f.Strain != "" && f.Strain != "all" && !strings.EqualFold(p.Strain, f.Strain) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		return strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Category), q) ||
			strings.Contains(strings.ToLower(p.Strain), q) ||
			strings.Contains(strings.ToLower(p.Description), q)
	}
	return true
}

// Source поставляет карточки товаров.
type Source interface {
	Name() string
	Products(ctx context.Context, f Filter) ([]model.Product, error)
	// Product возвращает ErrProductNotFound, если товара в источнике нет.
	Product(ctx context.Context, id string) (model.Product, error)
}

// Aggregator опрашивает источники параллельно и убирает дубликаты.
type Aggregator struct {
	sources []Source
	logger  *zap.Logger
}

// NewAggregator создаёт агрегатор. Порядок источников задаёт приоритет при дубликатах.
func NewAggregator(logger *zap.Logger, sources ...Source) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{sources: sources, logger: logger}
}

// Products возвращает товары всех источников без дубликатов по ID: остаётся первое вхождение
// в порядке источников. Ошибка отдельного источника только логируется.
func (a *Aggregator) Products(ctx context.Context, f Filter) ([]model.Product, error) {
	results := make([][]model.Product, len(a.sources))
	failed := make([]bool, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			items, err := src.Products(gctx, f)
			if err != nil {
				a.logger.Warn("product source failed", zap.String("source", src.Name()), zap.Error(err))
				failed[i] = true
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if len(a.sources) > 0 && !slices.Contains(failed, false) {
		return nil, ErrSourcesUnavailable
	}

	seen := make(map[string]struct{})
	out := make([]model.Product, 0)
	for _, items := range results {
		for _, p := range items {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			if !f.Match(p) {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}

	sortProducts(out, f.Sort)
	return out, nil
}

// ProductByID ищет товар по источникам по очереди; первый найденный выигрывает.
func (a *Aggregator) ProductByID(ctx context.Context, id string) (model.Product, error) {
	for _, src := range a.sources {
		p, err := src.Product(ctx, id)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrProductNotFound) {
			a.logger.Warn("product lookup failed", zap.String("source", src.Name()), zap.String("productID", id), zap.Error(err))
		}
		if ctx.Err() != nil {
			return model.Product{}, fmt.Errorf("lookup product: %w", ctx.Err())
		}
	}
	return model.Product{}, ErrProductNotFound
}

func sortProducts(items []model.Product, order string) {
	switch order {
	case SortPriceLow:
		slices.SortStableFunc(items, func(a, b model.Product) int { return a.Price.Cmp(b.Price) })
	case SortPriceHigh:
		slices.SortStableFunc(items, func(a, b model.Product) int { return b.Price.Cmp(a.Price) })
	case SortNameAsc:
		slices.SortStableFunc(items, func(a, b model.Product) int { return strings.Compare(a.Name, b.Name) })
	case SortNameDesc:
		slices.SortStableFunc(items, func(a, b model.Product) int { return strings.Compare(b.Name, a.Name) })
	default:
		slices.SortStableFunc(items, func(a, b model.Product) int {
			switch {
			case a.Featured == b.Featured:
				return 0
			case a.Featured:
				return -1
			default:
				return 1
			}
		})
	}
}

// StaticSource отдаёт товары из загруженного каталога.
type StaticSource struct {
	name     string
	products []model.Product
}

// NewStaticSource создаёт источник из фиксированного списка товаров.
func NewStaticSource(name string, items []model.Product) *StaticSource {
	return &StaticSource{name: name, products: slices.Clone(items)}
}

// Name возвращает имя источника для логов.
func (s *StaticSource) Name() string { return s.name }

// Products возвращает товары каталога, подходящие под фильтр.
func (s *StaticSource) Products(_ context.Context, f Filter) ([]model.Product, error) {
	out := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Product ищет товар по идентификатору.
func (s *StaticSource) Product(_ context.Context, id string) (model.Product, error) {
	for _, p := range s.products {
		if p.ID == id {
			return p, nil
		}
	}
	return model.Product{}, ErrProductNotFound
}
