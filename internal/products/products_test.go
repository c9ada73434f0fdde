package products

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

type failingSource struct{ name string }

func (s failingSource) Name() string { return s.name }

func (s failingSource) Products(context.Context, Filter) ([]model.Product, error) {
	return nil, errors.New("upstream 502")
}

func (s failingSource) Product(context.Context, string) (model.Product, error) {
	return model.Product{}, errors.New("upstream 502")
}

func product(id, name, category, strain, price string, featured bool) model.Product {
	return model.Product{
		ID:       id,
		Name:     name,
		Category: category,
		Strain:   strain,
		Price:    decimal.RequireFromString(price),
		Featured: featured,
	}
}

func ids(items []model.Product) []string {
	out := make([]string, 0, len(items))
	for _, p := range items {
		out = append(out, p.ID)
	}
	return out
}

func testSources() (*StaticSource, *StaticSource) {
	first := NewStaticSource("pos", []model.Product{
		product("blue-dream", "Blue Dream", "flower", "Hybrid", "12.00", false),
		product("og-kush", "OG Kush Pack", "pre-rolls", "Indica", "15.00", true),
	})
	second := NewStaticSource("menu", []model.Product{
		product("blue-dream", "Blue Dream (menu copy)", "flower", "Hybrid", "11.00", false),
		product("sour-diesel", "Sour Diesel", "flower", "Sativa", "13.00", false),
	})
	return first, second
}

func TestAggregator_DedupesKeepingFirst(t *testing.T) {
	first, second := testSources()
	agg := NewAggregator(nil, first, failingSource{name: "broken"}, second)

	got, err := agg.Products(context.Background(), Filter{Sort: SortNameAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"blue-dream", "og-kush", "sour-diesel"}, ids(got))
	assert.Equal(t, "Blue Dream", got[0].Name)
}

func TestAggregator_DefaultSortPutsFeaturedFirst(t *testing.T) {
	first, second := testSources()
	agg := NewAggregator(nil, first, second)

	got, err := agg.Products(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"og-kush", "blue-dream", "sour-diesel"}, ids(got))
}

func TestAggregator_Filter(t *testing.T) {
	first, second := testSources()
	agg := NewAggregator(nil, first, second)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "category", filter: Filter{Category: "flower", Sort: SortPriceLow}, want: []string{"blue-dream", "sour-diesel"}},
		{name: "strain is case insensitive", filter: Filter{Strain: "sativa"}, want: []string{"sour-diesel"}},
		{name: "search", filter: Filter{Search: "kush"}, want: []string{"og-kush"}},
		{name: "all", filter: Filter{Category: "all", Strain: "all", Sort: SortPriceHigh}, want: []string{"og-kush", "sour-diesel", "blue-dream"}},
		{name: "nothing", filter: Filter{Search: "tincture"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agg.Products(context.Background(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestAggregator_AllSourcesDown(t *testing.T) {
	agg := NewAggregator(nil, failingSource{name: "a"}, failingSource{name: "b"})

	_, err := agg.Products(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrSourcesUnavailable)
}

func TestAggregator_ProductByID(t *testing.T) {
	first, second := testSources()
	agg := NewAggregator(nil, failingSource{name: "broken"}, first, second)

	p, err := agg.ProductByID(context.Background(), "blue-dream")
	require.NoError(t, err)
	assert.Equal(t, "Blue Dream", p.Name)

	p, err = agg.ProductByID(context.Background(), "sour-diesel")
	require.NoError(t, err)
	assert.Equal(t, "Sour Diesel", p.Name)

	_, err = agg.ProductByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestPriceCart(t *testing.T) {
	sale := decimal.RequireFromString("12.00")
	src := NewStaticSource("pos", []model.Product{
		product("blue-dream", "Blue Dream", "flower", "Hybrid", "12.00", false),
		{ID: "wedding-cake", Name: "Wedding Cake", Price: decimal.RequireFromString("15.00"), SalePrice: &sale},
		product("tincture", "CBD Tincture", "topicals", "", "60.00", false),
	})
	agg := NewAggregator(nil, src)

	q, err := agg.PriceCart(context.Background(), []LineItem{
		{ProductID: "blue-dream", Quantity: 2},
		{ProductID: "wedding-cake", Quantity: 1},
		{ProductID: "tincture", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, q.Lines, 3)
	assert.True(t, q.Lines[1].UnitPrice.Equal(sale))
	assert.Equal(t, "96", q.Subtotal.String())
	assert.Equal(t, "9.6", q.Tax.String())
	assert.Equal(t, "105.6", q.Total.String())
}

func TestPriceCart_Errors(t *testing.T) {
	agg := NewAggregator(nil, NewStaticSource("pos", nil))

	_, err := agg.PriceCart(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = agg.PriceCart(context.Background(), []LineItem{{ProductID: "x", Quantity: 1}})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = agg.PriceCart(context.Background(), []LineItem{{ProductID: "x", Quantity: 0}})
	assert.Error(t, err)
}
