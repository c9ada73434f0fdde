package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// ErrEmptyCart возвращается при оформлении пустой корзины.
var ErrEmptyCart = errors.New("cart is empty")

// TaxRate задаёт ставку налога на товары магазина.
var TaxRate = decimal.RequireFromString("0.10")

// LineItem описывает позицию корзины.
type LineItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
}

// QuoteLine описывает позицию корзины с ценой.
type QuoteLine struct {
	Product   model.Product   `json:"product"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Quote содержит расчёт стоимости корзины.
type Quote struct {
	Lines    []QuoteLine     `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// UnitPrice возвращает цену товара с учётом распродажи.
func UnitPrice(p model.Product) decimal.Decimal {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// PriceCart считает подытог, налог и итог корзины. Налог округляется до цента.
func (a *Aggregator) PriceCart(ctx context.Context, items []LineItem) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, ErrEmptyCart
	}

	q := Quote{Lines: make([]QuoteLine, 0, len(items))}
	for _, it := range items {
		if it.Quantity <= 0 {
			return Quote{}, fmt.Errorf("invalid quantity %d for %s", it.Quantity, it.ProductID)
		}
		p, err := a.ProductByID(ctx, it.ProductID)
		if err != nil {
			return Quote{}, fmt.Errorf("price %s: %w", it.ProductID, err)
		}

		unit := UnitPrice(p)
		line := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		q.Lines = append(q.Lines, QuoteLine{
			Product:   p,
			Quantity:  it.Quantity,
			UnitPrice: unit,
			LineTotal: line,
		})
		q.Subtotal = q.Subtotal.Add(line)
	}

	q.Tax = q.Subtotal.Mul(TaxRate).Round(2)
	q.Total = q.Subtotal.Add(q.Tax)
	return q, nil
}
