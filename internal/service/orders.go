package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/events"
	"github.com/mmeshcher/greenway-loyalty/internal/model"
	"github.com/mmeshcher/greenway-loyalty/internal/products"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
)

const (
	orderBatchSize = 100
	orderJob       = "order-status"
)

// ErrCatalogUnavailable возвращается, если витрина не подключена.
var ErrCatalogUnavailable = errors.New("product catalog unavailable")

// CheckoutResult описывает оформленный заказ с расчётом стоимости.
type CheckoutResult struct {
	Order        model.Order    `json:"order"`
	Quote        products.Quote `json:"quote"`
	PointsEarned int64          `json:"pointsEarned"`
	Pending      bool           `json:"pending"`
}

// Products возвращает товары витрины.
func (s *Service) Products(ctx context.Context, f products.Filter) ([]model.Product, error) {
	if s.products == nil {
		return nil, ErrCatalogUnavailable
	}
	return s.products.Products(ctx, f)
}

// Product возвращает товар по идентификатору.
func (s *Service) Product(ctx context.Context, id string) (model.Product, error) {
	if s.products == nil {
		return model.Product{}, ErrCatalogUnavailable
	}
	return s.products.ProductByID(ctx, id)
}

// Checkout рассчитывает корзину и регистрирует заказ участника сессии.
// Если система заказов подключена, баллы начисляются после завершения заказа фоновым процессом,
// иначе сразу. Баллы считаются от суммы без налога.
func (s *Service) Checkout(ctx context.Context, sessionID string, items []products.LineItem) (CheckoutResult, error) {
	if s.products == nil {
		return CheckoutResult{}, ErrCatalogUnavailable
	}

	m, err := s.current(ctx, sessionID)
	if err != nil {
		return CheckoutResult{}, err
	}

	quote, err := s.products.PriceCart(ctx, items)
	if err != nil {
		return CheckoutResult{}, err
	}

	order := model.Order{
		ID:        s.newID(),
		MemberID:  m.ID,
		Amount:    quote.Subtotal,
		Status:    model.OrderStatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return CheckoutResult{}, fmt.Errorf("create order: %w", err)
	}

	s.publish(ctx, events.SubjectOrderPlaced, events.OrderPlaced{
		OrderID:  order.ID,
		MemberID: m.ID,
		Total:    quote.Total.StringFixed(2),
		At:       order.CreatedAt,
	})

	res := CheckoutResult{Order: order, Quote: quote}
	if s.orders != nil {
		res.Pending = true
		res.PointsEarned, err = s.PointsForPurchase(ctx, sessionID, quote.Subtotal)
		if err != nil {
			return CheckoutResult{}, err
		}
		return res, nil
	}

	points, err := s.completeOrder(ctx, order, order.Amount)
	if err != nil {
		return CheckoutResult{}, err
	}
	res.Order.Status = model.OrderStatusCompleted
	res.Order.PointsAwarded = &points
	res.PointsEarned = points

	if _, err := s.current(ctx, sessionID); err != nil {
		s.logger.Warn("refresh session after checkout", zap.String("memberID", m.ID), zap.Error(err))
	}
	return res, nil
}

// Order возвращает заказ участника сессии. Чужой заказ не отличается от несуществующего.
func (s *Service) Order(ctx context.Context, sessionID, orderID string) (model.Order, error) {
	m, err := s.current(ctx, sessionID)
	if err != nil {
		return model.Order{}, err
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}
	if o.MemberID != m.ID {
		return model.Order{}, fmt.Errorf("get order: %w", repository.ErrOrderNotFound)
	}
	return *o, nil
}

// completeOrder начисляет баллы за заказ и отмечает его завершённым.
func (s *Service) completeOrder(ctx context.Context, o model.Order, amount decimal.Decimal) (int64, error) {
	points, credited, err := s.AccruePurchase(ctx, o.MemberID, o.ID, amount)
	if err != nil {
		return 0, err
	}

	var awarded *int64
	if credited || points == 0 {
		awarded = &points
	}
	if err := s.repo.UpdateOrderStatus(ctx, o.ID, model.OrderStatusCompleted, awarded); err != nil {
		return 0, fmt.Errorf("complete order: %w", err)
	}
	return points, nil
}

// StartOrderUpdates запускает фоновый процесс обновления статусов заказов из системы заказов.
func (s *Service) StartOrderUpdates(ctx context.Context) {
	if s.orders == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				started := time.Now()
				err := s.processOrderBatch(ctx)
				s.metrics.ObserveJob(orderJob, time.Since(started), err)
				if err != nil && ctx.Err() == nil {
					s.logger.Warn("order status batch failed", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Service) processOrderBatch(ctx context.Context) error {
	orders, err := s.repo.GetOrdersForAccrual(ctx, orderBatchSize)
	if err != nil {
		return fmt.Errorf("get orders for accrual: %w", err)
	}

	var failed error
	for _, o := range orders {
		resp, statusCode, retryAfter, err := s.orders.GetOrderStatus(ctx, o.ID)
		if err != nil {
			s.logger.Warn("get order status", zap.String("orderID", o.ID), zap.Error(err))
			failed = err
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil {
			continue
		}

		if err := s.applyOrderStatus(ctx, o, resp.Normalized(), resp.Amount); err != nil {
			s.logger.Warn("apply order status", zap.String("orderID", o.ID), zap.Error(err))
			failed = err
		}
	}
	return failed
}

func (s *Service) applyOrderStatus(ctx context.Context, o model.Order, status model.OrderStatus, amount *decimal.Decimal) error {
	switch status {
	case model.OrderStatusCompleted:
		total := o.Amount
		if amount != nil {
			total = *amount
		}
		points, err := s.completeOrder(ctx, o, total)
		if err != nil {
			return err
		}
		s.logger.Info("order completed", zap.String("orderID", o.ID), zap.Int64("points", points))
		return nil
	case model.OrderStatusCancelled, model.OrderStatusProcessing:
		if status == o.Status {
			return nil
		}
		return s.repo.UpdateOrderStatus(ctx, o.ID, status, nil)
	default:
		return nil
	}
}
