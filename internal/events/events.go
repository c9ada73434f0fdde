// Package events публикует доменные события программы лояльности в NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Темы событий.
const (
	SubjectRedemptionCommitted = "loyalty.redemption.committed"
	SubjectPointsCredited      = "loyalty.points.credited"
	SubjectOrderPlaced         = "storefront.order.placed"
)

// RedemptionCommitted публикуется после фиксации обмена.
type RedemptionCommitted struct {
	MemberID   string    `json:"memberId"`
	RewardID   string    `json:"rewardId"`
	Code       string    `json:"code"`
	PointsUsed int64     `json:"pointsUsed"`
	Balance    int64     `json:"balance"`
	Tier       string    `json:"tier"`
	At         time.Time `json:"at"`
}

// PointsCredited публикуется после начисления баллов.
type PointsCredited struct {
	MemberID string    `json:"memberId"`
	Type     string    `json:"type"`
	Points   int64     `json:"points"`
	Balance  int64     `json:"balance"`
	OrderID  string    `json:"orderId,omitempty"`
	At       time.Time `json:"at"`
}

// OrderPlaced публикуется при оформлении заказа.
type OrderPlaced struct {
	OrderID  string    `json:"orderId"`
	MemberID string    `json:"memberId"`
	Total    string    `json:"total"`
	At       time.Time `json:"at"`
}

// Publisher отправляет событие в тему subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// NopPublisher отбрасывает события. Используется, если NATS не настроен.
type NopPublisher struct{}

// Publish ничего не отправляет.
func (NopPublisher) Publish(context.Context, string, any) error { return nil }

type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher публикует события в NATS в формате JSON.
type NATSPublisher struct {
	nc  conn
	raw *nats.Conn
}

// NewNATSPublisher подключается к NATS по url.
func NewNATSPublisher(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url,
		nats.Name("greenway-loyalty"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSPublisher{nc: nc, raw: nc}, nil
}

// Publish кодирует v в JSON и публикует его.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close сбрасывает буфер и закрывает соединение.
func (p *NATSPublisher) Close() error {
	if p.raw == nil {
		return nil
	}
	if err := p.raw.Drain(); err != nil {
		p.raw.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
