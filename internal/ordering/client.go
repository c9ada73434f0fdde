// Package ordering предоставляет клиент для внешней системы заказов.
package ordering

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с системой заказов.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// OrderStatus описывает ответ системы заказов по одному заказу.
type OrderStatus struct {
	OrderID string           `json:"orderId"`
	Status  string           `json:"status"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

// Normalized приводит статус провайдера к статусу заказа.
// Неизвестные статусы считаются незавершёнными.
func (s OrderStatus) Normalized() model.OrderStatus {
	switch model.OrderStatus(strings.ToUpper(strings.TrimSpace(s.Status))) {
	case model.OrderStatusCompleted:
		return model.OrderStatusCompleted
	case model.OrderStatusCancelled, "CANCELED":
		return model.OrderStatusCancelled
	case model.OrderStatusProcessing:
		return model.OrderStatusProcessing
	default:
		return model.OrderStatusPending
	}
}

// NewClient создаёт HTTP-клиент для обращения к системе заказов по указанному адресу.
// apiKey передаётся как Bearer-токен, если не пуст.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetOrderStatus запрашивает статус заказа. Для ответа 429 возвращает паузу из Retry-After,
// на 404 и 204 возвращается пустой результат без ошибки.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("ordering client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), nil
	case http.StatusNoContent, http.StatusNotFound:
		return nil, resp.StatusCode, 0, nil
	case http.StatusOK:
	default:
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}
	if result.OrderID == "" {
		result.OrderID = orderID
	}

	return &result, resp.StatusCode, 0, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
