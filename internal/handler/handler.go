// Package handler содержит HTTP-обработчики API витрины и программы лояльности Greenway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/blog"
	"github.com/mmeshcher/greenway-loyalty/internal/loyalty"
	"github.com/mmeshcher/greenway-loyalty/internal/middleware"
	"github.com/mmeshcher/greenway-loyalty/internal/model"
	"github.com/mmeshcher/greenway-loyalty/internal/products"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
	"github.com/mmeshcher/greenway-loyalty/internal/service"
	"github.com/mmeshcher/greenway-loyalty/internal/validation"
)

const (
	maxNameLength = 128
	maxBlogLimit  = 50
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	Tiers() []model.Tier
	Rewards() []model.Reward
	Program() loyalty.Program
	Products(ctx context.Context, f products.Filter) ([]model.Product, error)
	Product(ctx context.Context, id string) (model.Product, error)
	Checkout(ctx context.Context, sessionID string, items []products.LineItem) (service.CheckoutResult, error)
	Order(ctx context.Context, sessionID, orderID string) (model.Order, error)
	Login(ctx context.Context, sessionID, userID string) (service.Dashboard, error)
	Logout(ctx context.Context, sessionID string) error
	Dashboard(ctx context.Context, sessionID string) (service.Dashboard, error)
	Transactions(ctx context.Context, sessionID string) ([]model.Transaction, error)
	Redemptions(ctx context.Context, sessionID string) ([]model.Redemption, error)
	PointsForPurchase(ctx context.Context, sessionID string, amount decimal.Decimal) (int64, error)
	Redeem(ctx context.Context, sessionID, rewardID string) (loyalty.RedeemResult, error)
	GrantReferralBonus(ctx context.Context, sessionID, referredName string) (service.Dashboard, error)
}

// Blog предоставляет статьи блога.
type Blog interface {
	Posts(f blog.Filter) []model.BlogPost
	BySlug(slug string) (model.BlogPost, error)
	Categories() []model.BlogCategory
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	blog           Blog
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт обработчик. metrics может быть nil, тогда /metrics не публикуется.
// Без blog маршруты /api/blog не регистрируются.
func NewHandler(s Service, b Blog, logger *zap.Logger, auth *middleware.AuthMiddleware, metrics http.Handler) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		blog:           b,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metrics,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *Handler) writeMessage(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Error: msg})
}

// writeError переводит ошибку сервиса в HTTP-ответ. Неожиданные ошибки логируются,
// клиент получает только общий текст.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Fields: verr.Fields})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, products.ErrEmptyCart):
		h.writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, loyalty.ErrNotLoggedIn):
		h.writeMessage(w, http.StatusUnauthorized, "You must be logged in")
	case errors.Is(err, products.ErrProductNotFound):
		h.writeMessage(w, http.StatusNotFound, "Product not found")
	case errors.Is(err, repository.ErrOrderNotFound):
		h.writeMessage(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, blog.ErrPostNotFound):
		h.writeMessage(w, http.StatusNotFound, "Post not found")
	case errors.Is(err, products.ErrSourcesUnavailable), errors.Is(err, service.ErrCatalogUnavailable):
		h.writeMessage(w, http.StatusServiceUnavailable, "Product catalog is temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("request timed out", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeMessage(w, http.StatusServiceUnavailable, "Service is temporarily unavailable, please try again")
	case errors.Is(err, context.Canceled):
		// Клиент ушёл, ответ никто не прочитает.
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func sessionID(r *http.Request) string {
	id, _ := middleware.GetSessionIDFromContext(r.Context())
	return id
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListProducts возвращает товары витрины с фильтрами category, strain, search и sort.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := products.Filter{
		Category: validation.SanitizeString(q.Get("category"), maxNameLength),
		Strain:   validation.SanitizeString(q.Get("strain"), maxNameLength),
		Search:   validation.SanitizeString(q.Get("search"), maxNameLength),
		Sort:     validation.SanitizeString(q.Get("sort"), maxNameLength),
	}

	items, err := h.service.Products(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// GetProduct возвращает карточку товара.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Product(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

type checkoutRequest struct {
	Items []products.LineItem `json:"items" validate:"required,min=1,max=50,dive"`
}

// Checkout оформляет заказ участника сессии.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.Checkout(r.Context(), sessionID(r), req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Pending {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, res)
}

// GetOrder возвращает заказ участника сессии.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Order(r.Context(), sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, o)
}

type programResponse struct {
	PointsPerDollar        decimal.Decimal `json:"pointsPerDollar"`
	MinimumPurchaseAmount  decimal.Decimal `json:"minimumPurchaseAmount"`
	PointsExpirationMonths int             `json:"pointsExpirationMonths"`
	BirthdayBonusPoints    int64           `json:"birthdayBonusPoints"`
	ReferralBonusPoints    int64           `json:"referralBonusPoints"`
	Tiers                  []model.Tier    `json:"tiers"`
}

// GetProgram возвращает условия программы лояльности вместе с уровнями.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	p := h.service.Program()
	h.writeJSON(w, http.StatusOK, programResponse{
		PointsPerDollar:        p.PointsPerDollar,
		MinimumPurchaseAmount:  p.MinimumPurchaseAmount,
		PointsExpirationMonths: p.PointsExpirationMonths,
		BirthdayBonusPoints:    p.BirthdayBonusPoints,
		ReferralBonusPoints:    p.ReferralBonusPoints,
		Tiers:                  h.service.Tiers(),
	})
}

// GetTiers возвращает таблицу уровней.
func (h *Handler) GetTiers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Tiers())
}

// GetRewards возвращает каталог наград.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Rewards())
}

type loginRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// Login входит в программу лояльности и выдаёт новую сессию.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	previous := sessionID(r)
	next := h.authMiddleware.NewSessionID()

	d, err := h.service.Login(r.Context(), next, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.authMiddleware.SetSessionCookie(w, next)

	if previous != "" {
		if err := h.service.Logout(r.Context(), previous); err != nil {
			h.logger.Warn("clear previous session", zap.Error(err))
		}
	}
	h.writeJSON(w, http.StatusOK, d)
}

// Logout очищает сессию программы лояльности.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), sessionID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.authMiddleware.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// GetDashboard возвращает участника сессии с уровнем, прогрессом и доступными наградами.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context(), sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// GetTransactions возвращает журнал баллов участника сессии.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.service.Transactions(r.Context(), sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// GetRedemptions возвращает полученные участником награды.
func (h *Handler) GetRedemptions(w http.ResponseWriter, r *http.Request) {
	reds, err := h.service.Redemptions(r.Context(), sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reds == nil {
		reds = []model.Redemption{}
	}
	h.writeJSON(w, http.StatusOK, reds)
}

type pointsResponse struct {
	Amount decimal.Decimal `json:"amount"`
	Points int64           `json:"points"`
}

// GetPointsForPurchase показывает, сколько баллов принесёт покупка на сумму amount.
func (h *Handler) GetPointsForPurchase(w http.ResponseWriter, r *http.Request) {
	amount, err := validation.ParseAmount(r, "amount")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	points, err := h.service.PointsForPurchase(r.Context(), sessionID(r), amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pointsResponse{Amount: amount, Points: points})
}

type redeemResponse struct {
	Member      model.Member       `json:"member"`
	Redemption  *model.Redemption  `json:"redemption"`
	Transaction *model.Transaction `json:"transaction"`
	loyalty.Derived
}

// Redeem обменивает баллы участника сессии на награду.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	rewardID := chi.URLParam(r, "id")

	res, err := h.service.Redeem(r.Context(), sessionID(r), rewardID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !res.Committed {
		status, msg := h.rejection(rewardID, res.Reason)
		h.writeMessage(w, status, msg)
		return
	}

	h.writeJSON(w, http.StatusOK, redeemResponse{
		Member:      res.Member,
		Redemption:  res.Redemption,
		Transaction: res.Transaction,
		Derived:     res.Derived,
	})
}

// rejection возвращает статус и текст отказа в обмене для пользователя.
func (h *Handler) rejection(rewardID string, reason error) (int, string) {
	switch {
	case errors.Is(reason, loyalty.ErrNotLoggedIn):
		return http.StatusUnauthorized, "You must be logged in to redeem rewards"
	case errors.Is(reason, loyalty.ErrRewardNotFound), errors.Is(reason, loyalty.ErrRewardInactive):
		return http.StatusNotFound, "Reward not found"
	case errors.Is(reason, loyalty.ErrInsufficientPoints):
		return http.StatusUnprocessableEntity, "Not enough points to redeem this reward"
	case errors.Is(reason, loyalty.ErrTierTooLow):
		return http.StatusForbidden, "This reward is only available to " + h.requiredTierName(rewardID) + " members and above"
	default:
		return http.StatusUnprocessableEntity, "This reward cannot be redeemed"
	}
}

func (h *Handler) requiredTierName(rewardID string) string {
	var required model.TierID
	for _, rw := range h.service.Rewards() {
		if rw.ID == rewardID {
			required = rw.MinimumTier
			break
		}
	}
	for _, t := range h.service.Tiers() {
		if t.ID == required {
			return t.Name
		}
	}
	return string(required)
}

type referralRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

// Referral начисляет бонус за приглашённого друга.
func (h *Handler) Referral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.service.GrantReferralBonus(r.Context(), sessionID(r), validation.SanitizeString(req.Name, maxNameLength))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// ListPosts возвращает анонсы статей с фильтрами category, tag, search, featured и limit.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, err := validation.ParseLimit(r, "limit", maxBlogLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	f := blog.Filter{
		Category: validation.SanitizeString(q.Get("category"), maxNameLength),
		Tag:      validation.SanitizeString(q.Get("tag"), maxNameLength),
		Search:   validation.SanitizeString(q.Get("search"), maxNameLength),
		Featured: q.Get("featured") == "true",
		Limit:    limit,
	}

	posts := h.blog.Posts(f)
	out := make([]model.BlogPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Summary())
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetPost возвращает статью целиком.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.blog.BySlug(chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// GetBlogCategories возвращает рубрики блога с числом статей.
func (h *Handler) GetBlogCategories(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.blog.Categories())
}
