package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/blog"
	"github.com/mmeshcher/greenway-loyalty/internal/loyalty"
	"github.com/mmeshcher/greenway-loyalty/internal/middleware"
	"github.com/mmeshcher/greenway-loyalty/internal/model"
	"github.com/mmeshcher/greenway-loyalty/internal/products"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
	"github.com/mmeshcher/greenway-loyalty/internal/service"
)

type stubService struct {
	pingErr error

	productsResp []model.Product
	productsErr  error
	productErr   error

	checkoutResp service.CheckoutResult
	checkoutErr  error

	orderID   string
	orderResp model.Order
	orderErr  error

	loginUserID    string
	loginSessionID string
	loginErr       error
	loggedOut      []string

	dashboardResp service.Dashboard
	dashboardErr  error

	txResp []model.Transaction

	pointsAmount decimal.Decimal
	pointsResp   int64

	redeemResp loyalty.RedeemResult
	redeemErr  error

	referralName string
}

func (s *stubService) Ping(context.Context) error { return s.pingErr }

func (s *stubService) Tiers() []model.Tier {
	return []model.Tier{
		{ID: model.TierBronze, Name: "Bronze"},
		{ID: model.TierGold, Name: "Gold", MinPoints: 1000},
	}
}

func (s *stubService) Rewards() []model.Reward {
	return []model.Reward{
		{ID: "reward-1", Name: "$5 Off", PointsCost: 100, Active: true},
		{ID: "reward-6", Name: "Gold Discount", PointsCost: 500, Active: true, MinimumTier: model.TierGold},
	}
}

func (s *stubService) Program() loyalty.Program {
	return loyalty.Program{
		PointsPerDollar:        decimal.NewFromInt(1),
		MinimumPurchaseAmount:  decimal.NewFromInt(10),
		PointsExpirationMonths: 12,
		BirthdayBonusPoints:    100,
	}
}

func (s *stubService) Products(context.Context, products.Filter) ([]model.Product, error) {
	return s.productsResp, s.productsErr
}

func (s *stubService) Product(_ context.Context, id string) (model.Product, error) {
	return model.Product{ID: id}, s.productErr
}

func (s *stubService) Checkout(context.Context, string, []products.LineItem) (service.CheckoutResult, error) {
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) Order(_ context.Context, _ string, orderID string) (model.Order, error) {
	s.orderID = orderID
	return s.orderResp, s.orderErr
}

func (s *stubService) Login(_ context.Context, sessionID, userID string) (service.Dashboard, error) {
	s.loginSessionID = sessionID
	s.loginUserID = userID
	return s.dashboardResp, s.loginErr
}

func (s *stubService) Logout(_ context.Context, sessionID string) error {
	s.loggedOut = append(s.loggedOut, sessionID)
	return nil
}

func (s *stubService) Dashboard(context.Context, string) (service.Dashboard, error) {
	return s.dashboardResp, s.dashboardErr
}

func (s *stubService) Transactions(context.Context, string) ([]model.Transaction, error) {
	return s.txResp, s.dashboardErr
}

func (s *stubService) Redemptions(context.Context, string) ([]model.Redemption, error) {
	return nil, s.dashboardErr
}

func (s *stubService) PointsForPurchase(_ context.Context, _ string, amount decimal.Decimal) (int64, error) {
	s.pointsAmount = amount
	return s.pointsResp, nil
}

func (s *stubService) Redeem(context.Context, string, string) (loyalty.RedeemResult, error) {
	return s.redeemResp, s.redeemErr
}

func (s *stubService) GrantReferralBonus(_ context.Context, _ string, name string) (service.Dashboard, error) {
	s.referralName = name
	return s.dashboardResp, s.dashboardErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret", time.Hour)

	posts, err := blog.Default()
	if err != nil {
		t.Fatalf("load blog: %v", err)
	}

	return NewHandler(svc, posts, logger, auth, nil)
}

func serve(h *Handler, method, target, body string) *http.Response {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func decodeError(t *testing.T, res *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestRedeem_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		rewardID string
		reason   error
		status   int
		message  string
	}{
		{
			name:     "insufficient points",
			rewardID: "reward-1",
			reason:   loyalty.ErrInsufficientPoints,
			status:   http.StatusUnprocessableEntity,
			message:  "Not enough points to redeem this reward",
		},
		{
			name:     "tier too low",
			rewardID: "reward-6",
			reason:   loyalty.ErrTierTooLow,
			status:   http.StatusForbidden,
			message:  "This reward is only available to Gold members and above",
		},
		{
			name:     "not logged in",
			rewardID: "reward-1",
			reason:   loyalty.ErrNotLoggedIn,
			status:   http.StatusUnauthorized,
			message:  "You must be logged in to redeem rewards",
		},
		{
			name:     "unknown reward",
			rewardID: "nope",
			reason:   loyalty.ErrRewardNotFound,
			status:   http.StatusNotFound,
			message:  "Reward not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{redeemResp: loyalty.RedeemResult{Reason: tt.reason}}
			h := newTestHandler(t, svc)

			res := serve(h, http.MethodPost, "/api/loyalty/rewards/"+tt.rewardID+"/redeem", "")
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
			if got := decodeError(t, res).Error; got != tt.message {
				t.Fatalf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestRedeem_Committed(t *testing.T) {
	svc := &stubService{redeemResp: loyalty.RedeemResult{
		Committed:  true,
		Member:     model.Member{ID: "member-1", Points: 50},
		Redemption: &model.Redemption{ID: "r-1", RewardID: "reward-1", PointsUsed: 100, Code: "DISC5-ABC123"},
	}}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodPost, "/api/loyalty/rewards/reward-1/redeem", "")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var body struct {
		Member     model.Member     `json:"member"`
		Redemption model.Redemption `json:"redemption"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Member.Points != 50 || body.Redemption.Code != "DISC5-ABC123" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRedeem_InfrastructureError(t *testing.T) {
	svc := &stubService{redeemErr: errors.New("connection reset")}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodPost, "/api/loyalty/rewards/reward-1/redeem", "")
	defer res.Body.Close()

	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if msg := decodeError(t, res).Error; strings.Contains(msg, "connection") {
		t.Fatalf("internal error leaked: %q", msg)
	}
}

func TestLogin(t *testing.T) {
	svc := &stubService{dashboardResp: service.Dashboard{Member: model.Member{ID: "member-1"}}}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodPost, "/api/loyalty/login", `{"userId":"user-1"}`)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.loginUserID != "user-1" {
		t.Fatalf("user id = %q, want user-1", svc.loginUserID)
	}

	cookies := res.Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no session cookie set")
	}
	last := cookies[len(cookies)-1]
	if !strings.HasPrefix(last.Value, svc.loginSessionID+".") {
		t.Fatalf("cookie %q does not carry logged in session %q", last.Value, svc.loginSessionID)
	}
	if len(svc.loggedOut) != 1 || svc.loggedOut[0] == svc.loginSessionID {
		t.Fatalf("previous session not cleared: %v", svc.loggedOut)
	}
}

func TestLogin_FailureKeepsPreviousSession(t *testing.T) {
	svc := &stubService{loginErr: errors.New("session store down")}
	h := newTestHandler(t, svc)

	issued := httptest.NewRecorder()
	middleware.NewAuthMiddleware("test-secret", time.Hour).SetSessionCookie(issued, "previous")
	previous := issued.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/api/loyalty/login", strings.NewReader(`{"userId":"user-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(previous)
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if svc.loginSessionID == "" || svc.loginSessionID == "previous" {
		t.Fatalf("login must use a fresh session, got %q", svc.loginSessionID)
	}
	if cookies := res.Cookies(); len(cookies) != 0 {
		t.Fatalf("cookie must not change on failed login: %v", cookies)
	}
	if len(svc.loggedOut) != 0 {
		t.Fatalf("previous session must stay active: %v", svc.loggedOut)
	}
}

func TestLogin_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing user", body: `{}`},
		{name: "unknown field", body: `{"userId":"u","password":"p"}`},
		{name: "malformed", body: `{"userId":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			h := newTestHandler(t, svc)

			res := serve(h, http.MethodPost, "/api/loyalty/login", tt.body)
			defer res.Body.Close()

			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
			}
			if svc.loginUserID != "" {
				t.Fatalf("service must not be called")
			}
		})
	}
}

func TestGetDashboard_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not logged in", err: loyalty.ErrNotLoggedIn, status: http.StatusUnauthorized},
		{name: "session store timeout", err: context.DeadlineExceeded, status: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{dashboardErr: tt.err})

			res := serve(h, http.MethodGet, "/api/loyalty/me", "")
			defer res.Body.Close()

			if res.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.status)
			}
		})
	}
}

func TestGetTransactions_EmptyList(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(h, http.MethodGet, "/api/loyalty/transactions", "")
	defer res.Body.Close()

	var body []model.Transaction
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body == nil || len(body) != 0 {
		t.Fatalf("expected empty JSON array, got %v", body)
	}
}

func TestGetPointsForPurchase(t *testing.T) {
	svc := &stubService{pointsResp: 125}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/loyalty/points?amount=100", "")
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var body struct {
		Points int64 `json:"points"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Points != 125 || !svc.pointsAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected points %d for amount %s", body.Points, svc.pointsAmount)
	}

	res = serve(h, http.MethodGet, "/api/loyalty/points?amount=-5", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if fields := decodeError(t, res).Fields; fields["amount"] == "" {
		t.Fatalf("expected amount field error, got %v", fields)
	}
}

func TestCheckout(t *testing.T) {
	svc := &stubService{checkoutResp: service.CheckoutResult{Pending: true, PointsEarned: 45}}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodPost, "/api/checkout", `{"items":[{"productId":"blue-dream-1oz","quantity":2}]}`)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	res = serve(h, http.MethodPost, "/api/checkout", `{"items":[{"productId":"blue-dream-1oz","quantity":100}]}`)
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if fields := decodeError(t, res).Fields; fields["items[0].quantity"] != "must be at most 99" {
		t.Fatalf("unexpected fields %v", fields)
	}

	svc.checkoutErr = products.ErrProductNotFound
	res = serve(h, http.MethodPost, "/api/checkout", `{"items":[{"productId":"x","quantity":1}]}`)
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestReferral_SanitizesName(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodPost, "/api/loyalty/referrals", `{"name":"  John Smith  "}`)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.referralName != "John Smith" {
		t.Fatalf("name = %q", svc.referralName)
	}
}

func TestProducts(t *testing.T) {
	svc := &stubService{productsResp: []model.Product{{ID: "blue-dream-1oz"}}}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/products?category=flower", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	svc.productsErr = products.ErrSourcesUnavailable
	res = serve(h, http.MethodGet, "/api/products", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}

	svc.productErr = products.ErrProductNotFound
	res = serve(h, http.MethodGet, "/api/products/nope", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetProgram(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(h, http.MethodGet, "/api/loyalty/program", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var body struct {
		PointsExpirationMonths int          `json:"pointsExpirationMonths"`
		MinimumPurchaseAmount  string       `json:"minimumPurchaseAmount"`
		Tiers                  []model.Tier `json:"tiers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.PointsExpirationMonths != 12 || body.MinimumPurchaseAmount != "10" || len(body.Tiers) != 2 {
		t.Fatalf("unexpected program: %+v", body)
	}
}

func TestGetOrder(t *testing.T) {
	svc := &stubService{orderResp: model.Order{ID: "o-1", Status: model.OrderStatusPending}}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/checkout/orders/o-1", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.orderID != "o-1" {
		t.Fatalf("order id = %q, want o-1", svc.orderID)
	}

	svc.orderErr = repository.ErrOrderNotFound
	res = serve(h, http.MethodGet, "/api/checkout/orders/other", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	svc.orderErr = loyalty.ErrNotLoggedIn
	res = serve(h, http.MethodGet, "/api/checkout/orders/o-1", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestBlog(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(h, http.MethodGet, "/api/blog?featured=true", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var posts []model.BlogPost
	if err := json.NewDecoder(res.Body).Decode(&posts); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("featured posts = %d, want 2", len(posts))
	}
	for _, p := range posts {
		if p.Content != "" {
			t.Fatalf("list must not carry post content: %s", p.ID)
		}
	}

	res = serve(h, http.MethodGet, "/api/blog?category=recipes&limit=1", "")
	defer res.Body.Close()
	posts = nil
	if err := json.NewDecoder(res.Body).Decode(&posts); err != nil {
		t.Fatalf("decode posts: %v", err)
	}
	if len(posts) != 1 || posts[0].Slug != "cannabis-infused-summer-recipes" {
		t.Fatalf("unexpected recipes: %+v", posts)
	}

	res = serve(h, http.MethodGet, "/api/blog?limit=0", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=0: status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res = serve(h, http.MethodGet, "/api/blog/categories", "")
	defer res.Body.Close()
	var cats []model.BlogCategory
	if err := json.NewDecoder(res.Body).Decode(&cats); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(cats) != 5 {
		t.Fatalf("categories = %d, want 5", len(cats))
	}

	res = serve(h, http.MethodGet, "/api/blog/understanding-terpenes", "")
	defer res.Body.Close()
	var post model.BlogPost
	if err := json.NewDecoder(res.Body).Decode(&post); err != nil {
		t.Fatalf("decode post: %v", err)
	}
	if post.ID != "understanding-terpenes" || post.Content == "" {
		t.Fatalf("unexpected post: %s", post.ID)
	}

	res = serve(h, http.MethodGet, "/api/blog/missing", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := serve(h, http.MethodGet, "/api/health", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	res = serve(h, http.MethodGet, "/metrics", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics without handler: status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	svc.pingErr = errors.New("db down")
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("loyalty_redemptions_total 0\n"))
	})
	h = NewHandler(svc, nil, zap.NewNop(), middleware.NewAuthMiddleware("s", time.Hour), metrics)

	res = serve(h, http.MethodGet, "/api/health", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}

	res = serve(h, http.MethodGet, "/metrics", "")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}
