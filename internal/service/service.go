// Package service реализует бизнес-логику программы лояльности и витрины Greenway.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/events"
	"github.com/mmeshcher/greenway-loyalty/internal/loyalty"
	"github.com/mmeshcher/greenway-loyalty/internal/metrics"
	"github.com/mmeshcher/greenway-loyalty/internal/model"
	"github.com/mmeshcher/greenway-loyalty/internal/ordering"
	"github.com/mmeshcher/greenway-loyalty/internal/products"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
)

// ErrInvalidInput возвращается при некорректных входных данных.
var ErrInvalidInput = errors.New("invalid input")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	GetMember(ctx context.Context, id string) (*model.Member, error)
	GetMemberByUserID(ctx context.Context, userID string) (*model.Member, error)
	CreateMember(ctx context.Context, m model.Member) (*model.Member, error)
	AppendTransaction(ctx context.Context, t model.Transaction, guard repository.Guard) (*model.Member, error)
	ListTransactions(ctx context.Context, memberID string) ([]model.Transaction, error)
	ListRedemptions(ctx context.Context, memberID string) ([]model.Redemption, error)
	VerifyLedger(ctx context.Context, memberID string) (repository.LedgerCheck, error)
	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersForAccrual(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus, pointsAwarded *int64) error
}

// Sessions хранит участника текущей сессии.
type Sessions interface {
	Load(ctx context.Context, sessionID string) (model.Member, bool, error)
	Save(ctx context.Context, sessionID string, m model.Member) error
	Clear(ctx context.Context, sessionID string) error
}

// ProductCatalog предоставляет товары витрины и расчёт корзины.
type ProductCatalog interface {
	Products(ctx context.Context, f products.Filter) ([]model.Product, error)
	ProductByID(ctx context.Context, id string) (model.Product, error)
	PriceCart(ctx context.Context, items []products.LineItem) (products.Quote, error)
}

// OrderStatusClient запрашивает статус заказа во внешней системе заказов.
type OrderStatusClient interface {
	GetOrderStatus(ctx context.Context, orderID string) (*ordering.OrderStatus, int, time.Duration, error)
}

// Dashboard описывает состояние участника для личного кабинета.
type Dashboard struct {
	Member model.Member `json:"member"`
	loyalty.Derived
}

// Service содержит бизнес-логику программы лояльности.
type Service struct {
	repo      Repository
	sessions  Sessions
	engine    *loyalty.Engine
	products  ProductCatalog
	orders    OrderStatusClient
	publisher events.Publisher
	metrics   *metrics.LoyaltyMetrics
	logger    *zap.Logger

	now          func() time.Time
	newID        func() string
	pollInterval time.Duration
}

// Option настраивает Service.
type Option func(*Service)

// WithProducts подключает каталог товаров.
func WithProducts(p ProductCatalog) Option { return func(s *Service) { s.products = p } }

// WithOrderingClient подключает систему заказов. Без неё баллы за заказ начисляются сразу.
func WithOrderingClient(c OrderStatusClient) Option { return func(s *Service) { s.orders = c } }

// WithPublisher задаёт публикатор доменных событий.
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.LoyaltyMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPollInterval задаёт период опроса системы заказов.
func WithPollInterval(d time.Duration) Option { return func(s *Service) { s.pollInterval = d } }

// NewService создаёт сервис поверх репозитория, хранилища сессий и движка обмена.
func NewService(repo Repository, sessions Sessions, engine *loyalty.Engine, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		sessions:     sessions,
		engine:       engine,
		publisher:    events.NopPublisher{},
		logger:       zap.NewNop(),
		now:          time.Now,
		newID:        uuid.NewString,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// AuditLedger сверяет балансы участников с суммой журнала и возвращает тех, у кого они расходятся.
// Отсутствующие участники пропускаются.
func (s *Service) AuditLedger(ctx context.Context, memberIDs []string) ([]string, error) {
	var drifted []string
	for _, id := range memberIDs {
		check, err := s.repo.VerifyLedger(ctx, id)
		if errors.Is(err, repository.ErrMemberNotFound) {
			continue
		}
		if err != nil {
			return drifted, fmt.Errorf("verify ledger %s: %w", id, err)
		}
		if !check.Consistent() {
			s.logger.Warn("ledger drift",
				zap.String("memberID", id),
				zap.Int64("stored", check.Stored),
				zap.Int64("ledger", check.Sum))
			drifted = append(drifted, id)
		}
	}
	return drifted, nil
}

// Tiers возвращает таблицу уровней.
func (s *Service) Tiers() []model.Tier { return s.engine.Tiers().All() }

// Rewards возвращает полный каталог наград.
func (s *Service) Rewards() []model.Reward { return s.engine.Catalog().All() }

// Program возвращает параметры начисления баллов.
func (s *Service) Program() loyalty.Program { return s.engine.Program() }

func (s *Service) dashboard(m model.Member) Dashboard {
	m = loyalty.WithTier(m, s.engine.Tiers())
	return Dashboard{
		Member:  m,
		Derived: loyalty.RecomputeDerived(m, s.engine.Tiers(), s.engine.Catalog()),
	}
}

// Login находит участника по внешнему идентификатору пользователя, при первом входе создаёт его,
// и сохраняет в сессию.
func (s *Service) Login(ctx context.Context, sessionID, userID string) (Dashboard, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Dashboard{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	m, err := s.findOrCreateMember(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}

	if granted, err := s.GrantBirthdayBonus(ctx, m.ID); err != nil {
		s.logger.Warn("grant birthday bonus on login", zap.String("memberID", m.ID), zap.Error(err))
	} else if granted != nil {
		m = granted
	}

	d := s.dashboard(*m)
	if err := s.sessions.Save(ctx, sessionID, d.Member); err != nil {
		return Dashboard{}, fmt.Errorf("save session: %w", err)
	}
	return d, nil
}

func (s *Service) findOrCreateMember(ctx context.Context, userID string) (*model.Member, error) {
	m, err := s.repo.GetMemberByUserID(ctx, userID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, repository.ErrMemberNotFound) {
		return nil, fmt.Errorf("get member: %w", err)
	}

	now := s.now().UTC()
	m, err = s.repo.CreateMember(ctx, model.Member{
		ID:           s.newID(),
		UserID:       userID,
		Tier:         s.engine.Tiers().Resolve(0).ID,
		JoinedAt:     now,
		LastActivity: now,
	})
	if errors.Is(err, repository.ErrMemberExists) {
		// Параллельный первый вход того же пользователя.
		return s.repo.GetMemberByUserID(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}

	s.logger.Info("loyalty member created", zap.String("memberID", m.ID), zap.String("userID", userID))
	return m, nil
}

// Logout очищает слот сессии. Участник и его журнал сохраняются.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Clear(ctx, sessionID)
}

// current загружает участника сессии и обновляет его из журнала.
func (s *Service) current(ctx context.Context, sessionID string) (model.Member, error) {
	cached, ok, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return model.Member{}, err
	}
	if !ok {
		return model.Member{}, loyalty.ErrNotLoggedIn
	}

	fresh, err := s.repo.GetMember(ctx, cached.ID)
	if errors.Is(err, repository.ErrMemberNotFound) {
		if clearErr := s.sessions.Clear(ctx, sessionID); clearErr != nil {
			s.logger.Warn("clear orphaned session", zap.Error(clearErr))
		}
		return model.Member{}, loyalty.ErrNotLoggedIn
	}
	if err != nil {
		return model.Member{}, fmt.Errorf("get member: %w", err)
	}

	updated := loyalty.WithTier(*fresh, s.engine.Tiers())
	if updated.Points != cached.Points || updated.LifetimePoints != cached.LifetimePoints ||
		updated.Tier != cached.Tier || !updated.LastActivity.Equal(cached.LastActivity) {
		if err := s.sessions.Save(ctx, sessionID, updated); err != nil {
			s.logger.Warn("refresh member session", zap.String("memberID", updated.ID), zap.Error(err))
		}
	}
	return updated, nil
}

// Dashboard возвращает участника текущей сессии с уровнем, прогрессом и доступными наградами.
func (s *Service) Dashboard(ctx context.Context, sessionID string) (Dashboard, error) {
	m, err := s.current(ctx, sessionID)
	if err != nil {
		return Dashboard{}, err
	}
	return s.dashboard(m), nil
}

// Transactions возвращает журнал участника сессии, новые записи первыми.
func (s *Service) Transactions(ctx context.Context, sessionID string) ([]model.Transaction, error) {
	m, err := s.current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, m.ID)
}

// Redemptions возвращает награды участника сессии, новые первыми.
func (s *Service) Redemptions(ctx context.Context, sessionID string) ([]model.Redemption, error) {
	m, err := s.current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListRedemptions(ctx, m.ID)
}

// Redeem обменивает баллы участника сессии на награду.
func (s *Service) Redeem(ctx context.Context, sessionID, rewardID string) (loyalty.RedeemResult, error) {
	res, err := s.engine.Redeem(ctx, sessionID, rewardID)
	if err != nil {
		s.metrics.ObserveRedemption(metrics.OutcomeFailed, "", 0)
		return res, err
	}
	if !res.Committed {
		s.metrics.ObserveRedemption(metrics.OutcomeRejected, res.Reason.Error(), 0)
		return res, nil
	}

	s.metrics.ObserveRedemption(metrics.OutcomeCommitted, "", res.Redemption.PointsUsed)
	s.publish(ctx, events.SubjectRedemptionCommitted, events.RedemptionCommitted{
		MemberID:   res.Member.ID,
		RewardID:   res.Redemption.RewardID,
		Code:       res.Redemption.Code,
		PointsUsed: res.Redemption.PointsUsed,
		Balance:    res.Member.Points,
		Tier:       string(res.Member.Tier),
		At:         res.Redemption.RedeemedAt,
	})
	return res, nil
}

// publish отправляет событие. Ошибка публикации не отменяет уже зафиксированную операцию.
func (s *Service) publish(ctx context.Context, subject string, v any) {
	if err := s.publisher.Publish(ctx, subject, v); err != nil {
		s.logger.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}
