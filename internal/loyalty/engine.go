package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
)

const maxCodeAttempts = 5

// Ledger хранит актуальный баланс участника и фиксирует обмен баллов атомарно.
type Ledger interface {
	GetMember(ctx context.Context, id string) (*model.Member, error)
	CommitRedemption(ctx context.Context, c repository.RedemptionCommit) (*model.Member, error)
}

// SessionStore хранит участника текущей сессии.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (model.Member, bool, error)
	Save(ctx context.Context, sessionID string, m model.Member) error
}

// RedeemResult описывает итог обмена. Если Committed равен false, Reason содержит причину отказа,
// и никаких изменений не сделано.
type RedeemResult struct {
	Committed   bool
	Reason      error
	Member      model.Member
	Redemption  *model.Redemption
	Transaction *model.Transaction
	Derived     Derived
}

// Engine выполняет обмен баллов на награды.
type Engine struct {
	tiers    *TierTable
	catalog  *Catalog
	program  Program
	ledger   Ledger
	sessions SessionStore
	logger   *zap.Logger

	now     func() time.Time
	newCode CodeGenerator
	newID   func() string
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithCodeGenerator подменяет генератор кодов наград.
func WithCodeGenerator(gen CodeGenerator) EngineOption {
	return func(e *Engine) { e.newCode = gen }
}

// WithLogger задаёт логгер.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine создаёт движок обмена. Все зависимости обязательны.
func NewEngine(tiers *TierTable, catalog *Catalog, program Program, ledger Ledger, sessions SessionStore, opts ...EngineOption) (*Engine, error) {
	switch {
	case tiers == nil:
		return nil, fmt.Errorf("%w: tier table is required", ErrInvalidTierTable)
	case catalog == nil:
		return nil, fmt.Errorf("%w: reward catalog is required", ErrInvalidCatalog)
	case ledger == nil:
		return nil, errors.New("ledger is required")
	case sessions == nil:
		return nil, errors.New("session store is required")
	}
	if err := program.Validate(); err != nil {
		return nil, err
	}
	if program.RedemptionTTL == 0 {
		program.RedemptionTTL = DefaultRedemptionTTL
	}

	e := &Engine{
		tiers:    tiers,
		catalog:  catalog,
		program:  program,
		ledger:   ledger,
		sessions: sessions,
		logger:   zap.NewNop(),
		now:      time.Now,
		newCode:  NewRedemptionCode,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Tiers возвращает таблицу уровней движка.
func (e *Engine) Tiers() *TierTable { return e.tiers }

// Catalog возвращает каталог наград движка.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Program возвращает параметры программы.
func (e *Engine) Program() Program { return e.program }

// IsRejection сообщает, является ли err бизнес-отказом, а не сбоем.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotLoggedIn) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrRewardInactive) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrTierTooLow)
}

func (e *Engine) reject(member model.Member, reason error) RedeemResult {
	res := RedeemResult{Reason: reason, Member: member}
	if member.ID != "" {
		res.Derived = RecomputeDerived(member, e.tiers, e.catalog)
	}
	return res
}

// Redeem обменивает баллы участника текущей сессии на награду rewardID.
// Отказы по бизнес-правилам возвращаются в RedeemResult, ошибка означает сбой хранилища.
func (e *Engine) Redeem(ctx context.Context, sessionID, rewardID string) (RedeemResult, error) {
	member, ok, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return e.reject(model.Member{}, ErrNotLoggedIn), nil
	}

	// Сессия хранит копию участника; баланс и уровень берутся из журнала.
	fresh, err := e.ledger.GetMember(ctx, member.ID)
	if errors.Is(err, repository.ErrMemberNotFound) {
		return e.reject(model.Member{}, ErrNotLoggedIn), nil
	}
	if err != nil {
		return RedeemResult{}, fmt.Errorf("get member: %w", err)
	}
	member = WithTier(*fresh, e.tiers)

	reward, ok := e.catalog.Get(rewardID)
	if !ok {
		return e.reject(member, ErrRewardNotFound), nil
	}
	if err := CheckReward(member, reward, e.tiers); err != nil {
		return e.reject(member, err), nil
	}

	// Баланс мог измениться между чтением сессии и блокировкой участника.
	validate := func(locked model.Member) error {
		return CheckReward(locked, reward, e.tiers)
	}

	for range maxCodeAttempts {
		commit, err := e.prepare(member, reward)
		if err != nil {
			return RedeemResult{}, err
		}
		commit.Validate = validate

		updated, err := e.ledger.CommitRedemption(ctx, commit)
		switch {
		case err == nil:
			return e.committed(ctx, sessionID, *updated, commit), nil
		case errors.Is(err, repository.ErrRedemptionCodeExists):
			e.logger.Info("redemption code collision, regenerating", zap.String("rewardID", reward.ID))
			continue
		case errors.Is(err, repository.ErrInsufficientBalance):
			return e.reject(member, ErrInsufficientPoints), nil
		case IsRejection(err):
			return e.reject(member, err), nil
		default:
			return RedeemResult{}, fmt.Errorf("commit redemption: %w", err)
		}
	}

	return RedeemResult{}, fmt.Errorf("allocate redemption code: %w", repository.ErrRedemptionCodeExists)
}

func (e *Engine) prepare(member model.Member, reward model.Reward) (repository.RedemptionCommit, error) {
	code, err := e.newCode(reward.CodePrefix)
	if err != nil {
		return repository.RedemptionCommit{}, err
	}

	now := e.now().UTC()
	expires := now.Add(e.program.RedemptionTTL)
	txID := e.newID()

	return repository.RedemptionCommit{
		MemberID: member.ID,
		Redemption: model.Redemption{
			ID:         e.newID(),
			MemberID:   member.ID,
			RewardID:   reward.ID,
			PointsUsed: reward.PointsCost,
			RedeemedAt: now,
			ExpiresAt:  &expires,
			Code:       code,
		},
		Transaction: model.Transaction{
			ID:          txID,
			MemberID:    member.ID,
			Type:        model.TransactionRedemption,
			Points:      -reward.PointsCost,
			Description: "Redemption: " + reward.Name,
			RewardID:    reward.ID,
			CreatedAt:   now,
		},
	}, nil
}

func (e *Engine) committed(ctx context.Context, sessionID string, updated model.Member, c repository.RedemptionCommit) RedeemResult {
	updated = WithTier(updated, e.tiers)

	// Журнал уже зафиксирован; устаревшая сессия обновится при следующем чтении профиля.
	if err := e.sessions.Save(ctx, sessionID, updated); err != nil {
		e.logger.Warn("persist member session after redemption", zap.String("memberID", updated.ID), zap.Error(err))
	}

	red := c.Redemption
	tx := c.Transaction
	return RedeemResult{
		Committed:   true,
		Member:      updated,
		Redemption:  &red,
		Transaction: &tx,
		Derived:     RecomputeDerived(updated, e.tiers, e.catalog),
	}
}
