package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/events"
	"github.com/mmeshcher/greenway-loyalty/internal/loyalty"
	"github.com/mmeshcher/greenway-loyalty/internal/model"
	"github.com/mmeshcher/greenway-loyalty/internal/repository"
)

// credit записывает начисление в журнал. Повторное начисление с тем же ключом
// возвращает nil без ошибки.
func (s *Service) credit(ctx context.Context, t model.Transaction) (*model.Member, error) {
	m, err := s.repo.AppendTransaction(ctx, t, nil)
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		s.logger.Info("credit already recorded",
			zap.String("memberID", t.MemberID),
			zap.String("key", t.IdempotencyKey))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("append %s transaction: %w", t.Type, err)
	}

	updated := loyalty.WithTier(*m, s.engine.Tiers())
	s.metrics.ObserveCredit(string(t.Type), t.Points)
	s.publish(ctx, events.SubjectPointsCredited, events.PointsCredited{
		MemberID: updated.ID,
		Type:     string(t.Type),
		Points:   t.Points,
		Balance:  updated.Points,
		OrderID:  t.OrderID,
		At:       t.CreatedAt,
	})
	return &updated, nil
}

// PointsForPurchase показывает, сколько баллов принесёт покупка участнику сессии.
// Без входа в программу баллы не начисляются, результат равен нулю.
func (s *Service) PointsForPurchase(ctx context.Context, sessionID string, amount decimal.Decimal) (int64, error) {
	m, err := s.current(ctx, sessionID)
	if errors.Is(err, loyalty.ErrNotLoggedIn) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return loyalty.CalculatePoints(s.engine.Program(), amount, s.engine.Tiers().Resolve(m.Points)), nil
}

// AccruePurchase начисляет баллы за заказ по текущему уровню участника.
// Возвращает число начисленных баллов; credited равен false, если заказ уже был учтён
// или сумма ниже минимальной.
func (s *Service) AccruePurchase(ctx context.Context, memberID, orderID string, amount decimal.Decimal) (points int64, credited bool, err error) {
	if orderID == "" {
		return 0, false, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return 0, false, fmt.Errorf("get member: %w", err)
	}

	points = loyalty.CalculatePoints(s.engine.Program(), amount, s.engine.Tiers().Resolve(m.Points))
	if points == 0 {
		return 0, false, nil
	}

	updated, err := s.credit(ctx, model.Transaction{
		ID:             s.newID(),
		MemberID:       memberID,
		Type:           model.TransactionPurchase,
		Points:         points,
		Description:    "Purchase: Order #" + orderID,
		OrderID:        orderID,
		CreatedAt:      s.now().UTC(),
		IdempotencyKey: "purchase:" + orderID,
	})
	if err != nil {
		return 0, false, err
	}
	if updated == nil {
		return 0, false, nil
	}
	return points, true, nil
}

// GrantBirthdayBonus начисляет бонус в день рождения участника, не чаще раза в год.
// Возвращает обновлённого участника или nil, если бонус не положен.
func (s *Service) GrantBirthdayBonus(ctx context.Context, memberID string) (*model.Member, error) {
	bonus := s.engine.Program().BirthdayBonusPoints
	if bonus <= 0 {
		return nil, nil
	}

	m, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}

	now := s.now().UTC()
	if !isBirthday(m, now) {
		return nil, nil
	}

	return s.credit(ctx, model.Transaction{
		ID:             s.newID(),
		MemberID:       memberID,
		Type:           model.TransactionBirthday,
		Points:         bonus,
		Description:    "Birthday Bonus",
		CreatedAt:      now,
		IdempotencyKey: "birthday:" + strconv.Itoa(now.Year()),
	})
}

// isBirthday сравнивает месяц и день рождения с датой now.
// В невисокосный год родившиеся 29 февраля получают бонус 28 февраля.
func isBirthday(m *model.Member, now time.Time) bool {
	if m.BirthMonth == nil || m.BirthDay == nil {
		return false
	}
	month, day := time.Month(*m.BirthMonth), *m.BirthDay
	if month == time.February && day == 29 && !isLeap(now.Year()) {
		day = 28
	}
	return now.Month() == month && now.Day() == day
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// GrantReferralBonus начисляет участнику сессии бонус за приглашённого друга.
// Один и тот же друг засчитывается один раз.
func (s *Service) GrantReferralBonus(ctx context.Context, sessionID, referredName string) (Dashboard, error) {
	name := strings.Join(strings.Fields(referredName), " ")
	if name == "" {
		return Dashboard{}, fmt.Errorf("%w: referred name is required", ErrInvalidInput)
	}

	m, err := s.current(ctx, sessionID)
	if err != nil {
		return Dashboard{}, err
	}

	bonus := s.engine.Program().ReferralBonusPoints
	if bonus <= 0 {
		return s.dashboard(m), nil
	}

	updated, err := s.credit(ctx, model.Transaction{
		ID:             s.newID(),
		MemberID:       m.ID,
		Type:           model.TransactionReferral,
		Points:         bonus,
		Description:    "Referral: " + name,
		CreatedAt:      s.now().UTC(),
		IdempotencyKey: "referral:" + strings.ToLower(name),
	})
	if err != nil {
		return Dashboard{}, err
	}
	if updated == nil {
		return s.dashboard(m), nil
	}

	if err := s.sessions.Save(ctx, sessionID, *updated); err != nil {
		s.logger.Warn("persist member session after referral", zap.String("memberID", m.ID), zap.Error(err))
	}
	return s.dashboard(*updated), nil
}
