// Package session хранит состояние текущего участника программы лояльности в слоте сессии.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// SlotName задаёт фиксированное имя слота, в котором лежит участник.
const SlotName = "loyaltyMember"

const keyNamespace = "gw"

// ErrMissing возвращается хранилищем ключей, если значения нет.
var ErrMissing = errors.New("session value missing")

// KV описывает минимальный набор операций над хранилищем ключей.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Store сохраняет и загружает участника по идентификатору сессии.
type Store struct {
	kv      KV
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewStore создаёт хранилище сессий поверх kv.
// ttl ограничивает время жизни слота, timeout ограничивает длительность одной операции.
func NewStore(kv KV, ttl, timeout time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:      kv,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *Store) key(sessionID string) string {
	return strings.Join([]string{keyNamespace, "session", strings.TrimSpace(sessionID), SlotName}, ":")
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Load возвращает участника из слота сессии. Отсутствие слота и повреждённые данные
// означают, что пользователь не вошёл: ok равен false, ошибки нет.
func (s *Store) Load(ctx context.Context, sessionID string) (model.Member, bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return model.Member{}, false, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.kv.Get(ctx, s.key(sessionID))
	if err != nil {
		if errors.Is(err, ErrMissing) {
			return model.Member{}, false, nil
		}
		return model.Member{}, false, fmt.Errorf("load session: %w", err)
	}

	var m model.Member
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.ID == "" {
		s.logger.Warn("discarding malformed loyalty session", zap.String("session", sessionID), zap.Error(err))
		if delErr := s.kv.Del(ctx, s.key(sessionID)); delErr != nil {
			s.logger.Warn("clear malformed loyalty session", zap.Error(delErr))
		}
		return model.Member{}, false, nil
	}

	return m, true, nil
}

// Save записывает участника в слот сессии целиком.
func (s *Store) Save(ctx context.Context, sessionID string, m model.Member) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode member: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.kv.Set(ctx, s.key(sessionID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear удаляет слот сессии. Сам участник при этом не удаляется.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.kv.Del(ctx, s.key(sessionID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
