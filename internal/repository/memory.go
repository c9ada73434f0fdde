package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

// MemoryRepository хранит журнал в памяти процесса. Все изменения выполняются под одной
// блокировкой, поэтому проверка баланса и списание не перемежаются с другими запросами.
type MemoryRepository struct {
	mu           sync.RWMutex
	members      map[string]*model.Member
	byUser       map[string]string
	transactions map[string][]model.Transaction
	redemptions  map[string][]model.Redemption
	codes        map[string]struct{}
	keys         map[string]struct{}
	orders       map[string]*model.Order
	orderSeq     []string
}

// MemoryOption настраивает начальное состояние MemoryRepository.
type MemoryOption func(*memorySeed)

type memorySeed struct {
	transactions []model.Transaction
	redemptions  []model.Redemption
}

// WithHistory переносит в журнал уже накопленные записи и обмены стартовых участников.
func WithHistory(transactions []model.Transaction, redemptions []model.Redemption) MemoryOption {
	return func(s *memorySeed) {
		s.transactions = append(s.transactions, transactions...)
		s.redemptions = append(s.redemptions, redemptions...)
	}
}

// NewMemoryRepository создаёт хранилище и заводит стартовых участников.
// Часть баланса, не покрытая историей, записывается в журнал корректировкой,
// чтобы сумма журнала совпадала с балансом.
func NewMemoryRepository(seed []model.Member, opts ...MemoryOption) (*MemoryRepository, error) {
	r := &MemoryRepository{
		members:      make(map[string]*model.Member),
		byUser:       make(map[string]string),
		transactions: make(map[string][]model.Transaction),
		redemptions:  make(map[string][]model.Redemption),
		codes:        make(map[string]struct{}),
		keys:         make(map[string]struct{}),
		orders:       make(map[string]*model.Order),
	}

	var history memorySeed
	for _, opt := range opts {
		opt(&history)
	}

	for _, m := range seed {
		if m.ID == "" || m.UserID == "" {
			return nil, fmt.Errorf("seed member requires id and user id")
		}
		if _, ok := r.byUser[m.UserID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrMemberExists, m.UserID)
		}
		if m.Points < 0 || m.LifetimePoints < m.Points {
			return nil, fmt.Errorf("seed member %s: inconsistent balance", m.ID)
		}
		stored := m
		r.members[m.ID] = &stored
		r.byUser[m.UserID] = m.ID
	}

	past := make(map[string][]model.Transaction)
	for _, t := range history.transactions {
		if _, ok := r.members[t.MemberID]; !ok {
			return nil, fmt.Errorf("seed transaction %s: %w", t.ID, ErrMemberNotFound)
		}
		if err := checkTransaction(t); err != nil {
			return nil, fmt.Errorf("seed transaction %s: %w", t.ID, err)
		}
		past[t.MemberID] = append(past[t.MemberID], t)
	}

	for _, m := range seed {
		txs := past[m.ID]
		slices.SortStableFunc(txs, func(a, b model.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })

		opening := m.Points
		for _, t := range txs {
			opening -= t.Points
		}
		if opening < 0 {
			return nil, fmt.Errorf("seed member %s: history exceeds balance by %d", m.ID, -opening)
		}
		if opening > 0 {
			r.transactions[m.ID] = append(r.transactions[m.ID], model.Transaction{
				ID:          uuid.NewString(),
				MemberID:    m.ID,
				Type:        model.TransactionAdjustment,
				Points:      opening,
				Description: "Opening balance",
				CreatedAt:   m.JoinedAt,
			})
		}
		for _, t := range txs {
			if err := r.registerKey(t); err != nil {
				return nil, err
			}
			r.transactions[m.ID] = append(r.transactions[m.ID], t)
		}
	}

	reds := slices.Clone(history.redemptions)
	slices.SortStableFunc(reds, func(a, b model.Redemption) int { return a.RedeemedAt.Compare(b.RedeemedAt) })
	for _, red := range reds {
		if _, ok := r.members[red.MemberID]; !ok {
			return nil, fmt.Errorf("seed redemption %s: %w", red.ID, ErrMemberNotFound)
		}
		if _, dup := r.codes[red.Code]; dup {
			return nil, fmt.Errorf("%w: %s", ErrRedemptionCodeExists, red.Code)
		}
		r.codes[red.Code] = struct{}{}
		r.redemptions[red.MemberID] = append(r.redemptions[red.MemberID], red)
	}

	return r, nil
}

// Close ничего не делает: ресурсов нет.
func (r *MemoryRepository) Close() error { return nil }

// Ping всегда успешен.
func (r *MemoryRepository) Ping(context.Context) error { return nil }

// GetMember возвращает копию участника по идентификатору.
func (r *MemoryRepository) GetMember(_ context.Context, id string) (*model.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

// GetMemberByUserID ищет участника по идентификатору внешнего пользователя.
func (r *MemoryRepository) GetMemberByUserID(ctx context.Context, userID string) (*model.Member, error) {
	r.mu.RLock()
	id, ok := r.byUser[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrMemberNotFound
	}
	return r.GetMember(ctx, id)
}

// CreateMember регистрирует участника с нулевым балансом.
func (r *MemoryRepository) CreateMember(_ context.Context, m model.Member) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[m.UserID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberExists, m.UserID)
	}
	m.Points = 0
	m.LifetimePoints = 0
	stored := m
	r.members[m.ID] = &stored
	r.byUser[m.UserID] = m.ID
	return &m, nil
}

func (r *MemoryRepository) registerKey(t model.Transaction) error {
	if t.IdempotencyKey == "" {
		return nil
	}
	key := t.MemberID + "|" + t.IdempotencyKey
	if _, dup := r.keys[key]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, t.IdempotencyKey)
	}
	r.keys[key] = struct{}{}
	return nil
}

func (r *MemoryRepository) appendLocked(m *model.Member, t model.Transaction) error {
	if err := checkTransaction(t); err != nil {
		return err
	}
	if err := r.registerKey(t); err != nil {
		return err
	}

	r.transactions[m.ID] = append(r.transactions[m.ID], t)
	m.Points += t.Points
	if t.Points > 0 {
		m.LifetimePoints += t.Points
	}
	m.LastActivity = t.CreatedAt.UTC()
	return nil
}

// AppendTransaction добавляет запись журнала и пересчитывает баланс под блокировкой.
func (r *MemoryRepository) AppendTransaction(_ context.Context, t model.Transaction, guard Guard) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[t.MemberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	if guard != nil {
		if err := guard(*m); err != nil {
			return nil, err
		}
	}
	if m.Points+t.Points < 0 {
		return nil, ErrInsufficientBalance
	}
	if err := r.appendLocked(m, t); err != nil {
		return nil, err
	}

	cp := *m
	return &cp, nil
}

// CommitRedemption атомарно списывает баллы и сохраняет обмен с кодом.
func (r *MemoryRepository) CommitRedemption(_ context.Context, c RedemptionCommit) (*model.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[c.MemberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	if c.Validate != nil {
		if err := c.Validate(*m); err != nil {
			return nil, err
		}
	}
	if m.Points < c.Redemption.PointsUsed {
		return nil, ErrInsufficientBalance
	}
	if _, dup := r.codes[c.Redemption.Code]; dup {
		return nil, fmt.Errorf("%w: %s", ErrRedemptionCodeExists, c.Redemption.Code)
	}

	if err := r.appendLocked(m, c.Transaction); err != nil {
		return nil, err
	}
	r.codes[c.Redemption.Code] = struct{}{}
	r.redemptions[m.ID] = append(r.redemptions[m.ID], c.Redemption)

	cp := *m
	return &cp, nil
}

// ListTransactions возвращает журнал участника, новые записи первыми.
func (r *MemoryRepository) ListTransactions(_ context.Context, memberID string) ([]model.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Clone(r.transactions[memberID])
	slices.Reverse(out)
	return out, nil
}

// ListRedemptions возвращает обмены участника, новые первыми.
func (r *MemoryRepository) ListRedemptions(_ context.Context, memberID string) ([]model.Redemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := slices.Clone(r.redemptions[memberID])
	slices.Reverse(out)
	return out, nil
}

// VerifyLedger сверяет сохранённый баланс с суммой журнала.
func (r *MemoryRepository) VerifyLedger(_ context.Context, memberID string) (LedgerCheck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[memberID]
	if !ok {
		return LedgerCheck{}, ErrMemberNotFound
	}
	check := LedgerCheck{Stored: m.Points}
	for _, t := range r.transactions[memberID] {
		check.Sum += t.Points
	}
	return check, nil
}

// CreateOrder регистрирует заказ участника.
func (r *MemoryRepository) CreateOrder(_ context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
	}
	if _, ok := r.members[o.MemberID]; !ok {
		return ErrMemberNotFound
	}
	stored := o
	r.orders[o.ID] = &stored
	r.orderSeq = append(r.orderSeq, o.ID)
	return nil
}

// GetOrder возвращает копию заказа.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

// GetOrdersForAccrual возвращает до limit незавершённых заказов в порядке оформления.
func (r *MemoryRepository) GetOrdersForAccrual(_ context.Context, limit int) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Order
	for _, id := range r.orderSeq {
		if len(res) >= limit {
			break
		}
		o := r.orders[id]
		if o.Status == model.OrderStatusPending || o.Status == model.OrderStatusProcessing {
			res = append(res, *o)
		}
	}
	return res, nil
}

// UpdateOrderStatus меняет статус заказа и, если передано, начисленные баллы.
func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, id string, status model.OrderStatus, pointsAwarded *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	if pointsAwarded != nil {
		v := *pointsAwarded
		o.PointsAwarded = &v
	}
	return nil
}
