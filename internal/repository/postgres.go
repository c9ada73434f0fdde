package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	redemptionCodeIndex = "redemptions_code_idx"
	idempotencyIndex    = "transactions_idempotency_idx"
	memberColumns       = `id, user_id, points, lifetime_points, joined_at, last_activity, birth_month, birth_day`
)

// PostgresRepository предоставляет доступ к журналу баллов в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(delays) {
			return err
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Сериализационные конфликты и дедлоки безопасно повторять: транзакция откатана целиком.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanMember(row pgx.Row) (*model.Member, error) {
	var (
		m          model.Member
		birthMonth *int
		birthDay   *int
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.Points, &m.LifetimePoints, &m.JoinedAt, &m.LastActivity, &birthMonth, &birthDay); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	m.JoinedAt = m.JoinedAt.UTC()
	m.LastActivity = m.LastActivity.UTC()
	m.BirthMonth = birthMonth
	m.BirthDay = birthDay
	return &m, nil
}

// GetMember возвращает участника по идентификатору.
func (r *PostgresRepository) GetMember(ctx context.Context, id string) (*model.Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, err
}

// GetMemberByUserID возвращает участника по идентификатору внешнего пользователя.
func (r *PostgresRepository) GetMemberByUserID(ctx context.Context, userID string) (*model.Member, error) {
	m, err := scanMember(r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE user_id = $1`, userID))
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, fmt.Errorf("get member by user: %w", err)
	}
	return m, err
}

// CreateMember регистрирует участника с нулевым балансом.
func (r *PostgresRepository) CreateMember(ctx context.Context, m model.Member) (*model.Member, error) {
	m.Points = 0
	m.LifetimePoints = 0

	_, err := r.pool.Exec(ctx,
		`INSERT INTO members (id, user_id, points, lifetime_points, joined_at, last_activity, birth_month, birth_day)
		 VALUES ($1, $2, 0, 0, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.JoinedAt, m.LastActivity, m.BirthMonth, m.BirthDay,
	)
	if err != nil {
		if uniqueViolation(err, "") {
			return nil, fmt.Errorf("%w: %s", ErrMemberExists, m.UserID)
		}
		return nil, fmt.Errorf("create member: %w", err)
	}

	return &m, nil
}

func lockMember(ctx context.Context, tx pgx.Tx, memberID string) (*model.Member, error) {
	// Блокировка строки участника сериализует все изменения его баланса.
	m, err := scanMember(tx.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, memberID))
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, fmt.Errorf("lock member for update: %w", err)
	}
	return m, err
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t model.Transaction) error {
	if err := checkTransaction(t); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, member_id, type, points, description, order_id, reward_id, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.MemberID, string(t.Type), t.Points, t.Description,
		nullIfEmpty(t.OrderID), nullIfEmpty(t.RewardID), nullIfEmpty(t.IdempotencyKey), t.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err, idempotencyIndex) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, t.IdempotencyKey)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func applyDelta(ctx context.Context, tx pgx.Tx, m *model.Member, delta int64, at time.Time) error {
	m.Points += delta
	if delta > 0 {
		m.LifetimePoints += delta
	}
	m.LastActivity = at.UTC()

	_, err := tx.Exec(ctx,
		`UPDATE members SET points = $2, lifetime_points = $3, last_activity = $4 WHERE id = $1`,
		m.ID, m.Points, m.LifetimePoints, m.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("update member balance: %w", err)
	}
	return nil
}

// AppendTransaction добавляет запись в журнал и меняет баланс участника в одной транзакции БД.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, t model.Transaction, guard Guard) (*model.Member, error) {
	var updated *model.Member
	err := r.withRetry(ctx, func() error {
		var err error
		updated, err = r.appendTransaction(ctx, t, guard)
		return err
	})
	return updated, err
}

func (r *PostgresRepository) appendTransaction(ctx context.Context, t model.Transaction, guard Guard) (*model.Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := lockMember(ctx, tx, t.MemberID)
	if err != nil {
		return nil, err
	}
	if guard != nil {
		if err := guard(*m); err != nil {
			return nil, err
		}
	}
	if m.Points+t.Points < 0 {
		return nil, ErrInsufficientBalance
	}

	if err := insertTransaction(ctx, tx, t); err != nil {
		return nil, err
	}
	if err := applyDelta(ctx, tx, m, t.Points, t.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return m, nil
}

// CommitRedemption атомарно списывает баллы, записывает транзакцию и создаёт награду.
func (r *PostgresRepository) CommitRedemption(ctx context.Context, c RedemptionCommit) (*model.Member, error) {
	var updated *model.Member
	err := r.withRetry(ctx, func() error {
		var err error
		updated, err = r.commitRedemption(ctx, c)
		return err
	})
	return updated, err
}

func (r *PostgresRepository) commitRedemption(ctx context.Context, c RedemptionCommit) (*model.Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := lockMember(ctx, tx, c.MemberID)
	if err != nil {
		return nil, err
	}
	if c.Validate != nil {
		if err := c.Validate(*m); err != nil {
			return nil, err
		}
	}
	if m.Points < c.Redemption.PointsUsed {
		return nil, ErrInsufficientBalance
	}

	if err := insertTransaction(ctx, tx, c.Transaction); err != nil {
		return nil, err
	}

	red := c.Redemption
	_, err = tx.Exec(ctx,
		`INSERT INTO redemptions (id, member_id, reward_id, transaction_id, points_used, redeemed_at, expires_at, used, used_at, code)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		red.ID, red.MemberID, red.RewardID, c.Transaction.ID, red.PointsUsed, red.RedeemedAt, red.ExpiresAt, red.Used, red.UsedAt, red.Code,
	)
	if err != nil {
		if uniqueViolation(err, redemptionCodeIndex) {
			return nil, fmt.Errorf("%w: %s", ErrRedemptionCodeExists, red.Code)
		}
		return nil, fmt.Errorf("insert redemption: %w", err)
	}

	if err := applyDelta(ctx, tx, m, -red.PointsUsed, red.RedeemedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return m, nil
}

// ListTransactions возвращает журнал участника, новые записи первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, memberID string) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, type, points, description, COALESCE(order_id, ''), COALESCE(reward_id, ''), created_at
		 FROM transactions
		 WHERE member_id = $1
		 ORDER BY created_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t   model.Transaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.MemberID, &typ, &t.Points, &t.Description, &t.OrderID, &t.RewardID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(typ)
		t.CreatedAt = t.CreatedAt.UTC()
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRedemptions возвращает награды участника, новые первыми.
func (r *PostgresRepository) ListRedemptions(ctx context.Context, memberID string) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, reward_id, points_used, redeemed_at, expires_at, used, used_at, code
		 FROM redemptions
		 WHERE member_id = $1
		 ORDER BY redeemed_at DESC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("select redemptions: %w", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var red model.Redemption
		if err := rows.Scan(&red.ID, &red.MemberID, &red.RewardID, &red.PointsUsed, &red.RedeemedAt,
			&red.ExpiresAt, &red.Used, &red.UsedAt, &red.Code); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		red.RedeemedAt = red.RedeemedAt.UTC()
		red.ExpiresAt = utcPtr(red.ExpiresAt)
		red.UsedAt = utcPtr(red.UsedAt)
		res = append(res, red)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// VerifyLedger сверяет сохранённый баланс участника с суммой записей журнала.
func (r *PostgresRepository) VerifyLedger(ctx context.Context, memberID string) (LedgerCheck, error) {
	var check LedgerCheck
	err := r.pool.QueryRow(ctx,
		`SELECT m.points, COALESCE((SELECT SUM(t.points) FROM transactions t WHERE t.member_id = m.id), 0)
		 FROM members m
		 WHERE m.id = $1`,
		memberID,
	).Scan(&check.Stored, &check.Sum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerCheck{}, ErrMemberNotFound
		}
		return LedgerCheck{}, fmt.Errorf("verify ledger: %w", err)
	}
	return check, nil
}

// CreateOrder регистрирует заказ, ожидающий начисления баллов.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, member_id, amount_cents, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.MemberID, toCents(o.Amount), string(o.Status), o.CreatedAt,
	)
	if err != nil {
		if uniqueViolation(err, "") {
			return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по номеру.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, amount_cents, status, points_awarded, created_at FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("select order: %w", err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrOrderNotFound
	}
	return &orders[0], nil
}

// GetOrdersForAccrual возвращает заказы, по которым нужно запросить статус.
func (r *PostgresRepository) GetOrdersForAccrual(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, amount_cents, status, points_awarded, created_at
		 FROM orders
		 WHERE status IN ($1, $2)
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending),
		string(model.OrderStatusProcessing),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for accrual: %w", err)
	}
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var (
			o      model.Order
			cents  int64
			status string
		)
		if err := rows.Scan(&o.ID, &o.MemberID, &cents, &status, &o.PointsAwarded, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Amount = decimal.New(cents, -2)
		o.Status = model.OrderStatus(status)
		o.CreatedAt = o.CreatedAt.UTC()
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus обновляет статус заказа и число начисленных баллов.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus, pointsAwarded *int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, points_awarded = COALESCE($3, points_awarded) WHERE id = $1`,
		id, string(status), pointsAwarded,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
