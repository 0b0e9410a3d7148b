package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/edbns/Stefna-sub010/internal/model"
	"github.com/edbns/Stefna-sub010/internal/service"
)

var _ service.LedgerService = (*LedgerRepo)(nil)

var (
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrNotFound              = errors.New("ledger entry not found")
	ErrAccountNotProvisioned = errors.New("account has no balance row")
)

// staleSweepLimit bounds one reconciler batch so a backlog of stranded
// holds cannot stall a single sweep.
const staleSweepLimit = 500

// LedgerRepo holds ledger state in PostgreSQL. Redis only caches the
// derived daily-usage figure; balances and entries never live outside
// the relational store.
type LedgerRepo struct {
	db       *pgxpool.Pool
	cache    *redis.Client
	bus      MessageBus
	dailyCap int64
}

func NewLedgerRepo(db *pgxpool.Pool, cache *redis.Client, bus MessageBus, dailyCap int64) *LedgerRepo {
	if bus == nil {
		bus = NoopBus{}
	}
	return &LedgerRepo{
		db:       db,
		cache:    cache,
		bus:      bus,
		dailyCap: dailyCap,
	}
}

// Reserve places a hold: one reserved ledger row plus a conditional debit,
// in a single transaction. The conditional UPDATE is the overdraft guard;
// serialization conflicts are retried a bounded number of times.
func (r *LedgerRepo) Reserve(ctx context.Context, req model.ReserveRequest) (*model.ReserveResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var res *model.ReserveResult
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := r.reserveTx(ctx, req)
		if err != nil {
			if isSerializationFailure(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Status == model.ReserveStatusReserved {
		r.publish(ctx, "ledger.reserved", model.LedgerEvent{
			Type:      "reserved",
			UserID:    req.UserID,
			RequestID: req.RequestID,
			Action:    req.Action,
			Amount:    -req.Cost,
			CreatedAt: time.Now().UTC(),
		})
	}
	return res, nil
}

func (r *LedgerRepo) reserveTx(ctx context.Context, req model.ReserveRequest) (*model.ReserveResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, request_id, action, amount, status)
		VALUES ($1, $2, $3, $4, 'reserved')
		ON CONFLICT (user_id, request_id) DO NOTHING`,
		req.UserID, req.RequestID, req.Action, -req.Cost,
	)
	if err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Retried request: the hold already exists. Report current state
		// without touching the ledger again.
		var balance int64
		err := tx.QueryRow(ctx,
			`SELECT balance FROM balances WHERE user_id = $1`, req.UserID,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotProvisioned
		}
		if err != nil {
			return nil, fmt.Errorf("read balance: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit reserve tx: %w", err)
		}
		return &model.ReserveResult{Balance: balance, Status: model.ReserveStatusDuplicate}, nil
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE balances
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`,
		req.UserID, req.Cost,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conditional debit matched no row: either the account was never
		// provisioned or it cannot cover the cost. Rolling back discards
		// the provisional entry, so a failed attempt leaves no trace.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM balances WHERE user_id = $1)`, req.UserID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check balance row: %w", err)
		}
		if !exists {
			return nil, ErrAccountNotProvisioned
		}
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve tx: %w", err)
	}
	return &model.ReserveResult{Balance: balance, Status: model.ReserveStatusReserved}, nil
}

// Finalize flips a reserved entry to committed or refunded. A refund also
// restores the held amount in the same transaction. Entries already
// finalized are left untouched, so racing triggers (provider callback vs
// timeout reconciler) are harmless.
func (r *LedgerRepo) Finalize(ctx context.Context, req model.FinalizeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		id     int64
		amount int64
		action string
		status model.Status
	)
	err = tx.QueryRow(ctx, `
		SELECT id, amount, action, status
		FROM ledger_entries
		WHERE user_id = $1 AND request_id = $2
		FOR UPDATE`,
		req.UserID, req.RequestID,
	).Scan(&id, &amount, &action, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load ledger entry: %w", err)
	}

	if status != model.StatusReserved {
		return nil
	}

	switch req.Outcome {
	case model.OutcomeCommit:
		if _, err := tx.Exec(ctx,
			`UPDATE ledger_entries SET status = 'committed' WHERE id = $1`, id,
		); err != nil {
			return fmt.Errorf("commit entry: %w", err)
		}
	case model.OutcomeRefund:
		if _, err := tx.Exec(ctx,
			`UPDATE ledger_entries SET status = 'refunded' WHERE id = $1`, id,
		); err != nil {
			return fmt.Errorf("refund entry: %w", err)
		}
		// amount is negative for debits; adding -amount restores the hold.
		if _, err := tx.Exec(ctx, `
			UPDATE balances
			SET balance = balance + $2, updated_at = now()
			WHERE user_id = $1`,
			req.UserID, -amount,
		); err != nil {
			return fmt.Errorf("restore balance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize tx: %w", err)
	}

	ev := model.LedgerEvent{
		UserID:    req.UserID,
		RequestID: req.RequestID,
		Action:    action,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if req.Outcome == model.OutcomeCommit {
		// The committed entry now counts against today's quota.
		r.invalidateUsage(ctx, req.UserID)
		ev.Type = "committed"
		r.publish(ctx, "ledger.committed", ev)
	} else {
		ev.Type = "refunded"
		r.publish(ctx, "ledger.refunded", ev)
	}
	return nil
}

// Grant credits the user, provisioning the balance row on first grant.
// The granted ledger row gets a server-generated request id; the
// (user_id, request_id) unique index applies to grants too.
func (r *LedgerRepo) Grant(ctx context.Context, req model.GrantRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	meta := req.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO balances (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = balances.balance + EXCLUDED.balance, updated_at = now()`,
		req.UserID, req.Amount,
	); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}

	requestID := "grant-" + uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, request_id, action, amount, status, meta)
		VALUES ($1, $2, $3, $4, 'granted', $5)`,
		req.UserID, requestID, req.Reason, req.Amount, meta,
	); err != nil {
		return fmt.Errorf("insert grant entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit grant tx: %w", err)
	}

	r.publish(ctx, "ledger.granted", model.LedgerEvent{
		Type:      "granted",
		UserID:    req.UserID,
		RequestID: requestID,
		Action:    req.Reason,
		Amount:    req.Amount,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// AllowedToday is the advisory quota check performed before Reserve.
// Only committed entries count, so in-flight reservations never block
// a user whose downstream jobs are slow.
func (r *LedgerRepo) AllowedToday(ctx context.Context, userID string, cost int64) (bool, error) {
	used, err := r.DailyUsage(ctx, userID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return used+cost <= r.dailyCap, nil
}

// DailyUsage sums committed debits for the given UTC calendar day, with a
// Redis read-through cache expiring at the next midnight. The cache is
// best-effort: on any cache error we fall back to the store.
func (r *LedgerRepo) DailyUsage(ctx context.Context, userID string, day time.Time) (int64, error) {
	start, end := dayBoundsUTC(day)
	key := usageKey(userID, start)

	if r.cache != nil {
		v, err := r.cache.Get(ctx, key).Int64()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, redis.Nil) {
			slog.Warn("usage cache read failed, falling back to store",
				"user_id", userID, "error", err)
		}
	}

	var used int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(-amount), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND status = 'committed'
		  AND created_at >= $2 AND created_at < $3`,
		userID, start, end,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("sum daily usage: %w", err)
	}

	if r.cache != nil {
		if ttl := time.Until(end); ttl > 0 {
			if err := r.cache.Set(ctx, key, used, ttl).Err(); err != nil {
				slog.Warn("usage cache write failed", "user_id", userID, "error", err)
			}
		}
	}
	return used, nil
}

func (r *LedgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT balance FROM balances WHERE user_id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotProvisioned
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// StaleReservations lists holds older than olderThan that were never
// finalized. The reconciler refunds each one through Finalize.
func (r *LedgerRepo) StaleReservations(ctx context.Context, olderThan time.Duration) ([]model.ReservationRef, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.db.Query(ctx, `
		SELECT user_id, request_id
		FROM ledger_entries
		WHERE status = 'reserved' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		cutoff, staleSweepLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	defer rows.Close()

	var refs []model.ReservationRef
	for rows.Next() {
		var ref model.ReservationRef
		if err := rows.Scan(&ref.UserID, &ref.RequestID); err != nil {
			return nil, fmt.Errorf("scan stale reservation: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale reservations: %w", err)
	}
	return refs, nil
}

func (r *LedgerRepo) publish(ctx context.Context, topic string, ev model.LedgerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.bus.Publish(topic, data); err != nil {
		slog.Warn("bus publish failed", "topic", topic, "error", err)
	}
}

func (r *LedgerRepo) invalidateUsage(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	start, _ := dayBoundsUTC(time.Now().UTC())
	if err := r.cache.Del(ctx, usageKey(userID, start)).Err(); err != nil {
		slog.Warn("usage cache invalidation failed", "user_id", userID, "error", err)
	}
}

func dayBoundsUTC(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func usageKey(userID string, day time.Time) string {
	return fmt.Sprintf("usage:%s:%s", userID, day.Format("2006-01-02"))
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
