package journal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempt statuses. An attempt is PENDING from intent creation until a
// confirmation callback settles it or the expiry sweep abandons it.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusFailed    = "FAILED"
	StatusAbandoned = "ABANDONED"
)

// Store journals payment attempts in Postgres. The journal is an audit and
// reconciliation aid; it is never consulted on the confirmation hot path and
// its failures are never surfaced to the user.
type Store struct {
	Pool *pgxpool.Pool
}

// Record inserts a pending attempt for a freshly issued intent. Repeated
// inserts for the same order are ignored.
func (s *Store) Record(ctx context.Context, orderID, purpose string, amount int64) error {
	if s == nil || s.Pool == nil {
		return errors.New("journal: store not configured")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payment_attempts (order_id, purpose, amount, status)
		VALUES ($1, $2, $3, 'PENDING')
		ON CONFLICT (order_id) DO NOTHING`,
		orderID, purpose, amount)
	return err
}

// Finish settles an attempt with its terminal status and optional provider code.
func (s *Store) Finish(ctx context.Context, orderID, status, providerCode string) error {
	if s == nil || s.Pool == nil {
		return errors.New("journal: store not configured")
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE payment_attempts
		SET status = $2, provider_code = NULLIF($3, ''), updated_at = now()
		WHERE order_id = $1`,
		orderID, status, providerCode)
	return err
}

// Abandon marks a still-pending attempt abandoned. It reports whether a row
// actually transitioned, so the sweep can tell no-shows from settled attempts.
func (s *Store) Abandon(ctx context.Context, orderID string) (bool, error) {
	if s == nil || s.Pool == nil {
		return false, errors.New("journal: store not configured")
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE payment_attempts
		SET status = 'ABANDONED', updated_at = now()
		WHERE order_id = $1 AND status = 'PENDING'`,
		orderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AbandonStale sweeps every pending attempt older than the cutoff. Safety net
// for expiry tasks lost before delivery.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.Pool == nil {
		return 0, errors.New("journal: store not configured")
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE payment_attempts
		SET status = 'ABANDONED', updated_at = now()
		WHERE status = 'PENDING' AND created_at < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
