package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/beanpay/internal/common"
	"github.com/noah-isme/beanpay/internal/obs"
	"github.com/noah-isme/beanpay/internal/upstream"
)

// ErrNoUser is returned when the calling context carries no authenticated user.
var ErrNoUser = errors.New("session: no authenticated user in context")

// Fetcher retrieves the authoritative session snapshot from the backend.
type Fetcher interface {
	Me(ctx context.Context) (upstream.Session, error)
}

// Store holds the process-wide session snapshots, keyed by user. Refresh is
// the single mutation entry point; everything else reads. A refresh failure
// leaves the previous snapshot in place (stale UI until the next natural
// refresh), it never rolls back the mutation that triggered it.
type Store struct {
	Backend Fetcher
	Logger  zerolog.Logger

	mu    sync.RWMutex
	snaps map[string]upstream.Session
}

// Refresh re-fetches the caller's snapshot. Idempotent; invoked after any
// mutation that changes entitlements (successful payment or subscription,
// handle/nickname change).
func (s *Store) Refresh(ctx context.Context) error {
	userID, ok := common.UserID(ctx)
	if !ok || userID == "" {
		return ErrNoUser
	}
	snap, err := s.Backend.Me(ctx)
	result := "success"
	if err != nil {
		result = "error"
	}
	if obs.SessionRefreshTotal != nil {
		obs.SessionRefreshTotal.WithLabelValues(result).Inc()
	}
	if err != nil {
		s.Logger.Warn().Err(err).Str("user_id", userID).Msg("session refresh failed")
		return err
	}
	s.mu.Lock()
	if s.snaps == nil {
		s.snaps = make(map[string]upstream.Session)
	}
	s.snaps[userID] = snap
	s.mu.Unlock()
	return nil
}

// Snapshot returns the caller's last refreshed snapshot, if any.
func (s *Store) Snapshot(ctx context.Context) (upstream.Session, bool) {
	userID, ok := common.UserID(ctx)
	if !ok || userID == "" {
		return upstream.Session{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, found := s.snaps[userID]
	return snap, found
}

// Invalidate drops the caller's snapshot, forcing the next read to refetch.
func (s *Store) Invalidate(ctx context.Context) {
	userID, ok := common.UserID(ctx)
	if !ok || userID == "" {
		return
	}
	s.mu.Lock()
	delete(s.snaps, userID)
	s.mu.Unlock()
}
