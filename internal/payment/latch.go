package payment

import (
	"context"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/beanpay/internal/common"
)

// Latch is a one-shot flag armed synchronously before an asynchronous call is
// dispatched, so that two near-simultaneous invocations cannot both issue the
// call. Arm-before-await: the winner is decided before anything suspends.
type Latch struct {
	armed atomic.Bool
}

// TryArm arms the latch and reports whether the caller won. Only the first
// caller ever sees true.
func (l *Latch) TryArm() bool {
	return l.armed.CompareAndSwap(false, true)
}

// Armed reports whether the latch has been armed.
func (l *Latch) Armed() bool {
	return l.armed.Load()
}

// Guard deduplicates confirmation callbacks across requests. A replayed
// callback whose fingerprint is already claimed is surfaced as
// "already processed" instead of reaching the backend a second time.
type Guard struct {
	R   *redis.Client
	TTL time.Duration
}

// Acquire claims the callback fingerprint. It returns false when an earlier
// request already claimed it.
func (g *Guard) Acquire(ctx context.Context, fingerprint string) (bool, error) {
	if g == nil || g.R == nil {
		return true, nil
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return g.R.SetNX(ctx, g.key(fingerprint), "1", ttl).Result()
}

// Release frees the fingerprint so a later attempt may claim it again. Used
// when the confirm call failed in transport and the transaction state is
// unknown; keeping the claim would wedge the flow behind a false
// "already processed".
func (g *Guard) Release(ctx context.Context, fingerprint string) error {
	if g == nil || g.R == nil {
		return nil
	}
	return g.R.Del(ctx, g.key(fingerprint)).Err()
}

func (g *Guard) key(fingerprint string) string {
	return "confirm:" + common.Sha256Hex(fingerprint)
}
