package match

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownWindow is how long a (owner, matched) pair stays suppressed after
// a notification fires. Each direction has its own window: notifying A about
// B does not suppress notifying B about A.
const CooldownWindow = 24 * time.Hour

// Ledger records which match pairs have already been notified. "No record"
// always means "notify"; a lookup must never fail a match flow.
type Ledger interface {
	// ShouldNotify reports whether a notification for ownerID about
	// matchedUserID is allowed at time now.
	ShouldNotify(ctx context.Context, ownerID, matchedUserID string, now time.Time) bool

	// Record marks the pair as notified at time now, starting its cooldown.
	Record(ctx context.Context, ownerID, matchedUserID string, now time.Time)
}

// ---------------------------------------------------------------------------
// In-memory ledger
// ---------------------------------------------------------------------------

// MemoryLedger is a mutex-guarded map ledger for single-instance deployments
// and tests. Expired entries are dropped lazily on lookup.
type MemoryLedger struct {
	mu       sync.Mutex
	notified map[pairKey]time.Time
	window   time.Duration
}

type pairKey struct {
	owner   string
	matched string
}

// NewMemoryLedger creates a memory ledger with the standard cooldown window.
func NewMemoryLedger() *MemoryLedger {
	return NewMemoryLedgerWithWindow(CooldownWindow)
}

// NewMemoryLedgerWithWindow creates a memory ledger with a custom window.
// Tests use short windows to exercise expiry without sleeping for a day.
func NewMemoryLedgerWithWindow(window time.Duration) *MemoryLedger {
	return &MemoryLedger{
		notified: make(map[pairKey]time.Time),
		window:   window,
	}
}

// ShouldNotify implements Ledger. The pair is directional: only the owner's
// own record is consulted.
func (l *MemoryLedger) ShouldNotify(_ context.Context, ownerID, matchedUserID string, now time.Time) bool {
	key := pairKey{owner: ownerID, matched: matchedUserID}

	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.notified[key]
	if !ok {
		return true
	}
	if now.Sub(at) >= l.window {
		delete(l.notified, key)
		return true
	}
	return false
}

// Record implements Ledger. Re-recording an existing pair restarts its
// window; there is never more than one record per direction.
func (l *MemoryLedger) Record(_ context.Context, ownerID, matchedUserID string, now time.Time) {
	l.mu.Lock()
	l.notified[pairKey{owner: ownerID, matched: matchedUserID}] = now
	l.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Redis-backed ledger
// ---------------------------------------------------------------------------

// LedgerPrefix is the Redis key prefix for notification records:
//
//	Key:   notified:<owner_id>:<matched_user_id>
//	Value: unix timestamp of the notification
//	TTL:   cooldown window
const LedgerPrefix = "notified:"

// RedisLedger stores notification records in Redis so the cooldown holds
// across server instances and restarts. Redis TTLs expire the records; no
// sweeper is needed.
type RedisLedger struct {
	client *redis.Client
	window time.Duration
}

// NewRedisLedger creates a Redis ledger with the standard cooldown window.
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, window: CooldownWindow}
}

// ShouldNotify implements Ledger. Redis errors fail open: a Redis outage may
// cause a duplicate notification but must never swallow a legitimate one.
func (l *RedisLedger) ShouldNotify(ctx context.Context, ownerID, matchedUserID string, _ time.Time) bool {
	key := LedgerPrefix + ownerID + ":" + matchedUserID

	_, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return true
	}
	if err != nil {
		log.Printf("[ledger] redis GET error key=%s: %v (failing open)", key, err)
		return true
	}
	return false
}

// Record implements Ledger. The TTL implements the cooldown window.
func (l *RedisLedger) Record(ctx context.Context, ownerID, matchedUserID string, now time.Time) {
	key := LedgerPrefix + ownerID + ":" + matchedUserID
	if err := l.client.Set(ctx, key, now.Unix(), l.window).Err(); err != nil {
		log.Printf("[ledger] redis SET error key=%s: %v", key, err)
	}
}
