package match

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// ---------- MemoryLedger ----------

func TestMemoryLedger_FirstMatchNotifies(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Now()

	if !l.ShouldNotify(context.Background(), "alice", "bob", now) {
		t.Fatal("expected first match to be notification-worthy")
	}
}

// Two match events for the same pair one minute apart must produce exactly
// one notification per side.
func TestMemoryLedger_SuppressesInsideWindow(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()

	if !l.ShouldNotify(ctx, "alice", "bob", now) {
		t.Fatal("first event: expected notify")
	}
	l.Record(ctx, "alice", "bob", now)

	again := now.Add(1 * time.Minute)
	if l.ShouldNotify(ctx, "alice", "bob", again) {
		t.Fatal("second event 1m later: expected suppression")
	}
}

func TestMemoryLedger_DirectionsAreIndependent(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()

	l.Record(ctx, "alice", "bob", now)

	// Alice's ledger suppresses alice->bob, but bob's own direction is
	// untouched.
	if l.ShouldNotify(ctx, "alice", "bob", now) {
		t.Error("alice->bob: expected suppression")
	}
	if !l.ShouldNotify(ctx, "bob", "alice", now) {
		t.Error("bob->alice: expected notify, directions are independent")
	}
}

func TestMemoryLedger_WindowElapses(t *testing.T) {
	l := NewMemoryLedgerWithWindow(10 * time.Minute)
	ctx := context.Background()
	now := time.Now()

	l.Record(ctx, "alice", "bob", now)

	if l.ShouldNotify(ctx, "alice", "bob", now.Add(9*time.Minute)) {
		t.Error("9m: expected suppression inside window")
	}
	if !l.ShouldNotify(ctx, "alice", "bob", now.Add(10*time.Minute)) {
		t.Error("10m: expected notify once window elapsed")
	}
}

func TestMemoryLedger_RecordIsIdempotentPerPair(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	now := time.Now()

	l.Record(ctx, "alice", "bob", now)
	l.Record(ctx, "alice", "bob", now.Add(time.Second))

	if len(l.notified) != 1 {
		t.Fatalf("expected a single record for the pair, got %d", len(l.notified))
	}
}

// ---------- RedisLedger ----------

// setupTestRedis connects to a test Redis instance. Requires Redis running on
// localhost:6379. Tests are skipped if unavailable.
func setupTestRedis(t *testing.T) (*redis.Client, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return rdb, ctx
}

func TestRedisLedger_NotifyThenSuppress(t *testing.T) {
	rdb, ctx := setupTestRedis(t)
	l := NewRedisLedger(rdb)
	now := time.Now()

	if !l.ShouldNotify(ctx, "alice", "bob", now) {
		t.Fatal("expected notify with no record")
	}
	l.Record(ctx, "alice", "bob", now)
	if l.ShouldNotify(ctx, "alice", "bob", now.Add(time.Minute)) {
		t.Fatal("expected suppression after record")
	}
	if !l.ShouldNotify(ctx, "bob", "alice", now) {
		t.Fatal("expected reverse direction to remain notification-worthy")
	}
}

func TestRedisLedger_RecordSetsTTL(t *testing.T) {
	rdb, ctx := setupTestRedis(t)
	l := NewRedisLedger(rdb)

	l.Record(ctx, "alice", "bob", time.Now())

	ttl, err := rdb.TTL(ctx, LedgerPrefix+"alice:bob").Result()
	if err != nil {
		t.Fatalf("TTL lookup failed: %v", err)
	}
	if ttl <= 0 || ttl > CooldownWindow {
		t.Errorf("expected TTL in (0, %v], got %v", CooldownWindow, ttl)
	}
}
