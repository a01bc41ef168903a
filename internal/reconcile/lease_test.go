package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryLeaseExcludesUntilReleased(t *testing.T) {
	l := NewMemoryLease()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, LeaseKey("a.json"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, LeaseKey("a.json"), time.Minute); ok {
		t.Fatalf("second acquire must fail while held")
	}
	if _, ok, _ := l.Acquire(ctx, LeaseKey("b.json"), time.Minute); !ok {
		t.Fatalf("other keys are independent")
	}
	release()
	if _, ok, _ := l.Acquire(ctx, LeaseKey("a.json"), time.Minute); !ok {
		t.Fatalf("acquire after release must succeed")
	}
}

func TestMemoryLeaseExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLease()
	l.now = func() time.Time { return now }

	stale, ok, _ := l.Acquire(context.Background(), "k", time.Minute)
	if !ok {
		t.Fatalf("acquire failed")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := l.Acquire(context.Background(), "k", time.Minute); !ok {
		t.Fatalf("expired lease must be reclaimable")
	}
	// The stale holder's release must not drop the new holder's lease.
	stale()
	if _, ok, _ := l.Acquire(context.Background(), "k", time.Minute); ok {
		t.Fatalf("stale release freed a live lease")
	}
}

func TestRedisLeaseReportsConnectionErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	_, ok, err := NewRedisLease(rdb).Acquire(context.Background(), LeaseKey("a.json"), time.Minute)
	if err == nil || ok {
		t.Fatalf("expected connection error, got ok=%v err=%v", ok, err)
	}
}

func TestNoLeaseAlwaysGrants(t *testing.T) {
	release, ok, err := NoLease{}.Acquire(context.Background(), "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("NoLease refused")
	}
	release()
}
