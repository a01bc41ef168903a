package reconcile

import (
	"context"
	"sync"
	"time"

	"callflow/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease gives one reconciler at a time the right to upload an artifact.
// The marker file stays the authority for "done"; the lease only narrows the
// window in which two processes can both pass the marker check.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// LeaseKey is the lease name for a conversation artifact.
func LeaseKey(artifactName string) string {
	return "reconcile:" + artifactName
}

// NoLease always grants the lease.
type NoLease struct{}

func (NoLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

// MemoryLease serialises reconcilers inside one process.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLease) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}

// RedisLease shares leases across processes and hosts.
type RedisLease struct {
	rdb redis.Cmdable
}

func NewRedisLease(rdb redis.Cmdable) *RedisLease {
	return &RedisLease{rdb: rdb}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := utils.AcquireLease(ctx, l.rdb, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = utils.ReleaseLease(ctx, l.rdb, key, token)
	}, true, nil
}
