package callback

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/taskflow/redis"
)

// DefaultDedupeTTL bounds how long a delivered callback is remembered.
const DefaultDedupeTTL = 24 * time.Hour

// DedupeStore remembers which callbacks were already forwarded.
type DedupeStore interface {
	// Claim records key and reports whether this call was the first.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a retry can claim it again.
	Release(ctx context.Context, key string) error
}

// RedisDedupe claims keys with SETNX so every replica sees the same claims.
type RedisDedupe struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDedupe(client *redis.Client, ttl time.Duration) *RedisDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDedupe{client: client, prefix: "taskflow:cb:", ttl: ttl}
}

func (d *RedisDedupe) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, "1", d.ttl)
}

func (d *RedisDedupe) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key)
}

// MemoryDedupe is a process-local DedupeStore.
type MemoryDedupe struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryDedupe(ttl time.Duration) *MemoryDedupe {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDedupe{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *MemoryDedupe) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	if len(d.seen)%1024 == 0 {
		for k, exp := range d.seen {
			if !now.Before(exp) {
				delete(d.seen, k)
			}
		}
	}
	return true, nil
}

func (d *MemoryDedupe) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}
