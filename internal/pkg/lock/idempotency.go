package lock

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers keys that were already processed.
type IdempotencyStore interface {
	// MarkProcessed records key and reports whether this was the first time.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget removes key so a failed delivery can be retried.
	Forget(ctx context.Context, key string) error
}

type redisIdempotency struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore stores markers as expiring Redis keys.
func NewRedisIdempotencyStore(client *redis.Client) IdempotencyStore {
	return &redisIdempotency{client: client, prefix: "leadflow:idem:"}
}

func (s *redisIdempotency) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *redisIdempotency) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryIdempotencyStore keeps markers in process memory.
func NewMemoryIdempotencyStore() IdempotencyStore {
	return &memoryIdempotency{entries: make(map[string]time.Time), now: time.Now}
}

func (s *memoryIdempotency) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, k)
		}
	}
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

func (s *memoryIdempotency) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
