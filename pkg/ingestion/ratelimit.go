package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RateLimiter caps how many events one source system may submit per window.
type RateLimiter interface {
	Allow(ctx context.Context, sourceSystem string) (bool, error)
}

// NoopLimiter accepts everything; the default when no limit is configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// RedisLimiter is a fixed-window counter shared across API replicas.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
}

func NewRedisLimiter(redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisLimiter{
		client: redis.NewClient(opts),
		limit:  int64(limit),
		window: window,
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, sourceSystem string) (bool, error) {
	bucket := time.Now().UTC().Truncate(l.window).Unix()
	key := fmt.Sprintf("sentinel:ratelimit:%s:%d", sourceSystem, bucket)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("failed to expire rate limit counter: %w", err)
		}
	}

	return count <= l.limit, nil
}

func (l *RedisLimiter) Close() error { return l.client.Close() }

// LocalLimiter is the in-process fixed-window fallback used when no Redis is
// configured but a limit is.
type LocalLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	bucket int64
	limit  int64
	window time.Duration
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		counts: make(map[string]int64),
		limit:  int64(limit),
		window: window,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, sourceSystem string) (bool, error) {
	bucket := time.Now().UTC().Truncate(l.window).Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket != l.bucket {
		l.bucket = bucket
		l.counts = make(map[string]int64)
	}

	l.counts[sourceSystem]++

	return l.counts[sourceSystem] <= l.limit, nil
}
