// Package rate: fixed window sencillo para los endpoints de auth.
package rate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// ───────────────────────── Redis ─────────────────────────

// RedisLimiter: INCR + EXPIRE por ventana. Compartible entre instancias.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix, Max: int64(max), Window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	n, err := l.Client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, err
	}
	if n == 1 {
		_ = l.Client.Expire(ctx, redisKey, l.Window).Err()
	}

	rem := l.Max - n
	if rem < 0 {
		rem = 0
	}
	return Result{
		Allowed:   n <= l.Max,
		Remaining: rem,
		ResetAt:   winStart.Add(l.Window),
	}, nil
}

// ───────────────────────── Memory ─────────────────────────

// MemoryLimiter: misma semántica, in-process (dev/testing).
type MemoryLimiter struct {
	Max    int64
	Window time.Duration

	mu   sync.Mutex
	hits map[string]int64
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{Max: int64(max), Window: window, hits: make(map[string]int64)}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	k := fmt.Sprintf("%s:%d", key, winStart.Unix())

	l.mu.Lock()
	l.hits[k]++
	n := l.hits[k]
	// poda ocasional de ventanas viejas
	if len(l.hits) > 4096 {
		for old := range l.hits {
			if !strings.HasSuffix(old, fmt.Sprintf(":%d", winStart.Unix())) {
				delete(l.hits, old)
			}
		}
	}
	l.mu.Unlock()

	rem := l.Max - n
	if rem < 0 {
		rem = 0
	}
	return Result{
		Allowed:   n <= l.Max,
		Remaining: rem,
		ResetAt:   winStart.Add(l.Window),
	}, nil
}
