package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counter is a fixed-window counter: Incr bumps the key's count for the
// current window and returns the new total. The window resets after its
// duration elapses.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter is the authoritative shared counter: INCR plus an EXPIRE set
// when the key is first created, so the whole window is bounded regardless of
// which instance handled each send.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	redisKey := fmt.Sprintf("%s:%s", c.prefix, key)
	count, err := c.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.client.Expire(ctx, redisKey, window)
	}
	return count, nil
}

// LocalCounter is the process-local fallback. Best effort only: with N
// instances each counting locally, a sender can reach up to N times the
// configured limit.
type LocalCounter struct {
	mu      sync.Mutex
	windows map[string]*localWindow
	now     func() time.Time
}

type localWindow struct {
	count   int64
	resetAt time.Time
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{windows: make(map[string]*localWindow), now: time.Now}
}

func (c *LocalCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// Limiter bounds message sends per sender per window. The shared counter is
// preferred; on shared-store failure it degrades to the local one rather than
// refusing sends.
type Limiter struct {
	shared Counter
	local  Counter
	limit  int64
	window time.Duration
	logger *zap.SugaredLogger
}

func NewLimiter(shared, local Counter, limit int, window time.Duration, logger *zap.SugaredLogger) *Limiter {
	return &Limiter{shared: shared, local: local, limit: int64(limit), window: window, logger: logger}
}

// Allow records one send attempt for senderID and reports whether it is
// within the window's quota. Rejected attempts still count toward the window.
func (l *Limiter) Allow(ctx context.Context, senderID string) bool {
	count, err := l.shared.Incr(ctx, senderID, l.window)
	if err != nil {
		l.logger.Warnw("rate limit counter unavailable, falling back to local window",
			"sender_id", senderID, "error", err)
		count, err = l.local.Incr(ctx, senderID, l.window)
		if err != nil {
			// local counter cannot actually fail; refuse rather than open the gate
			return false
		}
	}
	return count <= l.limit
}
