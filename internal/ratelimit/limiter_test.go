package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krishiconnect/chat-service/pkg/logger"
)

type failingCounter struct{ err error }

func (f *failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, f.err
}

func TestLocalCounterWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewLocalCounter()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.Incr(ctx, "alice", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// separate senders count independently
	n, err := c.Incr(ctx, "bob", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// window elapses, counter resets
	now = now.Add(61 * time.Second)
	n, err = c.Incr(ctx, "alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLimiterEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewLocalCounter(), NewLocalCounter(), 10, time.Minute, logger.Nop())

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(ctx, "alice"), "send %d should be within quota", i+1)
	}
	assert.False(t, l.Allow(ctx, "alice"), "send 11 must be rejected")
	assert.True(t, l.Allow(ctx, "bob"), "other senders are unaffected")
}

func TestLimiterQuotaResetsAfterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	shared := NewLocalCounter()
	shared.now = func() time.Time { return now }
	l := NewLimiter(shared, NewLocalCounter(), 2, time.Minute, logger.Nop())

	assert.True(t, l.Allow(ctx, "alice"))
	assert.True(t, l.Allow(ctx, "alice"))
	assert.False(t, l.Allow(ctx, "alice"))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow(ctx, "alice"))
}

func TestLimiterFallsBackToLocalOnSharedFailure(t *testing.T) {
	ctx := context.Background()
	shared := &failingCounter{err: errors.New("redis: connection refused")}
	l := NewLimiter(shared, NewLocalCounter(), 2, time.Minute, logger.Nop())

	assert.True(t, l.Allow(ctx, "alice"))
	assert.True(t, l.Allow(ctx, "alice"))
	assert.False(t, l.Allow(ctx, "alice"), "local fallback still enforces the limit")
}
