package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l, err := NewFixedWindowLimiter(client, "test", limit, time.Minute)
	require.NoError(t, err)
	return l, mr
}

func TestFixedWindowLimiter_Allow(t *testing.T) {
	l, _ := newLimiter(t, 2)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC) }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, ok, "third request in the window must be rejected")

	ok, err = l.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, ok, "other keys have their own counter")
}

func TestFixedWindowLimiter_NewWindowResets(t *testing.T) {
	l, _ := newLimiter(t, 1)
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "ip:10.0.0.1")
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixedWindowLimiter_SetsExpiry(t *testing.T) {
	l, mr := newLimiter(t, 5)
	l.now = func() time.Time { return time.UnixMilli(120_000).UTC() }

	_, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("test:k:2"))
}

func TestFixedWindowLimiter_RedisDown(t *testing.T) {
	l, mr := newLimiter(t, 5)
	mr.Close()

	ok, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewFixedWindowLimiter_Validates(t *testing.T) {
	_, err := NewFixedWindowLimiter(nil, "", 1, time.Minute)
	assert.Error(t, err)
	_, err = NewFixedWindowLimiter(redis.NewClient(&redis.Options{}), "", 0, time.Minute)
	assert.Error(t, err)
}
