package streaming

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLease(t *testing.T, l Lease, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()
	key := newKey()

	ok, err := l.Acquire(ctx, key, "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, key, "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held by another owner")

	ok, err = l.Refresh(ctx, key, "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner refreshes")

	require.NoError(t, l.Release(ctx, key, "b"))
	ok, err = l.Acquire(ctx, key, "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is ignored")

	require.NoError(t, l.Release(ctx, key, "a"))
	ok, err = l.Acquire(ctx, key, "b", 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	advance(100 * time.Millisecond)
	ok, err = l.Acquire(ctx, key, "c", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken")
}

func TestMemoryLease(t *testing.T) {
	l := NewMemoryLease()
	now := time.Now()
	l.now = func() time.Time { return now }
	exerciseLease(t, l, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisLease(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	exerciseLease(t, NewRedisLease(client), time.Sleep)
}
