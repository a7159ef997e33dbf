package cache

import (
	"context"
	"testing"
	"time"

	"MusicFlow/core/reset"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	assert.NoError(t, TestRedis(context.Background(), client))
	assert.Error(t, TestRedis(context.Background(), nil))
}

func TestResetCacheToken(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewResetCache(client)
	ctx := context.Background()

	require.NoError(t, c.SaveToken(ctx, "tok", 42, 2*time.Minute))
	assert.True(t, mr.Exists("reset:token:tok"))

	id, err := c.TakeToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = c.TakeToken(ctx, "tok")
	assert.ErrorIs(t, err, reset.ErrNotFound, "tokens are single use")

	require.NoError(t, c.SaveToken(ctx, "old", 42, 2*time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err = c.TakeToken(ctx, "old")
	assert.ErrorIs(t, err, reset.ErrNotFound)

	require.NoError(t, c.SaveToken(ctx, "gone", 1, time.Minute))
	require.NoError(t, c.DeleteToken(ctx, "gone"))
	_, err = c.TakeToken(ctx, "gone")
	assert.ErrorIs(t, err, reset.ErrNotFound)
}

func TestResetCacheCode(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewResetCache(client)
	ctx := context.Background()

	_, err := c.FailAttempt(ctx, 7)
	assert.ErrorIs(t, err, reset.ErrNotFound)

	require.NoError(t, c.SaveCode(ctx, 7, "hash-1", 2*time.Minute))
	n, err := c.FailAttempt(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, _ = c.FailAttempt(ctx, 7)
	assert.Equal(t, 2, n)

	hash, attempts, err := c.Code(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", hash)
	assert.Equal(t, 2, attempts)

	// a new code starts over
	require.NoError(t, c.SaveCode(ctx, 7, "hash-2", 2*time.Minute))
	hash, attempts, _ = c.Code(ctx, 7)
	assert.Equal(t, "hash-2", hash)
	assert.Zero(t, attempts)

	mr.FastForward(2 * time.Minute)
	_, _, err = c.Code(ctx, 7)
	assert.ErrorIs(t, err, reset.ErrNotFound)

	require.NoError(t, c.SaveCode(ctx, 8, "h", time.Minute))
	require.NoError(t, c.DeleteCode(ctx, 8))
	_, _, err = c.Code(ctx, 8)
	assert.ErrorIs(t, err, reset.ErrNotFound)
}

func TestResetCacheWithoutClient(t *testing.T) {
	c := NewResetCache(nil)
	assert.Error(t, c.SaveToken(context.Background(), "t", 1, time.Minute))
	_, _, err := c.Code(context.Background(), 1)
	assert.Error(t, err)
}

func TestPageCache(t *testing.T) {
	mr, client := newTestRedis(t)
	c := NewPageCache(client)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "client-a", "sidebarState")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "client-a", "sidebarState", "collapsed"))
	require.NoError(t, c.Set(ctx, "client-a", "musicflow_volume", "0.4"))
	assert.Equal(t, pageStateTTL, mr.TTL("pagestate:client-a"))

	v, ok, err := c.Get(ctx, "client-a", "sidebarState")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "collapsed", v)

	_, ok, _ = c.Get(ctx, "client-b", "sidebarState")
	assert.False(t, ok, "state is per client")

	require.NoError(t, c.Delete(ctx, "client-a", "sidebarState", "musicflow_volume"))
	_, ok, _ = c.Get(ctx, "client-a", "musicflow_volume")
	assert.False(t, ok)
	assert.NoError(t, c.Delete(ctx, "client-a"))
}

func TestRedisLimiter(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "login:1.2.3.4")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "login:5.6.7.8")
	assert.True(t, ok, "keys are independent")

	mr.FastForward(time.Minute)
	ok, _ = l.Allow(ctx, "login:1.2.3.4")
	assert.True(t, ok, "window expired")

	l.SetLimit(1, time.Minute)
	ok, _ = l.Allow(ctx, "login:1.2.3.4")
	assert.False(t, ok)
}

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "other")
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok, "one token refilled")

	l.SetLimit(0, time.Minute)
	ok, _ = l.Allow(ctx, "other")
	assert.False(t, ok)
}

func TestRedisLimiterAlwaysSetsTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewRedisLimiter(client, 3, time.Minute)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "login:9.9.9.9")
	require.NoError(t, err)
	assert.True(t, ok)
	key := "ratelimit:login:9.9.9.9"
	assert.Equal(t, time.Minute, mr.TTL(key))

	// 后续尝试不延长窗口
	mr.FastForward(20 * time.Second)
	_, err = l.Allow(ctx, "login:9.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, mr.TTL(key))
	v, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(1, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for _, ip := range []string{"a", "b", "c"} {
		ok, _ := l.Allow(ctx, ip)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 3, l.Len())

	now = now.Add(30 * time.Second)
	l.Allow(ctx, "a")
	assert.Equal(t, 3, l.Len(), "nothing idle for a full window yet")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "d")
	assert.True(t, ok)
	assert.Equal(t, 1, l.Len(), "idle buckets dropped")

	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "evicted key starts with a full bucket")
}
