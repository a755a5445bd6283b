package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-dispatch-service/internal/client"
	"otp-dispatch-service/internal/model"
)

func newTestRedis(t *testing.T) *client.RedisClient {
	t.Helper()
	srv := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return client.NewRedisClientFrom(c, time.Second)
}

func newRateWindow(t *testing.T, limits map[model.Channel]int) (*RateWindowCache, *time.Time) {
	t.Helper()
	cache := NewRateWindowCache(newTestRedis(t), limits)
	at := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return at }
	return cache, &at
}

func TestRateWindowCache_AdmitsExactlyLimitPerWindow(t *testing.T) {
	cache, _ := newRateWindow(t, map[model.Channel]int{model.ChannelWhatsApp: 2})
	ctx := context.Background()

	var grants []bool
	for i := 0; i < 3; i++ {
		ok, err := cache.TryAcquire(ctx, model.ChannelWhatsApp)
		require.NoError(t, err)
		grants = append(grants, ok)
	}

	// At limit 2/sec, three acquisitions in one window grant exactly two.
	assert.Equal(t, []bool{true, true, false}, grants)

	ok, err := cache.TryAcquire(ctx, model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.False(t, ok, "window stays exhausted for further calls")
}

func TestRateWindowCache_WindowRollover(t *testing.T) {
	cache, at := newRateWindow(t, map[model.Channel]int{model.ChannelWhatsApp: 1})
	ctx := context.Background()

	ok, err := cache.TryAcquire(ctx, model.ChannelWhatsApp)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = cache.TryAcquire(ctx, model.ChannelWhatsApp)
	require.NoError(t, err)
	require.False(t, ok)

	// The next second is a fresh window.
	*at = at.Add(time.Second)
	ok, err = cache.TryAcquire(ctx, model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateWindowCache_ChannelsIndependent(t *testing.T) {
	cache, _ := newRateWindow(t, map[model.Channel]int{
		model.ChannelEmail:    1,
		model.ChannelWhatsApp: 1,
	})
	ctx := context.Background()

	ok, err := cache.TryAcquire(ctx, model.ChannelEmail)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = cache.TryAcquire(ctx, model.ChannelEmail)
	require.NoError(t, err)
	require.False(t, ok)

	// Exhausting email leaves whatsapp untouched.
	ok, err = cache.TryAcquire(ctx, model.ChannelWhatsApp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateWindowCache_UnconfiguredChannel(t *testing.T) {
	cache, _ := newRateWindow(t, map[model.Channel]int{})
	ok, err := cache.TryAcquire(context.Background(), model.ChannelEmail)
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrInvalidChannel)
}

func TestRateWindowCache_FailsClosedWhenStoreDown(t *testing.T) {
	srv := miniredis.RunT(t)
	c := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	cache := NewRateWindowCache(client.NewRedisClientFrom(c, 10*time.Millisecond),
		map[model.Channel]int{model.ChannelEmail: 5})
	srv.Close()

	ok, err := cache.TryAcquire(context.Background(), model.ChannelEmail)
	assert.False(t, ok, "unreachable store must never grant")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
