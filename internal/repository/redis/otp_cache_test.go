package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-dispatch-service/internal/model"
)

func TestOTPCache_RoundTrip(t *testing.T) {
	cache := NewOTPCache(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, cache.SetCode(ctx, model.ChannelEmail, "user@example.com", "$argon2id$...", 5*time.Minute))

	hash, err := cache.GetCode(ctx, model.ChannelEmail, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$...", hash)

	require.NoError(t, cache.DeleteCode(ctx, model.ChannelEmail, "user@example.com"))

	_, err = cache.GetCode(ctx, model.ChannelEmail, "user@example.com")
	assert.ErrorIs(t, err, model.ErrCodeExpired)
}

func TestOTPCache_MissingCode(t *testing.T) {
	cache := NewOTPCache(newTestRedis(t))
	_, err := cache.GetCode(context.Background(), model.ChannelEmail, "never@example.com")
	assert.ErrorIs(t, err, model.ErrCodeExpired)
}

func TestOTPCache_AttemptsResetOnNewCode(t *testing.T) {
	cache := NewOTPCache(newTestRedis(t))
	ctx := context.Background()

	require.NoError(t, cache.SetCode(ctx, model.ChannelEmail, "user@example.com", "h1", 5*time.Minute))

	n, err := cache.IncrementAttempts(ctx, model.ChannelEmail, "user@example.com", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = cache.IncrementAttempts(ctx, model.ChannelEmail, "user@example.com", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Issuing a fresh code restores the full attempt budget.
	require.NoError(t, cache.SetCode(ctx, model.ChannelEmail, "user@example.com", "h2", 5*time.Minute))
	n, err = cache.IncrementAttempts(ctx, model.ChannelEmail, "user@example.com", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
