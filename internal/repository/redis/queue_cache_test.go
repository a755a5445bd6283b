package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-dispatch-service/internal/model"
)

func TestQueueCache_EnqueueAssignsIncreasingSequences(t *testing.T) {
	cache := NewQueueCache(newTestRedis(t))
	ctx := context.Background()

	seqA, _, supersededA, err := cache.Enqueue(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seqA)
	assert.False(t, supersededA)

	seqB, _, supersededB, err := cache.Enqueue(ctx, model.ChannelEmail, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seqB)
	assert.False(t, supersededB)

	depth, err := cache.Depth(ctx, model.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	posA, err := cache.PositionOf(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.Position{Position: 1, TotalAhead: 0}, posA)

	posB, err := cache.PositionOf(ctx, model.ChannelEmail, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.Position{Position: 2, TotalAhead: 1}, posB)
}

func TestQueueCache_EnqueueSupersedesInsteadOfDuplicating(t *testing.T) {
	cache := NewQueueCache(newTestRedis(t))
	ctx := context.Background()

	_, _, _, err := cache.Enqueue(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	_, _, _, err = cache.Enqueue(ctx, model.ChannelEmail, "b@example.com")
	require.NoError(t, err)

	// Re-enqueueing a pending identifier moves it, surfaces the superseded
	// sequence, and never grows the queue.
	seq, prevSeq, superseded, err := cache.Enqueue(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
	assert.Equal(t, int64(1), prevSeq)
	assert.True(t, superseded)

	depth, err := cache.Depth(ctx, model.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	// The untouched entry moves to the head.
	posB, err := cache.PositionOf(ctx, model.ChannelEmail, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, posB.Position)

	posA, err := cache.PositionOf(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, posA.Position)

	current, err := cache.SequenceOf(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(3), current)
}

func TestQueueCache_DequeueIdempotent(t *testing.T) {
	cache := NewQueueCache(newTestRedis(t))
	ctx := context.Background()

	_, _, _, err := cache.Enqueue(ctx, model.ChannelEmail, "a@example.com")
	require.NoError(t, err)

	require.NoError(t, cache.Dequeue(ctx, model.ChannelEmail, "a@example.com"))

	_, err = cache.PositionOf(ctx, model.ChannelEmail, "a@example.com")
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Removing an absent entry succeeds.
	assert.NoError(t, cache.Dequeue(ctx, model.ChannelEmail, "a@example.com"))

	depth, err := cache.Depth(ctx, model.ChannelEmail)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueueCache_SequenceOfMissing(t *testing.T) {
	cache := NewQueueCache(newTestRedis(t))
	_, err := cache.SequenceOf(context.Background(), model.ChannelEmail, "ghost@example.com")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInt64Results(t *testing.T) {
	got, err := int64Results([]interface{}{int64(1), int64(2)}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)

	for _, reply := range []interface{}{
		nil,
		"OK",
		[]interface{}{int64(1)},
		[]interface{}{int64(1), "two"},
	} {
		_, err := int64Results(reply, 2)
		assert.ErrorIs(t, err, model.ErrStoreUnavailable, "reply=%v", reply)
	}
}
