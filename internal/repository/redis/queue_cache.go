package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/client"
	"otp-dispatch-service/internal/model"
	"otp-dispatch-service/internal/util"
)

const (
	queuePrefix    = "otp_queue:"
	queueSeqPrefix = "otp_queue_seq:"
)

// Enqueue is an atomic upsert: a fresh sequence is always assigned, an
// existing entry for the identifier is moved rather than duplicated, and
// the superseded sequence (if any) is returned so the caller can mark the
// old job stale.
const enqueueScript = `
local prev = redis.call('ZSCORE', KEYS[1], ARGV[1])
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, ARGV[1])
if prev then
    return {seq, 1, tonumber(prev)}
end
return {seq, 0, 0}
`

// QueueCache is the per-channel waiting list: a sorted set scored by a
// monotonically increasing sequence, member = recipient identifier.
// At most one pending entry exists per (channel, identifier).
type QueueCache struct {
	client *client.RedisClient
}

func NewQueueCache(redisClient *client.RedisClient) *QueueCache {
	return &QueueCache{client: redisClient}
}

func queueKey(channel model.Channel) string {
	return queuePrefix + string(channel)
}

func seqKey(channel model.Channel) string {
	return queueSeqPrefix + string(channel)
}

// Enqueue adds or moves the identifier's entry and returns the assigned
// sequence plus the previous sequence when an entry was superseded.
func (c *QueueCache) Enqueue(ctx context.Context, channel model.Channel, identifier string) (seq int64, prevSeq int64, superseded bool, err error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	result, err := c.client.Eval(ctx, enqueueScript,
		[]string{queueKey(channel), seqKey(channel)}, identifier)
	if err != nil {
		util.Error("Failed to enqueue identifier",
			zap.String("channel", string(channel)),
			zap.String("identifier", identifier),
			zap.Error(err))
		return 0, 0, false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	reply, err := int64Results(result, 3)
	if err != nil {
		return 0, 0, false, err
	}

	seq = reply[0]
	superseded = reply[1] == 1
	prevSeq = reply[2]

	util.Debug("Identifier enqueued",
		zap.String("channel", string(channel)),
		zap.String("identifier", identifier),
		zap.Int64("seq", seq),
		zap.Bool("superseded", superseded))

	return seq, prevSeq, superseded, nil
}

// PositionOf reports the identifier's 1-based rank among pending entries.
func (c *QueueCache) PositionOf(ctx context.Context, channel model.Channel, identifier string) (model.Position, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	rank, err := c.client.ZRank(ctx, queueKey(channel), identifier)
	if err != nil {
		if client.IsNotFound(err) {
			return model.Position{}, model.ErrNotFound
		}
		return model.Position{}, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	return model.Position{
		Position:   int(rank) + 1,
		TotalAhead: int(rank),
	}, nil
}

// SequenceOf returns the current sequence stamp for the identifier, used by
// the dispatch coordinator to detect stale jobs.
func (c *QueueCache) SequenceOf(ctx context.Context, channel model.Channel, identifier string) (int64, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	score, err := c.client.ZScore(ctx, queueKey(channel), identifier)
	if err != nil {
		if client.IsNotFound(err) {
			return 0, model.ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return int64(score), nil
}

// Dequeue removes the identifier's entry. Removing an absent entry is not
// an error.
func (c *QueueCache) Dequeue(ctx context.Context, channel model.Channel, identifier string) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.ZRem(ctx, queueKey(channel), identifier); err != nil {
		util.Error("Failed to dequeue identifier",
			zap.String("channel", string(channel)),
			zap.String("identifier", identifier),
			zap.Error(err))
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return nil
}

// Depth returns the number of pending entries for the channel.
func (c *QueueCache) Depth(ctx context.Context, channel model.Channel) (int64, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	depth, err := c.client.ZCard(ctx, queueKey(channel))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return depth, nil
}
