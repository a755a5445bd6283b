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

const rateWindowPrefix = "otp_rate:"

// windowExpiryMillis keeps a window key alive slightly past its one-second
// accounting period so a late reader still sees the final count.
const windowExpiryMillis = 2000

// Check-and-increment must be indivisible: two workers racing inside the
// same window may never both be admitted past the limit. INCR and the
// limit comparison therefore run in one Lua script.
const rateWindowScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
    return {0, current}
end
return {1, current}
`

// RateWindowCache enforces per-channel sends-per-second limits with fixed
// one-second windows keyed by unix second; rollover is implicit in the key.
type RateWindowCache struct {
	client *client.RedisClient
	limits map[model.Channel]int

	// now is swappable so tests can pin the window key.
	now func() time.Time
}

func NewRateWindowCache(redisClient *client.RedisClient, limits map[model.Channel]int) *RateWindowCache {
	return &RateWindowCache{client: redisClient, limits: limits, now: time.Now}
}

// TryAcquire atomically claims one send slot in the current window.
// It fails closed: when Redis is unreachable the send is treated as not
// granted and the caller gets model.ErrStoreUnavailable, never a free pass.
func (c *RateWindowCache) TryAcquire(ctx context.Context, channel model.Channel) (bool, error) {
	limit := c.limits[channel]
	if limit <= 0 {
		return false, fmt.Errorf("%w: no rate limit configured for %s", model.ErrInvalidChannel, channel)
	}

	if !c.client.Available(ctx) {
		return false, model.ErrStoreUnavailable
	}

	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s%s:%d", rateWindowPrefix, channel, c.now().Unix())
	result, err := c.client.Eval(ctx, rateWindowScript, []string{key}, limit, windowExpiryMillis)
	if err != nil {
		util.Error("Rate window acquisition failed",
			zap.String("channel", string(channel)),
			zap.Error(err))
		return false, fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}

	reply, err := int64Results(result, 2)
	if err != nil {
		return false, err
	}

	granted := reply[0] == 1
	count := reply[1]

	util.Debug("Rate window check",
		zap.String("channel", string(channel)),
		zap.Bool("granted", granted),
		zap.Int64("count", count),
		zap.Int("limit", limit))

	return granted, nil
}
