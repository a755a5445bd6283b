package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-dispatch-service/internal/client"
	"otp-dispatch-service/internal/model"
	"otp-dispatch-service/internal/util"
)

const metricsPrefix = "otp_metrics:"

// metricsWindowHours is the rolling reporting window.
const metricsWindowHours = 24

// metricsRetention gives every bucket one hour of slack past the reporting
// window; expiry doubles as lazy eviction.
const metricsRetention = (metricsWindowHours + 1) * time.Hour

const (
	fieldSent      = "sent"
	fieldThrottled = "throttled"
	fieldFailed    = "failed"
)

// MetricsCache keeps one hash per (channel, hour bucket) with sent,
// throttled and failed counters. Writes are append-only increments; any
// caller may read.
type MetricsCache struct {
	client *client.RedisClient
}

func NewMetricsCache(redisClient *client.RedisClient) *MetricsCache {
	return &MetricsCache{client: redisClient}
}

// BucketHour truncates a timestamp to its hour bucket.
func BucketHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// SuccessRate is sent/(sent+throttled), defined as 1.0 when both are zero.
func SuccessRate(sent, throttled int64) float64 {
	total := sent + throttled
	if total == 0 {
		return 1.0
	}
	return float64(sent) / float64(total)
}

func metricsKey(channel model.Channel, hour time.Time) string {
	return fmt.Sprintf("%s%s:%d", metricsPrefix, channel, hour.Unix())
}

func (c *MetricsCache) RecordSent(ctx context.Context, channel model.Channel) error {
	return c.increment(ctx, channel, fieldSent)
}

func (c *MetricsCache) RecordThrottled(ctx context.Context, channel model.Channel) error {
	return c.increment(ctx, channel, fieldThrottled)
}

func (c *MetricsCache) RecordFailed(ctx context.Context, channel model.Channel) error {
	return c.increment(ctx, channel, fieldFailed)
}

func (c *MetricsCache) increment(ctx context.Context, channel model.Channel, field string) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := metricsKey(channel, BucketHour(time.Now()))

	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, metricsRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to record metrics increment",
			zap.String("channel", string(channel)),
			zap.String("field", field),
			zap.Error(err))
		return fmt.Errorf("failed to record %s for %s: %w", field, channel, err)
	}
	return nil
}

// Metrics returns the last 24 hourly buckets per channel, oldest first.
// Hours without activity appear as zero-filled buckets.
func (c *MetricsCache) Metrics(ctx context.Context) (map[model.Channel][]model.MetricsBucket, error) {
	ctx, cancel := c.client.WithContext(ctx, 10*time.Second)
	defer cancel()

	hours := WindowHours(time.Now())
	out := make(map[model.Channel][]model.MetricsBucket, len(model.AllChannels()))

	for _, channel := range model.AllChannels() {
		pipe := c.client.Pipeline()
		cmds := make([]*goredis.MapStringStringCmd, 0, len(hours))
		for _, hour := range hours {
			cmds = append(cmds, pipe.HGetAll(ctx, metricsKey(channel, hour)))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to read metrics for %s: %w", channel, err)
		}

		buckets := make([]model.MetricsBucket, 0, len(hours))
		for i, hour := range hours {
			fields, err := cmds[i].Result()
			if err != nil {
				fields = map[string]string{}
			}
			buckets = append(buckets, AssembleBucket(hour, fields))
		}
		out[channel] = buckets
	}

	return out, nil
}

// WindowHours lists the 24 hour-bucket timestamps ending at now's bucket,
// oldest first.
func WindowHours(now time.Time) []time.Time {
	current := BucketHour(now)
	hours := make([]time.Time, 0, metricsWindowHours)
	for i := metricsWindowHours - 1; i >= 0; i-- {
		hours = append(hours, current.Add(-time.Duration(i)*time.Hour))
	}
	return hours
}

// AssembleBucket builds a bucket from the raw hash fields of one hour.
func AssembleBucket(hour time.Time, fields map[string]string) model.MetricsBucket {
	sent := parseCount(fields[fieldSent])
	throttled := parseCount(fields[fieldThrottled])
	failed := parseCount(fields[fieldFailed])
	return model.MetricsBucket{
		Hour:        hour,
		Sent:        sent,
		Throttled:   throttled,
		Failed:      failed,
		SuccessRate: SuccessRate(sent, throttled),
	}
}

func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
