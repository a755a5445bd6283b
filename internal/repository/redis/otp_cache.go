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
	otpPrefix        = "otp_code:"
	otpAttemptPrefix = "otp_attempts:"
)

// OTPCache stores issued code hashes and verification attempt counters,
// both expiring with the code TTL. Only hashes ever touch Redis; the
// plaintext code lives solely in the dispatch payload.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(redisClient *client.RedisClient) *OTPCache {
	return &OTPCache{client: redisClient}
}

func codeKey(channel model.Channel, identifier string) string {
	return fmt.Sprintf("%s%s:%s", otpPrefix, channel, identifier)
}

func attemptKey(channel model.Channel, identifier string) string {
	return fmt.Sprintf("%s%s:%s", otpAttemptPrefix, channel, identifier)
}

func (c *OTPCache) SetCode(ctx context.Context, channel model.Channel, identifier, codeHash string, ttl time.Duration) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	key := codeKey(channel, identifier)
	if err := c.client.Set(ctx, key, codeHash, ttl); err != nil {
		util.Error("Failed to store OTP hash",
			zap.String("channel", string(channel)),
			zap.String("identifier", identifier),
			zap.Error(err))
		return fmt.Errorf("failed to store OTP hash: %w", err)
	}

	// A fresh code resets the attempt budget.
	_ = c.client.Del(ctx, attemptKey(channel, identifier))

	util.Debug("OTP hash cached",
		zap.String("channel", string(channel)),
		zap.String("identifier", identifier),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *OTPCache) GetCode(ctx context.Context, channel model.Channel, identifier string) (string, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	hash, err := c.client.Get(ctx, codeKey(channel, identifier))
	if err != nil {
		if client.IsNotFound(err) {
			return "", model.ErrCodeExpired
		}
		return "", fmt.Errorf("failed to get OTP hash: %w", err)
	}
	return hash, nil
}

func (c *OTPCache) DeleteCode(ctx context.Context, channel model.Channel, identifier string) error {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	keys := []string{codeKey(channel, identifier), attemptKey(channel, identifier)}
	if err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete OTP hash",
			zap.String("channel", string(channel)),
			zap.String("identifier", identifier),
			zap.Error(err))
		return fmt.Errorf("failed to delete OTP hash: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the verification attempt counter and returns the
// new count. The counter expires alongside the code.
func (c *OTPCache) IncrementAttempts(ctx context.Context, channel model.Channel, identifier string, ttl time.Duration) (int, error) {
	ctx, cancel := c.client.WithContext(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, attemptKey(channel, identifier), ttl)
	if err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("channel", string(channel)),
			zap.String("identifier", identifier),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	return int(count), nil
}
