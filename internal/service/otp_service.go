package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-dispatch-service/internal/config"
	"otp-dispatch-service/internal/model"
)

// QueueWriter is the write side of the position tracker.
type QueueWriter interface {
	Enqueue(ctx context.Context, channel model.Channel, identifier string) (seq int64, prevSeq int64, superseded bool, err error)
	Dequeue(ctx context.Context, channel model.Channel, identifier string) error
}

// CodeStore keeps issued code hashes and verify-attempt counters.
type CodeStore interface {
	SetCode(ctx context.Context, channel model.Channel, identifier, codeHash string, ttl time.Duration) error
	GetCode(ctx context.Context, channel model.Channel, identifier string) (string, error)
	DeleteCode(ctx context.Context, channel model.Channel, identifier string) error
	IncrementAttempts(ctx context.Context, channel model.Channel, identifier string, ttl time.Duration) (int, error)
}

// CodeHasher hashes codes before storage and verifies candidates.
type CodeHasher interface {
	Hash(code string) (string, error)
	Verify(code, encoded string) (bool, error)
}

// JobPublisher pushes dispatch jobs onto the job queue.
type JobPublisher interface {
	Publish(ctx context.Context, job model.DispatchJob) error
}

// OTPService issues verification codes: it generates and hashes a code,
// records the pending entry in the position tracker, and hands a dispatch
// job to the queue. A repeated request for the same identifier supersedes
// the previous one instead of duplicating it.
type OTPService struct {
	queue  QueueWriter
	codes  CodeStore
	hasher CodeHasher
	jobs   JobPublisher
	status *StatusService
	cfg    config.OTPConfig
	logger *zap.Logger
}

func NewOTPService(
	queue QueueWriter,
	codes CodeStore,
	hasher CodeHasher,
	jobs JobPublisher,
	status *StatusService,
	cfg config.OTPConfig,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		queue:  queue,
		codes:  codes,
		hasher: hasher,
		jobs:   jobs,
		status: status,
		cfg:    cfg,
		logger: logger,
	}
}

// Request issues a fresh OTP for the identifier and returns the caller's
// wait estimate. The new entry's sequence stamps the dispatch job; any
// previously pending job for the identifier becomes stale by comparison.
func (s *OTPService) Request(ctx context.Context, channel model.Channel, identifier string) (model.Estimate, error) {
	if !channel.Valid() {
		return model.Estimate{}, fmt.Errorf("%w: %q", model.ErrInvalidChannel, channel)
	}
	if identifier == "" {
		return model.Estimate{}, fmt.Errorf("identifier is required")
	}

	code, err := GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return model.Estimate{}, fmt.Errorf("failed to generate code: %w", err)
	}

	hash, err := s.hasher.Hash(code)
	if err != nil {
		return model.Estimate{}, fmt.Errorf("failed to hash code: %w", err)
	}

	if err := s.codes.SetCode(ctx, channel, identifier, hash, s.cfg.TTL); err != nil {
		return model.Estimate{}, err
	}

	seq, prevSeq, superseded, err := s.queue.Enqueue(ctx, channel, identifier)
	if err != nil {
		return model.Estimate{}, err
	}
	if superseded {
		s.logger.Debug("pending entry superseded",
			zap.String("channel", string(channel)),
			zap.String("identifier", identifier),
			zap.Int64("prev_seq", prevSeq),
			zap.Int64("seq", seq))
	}

	now := time.Now()
	job := model.DispatchJob{
		ID:         uuid.NewString(),
		Channel:    channel,
		Identifier: identifier,
		Seq:        seq,
		Attempt:    0,
		NotBefore:  now,
		Message:    renderMessage(code, s.cfg.TTL),
		EnqueuedAt: now,
	}
	if err := s.jobs.Publish(ctx, job); err != nil {
		// Without a job the entry would sit in the tracker forever.
		if derr := s.queue.Dequeue(ctx, channel, identifier); derr != nil {
			s.logger.Error("failed to roll back queue entry",
				zap.String("identifier", identifier),
				zap.Error(derr))
		}
		return model.Estimate{}, fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	pos, err := s.status.PositionOf(ctx, channel, identifier)
	if err != nil {
		// The entry may already have been served between publish and lookup.
		return s.status.EstimateAt(1, channel), nil
	}
	return s.status.EstimateAt(pos.Position, channel), nil
}

// Verify checks a candidate code. On success the stored hash is deleted and
// any still-pending dispatch entry is removed, which also marks an undelivered
// job stale.
func (s *OTPService) Verify(ctx context.Context, channel model.Channel, identifier, code string) error {
	if !channel.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidChannel, channel)
	}

	attempts, err := s.codes.IncrementAttempts(ctx, channel, identifier, s.cfg.TTL)
	if err != nil {
		return err
	}
	if attempts > s.cfg.MaxVerifyTries {
		return model.ErrTooManyAttempts
	}

	hash, err := s.codes.GetCode(ctx, channel, identifier)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(code, hash)
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		return model.ErrCodeMismatch
	}

	if err := s.codes.DeleteCode(ctx, channel, identifier); err != nil {
		s.logger.Warn("failed to delete verified code", zap.Error(err))
	}
	if err := s.queue.Dequeue(ctx, channel, identifier); err != nil {
		s.logger.Warn("failed to dequeue verified identifier", zap.Error(err))
	}
	return nil
}

// Purge removes a pending entry without dispatching (admin operation).
func (s *OTPService) Purge(ctx context.Context, channel model.Channel, identifier string) error {
	if !channel.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidChannel, channel)
	}
	return s.queue.Dequeue(ctx, channel, identifier)
}

// GenerateCode produces a numeric code of the given length using crypto/rand.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}

func renderMessage(code string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
}
