package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/model"
)

// QueueReader is the read side of the position tracker.
type QueueReader interface {
	PositionOf(ctx context.Context, channel model.Channel, identifier string) (model.Position, error)
	Depth(ctx context.Context, channel model.Channel) (int64, error)
}

// MetricsReader serves the rolling 24-hour dispatch metrics.
type MetricsReader interface {
	Metrics(ctx context.Context) (map[model.Channel][]model.MetricsBucket, error)
}

// StatusService answers queue visibility queries: position, wait estimate,
// aggregate status, and the admin metrics view.
type StatusService struct {
	queue   QueueReader
	metrics MetricsReader
	limits  map[model.Channel]int
	logger  *zap.Logger
}

func NewStatusService(queue QueueReader, metrics MetricsReader, limits map[model.Channel]int, logger *zap.Logger) *StatusService {
	return &StatusService{
		queue:   queue,
		metrics: metrics,
		limits:  limits,
		logger:  logger,
	}
}

// Estimate projects the wait for a hypothetical new entry on the channel:
// position = current depth + 1, seconds = ceil(position / limit). It is a
// deterministic approximation that ignores bursts and in-flight retries.
func (s *StatusService) Estimate(ctx context.Context, channel model.Channel) (model.Estimate, error) {
	if !channel.Valid() {
		return model.Estimate{}, fmt.Errorf("%w: %q", model.ErrInvalidChannel, channel)
	}

	depth, err := s.queue.Depth(ctx, channel)
	if err != nil {
		return model.Estimate{}, err
	}

	return ProjectEstimate(int(depth)+1, s.limits[channel]), nil
}

// EstimateAt projects the wait for an entry already holding a position.
func (s *StatusService) EstimateAt(position int, channel model.Channel) model.Estimate {
	return ProjectEstimate(position, s.limits[channel])
}

// PositionOf returns the identifier's current rank, or model.ErrNotFound
// when it has no pending entry (already sent, superseded, or never queued).
func (s *StatusService) PositionOf(ctx context.Context, channel model.Channel, identifier string) (model.Position, error) {
	if !channel.Valid() {
		return model.Position{}, fmt.Errorf("%w: %q", model.ErrInvalidChannel, channel)
	}
	return s.queue.PositionOf(ctx, channel, identifier)
}

// Status reports pending depth and configured limit per channel.
func (s *StatusService) Status(ctx context.Context) ([]model.ChannelStatus, error) {
	statuses := make([]model.ChannelStatus, 0, len(model.AllChannels()))
	for _, channel := range model.AllChannels() {
		depth, err := s.queue.Depth(ctx, channel)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, model.ChannelStatus{
			Channel: channel,
			Pending: depth,
			Limit:   s.limits[channel],
		})
	}
	return statuses, nil
}

// Metrics returns the rolling 24-hour series per channel, oldest first.
func (s *StatusService) Metrics(ctx context.Context) (map[model.Channel][]model.MetricsBucket, error) {
	return s.metrics.Metrics(ctx)
}

// ProjectEstimate computes the deterministic wait projection for a queue
// position given a per-second limit. A missing limit yields a zero-second
// estimate rather than a division by zero.
func ProjectEstimate(position, limit int) model.Estimate {
	if position < 1 {
		position = 1
	}

	seconds := 0
	if limit > 0 {
		seconds = (position + limit - 1) / limit
	}

	return model.Estimate{
		Position:         position,
		EstimatedSeconds: seconds,
		EstimatedTime:    HumanizeWait(seconds),
	}
}

// HumanizeWait renders a wait in the "approximately X" phrasing shown to
// end users.
func HumanizeWait(seconds int) string {
	switch {
	case seconds <= 1:
		return "less than a second"
	case seconds < 60:
		return fmt.Sprintf("approximately %d seconds", seconds)
	case seconds < 3600:
		minutes := (seconds + 59) / 60
		if minutes == 1 {
			return "approximately 1 minute"
		}
		return fmt.Sprintf("approximately %d minutes", minutes)
	default:
		hours := (seconds + 3599) / 3600
		if hours == 1 {
			return "approximately 1 hour"
		}
		return fmt.Sprintf("approximately %d hours", hours)
	}
}
