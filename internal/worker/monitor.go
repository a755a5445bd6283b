package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/metrics"
	"otp-dispatch-service/internal/model"
)

// DepthMonitor periodically refreshes the per-channel queue depth gauges.
type DepthMonitor struct {
	queue    DepthReader
	ops      *metrics.Metrics
	interval time.Duration
	logger   *zap.Logger
}

func NewDepthMonitor(queue DepthReader, ops *metrics.Metrics, interval time.Duration, logger *zap.Logger) *DepthMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DepthMonitor{queue: queue, ops: ops, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (m *DepthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *DepthMonitor) refresh(ctx context.Context) {
	for _, channel := range model.AllChannels() {
		depth, err := m.queue.Depth(ctx, channel)
		if err != nil {
			m.logger.Debug("failed to read queue depth",
				zap.String("channel", string(channel)),
				zap.Error(err))
			continue
		}
		m.ops.QueueDepth.WithLabelValues(string(channel)).Set(float64(depth))
	}
}
