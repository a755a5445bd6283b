package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/config"
	"otp-dispatch-service/internal/metrics"
	"otp-dispatch-service/internal/model"
	"otp-dispatch-service/internal/transport"
)

// RateAcquirer is the admission gate shared by all workers.
type RateAcquirer interface {
	TryAcquire(ctx context.Context, channel model.Channel) (bool, error)
}

// QueueTracker is the coordinator's view of the position tracker.
type QueueTracker interface {
	SequenceOf(ctx context.Context, channel model.Channel, identifier string) (int64, error)
	Dequeue(ctx context.Context, channel model.Channel, identifier string) error
}

// MetricsRecorder is the 24-hour product metrics sink.
type MetricsRecorder interface {
	RecordSent(ctx context.Context, channel model.Channel) error
	RecordThrottled(ctx context.Context, channel model.Channel) error
	RecordFailed(ctx context.Context, channel model.Channel) error
}

// AuditSink receives terminal dispatch outcomes. Implementations must be
// non-blocking best effort.
type AuditSink interface {
	Record(ctx context.Context, ev model.DispatchEvent)
}

// Coordinator processes one dispatch job at a time through the state
// machine: Queued -> RateLimited(reschedule) -> Sending -> Sent | Failed.
// It is the only mutator of rate-window and queue-entry state.
type Coordinator struct {
	rate    RateAcquirer
	queue   QueueTracker
	product MetricsRecorder
	senders map[model.Channel]transport.Sender
	jobs    JobPublisher
	audit   AuditSink
	ops     *metrics.Metrics
	cfg     config.DispatchConfig
	logger  *zap.Logger

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewCoordinator(
	rate RateAcquirer,
	queue QueueTracker,
	product MetricsRecorder,
	senders map[model.Channel]transport.Sender,
	jobs JobPublisher,
	audit AuditSink,
	ops *metrics.Metrics,
	cfg config.DispatchConfig,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		rate:    rate,
		queue:   queue,
		product: product,
		senders: senders,
		jobs:    jobs,
		audit:   audit,
		ops:     ops,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Process handles a single job. It never returns an error: every outcome
// is either a reschedule, a terminal state, or a discard.
func (c *Coordinator) Process(ctx context.Context, job model.DispatchJob) {
	log := c.logger.With(
		zap.String("job_id", job.ID),
		zap.String("channel", string(job.Channel)),
		zap.Int("attempt", job.Attempt),
	)

	// Honor the job's scheduled delay. Short waits are absorbed inline;
	// anything longer goes back on the queue so the worker stays free.
	if now := c.now(); !job.Due(now) {
		wait := job.NotBefore.Sub(now)
		if wait > c.cfg.MaxInlineWait {
			c.sleep(ctx, c.cfg.MaxInlineWait)
			if ctx.Err() != nil {
				return
			}
			if err := c.jobs.Publish(ctx, job); err != nil {
				log.Error("failed to republish delayed job", zap.Error(err))
			}
			return
		}
		c.sleep(ctx, wait)
		if ctx.Err() != nil {
			return
		}
	}

	// Stale guard: a job whose sequence no longer matches the tracker was
	// superseded by a newer request, or the entry was already served.
	// Sending it would double-deliver.
	seq, err := c.queue.SequenceOf(ctx, job.Channel, job.Identifier)
	if errors.Is(err, model.ErrNotFound) || (err == nil && seq != job.Seq) {
		log.Debug("discarding stale dispatch job",
			zap.Int64("job_seq", job.Seq),
			zap.Int64("current_seq", seq))
		c.ops.StaleDiscarded.WithLabelValues(string(job.Channel)).Inc()
		c.auditEvent(ctx, job, model.OutcomeStale, "")
		return
	}
	if err != nil {
		log.Warn("stale check failed, rescheduling", zap.Error(err))
		c.reschedule(ctx, job, c.cfg.RateRetryDelay, log)
		return
	}

	granted, err := c.rate.TryAcquire(ctx, job.Channel)
	if err != nil {
		// Fails closed: an unreachable store is treated as "not granted"
		// but logged as an infrastructure fault, not normal throttling.
		log.Error("rate counter unavailable, failing closed", zap.Error(err))
	}
	if !granted {
		c.ops.RateLimited.WithLabelValues(string(job.Channel)).Inc()
		c.reschedule(ctx, job, c.cfg.RateRetryDelay, log)
		return
	}

	sender, ok := c.senders[job.Channel]
	if !ok {
		log.Error("no sender configured for channel")
		c.terminate(ctx, job, model.OutcomeFailed, "no sender configured")
		return
	}

	start := c.now()
	result := sender.Send(ctx, job.Identifier, job.Message)
	c.ops.SendLatency.WithLabelValues(string(job.Channel)).Observe(time.Since(start).Seconds())

	switch result.Status {
	case transport.StatusSent:
		if err := c.product.RecordSent(ctx, job.Channel); err != nil {
			log.Warn("failed to record sent metric", zap.Error(err))
		}
		c.ops.Sent.WithLabelValues(string(job.Channel)).Inc()
		if err := c.queue.Dequeue(ctx, job.Channel, job.Identifier); err != nil {
			log.Error("failed to dequeue after send", zap.Error(err))
		}
		c.auditEvent(ctx, job, model.OutcomeSent, "")
		log.Info("otp dispatched",
			zap.String("provider_id", result.ProviderID),
			zap.Duration("latency", time.Since(start)))

	case transport.StatusThrottled:
		// Provider-side throttle, distinct from local admission denial.
		if err := c.product.RecordThrottled(ctx, job.Channel); err != nil {
			log.Warn("failed to record throttled metric", zap.Error(err))
		}
		c.ops.Throttled.WithLabelValues(string(job.Channel)).Inc()
		log.Warn("provider throttled send", zap.Error(result.Err))
		c.retryOrFail(ctx, job, model.OutcomeThrottled, result.Err, log)

	default:
		if err := c.product.RecordFailed(ctx, job.Channel); err != nil {
			log.Warn("failed to record failure metric", zap.Error(err))
		}
		c.ops.Failed.WithLabelValues(string(job.Channel)).Inc()
		log.Warn("transport send failed", zap.Error(result.Err))
		c.retryOrFail(ctx, job, model.OutcomeFailed, result.Err, log)
	}
}

// reschedule republishes the job with a fresh not-before stamp. The queue
// entry is left untouched so position queries stay accurate.
func (c *Coordinator) reschedule(ctx context.Context, job model.DispatchJob, delay time.Duration, log *zap.Logger) {
	job.NotBefore = c.now().Add(delay)
	if err := c.jobs.Publish(ctx, job); err != nil {
		log.Error("failed to reschedule job", zap.Error(err))
	}
}

// retryOrFail applies the bounded retry policy after a transport failure.
// The outcome distinguishes throttle-exhausted jobs from plain failures in
// the audit trail.
func (c *Coordinator) retryOrFail(ctx context.Context, job model.DispatchJob, outcome string, sendErr error, log *zap.Logger) {
	next := job.Attempt + 1
	if next >= c.cfg.MaxAttempts {
		reason := "delivery failed"
		if sendErr != nil {
			reason = sendErr.Error()
		}
		c.terminate(ctx, job, outcome, reason)
		log.Warn("giving up on dispatch job", zap.Int("attempts", next))
		return
	}

	idx := job.Attempt
	if idx >= len(c.cfg.RetryBackoff) {
		idx = len(c.cfg.RetryBackoff) - 1
	}
	job.Attempt = next
	c.reschedule(ctx, job, c.cfg.RetryBackoff[idx], log)
}

// terminate removes the entry so positionOf reports "not found" and records
// the terminal outcome in the audit log.
func (c *Coordinator) terminate(ctx context.Context, job model.DispatchJob, outcome, reason string) {
	if err := c.queue.Dequeue(ctx, job.Channel, job.Identifier); err != nil {
		c.logger.Error("failed to dequeue terminal job",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
	c.auditEvent(ctx, job, outcome, reason)
}

func (c *Coordinator) auditEvent(ctx context.Context, job model.DispatchJob, outcome, reason string) {
	if c.audit == nil {
		return
	}
	ev := model.DispatchEvent{
		JobID:      job.ID,
		Channel:    job.Channel,
		Identifier: job.Identifier,
		Outcome:    outcome,
		Attempts:   job.Attempt + 1,
		Error:      reason,
		OccurredAt: c.now(),
	}
	go c.audit.Record(context.WithoutCancel(ctx), ev)
}
