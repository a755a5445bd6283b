package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/client"
	"otp-dispatch-service/internal/model"
)

// JobPublisher re-enqueues jobs onto the dispatch topic. Both the OTP
// service (initial publish) and the coordinator (reschedules, retries)
// write through it.
type JobPublisher interface {
	Publish(ctx context.Context, job model.DispatchJob) error
}

// JobSource yields the next dispatch job; it blocks until one is available
// or ctx is cancelled.
type JobSource interface {
	Next(ctx context.Context) (model.DispatchJob, error)
}

// KafkaJobQueue marshals dispatch jobs onto the Kafka topic. Messages are
// keyed by channel:identifier so successive jobs for one recipient land on
// the same partition and keep their order.
type KafkaJobQueue struct {
	producer *client.KafkaProducer
}

func NewKafkaJobQueue(producer *client.KafkaProducer) *KafkaJobQueue {
	return &KafkaJobQueue{producer: producer}
}

func (q *KafkaJobQueue) Publish(ctx context.Context, job model.DispatchJob) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch job: %w", err)
	}
	key := []byte(fmt.Sprintf("%s:%s", job.Channel, job.Identifier))
	return q.producer.ProduceMessage(ctx, key, value, map[string]string{
		"job_id": job.ID,
	})
}

var _ JobPublisher = (*KafkaJobQueue)(nil)

// KafkaJobSource wraps one group consumer. Each worker owns its own source;
// the consumer group spreads partitions across them.
type KafkaJobSource struct {
	consumer *client.KafkaConsumer
	logger   *zap.Logger
}

func NewKafkaJobSource(consumer *client.KafkaConsumer, logger *zap.Logger) *KafkaJobSource {
	return &KafkaJobSource{consumer: consumer, logger: logger}
}

// Next reads messages until one decodes into a job. Undecodable payloads
// are logged and skipped; Kafka's at-least-once delivery means they would
// otherwise wedge the partition.
func (s *KafkaJobSource) Next(ctx context.Context) (model.DispatchJob, error) {
	for {
		msg, err := s.consumer.ConsumeMessage(ctx)
		if err != nil {
			return model.DispatchJob{}, err
		}

		var job model.DispatchJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			s.logger.Warn("skipping undecodable dispatch job",
				zap.ByteString("key", msg.Key),
				zap.Error(err))
			continue
		}
		return job, nil
	}
}

var _ JobSource = (*KafkaJobSource)(nil)

func (s *KafkaJobSource) Close() error {
	return s.consumer.Close()
}
