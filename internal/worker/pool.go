package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/model"
)

// Pool runs a fixed number of dispatch workers, each draining jobs from its
// own source. Workers process independent jobs; the rate counter is the
// only shared-mutation point and is atomic on the Redis side.
type Pool struct {
	coordinator *Coordinator
	sources     []JobSource
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func NewPool(coordinator *Coordinator, sources []JobSource, logger *zap.Logger) *Pool {
	return &Pool{
		coordinator: coordinator,
		sources:     sources,
		logger:      logger,
	}
}

// Start launches one goroutine per source. Cancelling ctx drains the pool.
func (p *Pool) Start(ctx context.Context) {
	for i, src := range p.sources {
		p.wg.Add(1)
		go func(id int, src JobSource) {
			defer p.wg.Done()
			p.run(ctx, id, src)
		}(i, src)
	}
}

func (p *Pool) run(ctx context.Context, id int, src JobSource) {
	log := p.logger.With(zap.Int("worker_id", id))
	log.Info("dispatch worker started")

	for {
		job, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("dispatch worker stopping")
				return
			}
			log.Error("failed to read dispatch job", zap.Error(err))
			continue
		}
		p.coordinator.Process(ctx, job)
	}
}

// Wait blocks until every worker has returned after ctx cancellation.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// DepthReader is the queue view needed by the depth monitor.
type DepthReader interface {
	Depth(ctx context.Context, channel model.Channel) (int64, error)
}
