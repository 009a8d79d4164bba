package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bucketreplicator/internal/metrics"
	"bucketreplicator/internal/queue"
	"bucketreplicator/internal/state"
	"bucketreplicator/internal/storage"

	"go.uber.org/zap"
)

// Pool manages a fixed pool of copiers sharing one queue
type Pool struct {
	size      int
	config    Config
	srcClient storage.Client
	dstClient storage.Client
	store     state.Store
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewPool creates a new copier pool
func NewPool(
	size int,
	config Config,
	srcClient storage.Client,
	dstClient storage.Client,
	store state.Store,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:      size,
		config:    config,
		srcClient: srcClient,
		dstClient: dstClient,
		store:     store,
		metrics:   metricsCollector,
		logger:    logger,
	}
}

// Size returns the number of copiers
func (p *Pool) Size() int {
	return p.size
}

// Start launches the copiers. Each exits once the queue is drained or ctx ends.
func (p *Pool) Start(ctx context.Context, q queue.Queue, results chan<- Result, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, q, results, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, q queue.Queue, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Info("Copier started")

	copier := NewCopier(p.config, fmt.Sprintf("%s/%d", p.config.Owner, id), p.srcClient, p.dstClient, p.store, logger)

	for {
		key, err := q.Pop(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrDrained):
			logger.Info("Copier finished - queue drained")
			return
		case ctx.Err() != nil:
			logger.Info("Copier stopped - context cancelled")
			return
		default:
			logger.Error("Copier stopped - queue failure", zap.Error(err))
			return
		}

		if p.metrics != nil {
			p.metrics.IncInflight()
		}
		results <- copier.Process(ctx, key)
		if p.metrics != nil {
			p.metrics.DecInflight()
		}
	}
}
