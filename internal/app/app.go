package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"bucketreplicator/internal/config"
	"bucketreplicator/internal/metrics"
	"bucketreplicator/internal/partition"
	"bucketreplicator/internal/progress"
	"bucketreplicator/internal/queue"
	"bucketreplicator/internal/state"
	"bucketreplicator/internal/storage"
	"bucketreplicator/internal/worker"

	"go.uber.org/zap"
)

// ErrIncomplete is returned by Run when some keys could not be replicated
var ErrIncomplete = errors.New("replication incomplete")

const queueSampleInterval = time.Second

// Stats aggregates the outcomes reported by listers and copiers
type Stats struct {
	Listed          int64
	SkippedCached   int64
	SkippedExisting int64
	Copied          int64
	Claimed         int64
	Failed          int64
	ListErrors      int64
	BytesCopied     int64
}

func (s *Stats) add(res worker.Result) {
	switch res.Outcome {
	case worker.OutcomeListed:
		s.Listed++
	case worker.OutcomeSkippedCached:
		s.SkippedCached++
	case worker.OutcomeSkippedExisting:
		s.SkippedExisting++
	case worker.OutcomeCopied:
		s.Copied++
		s.BytesCopied += res.Bytes
	case worker.OutcomeClaimed:
		s.Claimed++
	case worker.OutcomeFailed:
		s.Failed++
	case worker.OutcomeListError:
		s.ListErrors++
	}
}

// Replicator represents the main replication application
type Replicator struct {
	cfg       *config.Config
	logger    *zap.Logger
	srcClient storage.Client
	dstClient storage.Client
	store     state.Store
	queue     queue.Queue
	metrics   *metrics.Collector
	workers   *worker.Pool
}

// New creates a replicator with clients, state store and queue built from cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Replicator, error) {
	srcClient, err := storage.New(ctx, storage.Config{
		Kind:        storage.Kind(cfg.Replicate.Client),
		EndpointURL: cfg.Source.EndpointURL,
		AccessKey:   cfg.Source.AccessKey,
		SecretKey:   cfg.Source.Secret,
		Region:      cfg.Source.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	dstClient, err := storage.New(ctx, storage.Config{
		Kind:        storage.Kind(cfg.Replicate.Client),
		EndpointURL: cfg.Target.EndpointURL,
		AccessKey:   cfg.Target.AccessKey,
		SecretKey:   cfg.Target.Secret,
		Region:      cfg.Target.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create target client: %w", err)
	}

	store, err := state.Open(cfg.Replicate.EnableState, cfg.Replicate.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	var q queue.Queue
	if cfg.Queue.URL != "" {
		q, err = queue.DialAMQP(cfg.Queue.URL, cfg.Queue.Name)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open work queue: %w", err)
		}
		logger.Info("Using shared AMQP work queue", zap.String("queue", cfg.Queue.Name))
	} else {
		q = queue.NewMemoryQueue()
	}

	return newReplicator(cfg, logger, srcClient, dstClient, store, q), nil
}

func newReplicator(cfg *config.Config, logger *zap.Logger, src, dst storage.Client, store state.Store, q queue.Queue) *Replicator {
	metricsCollector := metrics.New()

	workerPool := worker.NewPool(cfg.Replicate.Threads, worker.Config{
		SourceBucket: cfg.Source.Bucket,
		TargetBucket: cfg.Target.Bucket,
		Retries:      cfg.Replicate.Retries,
		RetryBackoff: cfg.RetryBackoff(),
		ClaimTTL:     cfg.Replicate.ClaimTTL,
		Owner:        processOwner(),
	}, src, dst, store, metricsCollector, logger)

	return &Replicator{
		cfg:       cfg,
		logger:    logger,
		srcClient: src,
		dstClient: dst,
		store:     store,
		queue:     q,
		metrics:   metricsCollector,
		workers:   workerPool,
	}
}

func processOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run lists every partition, copies every pending key and returns the
// aggregated outcome counts. Copiers only stop once every lister has
// returned and the queue is empty.
func (r *Replicator) Run(ctx context.Context) (Stats, error) {
	parts := partition.Split(r.cfg.Replicate.Prefixes)

	r.logger.Info("Starting replication",
		zap.String("source_bucket", r.cfg.Source.Bucket),
		zap.String("target_bucket", r.cfg.Target.Bucket),
		zap.Int("partitions", len(parts)),
		zap.Int("threads", r.workers.Size()),
		zap.Bool("state", r.cfg.Replicate.EnableState),
	)

	if addr := r.cfg.Replicate.MetricsAddr; addr != "" {
		go func() {
			if err := r.metrics.StartServer(ctx, addr); err != nil {
				r.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	var progressDisplay *progress.Display
	if r.cfg.Replicate.ShowProgress && progress.IsTerminalSupported() {
		progressDisplay = progress.NewDisplay(r.metrics.GetProgressTracker(), 2*time.Second)
		progressDisplay.Start()
	}

	results := make(chan worker.Result, r.workers.Size()*4)
	statsCh := make(chan Stats, 1)
	go r.aggregate(results, statsCh)

	var copiers sync.WaitGroup
	r.workers.Start(ctx, r.queue, results, &copiers)

	lister := &Lister{
		client: r.srcClient,
		store:  r.store,
		queue:  r.queue,
		bucket: r.cfg.Source.Bucket,
		logger: r.logger,
	}

	var listers sync.WaitGroup
	for _, part := range parts {
		listers.Add(1)
		go func(part partition.Partition) {
			defer listers.Done()
			if err := lister.Run(ctx, part, results); err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("Lister failed", zap.String("prefix", part.Prefix), zap.Error(err))
				results <- worker.Result{Key: part.Prefix, Outcome: worker.OutcomeListError, Err: err}
			}
		}(part)
	}
	r.logger.Info("Started listers", zap.Int("count", len(parts)))

	listers.Wait()
	r.queue.CloseInput()
	r.logger.Info("All listers finished, waiting for copiers to drain the queue")

	copiers.Wait()
	close(results)
	stats := <-statsCh

	if progressDisplay != nil {
		progressDisplay.Stop()
	}

	r.logger.Info("Replication finished",
		zap.Int64("listed", stats.Listed),
		zap.Int64("skipped_cached", stats.SkippedCached),
		zap.Int64("skipped_existing", stats.SkippedExisting),
		zap.Int64("copied", stats.Copied),
		zap.Int64("claimed_elsewhere", stats.Claimed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("list_errors", stats.ListErrors),
		zap.String("bytes_copied", progress.FormatBytes(stats.BytesCopied)),
	)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Failed > 0 || stats.ListErrors > 0 {
		return stats, fmt.Errorf("%w: %d failed keys, %d failed listers", ErrIncomplete, stats.Failed, stats.ListErrors)
	}
	// copiers also exit on queue errors, which can leave keys behind
	if pending := r.queue.Len(); pending > 0 {
		r.logger.Warn("Copiers exited with keys still queued", zap.Int("pending", pending))
		return stats, fmt.Errorf("%w: %d keys left in queue", ErrIncomplete, pending)
	}
	return stats, nil
}

// aggregate is the only reader of results, so Stats needs no locking
func (r *Replicator) aggregate(results <-chan worker.Result, out chan<- Stats) {
	var stats Stats

	ticker := time.NewTicker(queueSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				r.metrics.SetQueueDepth(r.queue.Len())
				out <- stats
				return
			}
			stats.add(res)
			r.metrics.IncOutcome(string(res.Outcome), res.Bytes)
			if res.Outcome == worker.OutcomeCopied {
				r.metrics.AddBytes(res.Bytes)
			}
			if res.Duration > 0 {
				r.metrics.ObserveDuration(res.Duration)
			}
		case <-ticker.C:
			r.metrics.SetQueueDepth(r.queue.Len())
		}
	}
}

// Close cleans up resources
func (r *Replicator) Close() error {
	var errs []error
	if r.queue != nil {
		errs = append(errs, r.queue.Close())
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}
