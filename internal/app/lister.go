package app

import (
	"context"
	"fmt"

	"bucketreplicator/internal/partition"
	"bucketreplicator/internal/queue"
	"bucketreplicator/internal/state"
	"bucketreplicator/internal/storage"
	"bucketreplicator/internal/worker"

	"go.uber.org/zap"
)

// Lister enumerates one partition of the source bucket and enqueues every key
// not yet recorded in the state store
type Lister struct {
	client storage.Client
	store  state.Store
	queue  queue.Queue
	bucket string
	logger *zap.Logger
}

// Run lists part page by page until a page comes back empty or untruncated.
// An empty page ends the partition even if the listing claimed more pages.
func (l *Lister) Run(ctx context.Context, part partition.Partition, results chan<- worker.Result) error {
	logger := l.logger.With(zap.String("prefix", part.Prefix), zap.Int("partition", part.Index))
	logger.Info("Lister started")

	var listed, cached, enqueued int64
	token := ""

	for {
		page, err := l.client.ListPage(ctx, l.bucket, part.Prefix, token)
		if err != nil {
			return fmt.Errorf("list prefix %q: %w", part.Prefix, err)
		}
		if len(page.Keys) == 0 {
			break
		}

		for _, key := range page.Keys {
			if !part.Contains(key) {
				logger.Warn("Listing returned key outside partition, dropping", zap.String("key", key))
				continue
			}

			listed++
			results <- worker.Result{Key: key, Outcome: worker.OutcomeListed}

			done, err := l.store.Contains(ctx, key)
			if err != nil {
				return fmt.Errorf("check state for %s: %w", key, err)
			}
			if done {
				cached++
				logger.Info("Object already marked as copied, skipping", zap.String("key", key))
				results <- worker.Result{Key: key, Outcome: worker.OutcomeSkippedCached}
				continue
			}

			if err := l.queue.Push(ctx, key); err != nil {
				return fmt.Errorf("enqueue %s: %w", key, err)
			}
			enqueued++
			logger.Debug("Enqueued object", zap.String("key", key))
		}

		if !page.Truncated {
			break
		}
		if page.NextToken == "" {
			logger.Warn("Truncated page without continuation token, stopping")
			break
		}
		token = page.NextToken
	}

	logger.Info("Lister finished",
		zap.Int64("listed", listed),
		zap.Int64("skipped_cached", cached),
		zap.Int64("enqueued", enqueued),
	)
	return nil
}
