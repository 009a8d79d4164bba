package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"bucketreplicator/internal/state"
	"bucketreplicator/internal/storage"

	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

// Copier replicates single keys from the source to the target bucket
type Copier struct {
	config    Config
	owner     string
	srcClient storage.Client
	dstClient storage.Client
	store     state.Store
	logger    *zap.Logger
}

// NewCopier creates a copier identified by owner in claims
func NewCopier(config Config, owner string, srcClient, dstClient storage.Client, store state.Store, logger *zap.Logger) *Copier {
	return &Copier{
		config:    config,
		owner:     owner,
		srcClient: srcClient,
		dstClient: dstClient,
		store:     store,
		logger:    logger,
	}
}

// Process probes the target for key, copies it when absent and records it as
// done. Failures are retried and finally written to the dead-letter table.
func (c *Copier) Process(ctx context.Context, key string) Result {
	startTime := time.Now()

	if c.config.ClaimTTL > 0 {
		claimed, err := c.store.Claim(ctx, key, c.owner, c.config.ClaimTTL)
		switch {
		case err != nil:
			c.logger.Warn("Claim failed, proceeding unclaimed", zap.String("key", key), zap.Error(err))
		case !claimed:
			c.logger.Info("Key is claimed by another copier, skipping", zap.String("key", key))
			return Result{Key: key, Outcome: OutcomeClaimed}
		default:
			defer c.release(ctx, key)

			// another process may have finished the key between listing and claiming
			if done, err := c.store.Contains(ctx, key); err == nil && done {
				c.logger.Debug("Key completed elsewhere while queued", zap.String("key", key))
				return Result{Key: key, Outcome: OutcomeSkippedCached}
			}
		}
	}

	retries := c.config.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	attempt := 1
	for ; attempt <= retries; attempt++ {
		result, err := c.transfer(ctx, key)
		if err == nil {
			result.Duration = time.Since(startTime)
			return result
		}

		lastErr = err
		c.logger.Warn("Copy attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if !isRetriableError(err) || attempt == retries {
			break
		}
		if err := sleepContext(ctx, c.calculateBackoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if ctx.Err() != nil {
		// interrupted, not failed: the next run lists the key again
		return Result{Key: key, Outcome: OutcomeFailed, Err: ctx.Err(), Duration: time.Since(startTime)}
	}

	c.markFailed(ctx, key, attempt, lastErr)
	c.logger.Error("Copy failed after all retries",
		zap.String("key", key),
		zap.Int("attempts", attempt),
		zap.Error(lastErr),
	)
	return Result{Key: key, Outcome: OutcomeFailed, Err: lastErr, Duration: time.Since(startTime)}
}

func (c *Copier) transfer(ctx context.Context, key string) (Result, error) {
	_, err := c.dstClient.HeadObject(ctx, c.config.TargetBucket, key)
	switch {
	case err == nil:
		c.logger.Info("Object already exists on target, skipping", zap.String("key", key))
		if err := c.store.Add(ctx, key); err != nil {
			return Result{}, fmt.Errorf("mark %s as done: %w", key, err)
		}
		return Result{Key: key, Outcome: OutcomeSkippedExisting}, nil
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Result{}, fmt.Errorf("probe target object: %w", err)
	}

	c.logger.Debug("Reading source object", zap.String("bucket", c.config.SourceBucket), zap.String("key", key))
	srcObj, err := c.srcClient.GetObject(ctx, c.config.SourceBucket, key)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get source object: %w", err)
	}
	defer srcObj.Close()

	info, err := srcObj.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat source object: %w", err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	c.logger.Debug("Writing target object", zap.String("bucket", c.config.TargetBucket), zap.String("key", key))
	if err := c.dstClient.PutObject(ctx, c.config.TargetBucket, key, srcObj, info.Size, storage.PutOptions{
		ContentType: contentType,
	}); err != nil {
		return Result{}, fmt.Errorf("failed to put target object: %w", err)
	}

	if err := c.store.Add(ctx, key); err != nil {
		return Result{}, fmt.Errorf("mark %s as done: %w", key, err)
	}

	c.logger.Info("Copied object to target", zap.String("key", key), zap.Int64("size", info.Size))
	return Result{Key: key, Outcome: OutcomeCopied, Bytes: info.Size}, nil
}

func (c *Copier) release(ctx context.Context, key string) {
	if err := c.store.Release(context.WithoutCancel(ctx), key, c.owner); err != nil {
		c.logger.Warn("Failed to release claim", zap.String("key", key), zap.Error(err))
	}
}

func (c *Copier) markFailed(ctx context.Context, key string, attempts int, cause error) {
	if err := c.store.RecordFailure(context.WithoutCancel(ctx), key, attempts, cause); err != nil {
		if errors.Is(err, state.ErrClosed) {
			c.logger.Warn("Cannot record failed key - state store is closed",
				zap.String("key", key),
				zap.NamedError("original_error", cause))
			return
		}
		c.logger.Error("Failed to record failed key", zap.String("key", key), zap.Error(err))
	}
}

func (c *Copier) calculateBackoff(attempt int) time.Duration {
	return c.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isRetriableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "unexpected eof") ||
		strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout")
}
