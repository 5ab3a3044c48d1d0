package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

const (
	// batchSize is the largest track batch sent to a provider in one call.
	batchSize = 100

	// maxBatchRetries bounds retries per batch on transient failures.
	maxBatchRetries = 3

	// retryBaseDelay seeds the exponential backoff between retries.
	retryBaseDelay = time.Second
)

// applyBatched sends ids to apply in chunks, retrying each chunk on rate
// limits and 5xx failures with exponential backoff. It returns how many ids
// were applied and how many were abandoned; a non-retryable error aborts
// the remaining chunks.
func applyBatched(ctx context.Context, ids []string, apply func(context.Context, []string) error) (applied, failed int, err error) {
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		if chunkErr := applyChunk(ctx, chunk, apply); chunkErr != nil {
			failed += len(chunk)
			if !retryable(chunkErr) {
				return applied, failed + len(ids) - end, chunkErr
			}
			// Exhausted retries on a transient failure; move on so one bad
			// chunk does not sink the rest.
			continue
		}
		applied += len(chunk)
	}
	return applied, failed, nil
}

func applyChunk(ctx context.Context, chunk []string, apply func(context.Context, []string) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxBatchRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			var rateErr *provider.RateLimitedError
			if errors.As(lastErr, &rateErr) && rateErr.RetryAfter > delay {
				delay = rateErr.RetryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = apply(ctx, chunk)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func retryable(err error) bool {
	var rateErr *provider.RateLimitedError
	if errors.As(err, &rateErr) {
		return true
	}
	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Transient()
	}
	return false
}
