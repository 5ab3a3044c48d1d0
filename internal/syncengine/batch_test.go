package syncengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = "id"
	}
	return ids
}

func TestApplyBatchedChunks(t *testing.T) {
	var sizes []int
	applied, failed, err := applyBatched(context.Background(), makeIDs(250), func(_ context.Context, chunk []string) error {
		sizes = append(sizes, len(chunk))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 250, applied)
	require.Zero(t, failed)
	require.Equal(t, []int{100, 100, 50}, sizes)
}

func TestApplyBatchedAbortsOnPermanentFailure(t *testing.T) {
	calls := 0
	applied, failed, err := applyBatched(context.Background(), makeIDs(250), func(_ context.Context, chunk []string) error {
		calls++
		if calls == 2 {
			return &provider.UpstreamError{StatusCode: 400, Message: "bad request"}
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 100, applied)
	// The failing chunk plus everything after it counts as failed.
	require.Equal(t, 150, failed)
	require.Equal(t, 2, calls)
}

func TestApplyChunkRetriesTransientFailure(t *testing.T) {
	calls := 0
	start := time.Now()
	err := applyChunk(context.Background(), makeIDs(10), func(context.Context, []string) error {
		calls++
		if calls == 1 {
			return &provider.UpstreamError{StatusCode: 503, Message: "busy"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.GreaterOrEqual(t, time.Since(start), retryBaseDelay)
}

func TestApplyChunkStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := applyChunk(ctx, makeIDs(10), func(context.Context, []string) error {
		calls++
		return &provider.UpstreamError{StatusCode: 503, Message: "busy"}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	require.True(t, retryable(&provider.RateLimitedError{RetryAfter: time.Second}))
	require.True(t, retryable(&provider.UpstreamError{StatusCode: 502}))
	require.False(t, retryable(&provider.UpstreamError{StatusCode: 404}))
	require.False(t, retryable(errors.New("plain failure")))
}
