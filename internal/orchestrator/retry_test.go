package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelforge/panelforge/internal/orchestrator"
)

func TestCallWithRetryFirstAttemptSucceeds(t *testing.T) {
	calls := 0
	result, err := orchestrator.CallWithRetry(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, 2, time.Millisecond, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestCallWithRetryRecoversAfterFailure(t *testing.T) {
	calls := 0
	result, err := orchestrator.CallWithRetry(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, 2, time.Millisecond, nil)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestCallWithRetryExhaustsAndReturnsLastError(t *testing.T) {
	backoff := 10 * time.Millisecond
	calls := 0
	retries := []int{}

	start := time.Now()
	_, err := orchestrator.CallWithRetry(context.Background(), func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("boom " + string(rune('0'+calls)))
	}, 2, backoff, func(attempt int, wait time.Duration) {
		retries = append(retries, attempt)
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, "boom 3", err.Error())
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{0, 1}, retries)
	// waits are backoff * 2^0 + backoff * 2^1
	assert.GreaterOrEqual(t, elapsed, 3*backoff)
}

func TestCallWithRetryBackoffDoubles(t *testing.T) {
	waits := []time.Duration{}
	_, err := orchestrator.CallWithRetry(context.Background(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.New("boom")
	}, 3, time.Millisecond, func(attempt int, wait time.Duration) {
		waits = append(waits, wait)
	})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestCallWithRetryHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := orchestrator.CallWithRetry(ctx, func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("boom")
	}, 5, time.Minute, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}
