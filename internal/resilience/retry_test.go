package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

func TestWithRetry_SuccessFirstTry(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_SingleRetryOnSessionExpired(t *testing.T) {
	checker := &StatusChecker{Kinds: []syncerr.Kind{syncerr.KindSessionExpired}}
	policy := SingleRetryPolicy(time.Millisecond, checker)

	calls := 0
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		if calls == 1 {
			return syncerr.New(syncerr.KindSessionExpired, "auth expired")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	checker := &StatusChecker{Kinds: []syncerr.Kind{syncerr.KindRateLimited}}
	policy := SingleRetryPolicy(time.Millisecond, checker)

	calls := 0
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		return syncerr.New(syncerr.KindNotFound, "missing")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, ErrorChecker: AlwaysRetry{}}
	calls := 0
	err := WithRetry(context.Background(), policy, func() error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, ErrorChecker: AlwaysRetry{}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := WithRetry(ctx, policy, func() error {
		return errors.New("still failing")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithRetryFunc_ReturnsValueOnSuccess(t *testing.T) {
	policy := &RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	calls := 0
	val, err := WithRetryFunc(context.Background(), policy, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("retry me")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}
