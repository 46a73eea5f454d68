package resilience

import "github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"

// StatusChecker retries only when the wrapped error carries one of the
// configured syncerr.Kind values. The HTTP client uses one instance keyed
// on KindSessionExpired-turned-retryable for the 401 path, and one keyed
// on KindRateLimited for the 429 path, so a 500 never triggers either
// single-retry rule.
type StatusChecker struct {
	Kinds []syncerr.Kind
}

// IsRetryable implements RetryableErrorChecker.
func (c *StatusChecker) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range c.Kinds {
		if syncerr.Is(err, k) {
			return true
		}
	}
	return false
}

// AlwaysRetry treats every non-nil error as retryable.
type AlwaysRetry struct{}

// IsRetryable implements RetryableErrorChecker.
func (AlwaysRetry) IsRetryable(err error) bool { return err != nil }
