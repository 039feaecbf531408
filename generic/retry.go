package generic

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxConflictRetry bounds how long RetryOnConflict keeps retrying.
const MaxConflictRetry = 2 * time.Second

// RetryOnConflict runs fn again with exponential backoff while it returns
// ErrConcurrentModification. Any other error is returned immediately.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = MaxConflictRetry

	var last error
	err := backoff.Retry(func() error {
		last = fn()
		if last == nil || IsRetryable(last) {
			return last
		}
		return backoff.Permanent(last)
	}, backoff.WithContext(b, ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}
