package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/store"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const defaultMaxRetries = 4

// withRetry reruns fn while it fails with store.ErrConflict. Any other error
// ends the loop at once. Contention that outlives the attempts is reported
// as a storage failure.
func withRetry[T any](ctx context.Context, l *Ledger, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	result, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(l.maxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.StorageRetriesTotal.Inc()
			l.log.Warn("retrying unit of work",
				zap.String("op", op),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil && errors.Is(err, store.ErrConflict) {
		return result, fmt.Errorf("%w: %s gave up after %d attempts: %w", store.ErrStorage, op, l.maxRetries, err)
	}
	return result, err
}
