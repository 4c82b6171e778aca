package eventsourcing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is an explicit retry configuration handed to the component that
// retries. There is no process wide default.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// BackOff builds a fresh backoff for every retried operation. Nil
	// retries without delay.
	BackOff func() backoff.BackOff
}

// NoRetry performs every operation exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// ExponentialRetry returns a policy with exponential backoff between
// initial and max.
func ExponentialRetry(attempts int, initial, max time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = max
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.BackOff != nil {
		b = p.BackOff()
	}
	if p.MaxAttempts > 1 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	} else {
		b = &backoff.StopBackOff{}
	}
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a backoff.Permanent error, the
// attempts are exhausted or ctx is done. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.backOff(ctx))
}

// DoNotify is Do with a hook called before every retry.
func (p RetryPolicy) DoNotify(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}
