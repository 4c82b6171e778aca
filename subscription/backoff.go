package subscription

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultResubscribeDelay is the fixed part of the wait between
	// resubscribe attempts.
	DefaultResubscribeDelay = 1000 * time.Millisecond
	// DefaultResubscribeJitter bounds the random part added to the delay.
	DefaultResubscribeJitter = 1000 * time.Millisecond
)

// JitterBackOff waits Delay plus a random duration in [0, Jitter) before
// every retry, forever.
type JitterBackOff struct {
	Delay  time.Duration
	Jitter time.Duration
}

var _ backoff.BackOff = JitterBackOff{}

// NewJitterBackOff returns the default resubscribe backoff.
func NewJitterBackOff() backoff.BackOff {
	return JitterBackOff{Delay: DefaultResubscribeDelay, Jitter: DefaultResubscribeJitter}
}

func (b JitterBackOff) NextBackOff() time.Duration {
	if b.Jitter <= 0 {
		return b.Delay
	}
	return b.Delay + rand.N(b.Jitter)
}

func (b JitterBackOff) Reset() {}
