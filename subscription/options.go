package subscription

import (
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	es "github.com/terraskye/eventsourcing-engine"
)

// Option configures a Worker.
type Option func(*Worker)

// WithCodec sets the codec used to decode delivered events. Defaults to a
// JSON codec over the default registry.
func WithCodec(c es.Codec) Option {
	return func(w *Worker) {
		w.codec = c
	}
}

// WithPublisher sets the in-process fan-out publisher, usually an
// *eventsourcing.EventRouter. It receives each event before the projector.
func WithPublisher(h es.EventHandler) Option {
	return func(w *Worker) {
		w.consumers = append([]consumer{{name: "publisher", handler: h}}, w.consumers...)
	}
}

// WithProjector sets the read model projector, usually an
// *eventsourcing.EventGroupProcessor.
func WithProjector(h es.EventHandler) Option {
	return func(w *Worker) {
		w.consumers = append(w.consumers, consumer{name: "projector", handler: h})
	}
}

// WithDeliveryRetry retries a failing consumer within one delivery before
// the subscription is dropped. Defaults to NoRetry.
func WithDeliveryRetry(p es.RetryPolicy) Option {
	return func(w *Worker) {
		w.retry = p
	}
}

// WithResubscribeBackOff replaces the 1s plus up to 1s jitter wait between
// resubscribe attempts.
func WithResubscribeBackOff(fn func() backoff.BackOff) Option {
	return func(w *Worker) {
		w.newBackOff = fn
	}
}

// WithExcludeEventTypes asks the source to filter out more event types.
// Checkpoint markers and system events are always excluded.
func WithExcludeEventTypes(types ...string) Option {
	return func(w *Worker) {
		w.exclude = append(w.exclude, types...)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.log = l
	}
}
