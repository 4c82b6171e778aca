package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CommandHandler defines a function type for handling commands of a specific type.
//
// C represents the concrete command type implementing the Command interface.
//
// Returns:
//   - AppendResult: the result of the append, or the unchanged version when
//     the command produced no events.
//   - error: Non-nil if the command handling failed, e.g., due to validation
//     errors, business rule violations, or persistence failures.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Decider applies a command to the current aggregate by raising events on it.
//
// Notes:
//   - A Decider mutates the aggregate only through Raise, so the raised
//     events are both applied and queued.
//   - Raising nothing indicates that the command has no effect.
//   - Returning an error aborts the command; nothing is stored.
type Decider[T Aggregate, C Command] func(ctx context.Context, agg T, cmd C) error

// CommandHandlerOption defines a function type that modifies handlerOptions.
// These options are applied when constructing a NewCommandHandler to customize behavior.
type CommandHandlerOption func(configuration *handlerOptions)

// NewCommandHandler returns a command handler that loads, decides and stores
// an aggregate.
//
// It performs the following steps:
//  1. Load the aggregate with AggregateStore.Get, or create a new one when
//     its stream has no events.
//  2. Run decide against it.
//  3. Enrich the raised events with metadata from the configured extractors.
//  4. Store the aggregate under its expected version.
//
// A concurrency conflict is retried from step 1 according to the configured
// RetryPolicy; the aggregate store itself never retries. Any other failure
// is returned immediately.
//
// Example Usage:
//
//	handler := NewCommandHandler(orders, ShipOrder, WithRetryPolicy(ExponentialRetry(3, 10*time.Millisecond, time.Second)))
//	result, err := handler(ctx, ShipOrderCommand{OrderID: "1"})
func NewCommandHandler[T Aggregate, C Command](
	aggregates *AggregateStore[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	cfg := &handlerOptions{
		Retry:         NoRetry,
		MetadataFuncs: []func(ctx context.Context) map[string]any{},
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, command C) (AppendResult, error) {
		id := command.AggregateID()

		var result AppendResult
		err := cfg.Retry.DoNotify(ctx, func() error {
			agg, err := aggregates.Get(ctx, id)
			if errors.Is(err, ErrAggregateNotFound) {
				agg, err = aggregates.New(id), nil
			}
			if err != nil {
				return backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: load failed: %w", command, id, err))
			}

			if err := decide(ctx, agg, command); err != nil {
				return backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: business rule violation: %w", command, id, err))
			}

			if len(cfg.MetadataFuncs) > 0 {
				md := make(map[string]any)
				for _, fn := range cfg.MetadataFuncs {
					for k, v := range fn(ctx) {
						md[k] = v
					}
				}
				agg.aggregateBase().enrich(md)
			}

			result, err = aggregates.Store(ctx, agg)
			if err != nil {
				if IsConcurrencyConflict(err) {
					return err
				}
				return backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: failed to store: %w", command, id, err))
			}
			return nil
		}, cfg.OnRetry)

		return result, err
	}
}

// handlerOptions defines configuration for a CommandHandler.
type handlerOptions struct {
	// Retry decides how often a concurrency conflict is retried. Defaults
	// to NoRetry.
	Retry RetryPolicy

	// OnRetry is called before every retry.
	OnRetry func(err error, wait time.Duration)

	// MetadataFuncs is a list of functions used to enrich events with metadata before saving.
	// Each function receives the context and returns a map of key-value pairs.
	MetadataFuncs []func(ctx context.Context) map[string]any
}

// WithRetryPolicy sets the retry policy for concurrency conflicts.
//
// Usage:
//
//	handler := NewCommandHandler(orders, decide, WithRetryPolicy(RetryPolicy{MaxAttempts: 3}))
func WithRetryPolicy(policy RetryPolicy) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.Retry = policy }
}

// WithRetryNotify registers a hook called before each retry.
func WithRetryNotify(fn func(err error, wait time.Duration)) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.OnRetry = fn }
}

// WithMetadataExtractor adds a metadata function to a NewCommandHandler.
//
// Each metadata function is called for every command handling execution and can
// inject additional key-value pairs into the event envelopes. Multiple metadata
// extractors can be combined; they are applied in order of registration.
//
// Usage:
//
//	handler := NewCommandHandler(orders, decide, WithMetadataExtractor(myMetadataFunc))
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(h *handlerOptions) {
		h.MetadataFuncs = append(h.MetadataFuncs, fn)
	}
}
