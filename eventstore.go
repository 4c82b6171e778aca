package eventsourcing

import (
	"context"
	"fmt"
)

// EventStore defines the contract for an append-only event store
// used in event-sourced systems. An EventStore persists events
// per stream in sequential order, allowing for full reconstruction
// of aggregate state at any point in time.
//
// Implementations must guarantee:
//   - Events for a given stream are stored in order, at contiguous 0-based
//     positions.
//   - A batch append is all-or-nothing.
//   - Concurrency control based on the stream's expected version.
//   - Iteration order from ReadStream is deterministic (oldest → newest).
//
// Transport and storage faults are returned wrapped in *EventStoreError and
// are never retried inside the store.
type EventStore interface {
	// StreamExists reports whether at least one event has ever been
	// appended to the stream. Truncation does not affect existence.
	StreamExists(ctx context.Context, streamID string) (bool, error)

	// ReadStream reads the stream forward starting at position from.
	//
	// Parameters:
	//   - from: 0-based stream position of the first event to return.
	//   - maxCount: maximum number of events to return; 0 means unbounded.
	//
	// Returns:
	//   - *Iterator[*Envelope]: lazy iterator over events. Every call opens
	//     a fresh read; reading an unknown stream yields no events.
	//   - error: Non-nil if the store could not start the read.
	ReadStream(ctx context.Context, streamID string, from uint64, maxCount uint64) (*Iterator[*Envelope], error)

	// AppendEvents atomically appends events to the stream iff expected
	// matches its current version.
	//
	// Parameters:
	//   - expected: one of
	//       - Any: always append, do not check for conflicts.
	//       - NoStream: stream must not contain events; fail if it does.
	//       - StreamExists: stream must contain events; fail if it does not.
	//       - Revision(n): the last event of the stream must sit at position n.
	//
	// Errors:
	//   - *StreamRevisionConflictError (matching ErrConcurrencyConflict) if
	//     the expected version does not match. Nothing is appended.
	//   - ErrInvalidStreamID, ErrInvalidEventBatch for bad input.
	//   - *EventStoreError for any store-specific persistence error.
	AppendEvents(ctx context.Context, streamID string, expected ExpectedVersion, events ...Envelope) (AppendResult, error)

	// Commit flushes buffered work. Safe to call when nothing is pending.
	Commit(ctx context.Context) error

	// Close releases any resources held by the EventStore, such as network
	// connections or file handles. After Close is called, the EventStore should
	// not be used.
	//
	// Implementations should make Close idempotent.
	Close() error
}

// Truncator is implemented by stores that can discard the head of a stream.
// Events at positions before `before` are removed; the stream keeps its
// identity and position counter.
type Truncator interface {
	TruncateStream(ctx context.Context, streamID string, before uint64) error
}

// AppendResult describes the outcome of a successful append.
type AppendResult struct {
	// GlobalPosition is the global log position of the last appended event.
	GlobalPosition uint64
	// NextExpectedVersion is the stream position of the last appended event
	// and the expected version to use for the next append.
	NextExpectedVersion uint64
}

// ExpectedVersion returns r.NextExpectedVersion as an exact revision.
func (r AppendResult) ExpectedVersion() ExpectedVersion {
	return Revision(r.NextExpectedVersion)
}

// AppendEvent appends a single event.
func AppendEvent(ctx context.Context, store EventStore, streamID string, expected ExpectedVersion, env Envelope) (AppendResult, error) {
	return store.AppendEvents(ctx, streamID, expected, env)
}

// Evolver evolves the given state into a new state with the event applied.
//
// Notes:
//   - The Evolver must be deterministic: the same state and envelope always
//     produce the same result.
type Evolver[T any] func(currentState T, envelope *Envelope) T

// AggregateStream reads streamID forward from position from and folds every
// event into seed. Identical streams and seeds always produce identical
// state.
//
// The returned count is the number of events applied, which lets callers
// tell an empty stream apart from a stream whose events leave the seed
// unchanged.
//
// Example Usage:
//
//	total, n, err := AggregateStream(ctx, store, "Order-1", 0, 0,
//	    func(sum int, env *Envelope) int { return sum + 1 })
func AggregateStream[T any](ctx context.Context, store EventStore, streamID string, from uint64, seed T, fold Evolver[T]) (T, int, error) {
	iter, err := store.ReadStream(ctx, streamID, from, 0)
	if err != nil {
		return seed, 0, fmt.Errorf("aggregate stream %q: %w", streamID, err)
	}

	state := seed
	n := 0
	for iter.Next(ctx) {
		state = fold(state, iter.Value())
		n++
	}
	if err := iter.Err(); err != nil {
		return state, n, fmt.Errorf("aggregate stream %q: %w", streamID, err)
	}
	return state, n, nil
}

// ValidateBatch checks the input of AppendEvents before any I/O.
func ValidateBatch(streamID string, events []Envelope) error {
	if err := ValidateStreamID(streamID); err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: no events for stream %q", ErrInvalidEventBatch, streamID)
	}
	seen := make(map[string]struct{}, len(events))
	for _, env := range events {
		if env.Event == nil {
			return fmt.Errorf("%w: nil event in batch for stream %q", ErrInvalidEventBatch, streamID)
		}
		id := env.EventID.String()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate event id %s", ErrInvalidEventBatch, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
