package eventsourcing

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is matched by every StreamRevisionConflictError.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	ErrStreamNotFound    = errors.New("stream not found")
	ErrAggregateNotFound = errors.New("aggregate not found")
	ErrInvalidStreamID   = errors.New("invalid stream id")
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrStaleAggregate is returned when Store is called on an instance whose
	// previous append failed. The aggregate must be reloaded first.
	ErrStaleAggregate = errors.New("stale aggregate: reload before storing again")

	ErrDecodeFailure        = errors.New("event decode failure")
	ErrUnregisteredEvent    = errors.New("event not registered")
	ErrDuplicateHandler     = errors.New("duplicate handler")
	ErrCheckpointRegressed  = errors.New("checkpoint regressed")
	ErrSubscriptionDropped  = errors.New("subscription dropped")
	ErrSubscriptionCanceled = errors.New("subscription cancelled")
)

// StreamRevisionConflictError reports an append whose expected version did
// not match the stream's actual version.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision ExpectedVersion
	ActualRevision   ExpectedVersion
}

func (s StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: (expected version %s, actual %s)",
		s.Stream, s.ExpectedRevision, s.ActualRevision)
}

func (s StreamRevisionConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// EventStoreError wraps storage and transport faults raised by a backend.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error {
	return e.Err
}

func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	var existing *EventStoreError
	if errors.As(err, &existing) {
		return err
	}
	return &EventStoreError{Err: err}
}

// EventDecodeError is returned when a logged event cannot be turned back
// into its registered payload type.
type EventDecodeError struct {
	EventID   string
	EventType string
	Err       error
}

func (e *EventDecodeError) Error() string {
	return fmt.Sprintf("decode event %s (%q): %v", e.EventID, e.EventType, e.Err)
}

func (e *EventDecodeError) Unwrap() error {
	return e.Err
}

func (e *EventDecodeError) Is(target error) bool {
	return target == ErrDecodeFailure
}

// IsConcurrencyConflict reports whether err is a version mismatch on append.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
