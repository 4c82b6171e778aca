package eventsourcing

import (
	"maps"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an aggregate.
type Event interface {
	EventType() string
}

// EventTypeOf returns the event type name of T. Pointer types are resolved
// through a zero value of their element, so EventType may be declared on
// either receiver.
func EventTypeOf[T Event]() string {
	var zero T
	if rt := reflect.TypeFor[T](); rt.Kind() == reflect.Pointer {
		zero = reflect.New(rt.Elem()).Interface().(T)
	}
	return zero.EventType()
}

// Envelope is a decoded event together with its identity and position.
type Envelope struct {
	EventID     uuid.UUID
	StreamID    string
	AggregateID string
	Metadata    map[string]any
	Event       Event
	// Version is the 0-based position of the event within its stream.
	Version uint64
	// GlobalVersion is the position within the global log. Zero until the
	// store assigns it.
	GlobalVersion uint64
	OccurredAt    time.Time
}

// Clone returns a copy whose metadata map can be mutated independently.
func (e Envelope) Clone() Envelope {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// EventOption customises the envelope created by AppendEvent.
type EventOption func(*Envelope)

// WithEventID fixes the event id. Queuing two events with the same id keeps
// only the first one.
func WithEventID(id uuid.UUID) EventOption {
	return func(e *Envelope) {
		e.EventID = id
	}
}

// WithMetadata merges the given entries into the envelope metadata.
func WithMetadata(md map[string]any) EventOption {
	return func(e *Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(md))
		}
		maps.Copy(e.Metadata, md)
	}
}

// WithOccurredAt overrides the timestamp, which defaults to now.
func WithOccurredAt(t time.Time) EventOption {
	return func(e *Envelope) {
		e.OccurredAt = t
	}
}

// LoggedEvent is the wire representation of one event in the log: payload
// and metadata are serialized independently and tagged with a type name.
type LoggedEvent struct {
	EventID        uuid.UUID
	StreamID       string
	EventType      string
	ContentType    string
	Data           []byte
	Metadata       []byte
	StreamPosition uint64
	GlobalPosition uint64
	CreatedAt      time.Time
}
