package eventsourcing

import (
	"time"

	"github.com/google/uuid"
)

var now = time.Now

// Aggregate is the interface that all aggregates must implement.
//
// Domain types satisfy it by embedding *AggregateBase and adding
// AggregateType and Apply. Apply is a closed type switch over the events the
// aggregate knows:
//
//	func (o *Order) Apply(event Event) {
//	    switch e := event.(type) {
//	    case OrderCreated:
//	        o.Customer = e.Customer
//	    case OrderShipped:
//	        o.Shipped = true
//	    }
//	}
type Aggregate interface {
	// AggregateID returns the unique identifier of the aggregate.
	AggregateID() string

	// AggregateType names the aggregate; it prefixes the stream id.
	AggregateType() string

	// Apply mutates state for one event. It must not fail and must not
	// enqueue events.
	Apply(event Event)

	// UncommittedEvents returns all the events that are currently uncommitted.
	UncommittedEvents() []Envelope

	// OriginalVersion returns the stream position of the last persisted event.
	OriginalVersion() uint64

	aggregateBase() *AggregateBase
}

// AggregateBase holds the identity, versions and pending events of an
// aggregate. Only the AggregateStore advances OriginalVersion.
type AggregateBase struct {
	id              string
	originalVersion uint64
	persisted       bool
	stale           bool
	events          []Envelope
}

// NewAggregateBase creates an aggregate.
func NewAggregateBase(id string) *AggregateBase {
	return &AggregateBase{
		id:     id,
		events: make([]Envelope, 0),
	}
}

// AggregateID implements the AggregateID method of the Aggregate interface.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// OriginalVersion is 0 for a new aggregate, otherwise the stream position of
// the last event read or written by the store.
func (a *AggregateBase) OriginalVersion() uint64 {
	return a.originalVersion
}

// CurrentVersion is OriginalVersion plus the number of uncommitted events.
func (a *AggregateBase) CurrentVersion() uint64 {
	return a.originalVersion + uint64(len(a.events))
}

// IsNew reports whether no event of this aggregate has been loaded or stored.
func (a *AggregateBase) IsNew() bool {
	return !a.persisted
}

// AddEvent queues env unless an event with the same id is already queued.
// It reports whether env was queued.
func (a *AggregateBase) AddEvent(env Envelope) bool {
	for _, queued := range a.events {
		if queued.EventID == env.EventID {
			return false
		}
	}
	a.events = append(a.events, env)
	return true
}

// AppendEvent wraps event in a new envelope and queues it.
func (a *AggregateBase) AppendEvent(event Event, options ...EventOption) bool {
	envelope := Envelope{
		EventID:     uuid.New(),
		AggregateID: a.id,
		Metadata:    make(map[string]any),
		Event:       event,
		OccurredAt:  now(),
	}

	for _, option := range options {
		option(&envelope)
	}

	return a.AddEvent(envelope)
}

// HasUncommittedEvents reports whether events are waiting to be stored.
func (a *AggregateBase) HasUncommittedEvents() bool {
	return len(a.events) > 0
}

// UncommittedEvents returns a snapshot of the queue without draining it.
func (a *AggregateBase) UncommittedEvents() []Envelope {
	return append([]Envelope(nil), a.events...)
}

// DequeueUncommittedEvents returns the queue and clears it.
func (a *AggregateBase) DequeueUncommittedEvents() []Envelope {
	out := a.events
	a.events = make([]Envelope, 0)
	return out
}

// ClearEvents drops all uncommitted events.
func (a *AggregateBase) ClearEvents() {
	a.events = make([]Envelope, 0)
}

func (a *AggregateBase) aggregateBase() *AggregateBase {
	return a
}

func (a *AggregateBase) enrich(md map[string]any) {
	for i := range a.events {
		WithMetadata(md)(&a.events[i])
	}
}

func (a *AggregateBase) loaded(version uint64) {
	a.originalVersion = version
	a.persisted = true
}

func (a *AggregateBase) committed(version uint64) {
	a.originalVersion = version
	a.persisted = true
	a.stale = false
}

// Raise queues event on agg and applies it when it was queued.
//
// Example Usage:
//
//	func (o *Order) Ship() {
//	    Raise(o, OrderShipped{OrderID: o.AggregateID()})
//	}
func Raise(agg Aggregate, event Event, options ...EventOption) bool {
	if !agg.aggregateBase().AppendEvent(event, options...) {
		return false
	}
	agg.Apply(event)
	return true
}
