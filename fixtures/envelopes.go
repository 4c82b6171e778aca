package fixtures

import (
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
)

// EnvelopeOption is a functional option for configuring an Envelope.
type EnvelopeOption func(*es.Envelope)

// NewEnvelope creates an Envelope for stream "Order-1" at position 0.
func NewEnvelope(event es.Event, opts ...EnvelopeOption) *es.Envelope {
	env := &es.Envelope{
		EventID:     uuid.New(),
		StreamID:    "Order-1",
		AggregateID: "1",
		Event:       event,
		OccurredAt:  time.Now(),
		Metadata:    make(map[string]any),
	}

	for _, opt := range opts {
		opt(env)
	}

	return env
}

// WithEventID sets a specific event ID.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *es.Envelope) {
		e.EventID = id
	}
}

// WithStreamID overrides the stream ID.
func WithStreamID(id string) EnvelopeOption {
	return func(e *es.Envelope) {
		e.StreamID = id
	}
}

// WithVersion sets the stream position.
func WithVersion(v uint64) EnvelopeOption {
	return func(e *es.Envelope) {
		e.Version = v
	}
}

// WithGlobalVersion sets the global position.
func WithGlobalVersion(v uint64) EnvelopeOption {
	return func(e *es.Envelope) {
		e.GlobalVersion = v
	}
}

// WithMetadataField adds a single metadata field.
func WithMetadataField(key string, value any) EnvelopeOption {
	return func(e *es.Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// EnvelopesFor wraps events for one stream with contiguous positions
// starting at 0.
func EnvelopesFor(streamID string, events ...es.Event) []es.Envelope {
	envelopes := make([]es.Envelope, len(events))
	baseTime := time.Now()

	for i, event := range events {
		envelopes[i] = es.Envelope{
			EventID:    uuid.New(),
			StreamID:   streamID,
			Event:      event,
			Version:    uint64(i),
			OccurredAt: baseTime.Add(time.Duration(i) * time.Millisecond),
			Metadata:   make(map[string]any),
		}
	}

	return envelopes
}

// Pointers returns pointers to copies of envelopes.
func Pointers(envelopes []es.Envelope) []*es.Envelope {
	out := make([]*es.Envelope, len(envelopes))
	for i := range envelopes {
		env := envelopes[i]
		out[i] = &env
	}
	return out
}

// LoggedEvents encodes envelopes with codec and assigns global positions
// starting at firstGlobal. It panics on encoding errors.
func LoggedEvents(codec es.Codec, firstGlobal uint64, envelopes ...es.Envelope) []es.LoggedEvent {
	out := make([]es.LoggedEvent, len(envelopes))
	for i, env := range envelopes {
		env.GlobalVersion = firstGlobal + uint64(i)
		ev, err := codec.Encode(env)
		if err != nil {
			panic(err)
		}
		out[i] = ev
	}
	return out
}
