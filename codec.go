package eventsourcing

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentTypeJSON tags payloads produced by JSONCodec.
const ContentTypeJSON = "application/json"

// Codec converts between decoded envelopes and their logged representation.
type Codec interface {
	Encode(env Envelope) (LoggedEvent, error)
	Decode(ev LoggedEvent) (*Envelope, error)
}

// eventMetadata is the metadata document stored next to every payload.
type eventMetadata struct {
	EventID        string         `json:"eventId"`
	StreamPosition uint64         `json:"streamPosition"`
	GlobalPosition *uint64        `json:"globalPosition,omitempty"`
	AggregateID    string         `json:"aggregateId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// JSONCodec serializes payload and metadata as independent JSON documents
// and resolves event types through a Registry.
type JSONCodec struct {
	registry *Registry
}

// NewJSONCodec returns a codec bound to r, or to DefaultRegistry when r is nil.
func NewJSONCodec(r *Registry) *JSONCodec {
	if r == nil {
		r = DefaultRegistry
	}
	return &JSONCodec{registry: r}
}

// Registry returns the registry used for decoding.
func (c *JSONCodec) Registry() *Registry {
	return c.registry
}

func (c *JSONCodec) Encode(env Envelope) (LoggedEvent, error) {
	if env.Event == nil {
		return LoggedEvent{}, fmt.Errorf("%w: envelope %s has no event", ErrInvalidEventBatch, env.EventID)
	}

	data, err := json.Marshal(env.Event)
	if err != nil {
		return LoggedEvent{}, fmt.Errorf("encode %s payload: %w", env.Event.EventType(), err)
	}

	md := eventMetadata{
		EventID:        env.EventID.String(),
		StreamPosition: env.Version,
		AggregateID:    env.AggregateID,
		OccurredAt:     env.OccurredAt.UTC(),
		Extra:          env.Metadata,
	}
	if env.GlobalVersion != 0 {
		gp := env.GlobalVersion
		md.GlobalPosition = &gp
	}
	metadata, err := json.Marshal(md)
	if err != nil {
		return LoggedEvent{}, fmt.Errorf("encode %s metadata: %w", env.Event.EventType(), err)
	}

	return LoggedEvent{
		EventID:        env.EventID,
		StreamID:       env.StreamID,
		EventType:      env.Event.EventType(),
		ContentType:    ContentTypeJSON,
		Data:           data,
		Metadata:       metadata,
		StreamPosition: env.Version,
		GlobalPosition: env.GlobalVersion,
		CreatedAt:      env.OccurredAt,
	}, nil
}

// Decode rebuilds the envelope. Positions assigned by the store on the
// logged event take precedence over the positions recorded in metadata.
func (c *JSONCodec) Decode(ev LoggedEvent) (*Envelope, error) {
	payload, err := c.registry.Decode(ev.EventType, ev.Data)
	if err != nil {
		return nil, &EventDecodeError{EventID: ev.EventID.String(), EventType: ev.EventType, Err: err}
	}

	var md eventMetadata
	if len(ev.Metadata) > 0 {
		if err := json.Unmarshal(ev.Metadata, &md); err != nil {
			return nil, &EventDecodeError{EventID: ev.EventID.String(), EventType: ev.EventType, Err: fmt.Errorf("metadata: %w", err)}
		}
	}

	occurredAt := md.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = ev.CreatedAt
	}
	extra := md.Extra
	if extra == nil {
		extra = make(map[string]any)
	}

	return &Envelope{
		EventID:       ev.EventID,
		StreamID:      ev.StreamID,
		AggregateID:   md.AggregateID,
		Metadata:      extra,
		Event:         payload,
		Version:       ev.StreamPosition,
		GlobalVersion: ev.GlobalPosition,
		OccurredAt:    occurredAt,
	}, nil
}

var _ Codec = (*JSONCodec)(nil)
