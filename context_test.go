package eventsourcing_test

import (
	"maps"
	"testing"
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
	"github.com/terraskye/eventsourcing-engine/fixtures"
)

type envelopeView struct {
	StreamID      string
	AggregateID   string
	EventID       uuid.UUID
	Version       uint64
	GlobalVersion uint64
	OccurredAt    time.Time
	Metadata      map[string]any
}

func TestWithEnvelope(t *testing.T) {
	occurredAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := fixtures.NewEnvelope(fixtures.OrderCreatedEvent,
		fixtures.WithStreamID("Order-1"),
		fixtures.WithVersion(7),
		fixtures.WithGlobalVersion(42),
		fixtures.WithMetadataField("tenant", "acme"),
	)
	env.AggregateID = "1"
	env.OccurredAt = occurredAt

	tests := []struct {
		name string
		env  *es.Envelope
		want envelopeView
	}{
		{
			name: "decoded envelope",
			env:  env,
			want: envelopeView{
				StreamID:      "Order-1",
				AggregateID:   "1",
				EventID:       env.EventID,
				Version:       7,
				GlobalVersion: 42,
				OccurredAt:    occurredAt,
				Metadata:      map[string]any{"tenant": "acme"},
			},
		},
		{
			name: "no envelope",
			want: envelopeView{EventID: uuid.Nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			if tt.env != nil {
				ctx = es.WithEnvelope(ctx, tt.env)
			}

			got := envelopeView{
				StreamID:      es.StreamIDFromContext(ctx),
				AggregateID:   es.AggregateIDFromContext(ctx),
				EventID:       es.EventIDFromContext(ctx),
				Version:       es.VersionFromContext(ctx),
				GlobalVersion: es.GlobalVersionFromContext(ctx),
				OccurredAt:    es.OccurredAtFromContext(ctx),
				Metadata:      es.MetadataFromContext(ctx),
			}

			if got.StreamID != tt.want.StreamID || got.AggregateID != tt.want.AggregateID {
				t.Errorf("ids: got %q/%q, want %q/%q", got.StreamID, got.AggregateID, tt.want.StreamID, tt.want.AggregateID)
			}
			if got.EventID != tt.want.EventID {
				t.Errorf("event id: got %s, want %s", got.EventID, tt.want.EventID)
			}
			if got.Version != tt.want.Version || got.GlobalVersion != tt.want.GlobalVersion {
				t.Errorf("positions: got %d/%d, want %d/%d", got.Version, got.GlobalVersion, tt.want.Version, tt.want.GlobalVersion)
			}
			if !got.OccurredAt.Equal(tt.want.OccurredAt) {
				t.Errorf("occurred at: got %v, want %v", got.OccurredAt, tt.want.OccurredAt)
			}
			if !maps.Equal(got.Metadata, tt.want.Metadata) {
				t.Errorf("metadata: got %v, want %v", got.Metadata, tt.want.Metadata)
			}
		})
	}
}

func TestEventBuffer(t *testing.T) {
	if es.EventBufferFromContext(t.Context()) != nil {
		t.Fatal("expected no buffer on empty context")
	}

	buf := es.NewEventBuffer()
	ctx := es.WithEventBuffer(t.Context(), buf)
	if es.EventBufferFromContext(ctx) != buf {
		t.Fatal("expected buffer from context")
	}

	env := es.Envelope{EventID: uuid.New(), Metadata: map[string]any{"k": "v"}}
	buf.Add(env)
	env.Metadata["k"] = "changed"

	got := buf.Events()
	if len(got) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(got))
	}
	if got[0].Metadata["k"] != "v" {
		t.Fatalf("buffered metadata was mutated through the original: %v", got[0].Metadata)
	}

	if drained := buf.Drain(); len(drained) != 1 {
		t.Fatalf("expected to drain 1 event, got %d", len(drained))
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buf.Len())
	}
}
