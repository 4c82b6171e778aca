package eventsourcing_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
)

type stringerID struct{ v string }

func (s stringerID) String() string { return s.v }

func TestStreamFor(t *testing.T) {
	id := uuid.MustParse("7f1c6d2e-0d4b-4b53-9b59-3f4e3c2a1b00")

	tests := []struct {
		name    string
		typ     string
		id      any
		want    string
		wantErr bool
	}{
		{name: "string id", typ: "Order", id: "123", want: "Order-123"},
		{name: "uuid id", typ: "Order", id: id, want: "Order-7f1c6d2e-0d4b-4b53-9b59-3f4e3c2a1b00"},
		{name: "stringer id", typ: "Cart", id: stringerID{"abc"}, want: "Cart-abc"},
		{name: "int id", typ: "Invoice", id: 42, want: "Invoice-42"},
		{name: "uint64 id", typ: "Invoice", id: uint64(7), want: "Invoice-7"},
		{name: "id containing separator", typ: "Order", id: "a-b", want: "Order-a-b"},
		{name: "empty id", typ: "Order", id: "", wantErr: true},
		{name: "whitespace id", typ: "Order", id: "  ", wantErr: true},
		{name: "nil id", typ: "Order", id: nil, wantErr: true},
		{name: "empty stringer", typ: "Order", id: stringerID{}, wantErr: true},
		{name: "empty type", typ: "", id: "1", wantErr: true},
		{name: "unsupported id", typ: "Order", id: 1.5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := es.StreamFor(tt.typ, tt.id)
			if tt.wantErr {
				if !errors.Is(err, es.ErrInvalidStreamID) {
					t.Fatalf("expected ErrInvalidStreamID, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStreamFor_Stable(t *testing.T) {
	a, _ := es.StreamFor("Order", "1")
	b, _ := es.StreamFor("Order", "1")
	if a != b {
		t.Errorf("expected identical stream ids, got %q and %q", a, b)
	}
}

func TestCheckpointStreamFor(t *testing.T) {
	if got := es.CheckpointStreamFor("projector"); got != "checkpoint_projector" {
		t.Errorf("unexpected checkpoint stream %q", got)
	}
}

func TestValidateStreamID(t *testing.T) {
	if err := es.ValidateStreamID("Order-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := es.ValidateStreamID(" "); !errors.Is(err, es.ErrInvalidStreamID) {
		t.Errorf("expected ErrInvalidStreamID, got %v", err)
	}
}
