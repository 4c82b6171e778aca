package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	es "github.com/terraskye/eventsourcing-engine"
	"github.com/terraskye/eventsourcing-engine/checkpoint"
	"github.com/terraskye/eventsourcing-engine/eventstore/memory"
	"github.com/terraskye/eventsourcing-engine/fixtures"
)

func TestNewWorker_LogsUnregisteredEvents(t *testing.T) {
	// the store knows the order events, this binary does not
	store := memory.NewMemoryStore(memory.WithCodec(fixtures.NewCodec()))
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream,
		fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...); err != nil {
		t.Fatalf("append: %v", err)
	}

	var out bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&out, nil))
	cp := checkpoint.NewMemoryStore()

	worker, err := newWorker("subscriber", store, cp, logger)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if pos, ok, _ := cp.Load(t.Context(), "subscriber"); ok && pos == 1 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("event was not delivered; worker returned %v", <-done)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}

	var received map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")) {
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if entry["msg"] == "event received" {
			received = entry
		}
	}
	if received == nil {
		t.Fatalf("no event received log line in %s", out.String())
	}
	if received["type"] != fixtures.OrderCreatedEvent.EventType() {
		t.Errorf("expected type %s, got %v", fixtures.OrderCreatedEvent.EventType(), received["type"])
	}
	if _, ok := received["data"].(map[string]any); !ok {
		t.Errorf("expected the raw payload as a JSON object, got %v", received["data"])
	}
}

func TestNewCodec_RejectsNonJSON(t *testing.T) {
	ev := es.LoggedEvent{EventType: "Opaque", Data: []byte{0xff, 0x00}}
	if _, err := newCodec().Decode(ev); err == nil {
		t.Fatal("expected a decode failure for a non JSON payload")
	}
}
