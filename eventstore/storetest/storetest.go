// Package storetest holds behavior tests shared by every EventStore backend.
//
// A backend test calls Run with a factory returning an empty store whose
// codec knows the fixtures events:
//
//	func TestContract(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) eventsourcing.EventStore {
//	        return memory.NewMemoryStore(memory.WithCodec(fixtures.NewCodec()))
//	    })
//	}
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
	"github.com/terraskye/eventsourcing-engine/fixtures"
)

// Factory returns an empty store. The store is closed by the suite.
type Factory func(t *testing.T) es.EventStore

// Run executes the whole suite. Truncation and subscription tests are
// skipped for stores that do not implement Truncator or AllStreamSubscriber.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store es.EventStore)
	}{
		{"AppendAndRead", testAppendAndRead},
		{"ReadWindow", testReadWindow},
		{"ReadUnknownStream", testReadUnknownStream},
		{"StreamExists", testStreamExists},
		{"ExpectedVersion", testExpectedVersion},
		{"ConflictAppendsNothing", testConflictAppendsNothing},
		{"InvalidInput", testInvalidInput},
		{"ReusedEventID", testReusedEventID},
		{"GlobalOrder", testGlobalOrder},
		{"ConcurrentCreate", testConcurrentCreate},
		{"Truncate", testTruncate},
		{"SubscribeCatchUp", testSubscribeCatchUp},
		{"SubscribeFrom", testSubscribeFrom},
		{"SubscribeLive", testSubscribeLive},
		{"SubscribeExcludes", testSubscribeExcludes},
		{"SubscribeCancel", testSubscribeCancel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, store)
		})
	}
}

func mustAppend(t *testing.T, store es.EventStore, streamID string, expected es.ExpectedVersion, events ...es.Event) es.AppendResult {
	t.Helper()
	result, err := store.AppendEvents(t.Context(), streamID, expected, fixtures.EnvelopesFor(streamID, events...)...)
	if err != nil {
		t.Fatalf("append to %s: %v", streamID, err)
	}
	return result
}

func readAll(t *testing.T, store es.EventStore, streamID string, from, maxCount uint64) []*es.Envelope {
	t.Helper()
	iter, err := store.ReadStream(t.Context(), streamID, from, maxCount)
	if err != nil {
		t.Fatalf("read %s: %v", streamID, err)
	}
	envs, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("iterate %s: %v", streamID, err)
	}
	return envs
}

func testAppendAndRead(t *testing.T, store es.EventStore) {
	envs := fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent, fixtures.OrderShippedEvent)
	envs[0].Metadata["tenant"] = "t1"

	result, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream, envs...)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if result.NextExpectedVersion != 2 {
		t.Errorf("expected next expected version 2, got %d", result.NextExpectedVersion)
	}
	if result.GlobalPosition == 0 {
		t.Error("expected a global position")
	}

	got := readAll(t, store, "Order-1", 0, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, env := range got {
		if env.Version != uint64(i) {
			t.Errorf("event %d: expected position %d, got %d", i, i, env.Version)
		}
		if env.EventID != envs[i].EventID {
			t.Errorf("event %d: expected id %s, got %s", i, envs[i].EventID, env.EventID)
		}
		if env.StreamID != "Order-1" {
			t.Errorf("event %d: expected stream Order-1, got %q", i, env.StreamID)
		}
		if env.Event != envs[i].Event {
			t.Errorf("event %d: expected %+v, got %+v", i, envs[i].Event, env.Event)
		}
	}
	if got[2].GlobalVersion != result.GlobalPosition {
		t.Errorf("expected last global position %d, got %d", result.GlobalPosition, got[2].GlobalVersion)
	}
	if got[0].Metadata["tenant"] != "t1" {
		t.Errorf("expected metadata to survive, got %v", got[0].Metadata)
	}

	next := mustAppend(t, store, "Order-1", result.ExpectedVersion(), fixtures.OrderCancelledEvent)
	if next.NextExpectedVersion != 3 {
		t.Errorf("expected next expected version 3, got %d", next.NextExpectedVersion)
	}
}

func testReadWindow(t *testing.T, store es.EventStore) {
	mustAppend(t, store, "Order-1", es.NoStream,
		fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent, fixtures.ItemAddedEvent, fixtures.OrderShippedEvent)

	tests := []struct {
		from, max uint64
		want      []uint64
	}{
		{from: 0, max: 0, want: []uint64{0, 1, 2, 3}},
		{from: 2, max: 0, want: []uint64{2, 3}},
		{from: 1, max: 2, want: []uint64{1, 2}},
		{from: 4, max: 0, want: nil},
		{from: 10, max: 1, want: nil},
	}
	for _, tt := range tests {
		got := readAll(t, store, "Order-1", tt.from, tt.max)
		if len(got) != len(tt.want) {
			t.Errorf("from=%d max=%d: expected %d events, got %d", tt.from, tt.max, len(tt.want), len(got))
			continue
		}
		for i, env := range got {
			if env.Version != tt.want[i] {
				t.Errorf("from=%d max=%d: expected position %d, got %d", tt.from, tt.max, tt.want[i], env.Version)
			}
		}
	}
}

func testReadUnknownStream(t *testing.T, store es.EventStore) {
	if got := readAll(t, store, "Order-missing", 0, 0); len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}
}

func testStreamExists(t *testing.T, store es.EventStore) {
	ctx := t.Context()
	exists, err := store.StreamExists(ctx, "Order-1")
	if err != nil || exists {
		t.Fatalf("expected missing stream, got %v %v", exists, err)
	}

	mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent)

	exists, err = store.StreamExists(ctx, "Order-1")
	if err != nil || !exists {
		t.Fatalf("expected existing stream, got %v %v", exists, err)
	}
}

func testExpectedVersion(t *testing.T, store es.EventStore) {
	mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent)

	tests := []struct {
		name     string
		stream   string
		expected es.ExpectedVersion
		actual   es.ExpectedVersion
		conflict bool
	}{
		{name: "no stream on existing", stream: "Order-1", expected: es.NoStream, actual: es.Revision(1), conflict: true},
		{name: "stale revision", stream: "Order-1", expected: es.Revision(0), actual: es.Revision(1), conflict: true},
		{name: "future revision", stream: "Order-1", expected: es.Revision(5), actual: es.Revision(1), conflict: true},
		{name: "stream exists on missing", stream: "Order-2", expected: es.StreamExists, actual: es.NoStream, conflict: true},
		{name: "revision on missing", stream: "Order-3", expected: es.Revision(0), actual: es.NoStream, conflict: true},
		{name: "exact revision", stream: "Order-1", expected: es.Revision(1)},
		{name: "stream exists", stream: "Order-1", expected: es.StreamExists},
		{name: "any on existing", stream: "Order-1", expected: es.Any},
		{name: "any on missing", stream: "Order-4", expected: es.Any},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AppendEvents(t.Context(), tt.stream, tt.expected, fixtures.EnvelopesFor(tt.stream, fixtures.ItemAddedEvent)...)
			if !tt.conflict {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, es.ErrConcurrencyConflict) {
				t.Fatalf("expected concurrency conflict, got %v", err)
			}
			var conflict *es.StreamRevisionConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("expected *StreamRevisionConflictError, got %T", err)
			}
			if conflict.Stream != tt.stream || conflict.ExpectedRevision != tt.expected || conflict.ActualRevision != tt.actual {
				t.Errorf("expected %s %s vs %s, got %s %s vs %s",
					tt.stream, tt.expected, tt.actual, conflict.Stream, conflict.ExpectedRevision, conflict.ActualRevision)
			}
		})
	}
}

func testConflictAppendsNothing(t *testing.T, store es.EventStore) {
	mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent)

	_, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream,
		fixtures.EnvelopesFor("Order-1", fixtures.ItemAddedEvent, fixtures.OrderShippedEvent)...)
	if !es.IsConcurrencyConflict(err) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if got := readAll(t, store, "Order-1", 0, 0); len(got) != 1 {
		t.Errorf("expected the stream untouched, got %d events", len(got))
	}
}

func testInvalidInput(t *testing.T, store es.EventStore) {
	ctx := t.Context()
	dup := uuid.New()

	tests := []struct {
		name   string
		stream string
		events []es.Envelope
		want   error
	}{
		{name: "empty stream id", stream: "", events: fixtures.EnvelopesFor("", fixtures.OrderCreatedEvent), want: es.ErrInvalidStreamID},
		{name: "empty batch", stream: "Order-1", events: nil, want: es.ErrInvalidEventBatch},
		{name: "nil event", stream: "Order-1", events: []es.Envelope{{EventID: uuid.New()}}, want: es.ErrInvalidEventBatch},
		{name: "duplicate ids", stream: "Order-1", events: []es.Envelope{
			{EventID: dup, Event: fixtures.OrderCreatedEvent},
			{EventID: dup, Event: fixtures.ItemAddedEvent},
		}, want: es.ErrInvalidEventBatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AppendEvents(ctx, tt.stream, es.Any, tt.events...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if exists, _ := store.StreamExists(ctx, "Order-1"); exists {
		t.Error("expected no stream to be created by invalid input")
	}
	if _, err := store.ReadStream(ctx, "", 0, 0); !errors.Is(err, es.ErrInvalidStreamID) {
		t.Errorf("expected ErrInvalidStreamID on read, got %v", err)
	}
}

func testReusedEventID(t *testing.T, store es.EventStore) {
	ctx := t.Context()
	stored := fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)
	if _, err := store.AppendEvents(ctx, "Order-1", es.NoStream, stored...); err != nil {
		t.Fatalf("append: %v", err)
	}

	tests := []struct {
		name     string
		stream   string
		expected es.ExpectedVersion
	}{
		{name: "same stream", stream: "Order-1", expected: es.Any},
		{name: "other stream", stream: "Order-2", expected: es.NoStream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fresh := fixtures.EnvelopesFor(tt.stream, fixtures.ItemAddedEvent)[0]
			again := stored[0]
			again.StreamID = tt.stream
			again.Event = fixtures.ItemAddedEvent

			_, err := store.AppendEvents(ctx, tt.stream, tt.expected, fresh, again)
			if !errors.Is(err, es.ErrInvalidEventBatch) {
				t.Fatalf("expected ErrInvalidEventBatch, got %v", err)
			}
		})
	}

	if got := readAll(t, store, "Order-1", 0, 0); len(got) != 1 {
		t.Errorf("expected Order-1 unchanged, got %d events", len(got))
	}
	if exists, _ := store.StreamExists(ctx, "Order-2"); exists {
		t.Error("expected no partial append to Order-2")
	}
}

func testGlobalOrder(t *testing.T, store es.EventStore) {
	a := mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent)
	b := mustAppend(t, store, "Order-2", es.NoStream, fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent)
	c := mustAppend(t, store, "Order-1", es.Revision(0), fixtures.OrderShippedEvent)

	if !(a.GlobalPosition < b.GlobalPosition && b.GlobalPosition < c.GlobalPosition) {
		t.Errorf("expected increasing global positions, got %d %d %d", a.GlobalPosition, b.GlobalPosition, c.GlobalPosition)
	}
	if b.NextExpectedVersion != 1 || c.NextExpectedVersion != 1 {
		t.Errorf("expected per-stream positions, got %d and %d", b.NextExpectedVersion, c.NextExpectedVersion)
	}
}

func testConcurrentCreate(t *testing.T, store es.EventStore) {
	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream, fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case es.IsConcurrencyConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != writers-1 {
		t.Errorf("expected 1 winner and %d conflicts, got %d and %d", writers-1, succeeded, conflicts)
	}
}

func testTruncate(t *testing.T, store es.EventStore) {
	truncator, ok := store.(es.Truncator)
	if !ok {
		t.Skip("store does not support truncation")
	}
	ctx := t.Context()

	result := mustAppend(t, store, "Order-1", es.NoStream,
		fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent, fixtures.OrderShippedEvent)

	if err := truncator.TruncateStream(ctx, "Order-1", 2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	got := readAll(t, store, "Order-1", 0, 0)
	if len(got) != 1 || got[0].Version != 2 {
		t.Fatalf("expected only position 2 to remain, got %d events", len(got))
	}

	if err := truncator.TruncateStream(ctx, "Order-1", 3); err != nil {
		t.Fatalf("truncate all: %v", err)
	}
	exists, err := store.StreamExists(ctx, "Order-1")
	if err != nil || !exists {
		t.Fatalf("expected truncated stream to exist, got %v %v", exists, err)
	}
	if got := readAll(t, store, "Order-1", 0, 0); len(got) != 0 {
		t.Errorf("expected no events, got %d", len(got))
	}

	// positions keep counting after truncation
	next := mustAppend(t, store, "Order-1", result.ExpectedVersion(), fixtures.OrderCancelledEvent)
	if next.NextExpectedVersion != 3 {
		t.Errorf("expected position 3, got %d", next.NextExpectedVersion)
	}
	if _, err := store.AppendEvents(ctx, "Order-1", es.NoStream, fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...); !es.IsConcurrencyConflict(err) {
		t.Errorf("expected NoStream to conflict on a truncated stream, got %v", err)
	}

	if err := truncator.TruncateStream(ctx, "Order-missing", 5); err != nil {
		t.Errorf("expected truncating a missing stream to succeed, got %v", err)
	}
}

func subscriber(t *testing.T, store es.EventStore) es.AllStreamSubscriber {
	t.Helper()
	sub, ok := store.(es.AllStreamSubscriber)
	if !ok {
		t.Skip("store does not support subscriptions")
	}
	return sub
}

func recvN(t *testing.T, sub es.Subscription, n int) []es.LoggedEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	out := make([]es.LoggedEvent, 0, n)
	for len(out) < n {
		ev, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("recv after %d events: %v", len(out), err)
		}
		out = append(out, ev)
	}
	return out
}

func testSubscribeCatchUp(t *testing.T, store es.EventStore) {
	source := subscriber(t, store)
	mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent)
	mustAppend(t, store, "Order-2", es.NoStream, fixtures.OrderCreatedEvent)
	mustAppend(t, store, "Order-1", es.Revision(0), fixtures.OrderShippedEvent)

	sub, err := source.SubscribeToAll(t.Context(), es.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	got := recvN(t, sub, 3)
	wantStreams := []string{"Order-1", "Order-2", "Order-1"}
	for i, ev := range got {
		if ev.StreamID != wantStreams[i] {
			t.Errorf("event %d: expected stream %s, got %s", i, wantStreams[i], ev.StreamID)
		}
		if i > 0 && ev.GlobalPosition <= got[i-1].GlobalPosition {
			t.Errorf("event %d: global positions not increasing", i)
		}
	}
}

func testSubscribeFrom(t *testing.T, store es.EventStore) {
	source := subscriber(t, store)
	mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent)
	last := mustAppend(t, store, "Order-1", es.Revision(1), fixtures.OrderShippedEvent)

	sub, err := source.SubscribeToAll(t.Context(), es.SubscribeOptions{From: last.GlobalPosition})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	got := recvN(t, sub, 1)
	if got[0].GlobalPosition != last.GlobalPosition || got[0].EventType != "OrderShipped" {
		t.Errorf("expected OrderShipped at %d, got %s at %d", last.GlobalPosition, got[0].EventType, got[0].GlobalPosition)
	}
}

func testSubscribeLive(t *testing.T, store es.EventStore) {
	source := subscriber(t, store)
	sub, err := source.SubscribeToAll(t.Context(), es.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.AppendEvents(context.Background(), "Order-1", es.NoStream, fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...)
	}()

	got := recvN(t, sub, 1)
	if got[0].EventType != "OrderCreated" {
		t.Errorf("expected OrderCreated, got %s", got[0].EventType)
	}
}

func testSubscribeExcludes(t *testing.T, store es.EventStore) {
	source := subscriber(t, store)
	mustAppend(t, store, "Order-1", es.NoStream, fixtures.OrderCreatedEvent)
	mustAppend(t, store, es.CheckpointStreamFor("projector"), es.Any, es.CheckpointStored{SubscriptionID: "projector", Position: 1})
	mustAppend(t, store, "Order-1", es.Revision(0), fixtures.OrderShippedEvent)

	sub, err := source.SubscribeToAll(t.Context(), es.SubscribeOptions{
		ExcludeEventTypes:   []string{es.CheckpointEventType},
		ExcludeSystemEvents: true,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	got := recvN(t, sub, 2)
	if got[0].EventType != "OrderCreated" || got[1].EventType != "OrderShipped" {
		t.Errorf("expected checkpoint marker to be filtered, got %s, %s", got[0].EventType, got[1].EventType)
	}
}

func testSubscribeCancel(t *testing.T, store es.EventStore) {
	source := subscriber(t, store)

	ctx, cancel := context.WithCancel(t.Context())
	sub, err := source.SubscribeToAll(t.Context(), es.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	if _, err := sub.Recv(ctx); !errors.Is(err, es.ErrSubscriptionCanceled) {
		t.Errorf("expected ErrSubscriptionCanceled on cancel, got %v", err)
	}

	closed, err := source.SubscribeToAll(t.Context(), es.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := closed.Recv(t.Context())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	_ = closed.Close()

	select {
	case err := <-done:
		if !errors.Is(err, es.ErrSubscriptionCanceled) {
			t.Errorf("expected ErrSubscriptionCanceled on close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("recv did not return after close")
	}
}
