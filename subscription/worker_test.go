package subscription_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	es "github.com/terraskye/eventsourcing-engine"
	"github.com/terraskye/eventsourcing-engine/checkpoint"
	"github.com/terraskye/eventsourcing-engine/eventstore/memory"
	"github.com/terraskye/eventsourcing-engine/fixtures"
	"github.com/terraskye/eventsourcing-engine/subscription"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func fastBackOff() backoff.BackOff {
	return subscription.JitterBackOff{Delay: time.Millisecond}
}

func newWorker(t *testing.T, source es.AllStreamSubscriber, cp es.CheckpointStore, opts ...subscription.Option) *subscription.Worker {
	t.Helper()
	opts = append([]subscription.Option{
		subscription.WithCodec(fixtures.NewCodec()),
		subscription.WithResubscribeBackOff(fastBackOff),
		subscription.WithLogger(quietLogger),
	}, opts...)
	w, err := subscription.NewWorker("projector", source, cp, opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

// start runs w in the background. The result of Run arrives on the
// returned channel.
func start(t *testing.T, w *subscription.Worker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func checkpointAt(cp es.CheckpointStore, want uint64) func() bool {
	return func() bool {
		pos, found, _ := cp.Load(context.Background(), "projector")
		return found && pos == want
	}
}

func logged(first uint64, events ...es.Event) []es.LoggedEvent {
	return fixtures.LoggedEvents(fixtures.NewCodec(), first, fixtures.EnvelopesFor("Order-1", events...)...)
}

func TestNewWorker_Validation(t *testing.T) {
	if _, err := subscription.NewWorker("", fixtures.NewSubscriberSpy(), checkpoint.NewMemoryStore()); !errors.Is(err, subscription.ErrInvalidWorker) {
		t.Errorf("expected ErrInvalidWorker for empty id, got %v", err)
	}
	if _, err := subscription.NewWorker("projector", nil, checkpoint.NewMemoryStore()); !errors.Is(err, subscription.ErrInvalidWorker) {
		t.Errorf("expected ErrInvalidWorker for nil source, got %v", err)
	}
}

func TestWorker_ResumesAfterCheckpoint(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	if err := cp.Store(t.Context(), "projector", 42); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: logged(43, fixtures.OrderCreatedEvent)})
	handler := fixtures.NewEventHandlerSpy()

	w := newWorker(t, source, cp, subscription.WithProjector(handler))
	cancel, done := start(t, w)

	waitFor(t, "checkpoint 43", checkpointAt(cp, 43))

	opts := <-source.Subscribed()
	if opts.From != 43 {
		t.Errorf("expected subscription from 43, got %d", opts.From)
	}
	if !slices.Contains(opts.ExcludeEventTypes, es.CheckpointEventType) || !opts.ExcludeSystemEvents {
		t.Errorf("expected checkpoint markers and system events excluded, got %+v", opts)
	}
	if got := handler.Positions(); len(got) != 1 || got[0] != 43 {
		t.Errorf("expected delivery of position 43, got %v", got)
	}
	if pos, ok := w.LastCheckpoint(); !ok || pos != 43 {
		t.Errorf("expected last checkpoint 43, got %d %v", pos, ok)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("expected nil on cancellation, got %v", err)
	}
	if w.State() != subscription.StateTerminated {
		t.Errorf("expected terminated, got %s", w.State())
	}
}

func TestWorker_StartsFromBeginningWithoutCheckpoint(t *testing.T) {
	source := fixtures.NewSubscriberSpy()
	w := newWorker(t, source, checkpoint.NewMemoryStore())
	start(t, w)

	opts := <-source.Subscribed()
	if opts.From != 0 {
		t.Errorf("expected subscription from the start, got %d", opts.From)
	}
	waitFor(t, "subscribed", func() bool { return w.State() == subscription.StateSubscribed })
	if _, ok := w.LastCheckpoint(); ok {
		t.Error("expected no checkpoint")
	}
}

func TestWorker_DeliversPublisherThenProjector(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) es.EventHandler {
		return es.NewEventHandlerFunc(func(ctx context.Context, ev es.Event) error {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+ev.EventType())
			return nil
		})
	}

	cp := checkpoint.NewMemoryStore()
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: logged(1, fixtures.OrderCreatedEvent, fixtures.OrderShippedEvent)})
	w := newWorker(t, source, cp,
		subscription.WithProjector(record("projector")),
		subscription.WithPublisher(record("publisher")),
	)
	start(t, w)
	waitFor(t, "checkpoint 2", checkpointAt(cp, 2))

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"publisher:OrderCreated", "projector:OrderCreated",
		"publisher:OrderShipped", "projector:OrderShipped",
	}
	if !slices.Equal(calls, want) {
		t.Errorf("expected %v, got %v", want, calls)
	}
}

func TestWorker_HandlersSeeEnvelope(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	events := logged(7, fixtures.OrderCreatedEvent)
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: events})

	seen := make(chan string, 1)
	handler := es.NewEventHandlerFunc(func(ctx context.Context, ev es.Event) error {
		seen <- es.StreamIDFromContext(ctx) + "@" + es.EventIDFromContext(ctx).String()
		return nil
	})
	start(t, newWorker(t, source, cp, subscription.WithPublisher(handler)))

	select {
	case got := <-seen:
		if want := "Order-1@" + events[0].EventID.String(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWorker_SkipsEmptyPayloadsAndMarkers(t *testing.T) {
	events := logged(1, fixtures.OrderCreatedEvent, fixtures.ItemAddedEvent, fixtures.OrderShippedEvent)
	events[1].Data = nil
	marker := fixtures.LoggedEvents(fixtures.NewCodec(), 4, fixtures.EnvelopesFor(es.CheckpointStreamFor("projector"),
		es.CheckpointStored{SubscriptionID: "projector", Position: 3})...)
	events = append(events, marker...)

	cp := checkpoint.NewMemoryStore()
	handler := fixtures.NewEventHandlerSpy()
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: events})
	w := newWorker(t, source, cp, subscription.WithProjector(handler))
	start(t, w)

	waitFor(t, "checkpoint 3", checkpointAt(cp, 3))
	// let the marker at 4 go through
	time.Sleep(20 * time.Millisecond)

	if got := handler.Positions(); !slices.Equal(got, []uint64{1, 3}) {
		t.Errorf("expected deliveries at 1 and 3, got %v", got)
	}
	if pos, _, _ := cp.Load(t.Context(), "projector"); pos != 3 {
		t.Errorf("expected skipped events not to advance the checkpoint, got %d", pos)
	}
}

func TestWorker_ResubscribesAfterDrop(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	handler := fixtures.NewEventHandlerSpy()
	source := fixtures.NewSubscriberSpy(
		fixtures.Script{Events: logged(1, fixtures.OrderCreatedEvent), Err: errors.New("connection reset")},
		fixtures.Script{Events: logged(2, fixtures.OrderShippedEvent)},
	)
	w := newWorker(t, source, cp, subscription.WithProjector(handler))
	start(t, w)

	waitFor(t, "checkpoint 2", checkpointAt(cp, 2))

	if got := source.Froms(); !slices.Equal(got, []uint64{0, 2}) {
		t.Errorf("expected subscriptions from 0 then 2, got %v", got)
	}
	if handler.EventCount() != 2 {
		t.Errorf("expected 2 deliveries, got %d", handler.EventCount())
	}
}

func TestWorker_HandlerErrorRedelivers(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	events := logged(1, fixtures.OrderCreatedEvent)
	source := fixtures.NewSubscriberSpy(
		fixtures.Script{Events: events},
		fixtures.Script{Events: events},
	)

	handler := fixtures.NewEventHandlerSpy()
	failures := 1
	handler.HandleFn = func(ctx context.Context, ev es.Event) error {
		if failures > 0 {
			failures--
			return errors.New("read model unavailable")
		}
		return nil
	}

	w := newWorker(t, source, cp, subscription.WithProjector(handler))
	start(t, w)

	waitFor(t, "checkpoint 1", checkpointAt(cp, 1))

	if handler.HandleCalls != 2 {
		t.Errorf("expected the event to be delivered twice, got %d", handler.HandleCalls)
	}
	if got := source.Froms(); !slices.Equal(got, []uint64{0, 0}) {
		t.Errorf("expected resubscription from the old checkpoint, got %v", got)
	}
}

func TestWorker_DeliveryRetryPolicy(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: logged(1, fixtures.OrderCreatedEvent)})

	calls := 0
	handler := es.NewEventHandlerFunc(func(ctx context.Context, ev es.Event) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	w := newWorker(t, source, cp,
		subscription.WithPublisher(handler),
		subscription.WithDeliveryRetry(es.RetryPolicy{MaxAttempts: 2}),
	)
	start(t, w)

	waitFor(t, "checkpoint 1", checkpointAt(cp, 1))
	if source.CallCount() != 1 {
		t.Errorf("expected the retry to avoid a resubscribe, got %d subscriptions", source.CallCount())
	}
}

func TestWorker_SkippedEventsAreNotFailures(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: logged(1, fixtures.OrderShippedEvent)})

	// the router has no route for OrderShipped
	router := es.NewEventRouter(es.OnEvent(func(ctx context.Context, ev fixtures.OrderCreated) error { return nil }))
	w := newWorker(t, source, cp, subscription.WithPublisher(router))
	start(t, w)

	waitFor(t, "checkpoint 1", checkpointAt(cp, 1))
	if source.CallCount() != 1 {
		t.Errorf("expected no resubscribe, got %d subscriptions", source.CallCount())
	}
}

func TestWorker_DecodeFailureStops(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	events := fixtures.LoggedEvents(fixtures.NewCodec(), 1, fixtures.EnvelopesFor("Order-1", fixtures.UnregisteredEvent{Note: "x"})...)
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: events})
	handler := fixtures.NewEventHandlerSpy()

	w := newWorker(t, source, cp, subscription.WithProjector(handler))
	_, done := start(t, w)

	err := waitDone(t, done)
	if !errors.Is(err, es.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	if handler.EventCount() != 0 {
		t.Errorf("expected no delivery, got %d", handler.EventCount())
	}
	if _, found, _ := cp.Load(t.Context(), "projector"); found {
		t.Error("expected no checkpoint past an undecodable event")
	}
	if w.State() != subscription.StateTerminated {
		t.Errorf("expected terminated, got %s", w.State())
	}
}

func TestWorker_CancelDuringDeliveryKeepsCheckpoint(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: logged(1, fixtures.OrderCreatedEvent)})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	handler := es.NewEventHandlerFunc(func(context.Context, es.Event) error {
		cancel()
		return nil
	})

	w := newWorker(t, source, cp, subscription.WithProjector(handler))
	if err := w.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}

	if _, found, _ := cp.Load(t.Context(), "projector"); found {
		t.Error("expected no checkpoint for a delivery interrupted by cancellation")
	}
	if source.CallCount() != 1 {
		t.Errorf("expected no resubscribe after cancellation, got %d", source.CallCount())
	}
}

func TestWorker_RetriesSubscribeFailures(t *testing.T) {
	cp := checkpoint.NewMemoryStore()
	source := fixtures.NewSubscriberSpy(fixtures.Script{Events: logged(1, fixtures.OrderCreatedEvent)})
	source.SubscribeErr = errors.New("unavailable")
	source.SubscribeFailures = 2

	w := newWorker(t, source, cp)
	start(t, w)

	waitFor(t, "checkpoint 1", checkpointAt(cp, 1))
	if source.CallCount() != 3 {
		t.Errorf("expected 3 subscribe calls, got %d", source.CallCount())
	}
}

func TestWorker_CancelWhileResubscribing(t *testing.T) {
	source := fixtures.NewSubscriberSpy()
	source.SubscribeErr = errors.New("unavailable")
	source.SubscribeFailures = 1000

	w, err := subscription.NewWorker("projector", source, checkpoint.NewMemoryStore(), subscription.WithLogger(quietLogger))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	cancel, done := start(t, w)

	waitFor(t, "resubscribing", func() bool { return w.State() == subscription.StateResubscribing })
	began := time.Now()
	cancel()

	if err := waitDone(t, done); err != nil {
		t.Errorf("expected nil on cancellation, got %v", err)
	}
	if elapsed := time.Since(began); elapsed > 500*time.Millisecond {
		t.Errorf("expected the backoff wait to stop on cancellation, took %s", elapsed)
	}
	if source.CallCount() != 1 {
		t.Errorf("expected a single attempt before cancellation, got %d", source.CallCount())
	}
}

func TestWorker_RunTwice(t *testing.T) {
	w := newWorker(t, fixtures.NewSubscriberSpy(), checkpoint.NewMemoryStore())
	start(t, w)
	waitFor(t, "subscribed", func() bool { return w.State() == subscription.StateSubscribed })

	if err := w.Run(t.Context()); !errors.Is(err, subscription.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestWorker_MemoryStoreEndToEnd(t *testing.T) {
	store := memory.NewMemoryStore(memory.WithCodec(fixtures.NewCodec()))
	defer store.Close()
	orders := es.NewAggregateStore(store, fixtures.NewOrder)
	cp := checkpoint.NewEventStore(store)
	ctx := t.Context()

	var (
		mu      sync.Mutex
		created []string
		shipped []string
	)
	router := es.NewEventRouter(
		es.OnEvent(func(ctx context.Context, ev fixtures.OrderCreated) error {
			mu.Lock()
			defer mu.Unlock()
			created = append(created, ev.OrderID)
			return nil
		}),
		es.OnEvent(func(ctx context.Context, ev fixtures.OrderShipped) error {
			mu.Lock()
			defer mu.Unlock()
			shipped = append(shipped, ev.OrderID)
			return nil
		}),
	)

	w := newWorker(t, store, cp, subscription.WithPublisher(router))
	start(t, w)

	for _, id := range []string{"1", "2"} {
		order := orders.New(id)
		order.Create("alice")
		if _, err := orders.Store(ctx, order); err != nil {
			t.Fatalf("store order %s: %v", id, err)
		}
	}
	waitFor(t, "both orders created", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(created) == 2
	})

	store.DropSubscriptions(errors.New("leader changed"))

	order, err := orders.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = order.Ship()
	result, err := orders.Store(ctx, order)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	waitFor(t, "ship checkpoint", checkpointAt(cp, result.GlobalPosition))

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(created, []string{"1", "2"}) {
		t.Errorf("expected orders 1 and 2 created once each, got %v", created)
	}
	if !slices.Equal(shipped, []string{"1"}) {
		t.Errorf("expected order 1 shipped once, got %v", shipped)
	}
}

// brokenCheckpoints loads nothing and never stores.
type brokenCheckpoints struct{}

func (brokenCheckpoints) Load(context.Context, string) (uint64, bool, error) {
	return 0, false, nil
}

func (brokenCheckpoints) Store(context.Context, string, uint64) error {
	return errors.New("checkpoint store unavailable")
}

func TestWorker_BacksOffWhenCheckpointStoreFails(t *testing.T) {
	store := memory.NewMemoryStore(memory.WithCodec(fixtures.NewCodec()))
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.AppendEvents(t.Context(), "Order-1", es.NoStream,
		fixtures.EnvelopesFor("Order-1", fixtures.OrderCreatedEvent)...); err != nil {
		t.Fatalf("append: %v", err)
	}

	handler := fixtures.NewEventHandlerSpy()
	w := newWorker(t, store, brokenCheckpoints{},
		subscription.WithProjector(handler),
		subscription.WithResubscribeBackOff(func() backoff.BackOff {
			return subscription.JitterBackOff{Delay: 50 * time.Millisecond}
		}),
	)
	cancel, done := start(t, w)

	time.Sleep(300 * time.Millisecond)
	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}

	// one delivery per backoff interval, plus the first
	if calls := handler.EventCount(); calls < 2 || calls > 8 {
		t.Errorf("expected between 2 and 8 deliveries in 300ms, got %d", calls)
	}
}
