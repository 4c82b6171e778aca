package eventsourcing

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

var _ Event = (*CartCreated)(nil)
var _ Event = (*ItemAdded)(nil)
var _ Event = (*UnhandledEvent)(nil)

type CartCreated struct {
	ID string
}

func (c CartCreated) EventType() string { return "CartCreated" }

type ItemAdded struct {
	ID string
}

func (i *ItemAdded) EventType() string { return "ItemAdded" }

type UnhandledEvent struct{}

func (o *UnhandledEvent) EventType() string { return "UnhandledEvent" }

type Projector struct{}

func (p Projector) OnItemAdded(ctx context.Context, ev *ItemAdded) error    { return nil }
func (p Projector) OnCartCreated(ctx context.Context, ev *CartCreated) error { return nil }

func TestEventNameExtraction(t *testing.T) {
	p := Projector{}

	tests := []struct {
		name    string
		handler EventHandler
		want    string
	}{
		{"value receiver through pointer", OnEvent(p.OnCartCreated), "CartCreated"},
		{"pointer receiver", OnEvent(p.OnItemAdded), "ItemAdded"},
		{"value type", OnEvent(func(ctx context.Context, ev CartCreated) error { return nil }), "CartCreated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := handlerEventName(tt.handler)
			if !ok {
				t.Fatalf("handler %T does not have a function `EventName()`", tt.handler)
			}
			if name != tt.want {
				t.Errorf("EventName() = %q, want %q", name, tt.want)
			}
		})
	}
}

func TestTypedEventHandler_Handle_CorrectType(t *testing.T) {
	var called bool
	handler := OnEvent(func(ctx context.Context, ev *CartCreated) error {
		called = true
		return nil
	})

	err := handler.Handle(t.Context(), &CartCreated{ID: "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("Handler should have been called")
	}
}

func TestTypedEventHandler_Handle_WrongType(t *testing.T) {
	handler := OnEvent(func(ctx context.Context, ev CartCreated) error {
		t.Fail() // should not be called
		return nil
	})

	var skipped *ErrSkippedEvent

	err := handler.Handle(t.Context(), &ItemAdded{ID: "xyz"})

	if !errors.As(err, &skipped) {
		t.Fatalf("expected skipped event, got %v", err)
	}
	if !IsSkipped(err) {
		t.Fatal("expected IsSkipped to report the skip")
	}
}

func TestEventGroupProcessor_RoutesEvents(t *testing.T) {
	calledCart := false
	calledItem := false

	group := NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev *CartCreated) error {
			calledCart = true
			return nil
		}),
		OnEvent(func(ctx context.Context, ev *ItemAdded) error {
			calledItem = true
			return nil
		}),
	)

	if err := group.Handle(t.Context(), &CartCreated{ID: "c1"}); err != nil {
		t.Fatalf("CartCreated: unexpected error: %v", err)
	}
	if !calledCart {
		t.Error("expected calledCart to be true")
	}
	if calledItem {
		t.Error("expected calledItem to be false")
	}

	if err := group.Handle(t.Context(), &ItemAdded{ID: "i1"}); err != nil {
		t.Fatalf("ItemAdded: unexpected error: %v", err)
	}
	if !calledItem {
		t.Error("expected calledItem to be true")
	}
}

func TestEventGroupProcessor_SkippedEvent(t *testing.T) {
	group := NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev CartCreated) error { return nil }),
	)

	err := group.Handle(t.Context(), &UnhandledEvent{})

	var expected *ErrSkippedEvent
	if !errors.As(err, &expected) {
		t.Fatalf("expected skipped event, got %v", err)
	}
}

func TestEventGroupProcessor_DuplicateHandlerPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on duplicate handler")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, ErrDuplicateHandler) {
			t.Fatalf("expected ErrDuplicateHandler panic, got %v", r)
		}
	}()

	NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev CartCreated) error { return nil }),
		OnEvent(func(ctx context.Context, ev CartCreated) error { return nil }),
	)
}

func TestEventGroupProcessor_StreamFilter_Sorted(t *testing.T) {
	group := NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev *ItemAdded) error { return nil }),
		OnEvent(func(ctx context.Context, ev *CartCreated) error { return nil }),
	)

	names := group.StreamFilter()
	expected := []string{"CartCreated", "ItemAdded"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("StreamFilter() = %v, want %v", names, expected)
	}
}

func TestEventRouter_FansOutInOrder(t *testing.T) {
	var calls []string
	record := func(name string) func(ctx context.Context, ev *CartCreated) error {
		return func(ctx context.Context, ev *CartCreated) error {
			calls = append(calls, name)
			return nil
		}
	}

	router := NewEventRouter(
		OnEvent(record("first")),
		NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
			calls = append(calls, "all")
			return nil
		}),
		OnEvent(record("second")),
		OnEvent(func(ctx context.Context, ev *ItemAdded) error {
			t.Fatal("ItemAdded handler must not receive CartCreated")
			return nil
		}),
	)

	if err := router.Handle(t.Context(), &CartCreated{ID: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"first", "second", "all"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	if got := router.EventTypes(); !reflect.DeepEqual(got, []string{"CartCreated", "ItemAdded"}) {
		t.Fatalf("EventTypes() = %v", got)
	}
}

func TestEventRouter_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	secondCalled := false

	router := NewEventRouter(
		OnEvent(func(ctx context.Context, ev CartCreated) error { return boom }),
		OnEvent(func(ctx context.Context, ev CartCreated) error {
			secondCalled = true
			return nil
		}),
	)

	err := router.Handle(t.Context(), CartCreated{ID: "c1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if secondCalled {
		t.Fatal("second handler must not run after a failure")
	}
}

func TestEventRouter_NoHandler(t *testing.T) {
	router := NewEventRouter()
	if err := router.Handle(t.Context(), &UnhandledEvent{}); !IsSkipped(err) {
		t.Fatalf("expected skipped event, got %v", err)
	}
}
