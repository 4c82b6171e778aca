package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// EventHandler represents a generic event handler that can handle an Event.
type EventHandler interface {
	// Handle processes the given Event within the provided context.
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
//
// There is no type-checking or filtering: the handler will receive all
// events that it is invoked with. If you need type safety, use OnEvent[T]
// instead.
//
// Example Usage:
//
//	handler := NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
//	    fmt.Println("Received event:", ev.EventType())
//	    return nil
//	})
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

// eventHandlerFunc is a function type that implements EventHandler.
type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the name of the event type T.
// It is used internally for routing.
func (h typedEventHandler[T]) EventName() string {
	return EventTypeOf[T]()
}

// Handle processes the event if it matches the type T.
// Returns ErrSkippedEvent if the event is of the wrong type.
func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: event}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly-typed EventHandler for a specific event type.
//
// Behavior Details:
//   - The handler only receives events of type T. If a different event type
//     is passed, it returns ErrSkippedEvent.
//   - EventName() derives the routing name from T's EventType.
//
// Example Usage:
//
//	handler := OnEvent(func(ctx context.Context, ev OrderCreated) error {
//	    fmt.Println("Order created:", ev.OrderID)
//	    return nil
//	})
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

func handlerEventName(h EventHandler) (string, bool) {
	u, ok := h.(interface{ EventName() string })
	if !ok {
		return "", false
	}
	return u.EventName(), true
}

// IsSkipped reports whether err only says that a handler did not handle the
// event type.
func IsSkipped(err error) bool {
	var skipped *ErrSkippedEvent
	if errors.As(err, &skipped) {
		return true
	}
	var skippedValue ErrSkippedEvent
	return errors.As(err, &skippedValue)
}

// EventGroupProcessor is a collection of typed event handlers with exactly
// one handler per event type. It is the shape of a read-model projector.
type EventGroupProcessor struct {
	handlers map[string]EventHandler // key = EventName()
}

// NewEventGroupProcessor creates a group of typed event handlers.
//
// Behavior Details:
//   - Every handler must be created with OnEvent; others panic.
//   - Duplicate handlers for the same event type panic with ErrDuplicateHandler.
//   - If no handler exists for an event, Handle returns ErrSkippedEvent.
//
// Example Usage:
//
//	p := &Projector{}
//	group := NewEventGroupProcessor(
//	    OnEvent(p.OnOrderCreated),
//	    OnEvent(p.OnOrderShipped),
//	)
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		name, ok := handlerEventName(h)
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{
		handlers: m,
	}
}

// Handle routes the given event to the correct typed handler.
// Returns ErrSkippedEvent if no handler exists for the event type.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.EventType()]
	if !ok {
		return &ErrSkippedEvent{Event: ev}
	}
	return h.Handle(ctx, ev)
}

// StreamFilter returns a sorted list of all event names handled by this group.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EventRouter fans an event out to every handler registered for its type,
// plus every catch-all handler, one after another in registration order.
type EventRouter struct {
	routes   map[string][]EventHandler
	catchAll []EventHandler
}

// NewEventRouter builds a router. Handlers created with OnEvent are routed
// by their event type; any other handler receives every event.
func NewEventRouter(handlers ...EventHandler) *EventRouter {
	r := &EventRouter{routes: make(map[string][]EventHandler)}
	for _, h := range handlers {
		r.Add(h)
	}
	return r
}

// Add registers one more handler. It must not be called concurrently with Handle.
func (r *EventRouter) Add(h EventHandler) {
	if name, ok := handlerEventName(h); ok {
		r.routes[name] = append(r.routes[name], h)
		return
	}
	r.catchAll = append(r.catchAll, h)
}

// Handle delivers ev sequentially and stops at the first failing handler.
// Skipped results count as success. An event without any handler returns
// ErrSkippedEvent.
func (r *EventRouter) Handle(ctx context.Context, ev Event) error {
	routed := r.routes[ev.EventType()]
	if len(routed) == 0 && len(r.catchAll) == 0 {
		return &ErrSkippedEvent{Event: ev}
	}

	for _, hs := range [][]EventHandler{routed, r.catchAll} {
		for _, h := range hs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := h.Handle(ctx, ev); err != nil && !IsSkipped(err) {
				return fmt.Errorf("route %s: %w", ev.EventType(), err)
			}
		}
	}
	return nil
}

// EventTypes returns the sorted event types with at least one routed handler.
func (r *EventRouter) EventTypes() []string {
	out := make([]string, 0, len(r.routes))
	for name := range r.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
