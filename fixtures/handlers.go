package fixtures

import (
	"context"
	"sync"

	es "github.com/terraskye/eventsourcing-engine"
)

// EventHandlerSpy is a configurable mock EventHandler for testing.
type EventHandlerSpy struct {
	mu sync.Mutex

	// Function override
	HandleFn func(ctx context.Context, event es.Event) error

	// Call tracking
	HandleCalls int

	// Captured events and the global position found in their context
	ReceivedEvents    []es.Event
	ReceivedPositions []uint64

	// Error injection
	handleErr error
}

// NewEventHandlerSpy creates a new EventHandlerSpy.
func NewEventHandlerSpy() *EventHandlerSpy {
	return &EventHandlerSpy{}
}

// FailOnHandle configures the handler to return an error.
func (h *EventHandlerSpy) FailOnHandle(err error) *EventHandlerSpy {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handleErr = err
	return h
}

// Handle implements EventHandler.Handle.
func (h *EventHandlerSpy) Handle(ctx context.Context, event es.Event) error {
	h.mu.Lock()
	h.HandleCalls++
	h.ReceivedEvents = append(h.ReceivedEvents, event)
	h.ReceivedPositions = append(h.ReceivedPositions, es.GlobalVersionFromContext(ctx))
	fn, err := h.HandleFn, h.handleErr
	h.mu.Unlock()

	if fn != nil {
		return fn(ctx, event)
	}
	return err
}

// Reset clears all call counts and received events.
func (h *EventHandlerSpy) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.HandleCalls = 0
	h.ReceivedEvents = nil
	h.ReceivedPositions = nil
	h.handleErr = nil
}

// LastEvent returns the most recently received event, or nil if none.
func (h *EventHandlerSpy) LastEvent() es.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.ReceivedEvents) == 0 {
		return nil
	}
	return h.ReceivedEvents[len(h.ReceivedEvents)-1]
}

// EventCount returns the number of events received.
func (h *EventHandlerSpy) EventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ReceivedEvents)
}

// Positions returns a copy of the received global positions.
func (h *EventHandlerSpy) Positions() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint64(nil), h.ReceivedPositions...)
}
