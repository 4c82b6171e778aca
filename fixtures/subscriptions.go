package fixtures

import (
	"context"
	"fmt"
	"sync"

	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.AllStreamSubscriber = (*SubscriberSpy)(nil)

// Script is the behavior of one scripted subscription: it yields Events in
// order and then ends with Err. A nil Err blocks until the context is
// cancelled or the subscription is closed.
type Script struct {
	Events []es.LoggedEvent
	Err    error
}

// SubscriberSpy is a scripted AllStreamSubscriber. Each SubscribeToAll call
// consumes the next script; once the scripts run out, subscriptions block.
type SubscriberSpy struct {
	mu      sync.Mutex
	scripts []Script

	// SubscribeErr fails the next SubscribeToAll calls while non-zero.
	SubscribeErr      error
	SubscribeFailures int

	subscribed chan es.SubscribeOptions
	Calls      []es.SubscribeOptions
}

// NewSubscriberSpy creates a SubscriberSpy that plays scripts in order.
func NewSubscriberSpy(scripts ...Script) *SubscriberSpy {
	return &SubscriberSpy{
		scripts:    scripts,
		subscribed: make(chan es.SubscribeOptions, 64),
	}
}

// SubscribeToAll implements AllStreamSubscriber.
func (s *SubscriberSpy) SubscribeToAll(ctx context.Context, opts es.SubscribeOptions) (es.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, opts)
	select {
	case s.subscribed <- opts:
	default:
	}

	if s.SubscribeFailures > 0 {
		s.SubscribeFailures--
		return nil, s.SubscribeErr
	}

	var script Script
	if len(s.scripts) > 0 {
		script, s.scripts = s.scripts[0], s.scripts[1:]
	}
	return &scriptedSubscription{script: script, closed: make(chan struct{})}, nil
}

// Subscribed returns a channel receiving the options of every subscribe call.
func (s *SubscriberSpy) Subscribed() <-chan es.SubscribeOptions {
	return s.subscribed
}

// CallCount returns the number of SubscribeToAll calls.
func (s *SubscriberSpy) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Froms returns the start position of every subscribe call.
func (s *SubscriberSpy) Froms() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.Calls))
	for i, c := range s.Calls {
		out[i] = c.From
	}
	return out
}

type scriptedSubscription struct {
	mu     sync.Mutex
	script Script
	next   int
	once   sync.Once
	closed chan struct{}
}

func (s *scriptedSubscription) Recv(ctx context.Context) (es.LoggedEvent, error) {
	s.mu.Lock()
	if s.next < len(s.script.Events) {
		ev := s.script.Events[s.next]
		s.next++
		s.mu.Unlock()
		return ev, nil
	}
	s.mu.Unlock()

	if s.script.Err != nil {
		return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionDropped, s.script.Err)
	}

	select {
	case <-ctx.Done():
		return es.LoggedEvent{}, fmt.Errorf("%w: %w", es.ErrSubscriptionCanceled, ctx.Err())
	case <-s.closed:
		return es.LoggedEvent{}, es.ErrSubscriptionCanceled
	}
}

func (s *scriptedSubscription) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
