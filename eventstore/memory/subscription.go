package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/terraskye/eventsourcing-engine"
)

var _ eventsourcing.Subscription = (*subscription)(nil)

type subscription struct {
	store *MemoryStore
	opts  eventsourcing.SubscribeOptions
	// pos indexes the next entry of store.global to inspect.
	pos int

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	reason  error
	dropped bool
}

// SubscribeToAll opens a catch-up subscription over the global log starting
// at opts.From.
func (m *MemoryStore) SubscribeToAll(ctx context.Context, opts eventsourcing.SubscribeOptions) (eventsourcing.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, eventsourcing.WrapEventStoreError(ErrClosed)
	}

	pos := 0
	if opts.From > 0 {
		pos = int(opts.From - 1)
	}
	sub := &subscription{
		store: m,
		opts:  opts,
		pos:   pos,
		done:  make(chan struct{}),
	}
	m.subs[sub] = struct{}{}
	return sub, nil
}

func (s *subscription) drop(reason error) {
	s.mu.Lock()
	if !s.dropped {
		s.reason = reason
		s.dropped = true
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) terminated() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dropped {
		return nil
	}
	if s.reason == nil {
		return eventsourcing.ErrSubscriptionCanceled
	}
	return fmt.Errorf("%w: %w", eventsourcing.ErrSubscriptionDropped, s.reason)
}

func (s *subscription) Recv(ctx context.Context) (eventsourcing.LoggedEvent, error) {
	for {
		if err := s.terminated(); err != nil {
			return eventsourcing.LoggedEvent{}, err
		}

		s.store.mu.RLock()
		var (
			ev    eventsourcing.LoggedEvent
			found bool
		)
		for s.pos < len(s.store.global) {
			candidate := s.store.global[s.pos]
			s.pos++
			if s.opts.Excludes(candidate.EventType) {
				continue
			}
			ev, found = candidate, true
			break
		}
		changed := s.store.changed
		s.store.mu.RUnlock()

		if found {
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return eventsourcing.LoggedEvent{}, fmt.Errorf("%w: %w", eventsourcing.ErrSubscriptionCanceled, ctx.Err())
		case <-s.done:
		case <-changed:
		}
	}
}

// Close ends the subscription; a pending Recv returns ErrSubscriptionCanceled.
func (s *subscription) Close() error {
	s.store.mu.Lock()
	delete(s.store.subs, s)
	s.store.mu.Unlock()
	s.drop(nil)
	return nil
}
