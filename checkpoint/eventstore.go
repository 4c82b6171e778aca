package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.CheckpointStore = (*EventStore)(nil)

// EventStore persists checkpoints as CheckpointStored markers in the
// reserved stream "checkpoint_{id}" of an event store. The last marker of
// the stream is the current checkpoint.
//
// When the backing store implements Truncator, older markers are removed
// after every write so loading reads a single event.
type EventStore struct {
	store es.EventStore
	trim  bool
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]uint64
}

// Option configures an EventStore checkpoint store.
type Option func(*EventStore)

// WithHistory keeps every marker instead of trimming the stream.
func WithHistory() Option {
	return func(s *EventStore) {
		s.trim = false
	}
}

// WithClock sets the time source stamped on markers.
func WithClock(now func() time.Time) Option {
	return func(s *EventStore) {
		s.now = now
	}
}

// NewEventStore returns a checkpoint store writing to store.
func NewEventStore(store es.EventStore, opts ...Option) *EventStore {
	s := &EventStore{
		store: store,
		trim:  true,
		now:   time.Now,
		cache: make(map[string]uint64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads the last marker of the subscription's stream. A missing
// stream means no checkpoint.
func (s *EventStore) Load(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	stream := es.CheckpointStreamFor(subscriptionID)

	type last struct {
		position uint64
		found    bool
	}
	state, _, err := es.AggregateStream(ctx, s.store, stream, 0, last{}, func(cur last, env *es.Envelope) last {
		switch e := env.Event.(type) {
		case es.CheckpointStored:
			return last{position: e.Position, found: true}
		case *es.CheckpointStored:
			return last{position: e.Position, found: true}
		}
		return cur
	})
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %q: %w", subscriptionID, err)
	}

	if state.found {
		s.mu.Lock()
		s.cache[subscriptionID] = state.position
		s.mu.Unlock()
	}
	return state.position, state.found, nil
}

// Store appends a marker with expected version Any, so the first write
// creates the stream.
func (s *EventStore) Store(ctx context.Context, subscriptionID string, position uint64) error {
	s.mu.Lock()
	current, known := s.cache[subscriptionID]
	s.mu.Unlock()

	if !known {
		pos, found, err := s.Load(ctx, subscriptionID)
		if err != nil {
			return err
		}
		current, known = pos, found
	}
	if known {
		if position < current {
			return fmt.Errorf("%w: %s at %d, got %d", es.ErrCheckpointRegressed, subscriptionID, current, position)
		}
		if position == current {
			return nil
		}
	}

	stream := es.CheckpointStreamFor(subscriptionID)
	marker := es.Envelope{
		EventID:    uuid.New(),
		StreamID:   stream,
		Metadata:   map[string]any{},
		Event:      es.CheckpointStored{SubscriptionID: subscriptionID, Position: position, StoredAt: s.now().UTC()},
		OccurredAt: s.now(),
	}
	result, err := s.store.AppendEvents(ctx, stream, es.Any, marker)
	if err != nil {
		return fmt.Errorf("store checkpoint %q at %d: %w", subscriptionID, position, err)
	}

	s.mu.Lock()
	s.cache[subscriptionID] = position
	s.mu.Unlock()

	if truncator, ok := s.store.(es.Truncator); ok && s.trim && result.NextExpectedVersion > 0 {
		if err := truncator.TruncateStream(ctx, stream, result.NextExpectedVersion); err != nil {
			return fmt.Errorf("trim checkpoint stream %q: %w", stream, err)
		}
	}
	return nil
}
