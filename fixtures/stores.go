package fixtures

import (
	"context"
	"sync"

	es "github.com/terraskye/eventsourcing-engine"
)

var _ es.EventStore = (*StoreSpy)(nil)

// StoreSpy is a configurable mock EventStore for testing.
// It tracks calls and allows injecting custom behavior or failures. Without
// overrides it behaves like a minimal in-memory store with version checks.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	StreamExistsFn func(ctx context.Context, streamID string) (bool, error)
	ReadStreamFn   func(ctx context.Context, streamID string, from, maxCount uint64) (*es.Iterator[*es.Envelope], error)
	AppendFn       func(ctx context.Context, streamID string, expected es.ExpectedVersion, events []es.Envelope) (es.AppendResult, error)
	CommitFn       func(ctx context.Context) error
	CloseFn        func() error

	// Call tracking
	StreamExistsCalls int
	ReadStreamCalls   int
	AppendCalls       int
	CommitCalls       int
	CloseCalls        int

	// Captured arguments from last call
	LastAppendEvents   []es.Envelope
	LastAppendExpected es.ExpectedVersion
	LastReadStreamID   string

	// Pre-configured data
	events map[string][]*es.Envelope // streamID -> envelopes
	global uint64

	// Error injection
	readErr   error
	appendErr error
	commitErr error
}

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		events: make(map[string][]*es.Envelope),
	}
}

// WithEvents pre-populates the store with events for a stream.
func (s *StoreSpy) WithEvents(streamID string, events ...es.Event) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range EnvelopesFor(streamID, events...) {
		s.global++
		env.GlobalVersion = s.global
		s.events[streamID] = append(s.events[streamID], &env)
	}
	return s
}

// FailOnRead configures the store to return an error on ReadStream.
func (s *StoreSpy) FailOnRead(err error) *StoreSpy {
	s.readErr = err
	return s
}

// FailOnAppend configures the store to return an error on AppendEvents.
func (s *StoreSpy) FailOnAppend(err error) *StoreSpy {
	s.appendErr = err
	return s
}

// FailOnCommit configures the store to return an error on Commit.
func (s *StoreSpy) FailOnCommit(err error) *StoreSpy {
	s.commitErr = err
	return s
}

// Events returns a copy of the stored envelopes of a stream.
func (s *StoreSpy) Events(streamID string) []es.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]es.Envelope, 0, len(s.events[streamID]))
	for _, env := range s.events[streamID] {
		out = append(out, *env)
	}
	return out
}

// StreamExists implements EventStore.StreamExists.
func (s *StoreSpy) StreamExists(ctx context.Context, streamID string) (bool, error) {
	s.mu.Lock()
	s.StreamExistsCalls++
	exists := len(s.events[streamID]) > 0
	s.mu.Unlock()

	if s.StreamExistsFn != nil {
		return s.StreamExistsFn(ctx, streamID)
	}
	return exists, nil
}

// ReadStream implements EventStore.ReadStream.
func (s *StoreSpy) ReadStream(ctx context.Context, streamID string, from, maxCount uint64) (*es.Iterator[*es.Envelope], error) {
	s.mu.Lock()
	s.ReadStreamCalls++
	s.LastReadStreamID = streamID
	var selected []*es.Envelope
	for _, env := range s.events[streamID] {
		if env.Version < from {
			continue
		}
		if maxCount > 0 && uint64(len(selected)) >= maxCount {
			break
		}
		selected = append(selected, env)
	}
	s.mu.Unlock()

	if s.ReadStreamFn != nil {
		return s.ReadStreamFn(ctx, streamID, from, maxCount)
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	return es.NewSliceIterator(selected), nil
}

// AppendEvents implements EventStore.AppendEvents.
func (s *StoreSpy) AppendEvents(ctx context.Context, streamID string, expected es.ExpectedVersion, events ...es.Envelope) (es.AppendResult, error) {
	s.mu.Lock()
	s.AppendCalls++
	s.LastAppendEvents = append([]es.Envelope(nil), events...)
	s.LastAppendExpected = expected
	s.mu.Unlock()

	if s.AppendFn != nil {
		return s.AppendFn(ctx, streamID, expected, events)
	}
	if s.appendErr != nil {
		return es.AppendResult{}, s.appendErr
	}
	if err := es.ValidateBatch(streamID, events); err != nil {
		return es.AppendResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(len(s.events[streamID]))
	actual := es.NoStream
	if current > 0 {
		actual = es.Revision(current - 1)
	}
	if err := es.CheckExpectedVersion(streamID, expected, actual); err != nil {
		return es.AppendResult{}, err
	}

	for i := range events {
		env := events[i]
		env.StreamID = streamID
		env.Version = current + uint64(i)
		s.global++
		env.GlobalVersion = s.global
		s.events[streamID] = append(s.events[streamID], &env)
	}

	return es.AppendResult{
		GlobalPosition:      s.global,
		NextExpectedVersion: current + uint64(len(events)) - 1,
	}, nil
}

// Commit implements EventStore.Commit.
func (s *StoreSpy) Commit(ctx context.Context) error {
	s.mu.Lock()
	s.CommitCalls++
	s.mu.Unlock()

	if s.CommitFn != nil {
		return s.CommitFn(ctx)
	}
	return s.commitErr
}

// Close implements EventStore.Close.
func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()

	if s.CloseFn != nil {
		return s.CloseFn()
	}
	return nil
}

// Reset clears all call counts and stored data.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.StreamExistsCalls = 0
	s.ReadStreamCalls = 0
	s.AppendCalls = 0
	s.CommitCalls = 0
	s.CloseCalls = 0
	s.LastAppendEvents = nil
	s.LastAppendExpected = 0
	s.LastReadStreamID = ""
	s.events = make(map[string][]*es.Envelope)
	s.global = 0
	s.readErr = nil
	s.appendErr = nil
	s.commitErr = nil
}

// Pre-built store scenarios.

// EmptyStore returns a StoreSpy with no events.
func EmptyStore() *StoreSpy {
	return NewStoreSpy()
}

// FailingStore returns a StoreSpy that fails on reads and appends.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnRead(err).FailOnAppend(err)
}

// ConcurrencyConflictStore returns a StoreSpy that returns a concurrency conflict on append.
func ConcurrencyConflictStore(streamID string, expected, actual es.ExpectedVersion) *StoreSpy {
	store := NewStoreSpy()
	store.AppendFn = func(ctx context.Context, stream string, exp es.ExpectedVersion, events []es.Envelope) (es.AppendResult, error) {
		return es.AppendResult{}, &es.StreamRevisionConflictError{
			Stream:           streamID,
			ExpectedRevision: expected,
			ActualRevision:   actual,
		}
	}
	return store
}
