package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/terraskye/eventsourcing-engine"
)

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("memory store closed")

var (
	_ eventsourcing.EventStore          = (*MemoryStore)(nil)
	_ eventsourcing.Truncator           = (*MemoryStore)(nil)
	_ eventsourcing.AllStreamSubscriber = (*MemoryStore)(nil)
)

type stream struct {
	// events holds the retained events; events[0] sits at position first.
	events []eventsourcing.LoggedEvent
	first  uint64
	next   uint64
}

// MemoryStore is a process local event log. Events are kept in their encoded
// form so reads go through the same codec as a durable store.
type MemoryStore struct {
	codec eventsourcing.Codec

	mu      sync.RWMutex
	streams map[string]*stream
	global  []eventsourcing.LoggedEvent
	ids     map[uuid.UUID]struct{}
	// changed is closed and replaced on every append to wake subscriptions.
	changed chan struct{}
	subs    map[*subscription]struct{}
	closed  bool
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithCodec replaces the JSON codec bound to the default registry.
func WithCodec(c eventsourcing.Codec) Option {
	return func(m *MemoryStore) {
		m.codec = c
	}
}

func NewMemoryStore(options ...Option) *MemoryStore {
	m := &MemoryStore{
		codec:   eventsourcing.NewJSONCodec(nil),
		streams: make(map[string]*stream),
		global:  make([]eventsourcing.LoggedEvent, 0),
		ids:     make(map[uuid.UUID]struct{}),
		changed: make(chan struct{}),
		subs:    make(map[*subscription]struct{}),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func (m *MemoryStore) StreamExists(ctx context.Context, streamID string) (bool, error) {
	if err := eventsourcing.ValidateStreamID(streamID); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, eventsourcing.WrapEventStoreError(ErrClosed)
	}
	s, ok := m.streams[streamID]
	return ok && s.next > 0, nil
}

func (m *MemoryStore) ReadStream(ctx context.Context, streamID string, from uint64, maxCount uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	if err := eventsourcing.ValidateStreamID(streamID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, eventsourcing.WrapEventStoreError(ErrClosed)
	}
	var events []eventsourcing.LoggedEvent
	if s, ok := m.streams[streamID]; ok {
		start := uint64(0)
		if from > s.first {
			start = from - s.first
		}
		if start < uint64(len(s.events)) {
			events = s.events[start:]
		}
	}
	m.mu.RUnlock()

	if maxCount > 0 && uint64(len(events)) > maxCount {
		events = events[:maxCount]
	}

	index := 0
	return eventsourcing.NewIteratorFunc(func(ctx context.Context) (*eventsourcing.Envelope, error) {
		if index >= len(events) {
			return nil, io.EOF
		}
		ev := events[index]
		index++
		return m.codec.Decode(ev)
	}), nil
}

func (m *MemoryStore) AppendEvents(ctx context.Context, streamID string, expected eventsourcing.ExpectedVersion, events ...eventsourcing.Envelope) (eventsourcing.AppendResult, error) {
	if err := eventsourcing.ValidateBatch(streamID, events); err != nil {
		return eventsourcing.AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return eventsourcing.AppendResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(ErrClosed)
	}

	s, ok := m.streams[streamID]
	if !ok {
		s = &stream{}
	}

	actual := eventsourcing.NoStream
	if s.next > 0 {
		actual = eventsourcing.Revision(s.next - 1)
	}
	if err := eventsourcing.CheckExpectedVersion(streamID, expected, actual); err != nil {
		return eventsourcing.AppendResult{}, err
	}
	for _, env := range events {
		if _, dup := m.ids[env.EventID]; dup {
			return eventsourcing.AppendResult{}, fmt.Errorf("%w: event %s already stored", eventsourcing.ErrInvalidEventBatch, env.EventID)
		}
	}

	// encode everything first so a failing event leaves the log untouched
	logged := make([]eventsourcing.LoggedEvent, len(events))
	for i, env := range events {
		env.StreamID = streamID
		env.Version = s.next + uint64(i)
		env.GlobalVersion = uint64(len(m.global) + i + 1)
		ev, err := m.codec.Encode(env)
		if err != nil {
			return eventsourcing.AppendResult{}, fmt.Errorf("append to stream %q: %w", streamID, err)
		}
		logged[i] = ev
	}

	s.events = append(s.events, logged...)
	s.next += uint64(len(logged))
	m.streams[streamID] = s
	m.global = append(m.global, logged...)
	for _, env := range events {
		m.ids[env.EventID] = struct{}{}
	}

	close(m.changed)
	m.changed = make(chan struct{})

	last := logged[len(logged)-1]
	return eventsourcing.AppendResult{
		GlobalPosition:      last.GlobalPosition,
		NextExpectedVersion: last.StreamPosition,
	}, nil
}

// TruncateStream drops the events before position before. The stream keeps
// existing and keeps its position counter.
func (m *MemoryStore) TruncateStream(ctx context.Context, streamID string, before uint64) error {
	if err := eventsourcing.ValidateStreamID(streamID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return eventsourcing.WrapEventStoreError(ErrClosed)
	}
	s, ok := m.streams[streamID]
	if !ok || before <= s.first {
		return nil
	}
	if before > s.next {
		before = s.next
	}
	// copy so readers holding the old slice are unaffected
	s.events = append([]eventsourcing.LoggedEvent(nil), s.events[before-s.first:]...)
	s.first = before
	return nil
}

// Commit is a no-op: appends are visible as soon as AppendEvents returns.
func (m *MemoryStore) Commit(ctx context.Context) error {
	return nil
}

// DropSubscriptions terminates every open subscription with reason, which
// Recv returns wrapped in ErrSubscriptionDropped.
func (m *MemoryStore) DropSubscriptions(reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		sub.drop(reason)
		delete(m.subs, sub)
	}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for sub := range m.subs {
		sub.drop(ErrClosed)
		delete(m.subs, sub)
	}
	close(m.changed)
	return nil
}
