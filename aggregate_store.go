package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AggregateStore loads and stores aggregates of type T through an EventStore.
//
// It never retries: a concurrency conflict is returned to the caller, who
// reloads the aggregate and decides again.
type AggregateStore[T Aggregate] struct {
	store   EventStore
	factory func(id string) T
}

// NewAggregateStore returns a store for aggregates built by factory. The
// factory returns a zero aggregate carrying only its id.
//
// Example Usage:
//
//	orders := NewAggregateStore(store, NewOrder)
//	order, err := orders.Get(ctx, "1")
func NewAggregateStore[T Aggregate](store EventStore, factory func(id string) T) *AggregateStore[T] {
	return &AggregateStore[T]{store: store, factory: factory}
}

// StoreOption customises a single Store call.
type StoreOption func(*storeOptions)

type storeOptions struct {
	expected    ExpectedVersion
	hasExpected bool
}

// WithExpectedVersion overrides the expected version derived from the
// aggregate.
func WithExpectedVersion(v ExpectedVersion) StoreOption {
	return func(o *storeOptions) {
		o.expected = v
		o.hasExpected = true
	}
}

// New returns a fresh, never persisted aggregate.
func (s *AggregateStore[T]) New(id string) T {
	return s.factory(id)
}

func (s *AggregateStore[T]) streamFor(agg T) (string, error) {
	return StreamFor(agg.AggregateType(), agg.AggregateID())
}

// Get rebuilds the aggregate by folding its stream from the start with the
// aggregate's Apply. A stream without events yields ErrAggregateNotFound.
func (s *AggregateStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T

	agg := s.factory(id)
	stream, err := s.streamFor(agg)
	if err != nil {
		return zero, err
	}

	ctx, span := tracer.Start(ctx, "AggregateStore.Get",
		trace.WithAttributes(AttrStreamID.String(stream), AttrAggregateType.String(agg.AggregateType())),
	)
	defer span.End()

	agg, n, err := AggregateStream(ctx, s.store, stream, 0, agg, func(state T, env *Envelope) T {
		state.Apply(env.Event)
		state.aggregateBase().loaded(env.Version)
		return state
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	span.SetAttributes(AttrEventCount.Int(n))
	if n == 0 {
		return zero, fmt.Errorf("%w: %s", ErrAggregateNotFound, stream)
	}

	AggregatesLoaded.Add(ctx, 1, metric.WithAttributes(AttrAggregateType.String(agg.AggregateType())))
	return agg, nil
}

// Store appends the aggregate's uncommitted events.
//
// The expected version defaults to NoStream for an aggregate that was never
// loaded or stored, otherwise to its OriginalVersion. Events are stamped
// with contiguous stream positions continuing from the durable version. On
// success the queue is drained, OriginalVersion advances to the result's
// NextExpectedVersion, and the committed events are copied to the
// context's EventBuffer before Commit is called.
//
// On a concurrency conflict the queue is left intact and the instance is
// marked stale: every further Store fails with ErrStaleAggregate until the
// aggregate is reloaded with Get. Any other append error leaves the queue
// intact and the instance usable, so the same Store can be retried.
func (s *AggregateStore[T]) Store(ctx context.Context, agg T, opts ...StoreOption) (AppendResult, error) {
	base := agg.aggregateBase()
	if base.stale {
		return AppendResult{}, fmt.Errorf("store %s %q: %w", agg.AggregateType(), agg.AggregateID(), ErrStaleAggregate)
	}

	stream, err := s.streamFor(agg)
	if err != nil {
		return AppendResult{}, err
	}

	if !base.HasUncommittedEvents() {
		return AppendResult{NextExpectedVersion: base.OriginalVersion()}, nil
	}

	cfg := storeOptions{}
	for _, o := range opts {
		o(&cfg)
	}
	expected := cfg.expected
	if !cfg.hasExpected {
		expected = NoStream
		if !base.IsNew() {
			expected = Revision(base.OriginalVersion())
		}
	}

	ctx, span := tracer.Start(ctx, "AggregateStore.Store",
		trace.WithAttributes(
			AttrStreamID.String(stream),
			AttrAggregateType.String(agg.AggregateType()),
			AttrEventCount.Int(len(base.events)),
		),
	)
	defer span.End()

	// position of the first new event is one past the durable version
	next := int64(base.OriginalVersion()) + 1
	if base.IsNew() {
		next = 0
	}
	pending := base.UncommittedEvents()
	for i := range pending {
		pending[i].StreamID = stream
		pending[i].AggregateID = agg.AggregateID()
		pending[i].Version = uint64(next + int64(i))
	}

	result, err := s.store.AppendEvents(ctx, stream, expected, pending...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrConcurrencyConflict) {
			base.stale = true
			ConcurrencyConflicts.Add(ctx, 1, metric.WithAttributes(AttrAggregateType.String(agg.AggregateType())))
		}
		return AppendResult{}, fmt.Errorf("store %s %q: %w", agg.AggregateType(), agg.AggregateID(), err)
	}

	base.DequeueUncommittedEvents()
	base.committed(result.NextExpectedVersion)
	EventsStored.Add(ctx, int64(len(pending)), metric.WithAttributes(AttrAggregateType.String(agg.AggregateType())))

	if buf := EventBufferFromContext(ctx); buf != nil {
		buf.Add(pending...)
	}

	if err := s.store.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("commit %s %q: %w", agg.AggregateType(), agg.AggregateID(), err)
	}
	return result, nil
}

// Exists reports whether the aggregate's stream has ever received an event.
func (s *AggregateStore[T]) Exists(ctx context.Context, id string) (bool, error) {
	stream, err := s.streamFor(s.factory(id))
	if err != nil {
		return false, err
	}
	return s.store.StreamExists(ctx, stream)
}
