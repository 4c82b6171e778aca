package otel

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventsourcing-engine"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	_ es.EventStore          = (*TelemetryStore)(nil)
	_ es.Truncator           = (*TelemetryStore)(nil)
	_ es.AllStreamSubscriber = (*TelemetryStore)(nil)
)

// ErrSubscribeUnsupported is returned by SubscribeToAll when the wrapped
// store cannot subscribe.
var ErrSubscribeUnsupported = errors.New("wrapped store does not support subscriptions")

// TelemetryStore traces and measures every call to the wrapped store and
// writes the caller's trace context into the metadata of appended events.
type TelemetryStore struct {
	next es.EventStore
	cfg  *config
}

// WithEventStoreTelemetry wraps next.
func WithEventStoreTelemetry(next es.EventStore, options ...Option) *TelemetryStore {
	return &TelemetryStore{next: next, cfg: newConfig(options)}
}

func (t *TelemetryStore) StreamExists(ctx context.Context, streamID string) (bool, error) {
	ctx, span := t.start(ctx, "EventStore.StreamExists", "exists", AttrStreamID.String(streamID))
	defer span.End()

	exists, err := t.next.StreamExists(ctx, streamID)
	t.fail(ctx, span, "exists", err)
	return exists, err
}

// AppendEvents with metrics + span
func (t *TelemetryStore) AppendEvents(ctx context.Context, streamID string, expected es.ExpectedVersion, events ...es.Envelope) (es.AppendResult, error) {
	ctx, span := t.start(ctx, "EventStore.AppendEvents", "append",
		AttrStreamID.String(streamID),
		AttrExpectedVersion.String(expected.String()),
		AttrEventCount.Int(len(events)),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	t.cfg.propagator().Inject(ctx, carrier)
	causation := es.EventIDFromContext(ctx)

	// the caller's envelopes are left untouched
	stamped := make([]es.Envelope, len(events))
	for i, env := range events {
		env = env.Clone()
		if env.Metadata == nil {
			env.Metadata = make(map[string]any, len(carrier)+2)
		}
		for key, value := range carrier {
			env.Metadata[key] = value
		}
		if span.SpanContext().HasTraceID() {
			env.Metadata[MetadataCorrelationID] = span.SpanContext().TraceID().String()
		}
		if causation != uuid.Nil {
			env.Metadata[MetadataCausationID] = causation.String()
		}
		stamped[i] = env
	}

	start := time.Now()
	result, err := t.next.AppendEvents(ctx, streamID, expected, stamped...)
	t.record(ctx, "append", start)
	t.cfg.metrics.saves.Add(ctx, 1)

	if err != nil {
		if es.IsConcurrencyConflict(err) {
			span.SetAttributes(AttrConflictType.String("expected_version"))
		}
		t.fail(ctx, span, "append", err)
		return result, err
	}
	t.cfg.metrics.appended.Add(ctx, int64(len(events)), metric.WithAttributes(AttrStreamID.String(streamID)))
	span.SetAttributes(
		AttrStreamVersion.Int64(int64(result.NextExpectedVersion)),
		AttrEventGlobalPos.Int64(int64(result.GlobalPosition)),
	)
	return result, nil
}

// ReadStream with inline tracing middleware. The span covers the whole
// iteration and ends when the iterator is exhausted, fails or is closed.
func (t *TelemetryStore) ReadStream(ctx context.Context, streamID string, from uint64, maxCount uint64) (*es.Iterator[*es.Envelope], error) {
	ctx, span := t.start(ctx, "EventStore.ReadStream", "read",
		AttrStreamID.String(streamID),
		AttrEventStreamPos.Int64(int64(from)),
	)
	start := time.Now()
	t.cfg.metrics.loads.Add(ctx, 1)

	iter, err := t.next.ReadStream(ctx, streamID, from, maxCount)
	if err != nil {
		t.fail(ctx, span, "read", err)
		span.End()
		return nil, err
	}

	var count int64
	ended := false
	end := func(err error) {
		if ended {
			return
		}
		ended = true
		span.SetAttributes(AttrEventCount.Int64(count))
		t.record(ctx, "read", start)
		t.fail(ctx, span, "read", err)
		span.End()
	}

	wrapped := es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if !iter.Next(ctx) {
			err := iter.Err()
			end(err)
			if err == nil {
				return nil, io.EOF
			}
			return nil, err
		}
		count++
		t.cfg.metrics.loaded.Add(ctx, 1)
		return iter.Value(), nil
	})
	return wrapped.WithCloser(func() error {
		err := iter.Close()
		end(nil)
		return err
	}), nil
}

// TruncateStream forwards to the wrapped store and does nothing when it
// cannot truncate.
func (t *TelemetryStore) TruncateStream(ctx context.Context, streamID string, before uint64) error {
	truncator, ok := t.next.(es.Truncator)
	if !ok {
		return nil
	}
	ctx, span := t.start(ctx, "EventStore.TruncateStream", "truncate",
		AttrStreamID.String(streamID),
		AttrEventStreamPos.Int64(int64(before)),
	)
	defer span.End()

	err := truncator.TruncateStream(ctx, streamID, before)
	t.fail(ctx, span, "truncate", err)
	return err
}

func (t *TelemetryStore) SubscribeToAll(ctx context.Context, opts es.SubscribeOptions) (es.Subscription, error) {
	source, ok := t.next.(es.AllStreamSubscriber)
	if !ok {
		return nil, ErrSubscribeUnsupported
	}
	ctx, span := t.start(ctx, "EventStore.SubscribeToAll", "subscribe", AttrEventGlobalPos.Int64(int64(opts.From)))
	defer span.End()

	sub, err := source.SubscribeToAll(ctx, opts)
	t.fail(ctx, span, "subscribe", err)
	return sub, err
}

func (t *TelemetryStore) Commit(ctx context.Context) error {
	ctx, span := t.start(ctx, "EventStore.Commit", "commit")
	defer span.End()

	err := t.next.Commit(ctx)
	t.fail(ctx, span, "commit", err)
	return err
}

// Close just forwards
func (t *TelemetryStore) Close() error {
	return t.next.Close()
}

func (t *TelemetryStore) start(ctx context.Context, name, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrOperation.String(operation))
	return t.cfg.Tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.cfg.attributes(ctx, attrs...)...),
	)
}

func (t *TelemetryStore) record(ctx context.Context, operation string, start time.Time) {
	t.cfg.metrics.storeLatency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(AttrOperation.String(operation)),
	)
}

func (t *TelemetryStore) fail(ctx context.Context, span trace.Span, operation string, err error) {
	if err == nil {
		return
	}
	t.cfg.metrics.storeErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(operation)))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
