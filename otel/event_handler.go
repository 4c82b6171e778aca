package otel

import (
	"context"
	"time"

	es "github.com/terraskye/eventsourcing-engine"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// WithEventTelemetry wraps next with a consumer span per event. When the
// event metadata carries the trace context of the producer, the span is
// linked to it.
func WithEventTelemetry(next es.EventHandler, options ...Option) es.EventHandler {
	cfg := newConfig(options)

	return es.NewEventHandlerFunc(func(ctx context.Context, event es.Event) error {
		attrs := cfg.attributes(ctx,
			AttrEventType.String(event.EventType()),
			AttrEventID.String(es.EventIDFromContext(ctx).String()),
			AttrEventGlobalPos.Int64(int64(es.GlobalVersionFromContext(ctx))),
			AttrEventStreamPos.Int64(int64(es.VersionFromContext(ctx))),
			AttrStreamID.String(es.StreamIDFromContext(ctx)),
		)

		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attrs...),
		}
		if producer := producerContext(cfg, es.MetadataFromContext(ctx)); producer.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: producer}))
		}

		ctx, span := cfg.Tracer.Start(ctx, "events.handle "+event.EventType(), opts...)
		defer span.End()

		startTime := time.Now()
		err := next.Handle(ctx, event)
		cfg.metrics.handleLatency.Record(ctx,
			float64(time.Since(startTime))/float64(time.Millisecond),
			metric.WithAttributes(AttrEventType.String(event.EventType())),
		)

		if err != nil {
			if es.IsSkipped(err) {
				span.SetStatus(codes.Ok, "event skipped")
			} else {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
			}
			return err
		}
		cfg.metrics.handled.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(event.EventType())))
		span.SetStatus(codes.Ok, "")
		return nil
	})
}

func producerContext(cfg *config, md map[string]any) trace.SpanContext {
	if len(md) == 0 {
		return trace.SpanContext{}
	}
	carrier := propagation.MapCarrier{}
	for key, value := range md {
		if s, ok := value.(string); ok {
			carrier[key] = s
		}
	}
	return trace.SpanContextFromContext(cfg.propagator().Extract(context.Background(), carrier))
}
