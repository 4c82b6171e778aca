package eventsourcing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/terraskye/eventsourcing-engine"

	// InstrumentationVersion is reported by every tracer and meter of this module.
	InstrumentationVersion = "0.3.0"
)

// Attribute keys shared by the core and the subscription worker.
const (
	AttrStreamID       = attribute.Key("eventsourcing.stream.id")
	AttrAggregateType  = attribute.Key("eventsourcing.aggregate.type")
	AttrEventType      = attribute.Key("eventsourcing.event.type")
	AttrEventCount     = attribute.Key("eventsourcing.events.count")
	AttrGlobalPosition = attribute.Key("eventsourcing.event.global_position")
	AttrSubscriptionID = attribute.Key("eventsourcing.subscription.id")
	AttrDropReason     = attribute.Key("eventsourcing.subscription.drop_reason")
)

// Instruments are created against the global providers, which delegate to
// whatever provider the application installs later.
var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion))

	// Aggregate store metrics
	AggregatesLoaded, _ = meter.Int64Counter(
		"eventsourcing.aggregates.loaded",
		metric.WithDescription("Number of aggregates rebuilt from their stream"),
		metric.WithUnit("{aggregate}"),
	)

	EventsStored, _ = meter.Int64Counter(
		"eventsourcing.aggregates.events_stored",
		metric.WithDescription("Number of aggregate events appended by the aggregate store"),
		metric.WithUnit("{event}"),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"eventsourcing.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)

	// Subscription metrics
	EventsDelivered, _ = meter.Int64Counter(
		"eventsourcing.subscription.delivered",
		metric.WithDescription("Number of events delivered to consumers"),
		metric.WithUnit("{event}"),
	)

	EventsSkipped, _ = meter.Int64Counter(
		"eventsourcing.subscription.skipped",
		metric.WithDescription("Number of empty or checkpoint events skipped"),
		metric.WithUnit("{event}"),
	)

	DeliveryErrors, _ = meter.Int64Counter(
		"eventsourcing.subscription.errors",
		metric.WithDescription("Number of failed deliveries"),
		metric.WithUnit("{error}"),
	)

	DeliveryDuration, _ = meter.Float64Histogram(
		"eventsourcing.subscription.duration",
		metric.WithDescription("Per event delivery duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	Resubscribes, _ = meter.Int64Counter(
		"eventsourcing.subscription.resubscribes",
		metric.WithDescription("Number of resubscribe attempts"),
		metric.WithUnit("{attempt}"),
	)

	CheckpointPosition, _ = meter.Int64Gauge(
		"eventsourcing.subscription.checkpoint",
		metric.WithDescription("Last stored checkpoint position"),
		metric.WithUnit("{position}"),
	)
)

// Tracer returns the tracer of the core package.
func Tracer() trace.Tracer {
	return tracer
}
