// Package otel decorates event stores and event handlers with OpenTelemetry
// spans and metrics. Trace context travels with every appended event in its
// metadata so consumers can link their spans to the producing request.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	es "github.com/terraskye/eventsourcing-engine"
)

const instrumentationName = "github.com/terraskye/eventsourcing-engine/otel"

const (
	AttrStreamID        = attribute.Key("eventsourcing.stream.id")
	AttrStreamVersion   = attribute.Key("eventsourcing.stream.version")
	AttrExpectedVersion = attribute.Key("eventsourcing.stream.expected_version")

	AttrEventType      = attribute.Key("eventsourcing.event.type")
	AttrEventID        = attribute.Key("eventsourcing.event.id")
	AttrEventCount     = attribute.Key("eventsourcing.events.count")
	AttrEventGlobalPos = attribute.Key("eventsourcing.event.global_position")
	AttrEventStreamPos = attribute.Key("eventsourcing.event.stream_position")

	// AttrOperation is one of append, read, exists, commit or truncate.
	AttrOperation    = attribute.Key("eventsourcing.operation")
	AttrConflictType = attribute.Key("eventsourcing.conflict.type")
)

// Metadata keys written next to the propagation headers.
const (
	MetadataCorrelationID = "correlationId"
	MetadataCausationID   = "causationId"
)

var tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(es.InstrumentationVersion))

var durationBuckets = metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000)

// instruments are created per decorator from the configured meter. An
// instrument the meter refuses is replaced by a no-op one.
type instruments struct {
	appended      metric.Int64Counter
	loaded        metric.Int64Counter
	handled       metric.Int64Counter
	handleLatency metric.Float64Histogram

	saves        metric.Int64Counter
	loads        metric.Int64Counter
	storeLatency metric.Float64Histogram
	storeErrors  metric.Int64Counter
}

func newInstruments(m metric.Meter) *instruments {
	return &instruments{
		appended:      counter(m, "eventsourcing.events.appended", "Events appended to streams", "{event}"),
		loaded:        counter(m, "eventsourcing.events.loaded", "Events read from streams", "{event}"),
		handled:       counter(m, "eventsourcing.events.handled", "Events handled by consumers", "{event}"),
		handleLatency: histogram(m, "eventsourcing.events.handle_duration", "Event handler duration"),

		saves:        counter(m, "eventsourcing.eventstore.saves", "Append operations", "{operation}"),
		loads:        counter(m, "eventsourcing.eventstore.loads", "Read operations", "{operation}"),
		storeLatency: histogram(m, "eventsourcing.eventstore.duration", "Event store operation duration"),
		storeErrors:  counter(m, "eventsourcing.eventstore.errors", "Failed event store operations", "{error}"),
	}
}

func counter(m metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func histogram(m metric.Meter, name, description string) metric.Float64Histogram {
	h, err := m.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("ms"), durationBuckets)
	if err != nil {
		return noop.Float64Histogram{}
	}
	return h
}

func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName, metric.WithInstrumentationVersion(es.InstrumentationVersion))
}
