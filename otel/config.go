package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	es "github.com/terraskye/eventsourcing-engine"
)

// config holds the options shared by the decorators of this package.
type config struct {
	// Tracer starts the spans. Defaults to the package tracer, which uses
	// the global provider.
	Tracer trace.Tracer

	// Meter creates the instruments. Defaults to the global provider.
	Meter metric.Meter

	// Propagator writes and reads trace context in event metadata. When
	// nil the global propagator is used at call time.
	Propagator propagation.TextMapPropagator

	// Attributes holds the default attributes for each span created by this middleware.
	Attributes []attribute.KeyValue

	// GetAttributes is an optional function that can extract trace attributes
	// from the context and add them to the span.
	GetAttributes func(ctx context.Context) []attribute.KeyValue

	metrics *instruments
}

func newConfig(options []Option) *config {
	c := &config{Tracer: tracer}
	for _, o := range options {
		o.apply(c)
	}
	if c.Meter == nil {
		c.Meter = defaultMeter()
	}
	c.metrics = newInstruments(c.Meter)
	return c
}

func (c *config) propagator() propagation.TextMapPropagator {
	if c.Propagator != nil {
		return c.Propagator
	}
	return otel.GetTextMapPropagator()
}

func (c *config) attributes(ctx context.Context, attrs ...attribute.KeyValue) []attribute.KeyValue {
	attrs = append(attrs, c.Attributes...)
	if c.GetAttributes != nil {
		attrs = append(attrs, c.GetAttributes(ctx)...)
	}
	return attrs
}

// Option configures a decorator.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithTracerProvider creates the spans from provider instead of the global one.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return optionFunc(func(o *config) {
		o.Tracer = provider.Tracer(instrumentationName)
	})
}

// WithMeterProvider creates the instruments from provider instead of the
// global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return optionFunc(func(o *config) {
		o.Meter = provider.Meter(instrumentationName, metric.WithInstrumentationVersion(es.InstrumentationVersion))
	})
}

// WithPropagator sets the propagator used for event metadata.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return optionFunc(func(o *config) {
		o.Propagator = p
	})
}

// WithAttributes sets the default attributes for the spans created by the Endpoint tracer.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.GetAttributes = fn
	})
}
