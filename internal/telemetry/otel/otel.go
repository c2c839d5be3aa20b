// Package otel implements internal/telemetry.Logger/Metrics/Tracer against
// OpenTelemetry and the standard library's structured logger, replacing the
// teacher's goa.design/clue binding (dropped, see DESIGN.md).
package otel

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

type (
	// Logger delegates to log/slog with a fixed instrumentation scope.
	Logger struct {
		slog *slog.Logger
	}

	// Metrics delegates to an OTEL meter, lazily creating one instrument per
	// metric name on first use.
	Metrics struct {
		meter    metric.Meter
		mu       chan struct{} // binary semaphore guarding the instrument caches
		counters map[string]metric.Float64Counter
		gauges   map[string]metric.Float64Gauge
		timers   map[string]metric.Float64Histogram
	}

	// Tracer delegates to an OTEL tracer.
	Tracer struct {
		tracer trace.Tracer
	}

	span struct {
		span trace.Span
	}
)

// NewLogger returns a Logger backed by slog.Default(), tagged with the
// given instrumentation scope name.
func NewLogger(scope string) telemetry.Logger {
	return Logger{slog: slog.Default().With("scope", scope)}
}

// NewMetrics returns a Metrics recorder backed by the global OTEL meter
// provider under the given instrumentation scope.
func NewMetrics(scope string) telemetry.Metrics {
	return &Metrics{
		meter:    otel.Meter(scope),
		mu:       make(chan struct{}, 1),
		counters: make(map[string]metric.Float64Counter),
		gauges:   make(map[string]metric.Float64Gauge),
		timers:   make(map[string]metric.Float64Histogram),
	}
}

// NewTracer returns a Tracer backed by the global OTEL tracer provider under
// the given instrumentation scope.
func NewTracer(scope string) telemetry.Tracer {
	return Tracer{tracer: otel.Tracer(scope)}
}

func (l Logger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.slog.DebugContext(ctx, msg, keyvals...)
}

func (l Logger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.slog.InfoContext(ctx, msg, keyvals...)
}

func (l Logger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.slog.WarnContext(ctx, msg, keyvals...)
}

func (l Logger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.slog.ErrorContext(ctx, msg, keyvals...)
}

func (m *Metrics) lock()   { m.mu <- struct{}{} }
func (m *Metrics) unlock() { <-m.mu }

func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	m.lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			m.unlock()
			return
		}
		m.counters[name] = c
	}
	m.unlock()
	c.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.lock()
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			m.unlock()
			return
		}
		m.timers[name] = h
	}
	m.unlock()
	h.Record(context.Background(), float64(duration.Milliseconds()), metric.WithAttributes(tagAttrs(tags)...))
}

func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	m.lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.unlock()
			return
		}
		m.gauges[name] = g
	}
	m.unlock()
	g.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (t Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	ctx, s := t.tracer.Start(ctx, name, opts...)
	return ctx, span{span: s}
}

func (s span) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s span) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name)
	_ = attrs // structured attrs are attached via SetStatus/RecordError; kept for interface parity
}

func (s span) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s span) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
