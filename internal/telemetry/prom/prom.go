// Package prom implements telemetry.Metrics against prometheus/client_golang,
// the production metrics sink selected by config.Telemetry.MetricsSink ==
// "prometheus". Grounded on the lazy-instrument-cache shape in
// internal/telemetry/otel.Metrics, adapted from OTEL's meter/instrument API
// to client_golang's CounterVec/GaugeVec/HistogramVec with the same
// cache-on-first-use-by-name strategy; and on the per-domain
// NewCounterVec/MustRegister layout in the pack's hector
// pkg/observability/metrics.go, generalized from fixed named metrics to the
// arbitrary name+tag pairs telemetry.Metrics accepts.
package prom

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// Metrics records IncCounter/RecordTimer/RecordGauge calls as Prometheus
// collectors registered to its own registry, so Handler can be mounted at
// /metrics without colliding with the default global registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// New builds a Metrics recorder under namespace (e.g. "orchestrator"),
// registering every future named metric with its own CounterVec/GaugeVec/
// HistogramVec the first time that name is observed.
func New(namespace string) *Metrics {
	return &Metrics{
		namespace:  namespace,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

var _ telemetry.Metrics = (*Metrics)(nil)

func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	keys, vals := splitTags(tags)
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      sanitize(name),
			Help:      "counter " + name,
		}, keys)
		m.registry.MustRegister(c)
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.WithLabelValues(vals...).Add(value)
}

func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	keys, vals := splitTags(tags)
	m.mu.Lock()
	h, ok := m.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      sanitize(name),
			Help:      "timer " + name,
			Buckets:   prometheus.DefBuckets,
		}, keys)
		m.registry.MustRegister(h)
		m.histograms[name] = h
	}
	m.mu.Unlock()
	h.WithLabelValues(vals...).Observe(duration.Seconds())
}

func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	keys, vals := splitTags(tags)
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      sanitize(name),
			Help:      "gauge " + name,
		}, keys)
		m.registry.MustRegister(g)
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.WithLabelValues(vals...).Set(value)
}

// Handler serves the registry's metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// splitTags turns the name1, value1, name2, value2, ... pairs every
// telemetry.Metrics call accepts into the parallel label-name/label-value
// slices client_golang's Vec collectors require; a caller that always uses
// the same tag names for a given metric name keeps the same label set.
func splitTags(tags []string) (keys, vals []string) {
	keys = make([]string, 0, len(tags)/2)
	vals = make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		keys = append(keys, tags[i])
		vals = append(vals, tags[i+1])
	}
	return keys, vals
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '-' || c == ' ' {
			out[i] = '_'
			continue
		}
		out[i] = c
	}
	return string(out)
}
