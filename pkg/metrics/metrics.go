// Package metrics instruments the authorization engine: decision counts and latency, grant page
// fetches, and latch trips, behind a provider abstraction with Prometheus and OpenTelemetry
// backends.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Fields carries label values for one observation.
type Fields map[string]any

// Provider registers and serves the engine's metric instruments.
type Provider interface {
	Counter(name, help string, labelKeys ...string) Counter
	Gauge(name, help string, labelKeys ...string) Gauge
	Histogram(name, help string, buckets []float64, labelKeys ...string) Histogram

	// Handler exposes the scrape endpoint; providers without one serve 404.
	Handler() http.Handler

	Close() error
}

type Counter interface {
	Inc(labels Fields)
	Add(value float64, labels Fields)
}

type Gauge interface {
	Set(value float64, labels Fields)
	Inc(labels Fields)
	Dec(labels Fields)
}

type Histogram interface {
	Observe(value float64, labels Fields)
}

// Config selects and names the metrics backend.
type Config struct {
	Provider  string // "prometheus" or "otel"
	Namespace string
	Subsystem string
	Enabled   bool
}

// NewProvider builds the configured Provider; a disabled config yields a no-op provider so
// instrumented code paths never nil-check.
func NewProvider(cfg Config) (Provider, error) {
	if !cfg.Enabled {
		return NewNoopProvider(), nil
	}
	switch cfg.Provider {
	case "prometheus":
		return newPrometheusProvider(cfg.Namespace, cfg.Subsystem), nil
	case "otel":
		return newOTelProvider(cfg.Namespace), nil
	default:
		return nil, fmt.Errorf("metrics: unsupported provider %q", cfg.Provider)
	}
}

// ─── PROMETHEUS ─────────────────────────────────────────────

type prometheusProvider struct {
	registry  *prometheus.Registry
	namespace string
	subsystem string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func newPrometheusProvider(namespace, subsystem string) *prometheusProvider {
	return &prometheusProvider{
		registry:   prometheus.NewRegistry(),
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *prometheusProvider) Counter(name, help string, labelKeys ...string) Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return &prometheusCounter{vec: c}
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace, Subsystem: p.subsystem, Name: name, Help: help,
	}, labelKeys)
	if err := p.registry.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			vec = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return noopCounter{}
		}
	}
	p.counters[name] = vec
	return &prometheusCounter{vec: vec}
}

func (p *prometheusProvider) Gauge(name, help string, labelKeys ...string) Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.gauges[name]; ok {
		return &prometheusGauge{vec: g}
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace, Subsystem: p.subsystem, Name: name, Help: help,
	}, labelKeys)
	if err := p.registry.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			vec = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return noopGauge{}
		}
	}
	p.gauges[name] = vec
	return &prometheusGauge{vec: vec}
}

func (p *prometheusProvider) Histogram(name, help string, buckets []float64, labelKeys ...string) Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return &prometheusHistogram{vec: h}
	}
	if buckets == nil {
		buckets = DecisionLatencyBuckets()
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace, Subsystem: p.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labelKeys)
	if err := p.registry.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			vec = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return noopHistogram{}
		}
	}
	p.histograms[name] = vec
	return &prometheusHistogram{vec: vec}
}

func (p *prometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *prometheusProvider) Close() error { return nil }

type prometheusCounter struct {
	vec *prometheus.CounterVec
}

func (c *prometheusCounter) Inc(labels Fields) {
	c.vec.With(toPrometheusLabels(labels)).Inc()
}

func (c *prometheusCounter) Add(value float64, labels Fields) {
	c.vec.With(toPrometheusLabels(labels)).Add(value)
}

type prometheusGauge struct {
	vec *prometheus.GaugeVec
}

func (g *prometheusGauge) Set(value float64, labels Fields) {
	g.vec.With(toPrometheusLabels(labels)).Set(value)
}

func (g *prometheusGauge) Inc(labels Fields) { g.vec.With(toPrometheusLabels(labels)).Inc() }
func (g *prometheusGauge) Dec(labels Fields) { g.vec.With(toPrometheusLabels(labels)).Dec() }

type prometheusHistogram struct {
	vec *prometheus.HistogramVec
}

func (h *prometheusHistogram) Observe(value float64, labels Fields) {
	h.vec.With(toPrometheusLabels(labels)).Observe(value)
}

func toPrometheusLabels(fields Fields) prometheus.Labels {
	labels := make(prometheus.Labels, len(fields))
	for k, v := range fields {
		labels[k] = fmt.Sprintf("%v", v)
	}
	return labels
}

// ─── OPENTELEMETRY ─────────────────────────────────────────────

type otelProvider struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	gauges     map[string]metric.Float64Gauge
	histograms map[string]metric.Float64Histogram
}

func newOTelProvider(namespace string) *otelProvider {
	return &otelProvider{
		meter:      otel.Meter(namespace),
		counters:   make(map[string]metric.Float64Counter),
		gauges:     make(map[string]metric.Float64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (o *otelProvider) Counter(name, help string, labelKeys ...string) Counter {
	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.counters[name]; ok {
		return &otelCounter{counter: c}
	}
	c, err := o.meter.Float64Counter(name, metric.WithDescription(help))
	if err != nil {
		return noopCounter{}
	}
	o.counters[name] = c
	return &otelCounter{counter: c}
}

func (o *otelProvider) Gauge(name, help string, labelKeys ...string) Gauge {
	o.mu.Lock()
	defer o.mu.Unlock()

	if g, ok := o.gauges[name]; ok {
		return &otelGauge{gauge: g}
	}
	g, err := o.meter.Float64Gauge(name, metric.WithDescription(help))
	if err != nil {
		return noopGauge{}
	}
	o.gauges[name] = g
	return &otelGauge{gauge: g}
}

func (o *otelProvider) Histogram(name, help string, buckets []float64, labelKeys ...string) Histogram {
	o.mu.Lock()
	defer o.mu.Unlock()

	if h, ok := o.histograms[name]; ok {
		return &otelHistogram{histogram: h}
	}
	opts := []metric.Float64HistogramOption{metric.WithDescription(help)}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := o.meter.Float64Histogram(name, opts...)
	if err != nil {
		return noopHistogram{}
	}
	o.histograms[name] = h
	return &otelHistogram{histogram: h}
}

func (o *otelProvider) Handler() http.Handler { return http.NotFoundHandler() }
func (o *otelProvider) Close() error          { return nil }

type otelCounter struct {
	counter metric.Float64Counter
}

func (c *otelCounter) Inc(labels Fields) { c.Add(1, labels) }

func (c *otelCounter) Add(value float64, labels Fields) {
	c.counter.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

type otelGauge struct {
	gauge metric.Float64Gauge
}

func (g *otelGauge) Set(value float64, labels Fields) {
	g.gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func (g *otelGauge) Inc(labels Fields) { g.Set(1, labels) }
func (g *otelGauge) Dec(labels Fields) { g.Set(-1, labels) }

type otelHistogram struct {
	histogram metric.Float64Histogram
}

func (h *otelHistogram) Observe(value float64, labels Fields) {
	h.histogram.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(fields Fields) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

// ─── NO-OP ─────────────────────────────────────────────

// NewNoopProvider returns a Provider that records nothing, used when metrics are disabled.
func NewNoopProvider() Provider { return noopProvider{} }

type noopProvider struct{}

func (noopProvider) Counter(string, string, ...string) Counter { return noopCounter{} }
func (noopProvider) Gauge(string, string, ...string) Gauge     { return noopGauge{} }
func (noopProvider) Histogram(string, string, []float64, ...string) Histogram {
	return noopHistogram{}
}
func (noopProvider) Handler() http.Handler { return http.NotFoundHandler() }
func (noopProvider) Close() error          { return nil }

type noopCounter struct{}

func (noopCounter) Inc(Fields)          {}
func (noopCounter) Add(float64, Fields) {}

type noopGauge struct{}

func (noopGauge) Set(float64, Fields) {}
func (noopGauge) Inc(Fields)          {}
func (noopGauge) Dec(Fields)          {}

type noopHistogram struct{}

func (noopHistogram) Observe(float64, Fields) {}

// DecisionLatencyBuckets are the histogram buckets used for Authorize decisions and grant page
// fetches: finer-grained than Prometheus defaults in the sub-10ms range where an in-memory grant
// scan lands, while still covering the multi-second tail a cross-network page fetch can hit.
func DecisionLatencyBuckets() []float64 {
	return []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
}

// Elapsed reports d in the seconds unit every engine histogram uses.
func Elapsed(d time.Duration) float64 { return d.Seconds() }
