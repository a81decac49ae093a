// Package tracing wraps OpenTelemetry for the authorization engine: spans around authorize and
// audit_page decisions and the parallel-paging fan-out, exported over
// OTLP (gRPC or HTTP) or to stdout for development.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrServiceClosed       = errors.New("tracing: service is closed")
	ErrEmptyServiceName    = errors.New("tracing: service name cannot be empty")
	ErrInvalidSamplingRate = errors.New("tracing: sampling rate must be between 0.0 and 1.0")
	ErrUnsupportedExporter = errors.New("tracing: unsupported exporter")
)

// Exporter selects where finished spans are shipped.
type Exporter string

const (
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterStdout   Exporter = "stdout"
	ExporterNone     Exporter = "none"
)

// Config holds tracing setup for one engine process.
type Config struct {
	ServiceName string
	Version     string
	Environment string

	Exporter Exporter
	Endpoint string // OTLP collector endpoint, e.g. "localhost:4317"
	Insecure bool   // skip TLS for the OTLP connection

	// SamplingRate is the head-sampling ratio; 0 samples nothing, 1 samples everything.
	SamplingRate float64

	// Output overrides where the stdout exporter writes; nil means os.Stdout.
	Output io.Writer
}

// DefaultConfig traces every decision to stdout, sampling all of them.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "abacgate",
		Version:      "1.0.0",
		Environment:  "development",
		Exporter:     ExporterStdout,
		SamplingRate: 1.0,
	}
}

func (c Config) Validate() error {
	if c.ServiceName == "" {
		return ErrEmptyServiceName
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidSamplingRate, c.SamplingRate)
	}
	switch c.Exporter {
	case ExporterOTLPGRPC, ExporterOTLPHTTP, ExporterStdout, ExporterNone:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedExporter, c.Exporter)
	}
}

// Service starts spans and owns the exporter pipeline behind them.
type Service interface {
	// StartSpan opens a span and returns the context carrying it. Always End the returned span.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span)

	// Shutdown flushes pending spans and stops the exporter. The service is unusable afterward.
	Shutdown(ctx context.Context) error
}

// Span is one timed operation inside a decision trace.
type Span interface {
	End()
	SetAttributes(attrs ...attribute.KeyValue)
	AddEvent(name string, attrs ...attribute.KeyValue)
	RecordError(err error)
}

// NewService builds a Service from cfg. ExporterNone yields a no-op service that satisfies the
// interface without an SDK pipeline, so callers never need nil checks.
func NewService(cfg Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Exporter == ExporterNone {
		return NewNoop(), nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	// The service attributes carry no schema URL, so merging them into the SDK default resource
	// (whose schema URL follows the SDK's own semconv version) cannot conflict.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.Version),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)

	return &service{
		tracer:   provider.Tracer(cfg.ServiceName),
		provider: provider,
	}, nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExporter, cfg.Exporter)
	}
}

type service struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider

	mu     sync.Mutex
	closed bool
}

func (s *service) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, Span) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ctx, noopSpan{}
	}

	ctx, sp := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &span{otel: sp}
}

func (s *service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	s.closed = true
	s.mu.Unlock()

	return s.provider.Shutdown(ctx)
}

type span struct {
	otel trace.Span
}

func (s *span) End() { s.otel.End() }

func (s *span) SetAttributes(attrs ...attribute.KeyValue) {
	s.otel.SetAttributes(attrs...)
}

func (s *span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.otel.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *span) RecordError(err error) {
	if err == nil {
		return
	}
	s.otel.RecordError(err)
	s.otel.SetStatus(codes.Error, err.Error())
}

// NewNoop returns a Service that records nothing. Used when tracing is disabled by config and as
// the safe default in tests.
func NewNoop() Service { return noopService{} }

type noopService struct{}

func (noopService) StartSpan(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopService) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End()                                   {}
func (noopSpan) SetAttributes(...attribute.KeyValue)    {}
func (noopSpan) AddEvent(string, ...attribute.KeyValue) {}
func (noopSpan) RecordError(error)                      {}

// ─── DOMAIN ATTRIBUTES ─────────────────────────────────────────────

// RequestAttributes annotate a decision span with the request being evaluated.
func RequestAttributes(resourceType, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("abac.resource_type", resourceType),
		attribute.String("abac.action", action),
	}
}

// DecisionAttributes annotate a decision span with the outcome once the scan returns.
func DecisionAttributes(authorized, completed bool, grantUUID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Bool("abac.authorized", authorized),
		attribute.Bool("abac.completed", completed),
	}
	if grantUUID != "" {
		attrs = append(attrs, attribute.String("abac.grant_uuid", grantUUID))
	}
	return attrs
}

// FanOutAttributes annotate a parallel-paging span with the width of the fan-out.
func FanOutAttributes(pageRefs int) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.Int("abac.page_refs", pageRefs)}
}
