package tracing

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "default is valid", mutate: func(c *Config) {}},
		{name: "empty service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: ErrEmptyServiceName},
		{name: "negative sampling rate", mutate: func(c *Config) { c.SamplingRate = -0.1 }, wantErr: ErrInvalidSamplingRate},
		{name: "sampling rate above one", mutate: func(c *Config) { c.SamplingRate = 1.5 }, wantErr: ErrInvalidSamplingRate},
		{name: "unknown exporter", mutate: func(c *Config) { c.Exporter = "jaeger" }, wantErr: ErrUnsupportedExporter},
		{name: "otlp grpc", mutate: func(c *Config) { c.Exporter = ExporterOTLPGRPC; c.Endpoint = "localhost:4317" }},
		{name: "otlp http", mutate: func(c *Config) { c.Exporter = ExporterOTLPHTTP; c.Endpoint = "localhost:4318" }},
		{name: "none", mutate: func(c *Config) { c.Exporter = ExporterNone }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewServiceNoneYieldsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exporter = ExporterNone

	svc, err := NewService(cfg)
	require.NoError(t, err)

	ctx, span := svc.StartSpan(context.Background(), "authorize")
	assert.NotNil(t, ctx)
	span.SetAttributes(attribute.Bool("abac.authorized", true))
	span.RecordError(nil)
	span.End()

	assert.NoError(t, svc.Shutdown(context.Background()))
	// a noop service tolerates repeated shutdown
	assert.NoError(t, svc.Shutdown(context.Background()))
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = ""
	_, err := NewService(cfg)
	assert.ErrorIs(t, err, ErrEmptyServiceName)
}

func TestServiceLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = io.Discard
	svc, err := NewService(cfg)
	require.NoError(t, err)

	ctx, span := svc.StartSpan(context.Background(), "authorize",
		RequestAttributes("Balloon", "Balloon:Inflate")...)
	require.NotNil(t, ctx)

	_, child := svc.StartSpan(ctx, "audit_page.parallel_fanout", FanOutAttributes(4)...)
	child.AddEvent("page fetched", attribute.Int("grants", 50))
	child.End()

	span.SetAttributes(DecisionAttributes(true, true, "9c1b")...)
	span.End()

	require.NoError(t, svc.Shutdown(context.Background()))

	// after shutdown: span starts degrade to noops, second shutdown errors
	_, after := svc.StartSpan(context.Background(), "authorize")
	after.End()
	assert.ErrorIs(t, svc.Shutdown(context.Background()), ErrServiceClosed)
}

func TestDecisionAttributes(t *testing.T) {
	attrs := DecisionAttributes(false, true, "")
	assert.Len(t, attrs, 2, "grant_uuid attribute is omitted when no grant decided")

	attrs = DecisionAttributes(true, true, "abc-123")
	require.Len(t, attrs, 3)
	assert.Equal(t, "abac.grant_uuid", string(attrs[2].Key))
}
