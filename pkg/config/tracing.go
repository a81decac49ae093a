package config

import "fmt"

// TracingConfig selects the span exporter for decision tracing.
type TracingConfig struct {
	Exporter     string  `yaml:"exporter" mapstructure:"exporter"` // "otlp-grpc", "otlp-http", "stdout", "none"
	Endpoint     string  `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure     bool    `yaml:"insecure" mapstructure:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate" mapstructure:"sampling_rate"`
	Environment  string  `yaml:"environment" mapstructure:"environment"`
}

// Validate validates the tracing configuration.
func (t *TracingConfig) Validate() error {
	validExporters := map[string]bool{"otlp-grpc": true, "otlp-http": true, "stdout": true, "none": true}
	if !validExporters[t.Exporter] {
		return fmt.Errorf("invalid tracing exporter: %s, must be one of: otlp-grpc, otlp-http, stdout, none", t.Exporter)
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		return fmt.Errorf("tracing sampling_rate must be between 0.0 and 1.0")
	}
	if (t.Exporter == "otlp-grpc" || t.Exporter == "otlp-http") && t.Endpoint == "" {
		return fmt.Errorf("tracing endpoint cannot be empty for exporter %s", t.Exporter)
	}
	return nil
}
