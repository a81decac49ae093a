package config

import "fmt"

// MetricsConfig selects and names the metrics backend.
type MetricsConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"` // "prometheus" or "otel"
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	Subsystem string `yaml:"subsystem" mapstructure:"subsystem"`
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
}

// Validate validates the metrics configuration.
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	validProviders := map[string]bool{"prometheus": true, "otel": true}
	if !validProviders[m.Provider] {
		return fmt.Errorf("invalid metrics provider: %s, must be one of: prometheus, otel", m.Provider)
	}
	return nil
}
