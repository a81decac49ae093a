package config

import "fmt"

// EngineConfig holds the façade's default pagination/parallelism/locality parameters.
type EngineConfig struct {
	Name                  string `yaml:"name" mapstructure:"name"`
	DefaultGrantsPageSize int    `yaml:"default_grants_page_size" mapstructure:"default_grants_page_size"`
	DefaultRefsPageSize   int    `yaml:"default_refs_page_size" mapstructure:"default_refs_page_size"`
	DefaultParallelPaging bool   `yaml:"default_parallel_paging" mapstructure:"default_parallel_paging"`

	// StorageBackend selects which storage implementation the engine wires: "memory" or "redis".
	StorageBackend string `yaml:"storage_backend" mapstructure:"storage_backend"`
	// ComputeFlavor names the Compute implementation: "reference", "fanout", or "delegated". The
	// abacgate command builds a FanOut for "fanout" and a Reference for any other value.
	ComputeFlavor string `yaml:"compute_flavor" mapstructure:"compute_flavor"`
	// FanOutWorkers sizes the worker pool when ComputeFlavor is "fanout".
	FanOutWorkers int `yaml:"fanout_workers" mapstructure:"fanout_workers"`
}

// Validate validates the engine configuration.
func (e *EngineConfig) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("engine name cannot be empty")
	}
	if e.DefaultGrantsPageSize <= 0 {
		return fmt.Errorf("engine default_grants_page_size must be positive")
	}
	if e.DefaultRefsPageSize <= 0 {
		return fmt.Errorf("engine default_refs_page_size must be positive")
	}

	validBackends := map[string]bool{"memory": true, "redis": true}
	if !validBackends[e.StorageBackend] {
		return fmt.Errorf("invalid engine storage_backend: %s, must be one of: memory, redis", e.StorageBackend)
	}

	validFlavors := map[string]bool{"reference": true, "fanout": true, "delegated": true}
	if !validFlavors[e.ComputeFlavor] {
		return fmt.Errorf("invalid engine compute_flavor: %s, must be one of: reference, fanout, delegated", e.ComputeFlavor)
	}
	if e.ComputeFlavor == "fanout" && e.FanOutWorkers <= 0 {
		return fmt.Errorf("engine fanout_workers must be positive when compute_flavor is fanout")
	}

	return nil
}
