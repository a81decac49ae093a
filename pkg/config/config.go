package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RedisConfig holds connection parameters for the Redis-backed, NETWORK-locality storage
// implementation.
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	LatchTTL     time.Duration `yaml:"latch_ttl" mapstructure:"latch_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Config represents the engine's full runtime configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
	Logger  LoggerConfig  `yaml:"logger" mapstructure:"logger"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// Load loads configuration from environment variables and files using Viper
func Load() *Config {
	v := viper.New()

	// Set configuration file details - support multiple formats including .env
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../../../")
	v.AddConfigPath("/etc/abacgate")

	// Enable reading from environment variables
	v.AutomaticEnv()
	// Set environment variable replacer for nested keys
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	setDefaults(v)

	// Bind environment variables BEFORE reading config files
	// This ensures env vars take precedence over config files
	bindEnvVars(v)

	// Try to read .env file (for backward compatibility)
	// This must come AFTER bindEnvVars to not override exported env vars
	loadDotEnvFile(v)
	// Try to read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		// Config file not found or error reading - continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: Error reading config file: %v\n", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("Unable to decode config: %v", err))
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	return &config
}

// LoadWithViper loads configuration and returns both config and viper instance
// This is useful for advanced usage where you need access to viper directly
func LoadWithViper() (*Config, *viper.Viper) {
	v := viper.New()

	// Set configuration file details
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.config/abacgate")
	v.AddConfigPath("/etc/abacgate")

	// Enable reading from environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	setDefaults(v)

	// Bind environment variables BEFORE reading config files
	// This ensures env vars take precedence over config files
	bindEnvVars(v)

	// Try to read .env file first
	loadDotEnvFile(v)

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Warning: Error reading config file: %v\n", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("Unable to decode config: %v", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	return &config, v
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.name", "abacgate")
	v.SetDefault("engine.default_grants_page_size", 50)
	v.SetDefault("engine.default_refs_page_size", 50)
	v.SetDefault("engine.default_parallel_paging", false)
	v.SetDefault("engine.storage_backend", "memory")
	v.SetDefault("engine.compute_flavor", "reference")
	v.SetDefault("engine.fanout_workers", 8)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "abacgate")
	v.SetDefault("redis.latch_ttl", 5*time.Minute)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	// Logger defaults
	v.SetDefault("logger.type", "zerolog")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.service_name", "abacgate")
	v.SetDefault("logger.version", "1.0.0")
	v.SetDefault("logger.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.provider", "prometheus")
	v.SetDefault("metrics.namespace", "abacgate")
	v.SetDefault("metrics.subsystem", "engine")
	v.SetDefault("metrics.enabled", true)

	// Tracing defaults
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
}

// bindEnvVars binds environment variables to maintain backward compatibility
func bindEnvVars(v *viper.Viper) {
	// Engine
	v.BindEnv("engine.name", "ENGINE_NAME")
	v.BindEnv("engine.default_grants_page_size", "ENGINE_GRANTS_PAGE_SIZE")
	v.BindEnv("engine.default_refs_page_size", "ENGINE_REFS_PAGE_SIZE")
	v.BindEnv("engine.default_parallel_paging", "ENGINE_PARALLEL_PAGING")
	v.BindEnv("engine.storage_backend", "ENGINE_STORAGE_BACKEND")
	v.BindEnv("engine.compute_flavor", "ENGINE_COMPUTE_FLAVOR")
	v.BindEnv("engine.fanout_workers", "ENGINE_FANOUT_WORKERS")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.key_prefix", "REDIS_KEY_PREFIX")
	v.BindEnv("redis.latch_ttl", "REDIS_LATCH_TTL")

	// Logger
	v.BindEnv("logger.type", "LOG_TYPE")
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("logger.format", "LOG_FORMAT")
	v.BindEnv("logger.development", "LOG_DEV")
	v.BindEnv("logger.service_name", "SERVICE_NAME")
	v.BindEnv("logger.version", "SERVICE_VERSION")
	v.BindEnv("logger.output", "LOG_OUTPUT")

	// Metrics
	v.BindEnv("metrics.provider", "METRICS_PROVIDER")
	v.BindEnv("metrics.namespace", "METRICS_NAMESPACE")
	v.BindEnv("metrics.subsystem", "METRICS_SUBSYSTEM")
	v.BindEnv("metrics.enabled", "METRICS_ENABLED")

	// Tracing
	v.BindEnv("tracing.exporter", "TRACING_EXPORTER")
	v.BindEnv("tracing.endpoint", "TRACING_ENDPOINT")
	v.BindEnv("tracing.insecure", "TRACING_INSECURE")
	v.BindEnv("tracing.sampling_rate", "TRACING_SAMPLING_RATE")
	v.BindEnv("tracing.environment", "TRACING_ENVIRONMENT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config validation failed: %w", err)
	}

	if c.Engine.StorageBackend == "redis" {
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host cannot be empty when storage_backend is redis")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			return fmt.Errorf("redis port must be between 1 and 65535")
		}
	}

	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config validation failed: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config validation failed: %w", err)
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config validation failed: %w", err)
	}

	return nil
}

// loadDotEnvFile loads .env file if it exists (for backward compatibility)
func loadDotEnvFile(_ *viper.Viper) {
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		file, err := os.Open(envFile)
		if err != nil {
			fmt.Printf("Warning: Could not open .env file: %v\n", err)
			return
		}
		defer file.Close()

		// Read .env file line by line
		content := make([]byte, 0)
		buf := make([]byte, 1024)
		for {
			n, err := file.Read(buf)
			if n > 0 {
				content = append(content, buf[:n]...)
			}
			if err != nil {
				break
			}
		}
		// Parse .env content
		lines := bytes.Split(content, []byte("\n"))
		for _, line := range lines {
			lineStr := strings.TrimSpace(string(line))
			if lineStr == "" || strings.HasPrefix(lineStr, "#") {
				continue
			}

			parts := strings.SplitN(lineStr, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])
				// Remove quotes if present
				if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
					value = value[1 : len(value)-1]
				}
				// Only set the environment variable if it's not already set
				// This allows command-line env vars to override .env file values
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}
}
