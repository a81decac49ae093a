// Command abacgate starts the authorization engine using the backends selected by config.yaml /
// environment variables, then blocks until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/niiniyare/abacgate/pkg/abac"
	"github.com/niiniyare/abacgate/pkg/compute"
	"github.com/niiniyare/abacgate/pkg/config"
	"github.com/niiniyare/abacgate/pkg/engine"
	"github.com/niiniyare/abacgate/pkg/kernel"
	"github.com/niiniyare/abacgate/pkg/logger"
	"github.com/niiniyare/abacgate/pkg/metrics"
	"github.com/niiniyare/abacgate/pkg/query"
	"github.com/niiniyare/abacgate/pkg/storage"
	"github.com/niiniyare/abacgate/pkg/tracing"
)

func main() {
	cfg := config.Load()

	lg, err := (&logger.LoggerFactory{}).NewLogger(toLoggerConfig(cfg.Logger, cfg.Engine.Name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "abacgate: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	metricsProvider, err := metrics.NewProvider(toMetricsConfig(cfg.Metrics))
	if err != nil {
		lg.Fatal("metrics init failed", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer metricsProvider.Close()
	engineMetrics := metrics.NewEngineMetrics(metricsProvider)

	tracer, err := tracing.NewService(toTracingConfig(cfg.Tracing, cfg.Engine.Name))
	if err != nil {
		lg.Fatal("tracing init failed", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer tracer.Shutdown(context.Background())

	eval, err := query.NewEvaluator(query.Options{})
	if err != nil {
		lg.Fatal("query evaluator init failed", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer eval.Close()

	store, err := buildStorage(cfg)
	if err != nil {
		lg.Fatal("storage init failed", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}

	matcher := kernel.NewMatcher(eval, nil)
	comp := buildCompute(cfg, store, matcher, engineMetrics, tracer)

	eng := engine.New(engine.Config{
		IdentityDefs:          identityDefinitions(),
		ResourceDefs:          resourceDefinitions(),
		Storage:               store,
		Compute:               comp,
		Logger:                lg,
		Metrics:               engineMetrics,
		Tracer:                tracer,
		DefaultGrantsPageSize: cfg.Engine.DefaultGrantsPageSize,
		DefaultRefsPageSize:   cfg.Engine.DefaultRefsPageSize,
		DefaultParallelPaging: cfg.Engine.DefaultParallelPaging,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		lg.Fatal("engine start failed", logger.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer eng.Shutdown(context.Background())

	lg.Info("abacgate engine running", logger.Fields{"state": eng.State().String()})
	<-ctx.Done()
	lg.Info("abacgate engine shutting down", nil)
}

func buildStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Engine.StorageBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		return storage.NewRedis(client, storage.RedisOptions{
			KeyPrefix: cfg.Redis.KeyPrefix,
			LatchTTL:  cfg.Redis.LatchTTL,
		}), nil
	default:
		return storage.NewMemory(), nil
	}
}

func buildCompute(cfg *config.Config, store storage.Storage, matcher *kernel.Matcher, em *metrics.EngineMetrics, tracer tracing.Service) compute.Compute {
	switch cfg.Engine.ComputeFlavor {
	case "fanout":
		return compute.NewFanOut(store, matcher, compute.FanOutOptions{
			Workers:        cfg.Engine.FanOutWorkers,
			GrantsPageSize: cfg.Engine.DefaultGrantsPageSize,
			Metrics:        em,
		})
	default:
		return compute.NewReference(store, matcher, compute.ReferenceOptions{
			GrantsPageSize: cfg.Engine.DefaultGrantsPageSize,
			RefsPageSize:   cfg.Engine.DefaultRefsPageSize,
			ParallelPaging: cfg.Engine.DefaultParallelPaging,
			Tracer:         tracer,
		})
	}
}

func toLoggerConfig(lc config.LoggerConfig, serviceName string) logger.Config {
	pkgCfg := lc.ToLoggerConfig(serviceName)
	return logger.Config{
		Type:        logger.LoggerType(pkgCfg.Type),
		Level:       logger.LogLevel(pkgCfg.Level),
		Output:      pkgCfg.Output,
		Format:      pkgCfg.Format,
		Development: pkgCfg.Development,
		ServiceName: pkgCfg.ServiceName,
		Version:     pkgCfg.Version,
	}
}

func toMetricsConfig(mc config.MetricsConfig) metrics.Config {
	return metrics.Config{
		Provider:  mc.Provider,
		Namespace: mc.Namespace,
		Subsystem: mc.Subsystem,
		Enabled:   mc.Enabled,
	}
}

func toTracingConfig(tc config.TracingConfig, serviceName string) tracing.Config {
	return tracing.Config{
		ServiceName:  serviceName,
		Version:      "1.0.0",
		Environment:  tc.Environment,
		Exporter:     tracing.Exporter(tc.Exporter),
		Endpoint:     tc.Endpoint,
		Insecure:     tc.Insecure,
		SamplingRate: tc.SamplingRate,
	}
}

// identityDefinitions/resourceDefinitions return a minimal built-in schema for the demo binary;
// real deployments load these from a durable definitions store instead.
func identityDefinitions() []abac.IdentityDefinition {
	return []abac.IdentityDefinition{
		{IdentityType: "User", Schema: map[string]any{
			"type": "object", "required": []any{"id"},
			"properties": map[string]any{"id": map[string]any{"type": "string"}},
		}},
	}
}

func resourceDefinitions() []abac.ResourceDefinition {
	return []abac.ResourceDefinition{
		{
			ResourceType: "Document",
			Actions:      []string{"Document:Read", "Document:Write"},
			Schema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"owner": map[string]any{"type": "string"}},
			},
		},
	}
}
