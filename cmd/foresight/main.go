package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/quartzdata/foresight/internal/pipeline"
	"github.com/quartzdata/foresight/pkg/config"
	"github.com/quartzdata/foresight/pkg/connector/registry"
	"github.com/quartzdata/foresight/pkg/forecast"
	"github.com/quartzdata/foresight/pkg/logger"

	// Import all available connectors to register them
	_ "github.com/quartzdata/foresight/pkg/connector/sinks/csv"
	_ "github.com/quartzdata/foresight/pkg/connector/sinks/s3"
	_ "github.com/quartzdata/foresight/pkg/connector/sinks/stdout"
	_ "github.com/quartzdata/foresight/pkg/connector/sources/csv"
	_ "github.com/quartzdata/foresight/pkg/connector/sources/kafka"
	_ "github.com/quartzdata/foresight/pkg/connector/sources/snowflake"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "foresight",
		Short: "Partitioned streaming forecast engine",
		Long: `Foresight consumes partition-grouped row streams from warehouse, file,
or broker sources and produces per-partition time-series forecasts.`,
	}

	root.AddCommand(runCmd(), validateCmd(), connectorsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a forecast pipeline from a YAML config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := logger.Init(logger.Config{
				Level:       cfg.Observability.LogLevel,
				Development: cfg.Observability.LogDevelopment,
				Encoding:    "json",
			}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Get()

			if cfg.Observability.TracingEnabled {
				shutdown, err := initTracing()
				if err != nil {
					return err
				}
				defer shutdown()
			}
			if cfg.Observability.MetricsEnabled && cfg.Observability.MetricsPort > 0 {
				go serveMetrics(cfg.Observability.MetricsPort, log)
			}

			source, err := registry.CreateSource(cfg)
			if err != nil {
				return err
			}
			sink, err := registry.CreateSink(cfg)
			if err != nil {
				return err
			}

			p, err := pipeline.New(cfg, source, sink, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			summary, err := p.Run(ctx)
			if err != nil {
				return err
			}

			log.Info("run finished",
				zap.Duration("elapsed", time.Since(start)),
				zap.Uint64("records", summary.Records),
				zap.Int("partitions", summary.Partitions),
				zap.Int("results", summary.Results),
				zap.Int("failed_partitions", len(summary.Failed)))

			if len(summary.Failed) > 0 {
				for key, ferr := range summary.Failed {
					log.Warn("partition had no output", zap.String("partition", key), zap.Error(ferr))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "foresight.yaml", "path to pipeline configuration")
	return cmd
}

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pipeline configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Printf("configuration %s is valid\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "foresight.yaml", "path to pipeline configuration")
	return cmd
}

func connectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List registered sources, sinks, and forecast procedures",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("sources:")
			for _, name := range registry.Sources() {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("sinks:")
			for _, name := range registry.Sinks() {
				fmt.Printf("  %s\n", name)
			}
			fmt.Println("procedures:")
			for _, name := range forecast.List() {
				fmt.Printf("  %s\n", name)
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("foresight %s\n", version)
		},
	}
}

// initTracing installs a stdout span exporter; good enough for batch runs,
// swappable for OTLP in deployments that need it.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}

func serveMetrics(port int, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // G114: internal metrics endpoint
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
