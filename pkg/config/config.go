// Package config provides the unified configuration system for Foresight.
// It defines a single BaseConfig structure shared by the CLI, the pipeline
// orchestrator, the aggregator, and all connectors, ensuring every component
// reads the same knobs.
//
// The configuration is organized into logical sections:
//   - Source / Sink: connector selection and options
//   - Aggregation: batching thresholds and duplicate-timestamp policy
//   - Window: column bindings, training window, resample frequency
//   - Forecast: procedure selection, horizon, retry policy
//   - Performance: worker counts and channel sizing
//   - Timeouts: per-partition and shutdown deadlines
//   - Observability: logging, metrics, tracing
//
// Example usage:
//
//	cfg := config.NewBaseConfig("sales-forecast")
//	cfg.Window.PartitionKeyColumn = "company"
//	cfg.Forecast.Horizon = 12
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Duplicate-timestamp aggregation policies. Sum matches the behavior of the
// upstream system this engine replaced; it is suspect for mean-style series
// (sentiment averages), which is why the policy is configurable rather than
// fixed.
const (
	DuplicatePolicySum  = "sum"
	DuplicatePolicyMean = "mean"
	DuplicatePolicyMin  = "min"
	DuplicatePolicyMax  = "max"
)

// BaseConfig is the single unified configuration structure.
type BaseConfig struct {
	// Name identifies the pipeline run
	Name    string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Source selects and configures the row source
	Source ConnectorConfig `yaml:"source" json:"source"`

	// Sink selects and configures the forecast-result sink
	Sink ConnectorConfig `yaml:"sink" json:"sink"`

	// Aggregation controls partition buffering and merging
	Aggregation AggregationConfig `yaml:"aggregation" json:"aggregation"`

	// Window binds columns and defines the training window and grid
	Window WindowConfig `yaml:"window" json:"window"`

	// Forecast selects the forecasting procedure
	Forecast ForecastConfig `yaml:"forecast" json:"forecast"`

	// Performance controls concurrency and buffering
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define operation deadlines
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for logging, metrics, and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ConnectorConfig selects a registered connector by type and passes it
// free-form options.
type ConnectorConfig struct {
	// Type is the registered connector name (e.g. "csv", "snowflake", "kafka")
	Type string `yaml:"type" json:"type"`
	// Options holds connector-specific settings
	Options map[string]interface{} `yaml:"options" json:"options"`
}

// Option returns a string option with a default.
func (c ConnectorConfig) Option(key, def string) string {
	if v, ok := c.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// OptionBool returns a boolean option with a default.
func (c ConnectorConfig) OptionBool(key string, def bool) bool {
	if v, ok := c.Options[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// OptionInt returns an integer option with a default.
func (c ConnectorConfig) OptionInt(key string, def int) int {
	switch v := c.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// AggregationConfig controls the two-threshold batching scheme that bounds
// peak memory during partition accumulation.
type AggregationConfig struct {
	// BatchFlushThreshold is the row count at which the current batch is
	// sealed into a batch frame
	BatchFlushThreshold int `yaml:"batch_flush_threshold" json:"batch_flush_threshold"`
	// BatchMergeThreshold is the sealed-frame count at which all frames are
	// merged into one
	BatchMergeThreshold int `yaml:"batch_merge_threshold" json:"batch_merge_threshold"`
	// DuplicatePolicy aggregates duplicate timestamps: sum, mean, min, max
	DuplicatePolicy string `yaml:"duplicate_policy" json:"duplicate_policy"`
	// MemoryBudgetMB triggers a watermark warning when process RSS exceeds it;
	// zero disables the watch
	MemoryBudgetMB int `yaml:"memory_budget_mb" json:"memory_budget_mb"`
}

// WindowConfig binds the aggregator to the row schema and defines the
// training window and resampling grid.
type WindowConfig struct {
	// PartitionKeyColumn groups records into independently forecast partitions
	PartitionKeyColumn string `yaml:"partition_key_column" json:"partition_key_column"`
	// TimestampColumn is the observation-time column
	TimestampColumn string `yaml:"timestamp_column" json:"timestamp_column"`
	// ValueColumn is the observed-value column
	ValueColumn string `yaml:"value_column" json:"value_column"`
	// TrainingWindowLength is the trailing span, in resample periods, used to
	// fit the model
	TrainingWindowLength int `yaml:"training_window_length" json:"training_window_length"`
	// ResampleFrequency is the regular grid: hourly, daily, weekly, monthly
	ResampleFrequency string `yaml:"resample_frequency" json:"resample_frequency"`
}

// ForecastConfig selects and tunes the forecasting procedure.
type ForecastConfig struct {
	// Procedure is the registered procedure name (e.g. "seasonal", "panel")
	Procedure string `yaml:"procedure" json:"procedure"`
	// Horizon is the number of future periods to forecast
	Horizon int `yaml:"horizon" json:"horizon"`
	// SeasonLength overrides the season length; zero derives it from the
	// resample frequency
	SeasonLength int `yaml:"season_length" json:"season_length"`
	// Lags is the lag-feature depth for the panel procedure
	Lags int `yaml:"lags" json:"lags"`
	// RetryTransient enables a single retry of retryable procedure failures
	RetryTransient bool `yaml:"retry_transient" json:"retry_transient"`
}

// PerformanceConfig controls concurrency and channel sizing.
type PerformanceConfig struct {
	// Workers bounds the number of partitions finalized concurrently
	Workers int `yaml:"workers" json:"workers"`
	// ChannelBuffer sets the size of record and result channels
	ChannelBuffer int `yaml:"channel_buffer" json:"channel_buffer"`
}

// TimeoutConfig defines operation deadlines.
type TimeoutConfig struct {
	// Partition bounds a single partition's finalization (merge + forecast)
	Partition time.Duration `yaml:"partition" json:"partition"`
	// Shutdown bounds pipeline drain on cancellation
	Shutdown time.Duration `yaml:"shutdown" json:"shutdown"`
}

// ObservabilityConfig controls logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" json:"log_level"`
	LogDevelopment bool   `yaml:"log_development" json:"log_development"`
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	// MetricsPort exposes /metrics when > 0
	MetricsPort    int  `yaml:"metrics_port" json:"metrics_port"`
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled"`
}

// NewBaseConfig creates a configuration with production defaults. The batching
// thresholds default to the values the upstream system ran with.
func NewBaseConfig(name string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Version: "1.0",
		Aggregation: AggregationConfig{
			BatchFlushThreshold: 16000,
			BatchMergeThreshold: 100,
			DuplicatePolicy:     DuplicatePolicySum,
		},
		Window: WindowConfig{
			PartitionKeyColumn:   "partition_key",
			TimestampColumn:      "timestamp",
			ValueColumn:          "value",
			TrainingWindowLength: 365,
			ResampleFrequency:    "daily",
		},
		Forecast: ForecastConfig{
			Procedure:      "seasonal",
			Horizon:        12,
			RetryTransient: true,
		},
		Performance: PerformanceConfig{
			Workers:       runtime.NumCPU(),
			ChannelBuffer: 1024,
		},
		Timeouts: TimeoutConfig{
			Partition: 5 * time.Minute,
			Shutdown:  30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *BaseConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Aggregation.BatchFlushThreshold <= 0 {
		return fmt.Errorf("aggregation.batch_flush_threshold must be positive, got %d", c.Aggregation.BatchFlushThreshold)
	}
	if c.Aggregation.BatchMergeThreshold <= 1 {
		return fmt.Errorf("aggregation.batch_merge_threshold must be greater than 1, got %d", c.Aggregation.BatchMergeThreshold)
	}
	switch c.Aggregation.DuplicatePolicy {
	case DuplicatePolicySum, DuplicatePolicyMean, DuplicatePolicyMin, DuplicatePolicyMax:
	default:
		return fmt.Errorf("aggregation.duplicate_policy %q is not one of sum, mean, min, max", c.Aggregation.DuplicatePolicy)
	}
	if c.Window.PartitionKeyColumn == "" || c.Window.TimestampColumn == "" || c.Window.ValueColumn == "" {
		return fmt.Errorf("window column bindings (partition_key_column, timestamp_column, value_column) are required")
	}
	if c.Window.TrainingWindowLength <= 0 {
		return fmt.Errorf("window.training_window_length must be positive, got %d", c.Window.TrainingWindowLength)
	}
	switch c.Window.ResampleFrequency {
	case "hourly", "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("window.resample_frequency %q is not one of hourly, daily, weekly, monthly", c.Window.ResampleFrequency)
	}
	if c.Forecast.Procedure == "" {
		return fmt.Errorf("forecast.procedure is required")
	}
	if c.Forecast.Horizon <= 0 {
		return fmt.Errorf("forecast.horizon must be positive, got %d", c.Forecast.Horizon)
	}
	if c.Performance.Workers <= 0 {
		return fmt.Errorf("performance.workers must be positive, got %d", c.Performance.Workers)
	}
	return nil
}
