package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load loads a configuration from a YAML file, substituting ${VAR}
// environment-variable references before parsing.
func Load(filePath string) (*BaseConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	cfg := NewBaseConfig("")
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes a configuration to a YAML file.
func Save(filePath string, cfg *BaseConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvOverrides overlays FORESIGHT_* environment variables onto runtime
// knobs, so deployments can tune a shared config file per environment without
// editing it.
func applyEnvOverrides(cfg *BaseConfig) {
	v := viper.New()
	v.SetEnvPrefix("FORESIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.IsSet("log_level") {
		cfg.Observability.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("workers") {
		cfg.Performance.Workers = v.GetInt("workers")
	}
	if v.IsSet("batch_flush_threshold") {
		cfg.Aggregation.BatchFlushThreshold = v.GetInt("batch_flush_threshold")
	}
	if v.IsSet("batch_merge_threshold") {
		cfg.Aggregation.BatchMergeThreshold = v.GetInt("batch_merge_threshold")
	}
	if v.IsSet("forecast_horizon") {
		cfg.Forecast.Horizon = v.GetInt("forecast_horizon")
	}
	if v.IsSet("metrics_port") {
		cfg.Observability.MetricsPort = v.GetInt("metrics_port")
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
