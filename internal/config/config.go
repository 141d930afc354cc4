// Package config loads host configuration from file and environment
// via Viper and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved host configuration.
type Config struct {
	// Plugins.
	PluginRoots    []string
	WorkDir        string
	WatchRoots     bool
	HealthInterval time.Duration

	// Monitoring.
	MetricCapacity      int
	MemoryThresholdMB   float64
	CPUThresholdPercent float64
	ResponseThresholdMS float64

	// Logging.
	LogLevel  string
	LogFormat string
}

// setDefaults registers every known key with its default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("plugins.roots", []string{"./plugins"})
	v.SetDefault("plugins.workdir", "")
	v.SetDefault("plugins.watch", false)
	v.SetDefault("plugins.health_interval", "30s")

	v.SetDefault("monitoring.metric_capacity", 100)
	v.SetDefault("monitoring.memory_threshold_mb", 512)
	v.SetDefault("monitoring.cpu_threshold_percent", 80)
	v.SetDefault("monitoring.response_threshold_ms", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from the optional file path, layered under
// PLUGINHOST_* environment variables. A missing file is not an error
// when no explicit path was given.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLUGINHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pluginhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/pluginhost")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		PluginRoots:    v.GetStringSlice("plugins.roots"),
		WorkDir:        v.GetString("plugins.workdir"),
		WatchRoots:     v.GetBool("plugins.watch"),
		HealthInterval: v.GetDuration("plugins.health_interval"),

		MetricCapacity:      v.GetInt("monitoring.metric_capacity"),
		MemoryThresholdMB:   v.GetFloat64("monitoring.memory_threshold_mb"),
		CPUThresholdPercent: v.GetFloat64("monitoring.cpu_threshold_percent"),
		ResponseThresholdMS: v.GetFloat64("monitoring.response_threshold_ms"),

		LogLevel:  v.GetString("logging.level"),
		LogFormat: v.GetString("logging.format"),
	}
	return cfg, v, nil
}
