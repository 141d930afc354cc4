// Package main is the entry point for the pluginhost runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/pluginhost/internal/config"
	"github.com/dshills/pluginhost/internal/plugin"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("pluginhost %s (%s)\n", version, commit)
		return 0
	}

	cfg, _, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	registry := prometheus.NewRegistry()
	runtime := plugin.NewRuntime(plugin.RuntimeConfig{
		Roots:          cfg.PluginRoots,
		WorkDir:        cfg.WorkDir,
		MetricCapacity: cfg.MetricCapacity,
		Thresholds: plugin.Thresholds{
			MemoryMB:   cfg.MemoryThresholdMB,
			CPUPercent: cfg.CPUThresholdPercent,
			ResponseMS: cfg.ResponseThresholdMS,
		},
		HealthInterval: cfg.HealthInterval,
	}, registry, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runtime.DiscoverAndLoad(ctx); err != nil {
		log.Error("discovery pipeline failed", zap.Error(err))
	}
	printRollup(runtime)

	runtime.Start()

	var watcher *plugin.Watcher
	if cfg.WatchRoots {
		watcher, err = plugin.NewWatcher(cfg.PluginRoots, func() {
			if err := runtime.TriggerDiscovery(context.Background()); err != nil {
				log.Warn("rescan failed", zap.Error(err))
			}
		}, log)
		if err != nil {
			log.Warn("plugin root watching disabled", zap.Error(err))
		}
	}

	<-ctx.Done()
	log.Info("shutting down")

	if watcher != nil {
		_ = watcher.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	runtime.Close(shutdownCtx)
	return 0
}

// printRollup writes a human-readable summary of the managed plugins.
func printRollup(runtime *plugin.Runtime) {
	metrics := runtime.SystemMetrics()
	fmt.Printf("plugins: %d total, %d active\n", metrics.TotalPlugins, metrics.ActivePlugins)

	states := make([]string, 0, len(metrics.StateCounts))
	for state := range metrics.StateCounts {
		states = append(states, state)
	}
	sort.Strings(states)
	for _, state := range states {
		fmt.Printf("  %-12s %d\n", state, metrics.StateCounts[state])
	}

	for _, inst := range runtime.Plugins() {
		desc := inst.Descriptor()
		fmt.Printf("  - %s %s [%s] %s\n", desc.Name, desc.Version, inst.State(), desc.Assessment.Risk)
	}
}
