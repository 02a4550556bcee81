package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"fleetsync/internal/daemon"
	"fleetsync/pkg/config"
	"fleetsync/pkg/logger"
)

func main() {
	var (
		configPath      string
		checkOnly       bool
		shutdownTimeout time.Duration
	)
	flag.StringVar(&configPath, "config", "/etc/fleetsync/config.toml", "path to config file")
	flag.BoolVar(&checkOnly, "check", false, "validate the config, print the fleet summary and exit")
	flag.DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long running operations may take to finish on shutdown")
	flag.Parse()

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		logger.Fatal("failed to load config", map[string]any{
			"config_path": configPath,
			"error":       err.Error(),
		})
	}

	level, err := logger.ParseLevel(cfg.Daemon.LogLevel)
	if err != nil {
		logger.Warn("unknown log level, keeping info", map[string]any{
			"log_level": cfg.Daemon.LogLevel,
		})
	} else {
		logger.SetDefaultLevel(level)
	}

	logger.Info("fleet loaded", map[string]any{
		"enabled_hosts": len(cfg.EnabledHosts()),
		"regions":       formatRegions(cfg.RegionCounts()),
		"invalid_hosts": len(cfg.InvalidHosts()),
	})
	if checkOnly {
		return
	}

	svc, err := daemon.NewDaemonService(cfg)
	if err != nil {
		logger.Fatal("failed to create daemon", map[string]any{
			"error": err.Error(),
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info("starting fleetsync daemon", nil)
		if err := svc.Start(); err != nil {
			logger.Error("daemon start failed", err, nil)
		}
	}()

	sig := <-sigChan
	logger.Info("received shutdown signal", map[string]any{
		"signal":  sig.String(),
		"timeout": shutdownTimeout.String(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", err, nil)
		os.Exit(1)
	}

	logger.Info("daemon stopped", nil)
}

func formatRegions(counts map[string]int) string {
	regions := make([]string, 0, len(counts))
	for region := range counts {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	parts := make([]string, 0, len(regions))
	for _, region := range regions {
		parts = append(parts, region+"="+strconv.Itoa(counts[region]))
	}
	return strings.Join(parts, ",")
}
