package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/engine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging (text or json format, configurable level).
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting cuepilot",
		"binary_port", cfg.BinaryPort,
		"osc_port", cfg.OSCPort,
		"data_dir", cfg.DataDir,
		"headless", cfg.Headless,
	)

	// Load the persistent system configuration, self-healing a missing file
	// with defaults.
	sysCfg, err := config.LoadSystemConfiguration(cfg.ConfigPath)
	if err != nil {
		slog.Error("failed to load system configuration", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, sysCfg, logger)
	if err != nil {
		slog.Error("failed to assemble engine", "error", err)
		os.Exit(1)
	}

	// Run until a Shutdown request arrives or the process is signalled.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine failed", "error", err)
		os.Exit(1)
	}
}
