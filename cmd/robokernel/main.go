package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/woxQAQ/robokernel/internal/config"
	"github.com/woxQAQ/robokernel/internal/kernel"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Parse command-line flags
	flags := pflag.NewFlagSet("robokernel", pflag.ExitOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.LoadServerConfig(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "robokernel: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "robokernel: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting robokernel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := kernel.NewServer(ctx, cfg, os.Stdout, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	runErr := server.Run(ctx, cfg.App)
	if err := server.Close(context.Background()); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("App failed", zap.Error(runErr))
	}

	logger.Info("Server shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
