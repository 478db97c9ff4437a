package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AltairaLabs/engine-broker/internal/provider"
)

func main() {
	var (
		brokerURL = flag.String("broker", "http://127.0.0.1:9666", "Broker base URL")
		secret    = flag.String("provider-secret", os.Getenv("PROVIDER_SECRET"), "Provider secret the engine was registered with")
		engineCmd = flag.String("engine", "", "Shell command to launch a UCI engine (e.g. stockfish)")
		debug     = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *secret == "" {
		logger.Error("Need -provider-secret or PROVIDER_SECRET")
		os.Exit(1)
	}
	if *engineCmd == "" {
		logger.Error("Need -engine (shell command launching a UCI engine)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := provider.StartEngine(ctx, *engineCmd, logger)
	if err != nil {
		logger.Error("Cannot start engine", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("Engine did not exit cleanly", "error", err)
		}
	}()

	logger.Info("Polling for work", "broker", *brokerURL)
	if err := provider.NewClient(*brokerURL, *secret, engine, logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Provider loop failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Provider shutdown complete")
}
