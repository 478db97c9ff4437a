package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AltairaLabs/engine-broker/internal/api"
	"github.com/AltairaLabs/engine-broker/internal/broker"
	"github.com/AltairaLabs/engine-broker/internal/config"
	"github.com/AltairaLabs/engine-broker/internal/registry"
)

const (
	janitorInterval   = 30 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.FromFlags(os.Args[1:])
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting engine broker",
		"bind", cfg.Bind,
		"tls", cfg.TLSEnabled(),
		"db", cfg.Database,
		"acquire_timeout", cfg.AcquireTimeout,
		"max_sessions", cfg.MaxSessions,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoReg, err := registry.NewMongoRegistry(ctx, cfg.MongoURL, cfg.Database, logger)
	if err != nil {
		logger.Error("Cannot reach document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoReg.Close(context.Background()); err != nil {
			logger.Warn("Document store disconnect failed", "error", err)
		}
	}()

	cachedReg := registry.NewCachedRegistry(mongoReg, cfg.RegistryTTL)
	defer cachedReg.Close()

	b := broker.New(cachedReg, logger, broker.Config{
		MaxSessions: cfg.MaxSessions,
	})

	srv := &http.Server{
		Addr:    cfg.Bind,
		Handler: api.NewServer(b, logger, cfg.AcquireTimeout),
		// WriteTimeout stays unset: analyse responses stream for as long
		// as the engine runs.
		ReadHeaderTimeout: readHeaderTimeout,
	}

	// Janitor: expire idle sessions, sweep departed queue waiters.
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := b.CleanupStale(cfg.SessionMaxAge); removed > 0 {
					logger.Info("Cleaned up stale sessions", "count", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Long-lived streams will not finish inside the timeout; force
		// them closed.
		logger.Warn("Graceful shutdown timed out, closing connections", "error", err)
		_ = srv.Close()
	}

	logger.Info("Broker shutdown complete")
}
