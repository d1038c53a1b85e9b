package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"peppolrelay/internal/platform/config"
	"peppolrelay/internal/platform/httpserver"
	"peppolrelay/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, wires the relay and keeps the lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
}

// run starts the HTTP server, the scheduler and the events worker and stops
// them together when ctx ends or one of them fails.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	srv := httpserver.New(cfg.Addr, app.router)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting peppol relay", "addr", cfg.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.scheduler.Start(ctx)
		<-ctx.Done()
		app.scheduler.Stop()
		return nil
	})
	g.Go(func() error {
		if err := app.events.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("events worker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
