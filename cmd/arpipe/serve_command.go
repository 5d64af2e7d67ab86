package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	HTTPAdapter "github.com/bnema/arpipe/internal/adapter/http"
	"github.com/bnema/arpipe/internal/infrastructure/tracing"
	"github.com/bnema/arpipe/internal/service"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the marker job workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The server logs to stdout like any long-running service.
			ctx.logOut = os.Stdout
			return ctx.withApp(func(a *app) error {
				return serve(cmd.Context(), a)
			})
		},
	}
}

func serve(parent context.Context, a *app) error {
	if parent == nil {
		parent = context.Background()
	}
	log := a.log
	cfg := a.cfg

	shutdownTracing, err := tracing.Init(parent, tracing.Options{
		ServiceName: "arpipe",
		Environment: cfg.Server.AppEnv,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	if err := a.compiler.CheckAvailable(); err != nil {
		// Jobs fail with a retryable compilation_failure until it is installed.
		log.Warn().Err(err).Msg("marker compiler not found")
	}

	log.Info().
		Int("port", cfg.Server.Port).
		Str("data_dir", cfg.Server.DataDir).
		Str("artifact_backend", cfg.Artifacts.Backend).
		Msg("starting arpipe")

	// Worker pool and notifier for async jobs
	workerCtx, workerCancel := context.WithCancel(parent)
	defer workerCancel()

	var wg sync.WaitGroup
	workerPool := service.NewWorkerPool(a.queue, a.markers, nil, cfg.Worker.Workers, cfg.Worker.PollInterval.Std(), log)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := workerPool.Run(workerCtx); err != nil {
			log.Error().Err(err).Msg("worker pool stopped with error")
		}
	}()
	go func() {
		defer wg.Done()
		service.NewNotifier(a.bus, log).Run(workerCtx)
	}()

	server := HTTPAdapter.NewServer(a.markers, a.resolver, a.bus, log)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	sigCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop accepting new requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	// Interrupted attempts stay claimed and are recovered on the next start.
	workerCancel()
	wg.Wait()

	log.Info().Msg("shutdown complete")
	return runErr
}
