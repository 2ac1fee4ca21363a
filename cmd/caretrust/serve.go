package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/caretrust/internal/api"
	"github.com/opensource-finance/caretrust/internal/bus"
	"github.com/opensource-finance/caretrust/internal/cache"
	"github.com/opensource-finance/caretrust/internal/observability"
	"github.com/opensource-finance/caretrust/internal/pipeline"
	"github.com/opensource-finance/caretrust/internal/repository"
	"github.com/opensource-finance/caretrust/internal/scorecfg"
	"github.com/opensource-finance/caretrust/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring HTTP service",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting caretrust",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	stopTracing, err := observability.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		if err := stopTracing(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	scoring, err := scorecfg.Load(cfg.Scoring.ConfigPath)
	if err != nil {
		return err
	}
	slog.Info("scoring configuration loaded",
		"version", scoring.Version,
		"categories", len(scoring.Categories),
		"path", cfg.Scoring.ConfigPath,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	metrics := observability.NewMetrics()

	svc, err := pipeline.New(scoring, repo,
		pipeline.WithCache(cacheImpl),
		pipeline.WithBus(busImpl),
		pipeline.WithMetrics(metrics),
		pipeline.WithBounds(cfg.Scoring),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize scoring pipeline: %w", err)
	}

	var recompute *worker.Worker
	if cfg.Worker.Enabled {
		recompute = worker.NewWorker(busImpl, svc, metrics)
		if err := recompute.Start(cfg.Worker.Tenants); err != nil {
			slog.Error("failed to start recompute worker", "error", err)
			recompute = nil
		} else {
			slog.Info("recompute worker started", "tenants", cfg.Worker.Tenants)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Service: svc,
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Metrics: metrics,
		Version: Version,
	})

	slog.Info("caretrust is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var stop func() error
	if recompute != nil {
		stop = recompute.Stop
	}
	return serveUntil(ctx, srv, stop, 10*time.Second)
}

// httpServer is the part of api.Server the serve loop drives.
type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serveUntil runs srv until ctx ends or the listener fails, then stops
// the worker and shuts the server down within grace. A listener failure
// is returned so the process exits non-zero.
func serveUntil(ctx context.Context, srv httpServer, stopWorker func() error, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	// stop consuming evidence before the server goes away
	if stopWorker != nil {
		if err := stopWorker(); err != nil {
			slog.Error("failed to stop recompute worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	slog.Info("caretrust shutdown complete")
	return nil
}
