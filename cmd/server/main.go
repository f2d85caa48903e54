// Package main is the entrypoint for the dialq API server.
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

	"github.com/kiranshivaraju/dialq/internal/api"
	"github.com/kiranshivaraju/dialq/internal/api/handler"
	mw "github.com/kiranshivaraju/dialq/internal/api/middleware"
	"github.com/kiranshivaraju/dialq/internal/api/response"
	"github.com/kiranshivaraju/dialq/internal/cache"
	"github.com/kiranshivaraju/dialq/internal/config"
	"github.com/kiranshivaraju/dialq/internal/dispatch"
	"github.com/kiranshivaraju/dialq/internal/queue"
	"github.com/kiranshivaraju/dialq/internal/store"
	"github.com/kiranshivaraju/dialq/internal/voice/providers"
	"github.com/kiranshivaraju/dialq/internal/webhook"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dialq",
		Short:         "Outbound call queue for the AI dialer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newCreateAPIKeyCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stalled-job watchdog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "voice_provider", cfg.Voice.Provider, "env", cfg.Server.Env)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create voice gateway
	gateway, err := providers.New(cfg.Voice)
	if err != nil {
		return fmt.Errorf("create voice gateway: %w", err)
	}
	slog.Info("voice gateway initialized", "provider", gateway.Name())

	// 6. Wire the queue
	pgStore := store.NewPostgresStore(pool)
	dispatcher := dispatch.New(pgStore, gateway, cfg.Dispatch)
	runner := queue.NewRunner(pgStore, dispatcher, redisCache, cfg.Queue)

	watchdog := queue.NewWatchdog(runner, cfg.Queue)
	if err := watchdog.Start(ctx); err != nil {
		return fmt.Errorf("start watchdog: %w", err)
	}
	defer watchdog.Stop()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:           mw.NewAuth(pgStore, cfg.Session.Secret, cfg.Session.CookieName),
		RateLimit:      mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),
		AllowedOrigins: cfg.Server.AllowedOrigins,

		HealthHandler:    healthHandler(pgStore, redisCache),
		WebhookHandler:   handler.NewWebhookHandler(webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.MaxSkew), runner),
		EnqueueHandler:   handler.NewEnqueueHandler(runner),
		ListJobsHandler:  handler.NewListJobsHandler(runner),
		GetJobHandler:    handler.NewGetJobHandler(runner),
		CancelJobHandler: handler.NewCancelJobHandler(runner),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
