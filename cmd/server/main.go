package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/loliloopp/PassDesk-sub001/internal/app"
	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/logging"
	"github.com/loliloopp/PassDesk-sub001/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"remote_backend", cfg.Backend.Remote(),
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"cache_enabled", cfg.Cache.Enabled,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"redis_lock", cfg.Redis.URL != "",
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start import pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	service := a.NewService()
	server := web.NewServer(service, cfg, serverOptions(a)...)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartJanitor(jobCtx, cfg.Import.JanitorInterval)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Executions run detached from requests; let them finish.
		if status := service.Status(); status.Executing > 0 {
			slog.Info("waiting for executions to complete", "active", status.Executing)
			if err := service.WaitForExecutions(shutdownCtx); err != nil {
				slog.Warn("executions did not complete in time", "error", err)
			} else {
				slog.Info("all executions completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		a.Close()
		os.Exit(1)
	}

	// Start returns as soon as Shutdown begins; wait for the drain above.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = service.WaitForExecutions(drainCtx)
	slog.Info("server stopped")
}

// serverOptions registers readiness checks and the backend contract for
// whatever the app connected to.
func serverOptions(a *app.App) []web.Option {
	var opts []web.Option

	if a.Engine != nil {
		opts = append(opts,
			web.WithContract(a.Engine),
			web.WithReadinessCheck("database", a.Store),
		)
	}
	if a.Remote != nil {
		opts = append(opts, web.WithReadinessCheck("backend", a.Remote))
	}
	if a.Redis != nil {
		opts = append(opts, web.WithReadinessCheck("redis", web.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})))

		store, err := sredis.NewStoreWithOptions(a.Redis, limiter.StoreOptions{
			Prefix: a.Config.Redis.KeyPrefix + "rate",
		})
		if err != nil {
			slog.Warn("failed to create redis rate limit store, falling back to memory", "error", err)
		} else {
			opts = append(opts, web.WithRateLimitStore(store))
		}
	}
	return opts
}
