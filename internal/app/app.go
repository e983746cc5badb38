// Package app wires the import pipeline from configuration. The server and
// importctl share it so both run the same backend the same way.
package app

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/loliloopp/PassDesk-sub001/internal/backend"
	"github.com/loliloopp/PassDesk-sub001/internal/config"
	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/lock"
	"github.com/loliloopp/PassDesk-sub001/internal/store"
)

// App holds the collaborators of one process.
//
// Exactly one of Engine and Remote is set: Engine runs validation and
// execution against the local database, Remote forwards them to BACKEND_URL.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Backend core.Backend

	Engine *core.Engine
	Store  *store.Store
	Remote *backend.Client

	Redis   *redis.Client
	Locker  core.Locker
	Limiter *core.ExecLimiter

	closers []func()
}

// New connects to the configured dependencies. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Limiter: core.NewExecLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
	}

	if err := a.setupBackend(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setupBackend(ctx context.Context) error {
	cfg := a.Config

	if cfg.Backend.Remote() {
		a.Remote = backend.New(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout, a.Logger)
		a.Backend = a.Remote
		a.Logger.Info("using remote import backend", "url", cfg.Backend.URL)
		return nil
	}

	pool, err := store.Connect(ctx, cfg.Database, a.Logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pool.Close)

	if cfg.Database.Migrate {
		if err := store.Migrate(cfg.Database.URL, a.Logger); err != nil {
			return err
		}
	}
	a.Store = store.New(pool, a.Logger)

	a.Engine = core.NewEngine(core.EngineDeps{
		Directory: a.Store,
		Finder:    a.Store,
		Runner:    a.Store,
		Validator: core.NewValidator(core.WithAgeRange(cfg.Import.MinAge, cfg.Import.MaxAge)),
		Logger:    a.Logger,
	})
	a.Backend = a.Engine
	return nil
}

func (a *App) setupRedis(ctx context.Context) error {
	cfg := a.Config.Redis
	if cfg.URL == "" {
		return nil
	}

	client, err := lock.NewRedis(ctx, cfg.URL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })

	a.Redis = client
	a.Locker = lock.NewRedisLocker(client, cfg.KeyPrefix, cfg.LockTTL, a.Logger)
	a.Logger.Info("execution lock enabled", "prefix", cfg.KeyPrefix, "ttl", cfg.LockTTL.String())
	return nil
}

// NewService creates the session registry on top of the backend.
func (a *App) NewService() *core.Service {
	opts := []core.ServiceOption{
		core.WithLimiter(a.Limiter),
		core.WithLogger(a.Logger),
	}
	if c := a.Config.Cache; c.Enabled {
		opts = append(opts, core.WithLookupCache(c.Size, c.TTL))
	}
	if a.Locker != nil {
		opts = append(opts, core.WithLocker(a.Locker))
	}
	if a.Store != nil {
		opts = append(opts, core.WithRecorder(a.Store))
	}

	return core.NewService(a.Backend, ServiceConfig(a.Config.Import), opts...)
}

// ServiceConfig maps the import settings onto core.ServiceConfig.
func ServiceConfig(cfg config.ImportConfig) core.ServiceConfig {
	return core.ServiceConfig{
		SessionTTL:      cfg.SessionTTL,
		ValidateTimeout: cfg.ValidateTimeout,
		ExecuteTimeout:  cfg.ExecuteTimeout,
		MaxSessions:     cfg.MaxSessions,
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
