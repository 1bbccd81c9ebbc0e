// Package app wires configuration, storage and services into the graph
// shared by the server, the snapshot worker and the CLI.
package app

import (
	"context"
	"fmt"

	"github.com/pnl-tracker/internal/config"
	"github.com/pnl-tracker/internal/logging"
	"github.com/pnl-tracker/internal/returns"
	"github.com/pnl-tracker/internal/service"
	"github.com/pnl-tracker/internal/storage"
)

// App holds the long-lived dependencies of one process
type App struct {
	Config *config.Config
	Logger *logging.Logger

	DB    *storage.PostgresDB
	Redis *storage.RedisCache // nil when Redis is not configured
	Store storage.Repository  // cached when Redis is configured

	Clients *service.ClientPool
	Pull    *service.PullService
	Query   *service.QueryService
}

// New connects to Postgres (and Redis when configured) and builds the
// services. The caller must Close the returned App.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Store:  storage.NewStore(db.Pool()),
	}

	var locker service.Locker = storage.NewPostgresLocker(db.Pool(), logger)
	if cfg.Database.Redis.Enabled() {
		cache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Redis = cache
		a.Store = storage.NewCachedStore(a.Store, storage.NewCacheService(cache, cfg.Database.Redis.CacheTTL), logger)
		locker = storage.NewRedisLocker(cache, cfg.Database.Redis.LockTTL, logger)
		logger.Info("Using Redis for account locks and latest-value caching")
	}

	a.Clients = service.NewClientPool(cfg.Exchange)
	a.Pull = service.NewPullService(
		a.Clients,
		a.Store,
		returns.NewCalculator(a.Store, logger),
		service.NewTradeSync(a.Store, cfg.Sync.InitialTradeLimit, cfg.Sync.IncrementalTradeLimit, logger),
		locker,
		cfg.Schedule.Location,
		logger,
	)
	a.Query = service.NewQueryService(a.Store, cfg.Accounts)

	return a, nil
}

// Scheduler builds the daily worker over the configured accounts
func (a *App) Scheduler() *service.Scheduler {
	return service.NewScheduler(a.Pull, a.Config.Accounts, a.Config.Schedule, a.Logger)
}

// Ping checks every backing store
func (a *App) Ping(ctx context.Context) error {
	if err := a.DB.Ping(ctx); err != nil {
		return err
	}
	if a.Redis != nil {
		return a.Redis.Ping(ctx)
	}
	return nil
}

// Close releases connections
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Redis")
		}
	}
	a.DB.Close()
}
