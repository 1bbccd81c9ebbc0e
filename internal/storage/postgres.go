// Package storage provides database connection and repository implementations.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pnl-tracker/internal/config"
	"github.com/pnl-tracker/internal/models"
)

// PostgresDB wraps the pgxpool connection
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a new Postgres database connection
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - small operator-supplied value
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database is reachable
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Repository is every read and write the services perform
type Repository interface {
	UpsertSnapshot(ctx context.Context, s *models.BalanceSnapshot) error
	SnapshotPoint(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error)
	NearestPriorSnapshot(ctx context.Context, exchange, accountID string, date time.Time) (*models.SnapshotPoint, error)
	LatestSnapshot(ctx context.Context, exchange, accountID string) (*models.BalanceSnapshot, error)
	SnapshotHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.BalanceSnapshot, error)
	ListAccounts(ctx context.Context, exchange string) ([]models.AccountSummary, error)

	UpsertDailyReturn(ctx context.Context, dr *models.DailyReturn) error
	LatestReturn(ctx context.Context, exchange, accountID string) (*models.DailyReturn, error)
	ReturnHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.DailyReturn, error)

	LatestTradeTimestamp(ctx context.Context, exchange, accountID string) (*time.Time, error)
	TradedAssets(ctx context.Context, exchange, accountID string) ([]string, error)
	InsertTradesIfAbsent(ctx context.Context, trades []*models.Trade) (int, error)
	TradeHistory(ctx context.Context, exchange, accountID string, limit, offset int) ([]*models.Trade, error)
}

var _ Repository = (*Store)(nil)

// Store groups the repositories over one pool
type Store struct {
	*SnapshotRepository
	*ReturnRepository
	*TradeRepository
}

// NewStore creates the repositories sharing pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		SnapshotRepository: NewSnapshotRepository(pool),
		ReturnRepository:   NewReturnRepository(pool),
		TradeRepository:    NewTradeRepository(pool),
	}
}
