package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/pnl-tracker/internal/errors"
	"github.com/pnl-tracker/internal/logging"
)

// Locker serializes work on a key across processes. The returned func
// releases the lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// PostgresLocker uses session-level advisory locks. The lock lives on a
// dedicated pooled connection until released.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresLocker creates an advisory-lock based locker
func NewPostgresLocker(pool *pgxpool.Pool, logger *logging.Logger) *PostgresLocker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PostgresLocker{pool: pool, logger: logger}
}

// Lock blocks until the advisory lock for key is held or ctx is done
func (l *PostgresLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("acquire lock connection", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		if ctx.Err() != nil {
			return nil, apperrors.NewLockBusyError(key)
		}
		return nil, apperrors.NewDatabaseError("advisory lock", err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			l.logger.WithError(err).WithField("lock", key).Warn("Failed to release advisory lock")
			// the session may still hold the lock; drop the connection
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}
