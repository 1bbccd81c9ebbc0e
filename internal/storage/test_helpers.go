package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testPool connects to TEST_DATABASE_URL, migrates it and truncates the
// tables. Tests are skipped when the variable is unset or in short mode.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test - TEST_DATABASE_URL not set")
	}

	require.NoError(t, RunMigrations(url, "../../"+DefaultMigrationsPath))

	pool, err := pgxpool.New(testContext(t), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(testContext(t), `TRUNCATE balance_snapshots, daily_returns, trades`)
	require.NoError(t, err)
	return pool
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}
