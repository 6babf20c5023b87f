// Package dbtest starts a throwaway Postgres for store tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"thirdcoast.systems/carrot/internal/db"
)

// New returns a migrated database running in a container. Tests calling it
// are skipped with -short.
func New(t *testing.T) *db.DatabaseConnection {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("carrot"),
		tcpostgres.WithUsername("carrot"),
		tcpostgres.WithPassword("carrot"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	require.NoError(t, err)
	require.NoError(t, dbc.Migrate(ctx))
	return dbc
}
