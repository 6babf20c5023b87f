package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type DatabaseConnection struct {
	*pgxpool.Pool
}

const DBRetryCount = 15

// NewDatabaseConnection wraps pool once it answers a ping.
func NewDatabaseConnection(ctx context.Context, pool *pgxpool.Pool) (*DatabaseConnection, error) {
	for i := range DBRetryCount {
		err := pool.Ping(ctx)
		if err == nil {
			return &DatabaseConnection{pool}, nil
		}

		// Golden ratio backoff
		fib := 1.61803398875
		sleep := time.Duration((float64(i) * fib)) * time.Second
		slog.Warn("could not ping the database", "error", err, "retry_in", sleep)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return nil, fmt.Errorf("could not connect to database after %d retries", DBRetryCount)
}

// Close closes the database connection
func (db *DatabaseConnection) Close() {
	db.Pool.Close()
}

func (db *DatabaseConnection) Queries(ctx context.Context) *Queries {
	return New(db)
}

//go:embed sql/migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "sql/migrations"

// MigrationStatus is where the schema stands relative to the embedded
// migrations.
type MigrationStatus struct {
	Current int64
	Latest  int64
	Pending []int64
}

func (db *DatabaseConnection) withGoose(fn func(*sql.DB) error) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	stdDb := stdlib.OpenDBFromPool(db.Pool)
	defer stdDb.Close()
	return fn(stdDb)
}

// Migrate applies every pending migration.
func (db *DatabaseConnection) Migrate(ctx context.Context) error {
	return db.MigrateTo(ctx, goose.MaxVersion)
}

// MigrateTo applies pending migrations up to and including version.
func (db *DatabaseConnection) MigrateTo(ctx context.Context, version int64) error {
	return db.withGoose(func(stdDb *sql.DB) error {
		if err := goose.UpToContext(ctx, stdDb, migrationsDir, version); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// RollbackTo undoes migrations newer than version.
func (db *DatabaseConnection) RollbackTo(ctx context.Context, version int64) error {
	return db.withGoose(func(stdDb *sql.DB) error {
		if err := goose.DownToContext(ctx, stdDb, migrationsDir, version); err != nil {
			return fmt.Errorf("migrate down to %d: %w", version, err)
		}
		return nil
	})
}

func (db *DatabaseConnection) MigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	var st MigrationStatus
	err := db.withGoose(func(stdDb *sql.DB) error {
		current, err := goose.GetDBVersionContext(ctx, stdDb)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
		if err != nil {
			return fmt.Errorf("collect migrations: %w", err)
		}
		st.Current = current
		for _, m := range migrations {
			st.Latest = max(st.Latest, m.Version)
			if m.Version > current {
				st.Pending = append(st.Pending, m.Version)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}
