package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"thirdcoast.systems/carrot/internal/config"
)

var (
	dbOpenBackoffBase  = 1 * time.Second
	dbOpenBackoffScale = 1.618
)

func backoff(attempt int) time.Duration {
	return time.Duration(float64(dbOpenBackoffBase) * math.Pow(dbOpenBackoffScale, float64(attempt)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OpenDBPoolWithRetry initializes a new PostgreSQL connection pool with retry logic.
func OpenDBPoolWithRetry(ctx context.Context, conf config.Config) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	var lastErr error

	cfg, err := pgxpool.ParseConfig(conf.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	host := cfg.ConnConfig.Host

	slog.Info("Connecting to database", "host", host)
	for i := 0; i < conf.DatabaseRetries; i++ {
		if pool, err = pgxpool.NewWithConfig(ctx, cfg); err == nil {
			break
		}
		lastErr = err

		wait := backoff(i)
		slog.Warn("failed to open database pool, retrying", "host", host, "attempt", i+1, "backoff", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	if pool == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("failed to connect to database after multiple attempts: %w", lastErr)
		}
		return nil, fmt.Errorf("failed to connect to database after multiple attempts")
	}

	for i := 0; i < conf.DatabaseRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			slog.Info("Connected to database", "host", host)
			return pool, nil
		}
		lastErr = err

		wait := backoff(i)
		slog.Warn("failed to ping database, retrying", "host", host, "attempt", i+1, "backoff", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			pool.Close()
			return nil, err
		}
	}
	pool.Close()
	if lastErr != nil {
		return nil, fmt.Errorf("failed to ping database after multiple attempts: %w", lastErr)
	}
	return nil, fmt.Errorf("failed to ping database after multiple attempts")
}
