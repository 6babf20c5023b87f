// Command pg-migrator applies or inspects the embedded schema migrations.
//
//	pg-migrator [up [version] | status | down-to <version>]
//
// With no arguments it behaves like "up".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"thirdcoast.systems/carrot/internal/application"
	"thirdcoast.systems/carrot/internal/config"
	"thirdcoast.systems/carrot/internal/db"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for connecting and migrating")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, flag.Args()); err != nil {
		slog.Error("migrator failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}

	conf, err := config.LoadDatabaseConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	conn, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	return cmd.exec(ctx, conn)
}

type command struct {
	name    string
	version int64
}

var errUsage = errors.New("usage: pg-migrator [up [version] | status | down-to <version>]")

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "up", version: -1}, nil
	}
	cmd := command{name: args[0], version: -1}
	switch {
	case cmd.name == "status" && len(args) == 1:
		return cmd, nil
	case cmd.name == "up" && len(args) <= 2, cmd.name == "down-to" && len(args) == 2:
		if len(args) == 1 {
			return cmd, nil
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || v < 0 {
			return command{}, fmt.Errorf("invalid version %q: %w", args[1], errUsage)
		}
		cmd.version = v
		return cmd, nil
	default:
		return command{}, errUsage
	}
}

func (c command) exec(ctx context.Context, conn *db.DatabaseConnection) error {
	switch c.name {
	case "status":
		st, err := conn.MigrationStatus(ctx)
		if err != nil {
			return err
		}
		slog.Info("schema status", "current", st.Current, "latest", st.Latest, "pending", st.Pending)
		return nil
	case "down-to":
		if err := conn.RollbackTo(ctx, c.version); err != nil {
			return err
		}
		slog.Info("schema rolled back", "version", c.version)
		return nil
	default:
		var err error
		if c.version < 0 {
			err = conn.Migrate(ctx)
		} else {
			err = conn.MigrateTo(ctx, c.version)
		}
		if err != nil {
			return err
		}
		slog.Info("schema migrated")
		return nil
	}
}
