package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
)

const defaultConnectRetryInterval = 5 * time.Second

// OpenPostgres connects to PostgreSQL through bun.
//
// While the server refuses connections (typically during container start-up)
// the ping is retried every cfg.ConnectRetryInterval seconds until ctx is
// done. Any other error is returned immediately.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (*bun.DB, error) {
	opts := []pgdriver.Option{
		pgdriver.WithAddr(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithApplicationName("pushrelay"),
	}
	if !cfg.SSL {
		opts = append(opts, pgdriver.WithInsecure(true))
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))
	db := bun.NewDB(sqldb, pgdialect.New())

	interval := time.Duration(cfg.ConnectRetryInterval) * time.Second
	if interval <= 0 {
		interval = defaultConnectRetryInterval
	}

	if err := pingUntilReachable(ctx, db, interval, logger); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return db, nil
}

// pinger is satisfied by *bun.DB and *sql.DB.
type pinger interface {
	PingContext(ctx context.Context) error
}

func pingUntilReachable(ctx context.Context, db pinger, interval time.Duration, logger *slog.Logger) error {
	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		if !isConnectionRefused(err) {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		if logger != nil {
			logger.Warn("postgres not accepting connections yet, retrying", "retry_in", interval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("connecting to postgres: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
