package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
	"github.com/nerrad567/pushrelay/internal/infrastructure/database"
	"github.com/nerrad567/pushrelay/internal/infrastructure/logging"
	"github.com/nerrad567/pushrelay/internal/origin"
)

// store bundles the repositories of the configured database driver.
type store struct {
	devices     device.Repository
	origins     origin.Repository
	healthCheck func(ctx context.Context) error
	stats       func() sql.DBStats
	close       func() error
}

// openStore opens the configured database and brings its schema up to date.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*store, error) {
	switch cfg.Database.Driver {
	case config.DatabaseDriverPostgres:
		return openPostgresStore(ctx, cfg.Database.Postgres, log)
	default:
		return openSQLiteStore(ctx, cfg.Database, log)
	}
}

func openSQLiteStore(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*store, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "driver", "sqlite", "path", db.Path())

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	return &store{
		devices:     device.NewSQLiteRepository(db.DB),
		origins:     origin.NewSQLiteRepository(db.DB),
		healthCheck: db.HealthCheck,
		stats:       db.Stats,
		close:       db.Close,
	}, nil
}

func openPostgresStore(ctx context.Context, cfg config.PostgresConfig, log *logging.Logger) (*store, error) {
	db, err := database.OpenPostgres(ctx, cfg, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "driver", "postgres", "host", cfg.Host, "database", cfg.Database)

	devices := device.NewPostgresRepository(db)
	origins := origin.NewPostgresRepository(db)
	if err := devices.CreateSchema(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating device schema: %w", err)
	}
	if err := origins.CreateSchema(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("creating origin schema: %w", err)
	}

	return &store{
		devices:     devices,
		origins:     origins,
		healthCheck: db.PingContext,
		stats:       db.Stats,
		close:       db.Close,
	}, nil
}
