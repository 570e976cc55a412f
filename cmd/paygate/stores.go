package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/alecgard/paygate/internal/config"
	"github.com/alecgard/paygate/internal/metering"
	"github.com/alecgard/paygate/internal/metrics"
	"github.com/alecgard/paygate/internal/tenant"
	"github.com/alecgard/paygate/migrations"
)

type tenantStore interface {
	Get(ctx context.Context, id string) (*tenant.Config, error)
	Create(ctx context.Context, cfg *tenant.Config) error
}

type usageStore interface {
	metering.BatchInserter
	GetSummary(ctx context.Context, q metering.UsageQuery) (*metering.UsageSummary, error)
}

// stores bundles the tenant and usage stores of whichever database the
// config selects.
type stores struct {
	tenants tenantStore
	usage   usageStore
	stats   metrics.DBStatFunc
	close   func()
}

// openStores connects to the configured database. SQLite files are migrated
// on open; Postgres expects `paygate migrate` to have run.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		path := strings.TrimPrefix(cfg.Database.URL, "sqlite://")
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if err := migrations.UpSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("opened sqlite database", "path", path)
		return &stores{
			tenants: tenant.NewSQLiteStore(db),
			usage:   metering.NewSQLiteStore(db),
			stats: func() (int, int, int) {
				s := db.Stats()
				return s.OpenConnections, s.Idle, s.InUse
			},
			close: func() { db.Close() },
		}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("creating database pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		slog.Info("connected to database")
		return &stores{
			tenants: tenant.NewStore(pool),
			usage:   metering.NewStore(pool),
			stats: func() (int, int, int) {
				s := pool.Stat()
				return int(s.TotalConns()), int(s.IdleConns()), int(s.AcquiredConns())
			},
			close: pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// loadConfig loads and validates the config named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
