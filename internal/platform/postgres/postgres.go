// Package postgres opens the database handles used by the stores and applies
// the embedded schema.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds connection settings.
type Config struct {
	URL             string
	MaxConns        int32
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Handles bundles both drivers over the same database. Documents and events
// run on pgx; registry and app links run on database/sql.
type Handles struct {
	Pool *pgxpool.Pool
	DB   *sql.DB
}

// Open connects both drivers and pings them.
func Open(ctx context.Context, cfg Config) (*Handles, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pool: %w", err)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Handles{Pool: pool, DB: db}, nil
}

func (h *Handles) Close() error {
	h.Pool.Close()
	return h.DB.Close()
}

// Health pings the pgx pool.
func (h *Handles) Health(ctx context.Context) error {
	return h.Pool.Ping(ctx)
}

// Migrate executes the embedded schema files in name order. Every statement
// is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, name := range files {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}
