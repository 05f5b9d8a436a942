// Package db opens the Postgres pool behind the publication ledger and keeps
// its schema current with goose.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"casegen/pkg/db/migrations"
)

const (
	// DefaultTimeout bounds every query issued through this package.
	DefaultTimeout = 5 * time.Second

	defaultMaxConns = 8
	applicationName = "casegen"
)

// goose keeps its base filesystem and dialect in package globals.
var gooseMu sync.Mutex

// ParseDSN validates dsn and returns the pool configuration Open uses.
// Settings given in the DSN win over the defaults applied here.
func ParseDSN(dsn string) (*pgxpool.Config, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	return cfg, nil
}

// Open connects a pool for dsn and checks that the server answers.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Pending lists the embedded migrations newer than version current, oldest first.
func Pending(current int64) (goose.Migrations, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	return pendingLocked(current)
}

func pendingLocked(current int64) (goose.Migrations, error) {
	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)
	pending, err := goose.CollectMigrations(".", current, goose.MaxVersion)
	if errors.Is(err, goose.ErrNoMigrationFiles) {
		return nil, nil
	}
	return pending, err
}

// Migrate applies every pending ledger migration through pool and reports
// how many were applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	if pool == nil {
		return 0, errors.New("nil pool provided")
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("postgres"); err != nil {
		return 0, err
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	current, err := goose.GetDBVersionContext(ctx, sqlDB)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	pending, err := pendingLocked(current)
	if err != nil {
		return 0, fmt.Errorf("collect migrations: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	return len(pending), nil
}

// Exec executes a statement with the default timeout applied.
func Exec(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) (pgconn.CommandTag, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return pool.Exec(ctx, query, args...)
}

// Get scans a single row into dest.
func Get(ctx context.Context, pool *pgxpool.Pool, dest any, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return pgxscan.Get(ctx, pool, dest, query, args...)
}

// Select scans every row into dest, a pointer to a slice.
func Select(ctx context.Context, pool *pgxpool.Pool, dest any, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return pgxscan.Select(ctx, pool, dest, query, args...)
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return pool.Ping(ctx)
}
