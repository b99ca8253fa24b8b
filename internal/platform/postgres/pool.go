// Package postgres opens the shared connection pool and applies the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"tenantguard/internal/platform/config"
)

const resetTimeout = time.Second

// resetTenantSQL clears any session-level tenant value. Transaction-local
// bindings are already gone by the time a connection is released.
const resetTenantSQL = "RESET app.current_tenant"

// NewPoolConfig parses the database URL and applies pool limits and the
// release hook that keeps tenant state from following a connection.
func NewPoolConfig(cfg config.Database) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 && cfg.MinConns <= pc.MaxConns {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pc.AfterRelease = ResetOnRelease
	return pc, nil
}

// Open creates the pool and verifies connectivity.
func Open(ctx context.Context, cfg config.Database) (*pgxpool.Pool, error) {
	pc, err := NewPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// ResetOnRelease is the pool's AfterRelease hook. A connection still inside
// a transaction, or one the reset fails on, is destroyed rather than reused.
func ResetOnRelease(conn *pgx.Conn) bool {
	if conn.PgConn().TxStatus() != 'I' {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	_, err := conn.Exec(ctx, resetTenantSQL)
	return err == nil
}

// OpenSQL opens a database/sql handle over the pgx driver, used by goose.
func OpenSQL(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
