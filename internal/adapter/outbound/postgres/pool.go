// Package postgres provides the production policy.PolicyStore backed by
// PostgreSQL, against the relational schema sketched in spec §6:
// policy/identity/group rows joined through identity_policy,
// group_policy, and group_identity.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/001_initial.sql
var migrationSQL string

// NewPool opens a connection pool against dsn, applying the
// MINCONN/MAXCONN/CONNECTION_TIMEOUT settings spec §6 names as
// environment variables.
func NewPool(ctx context.Context, dsn string, minConns, maxConns int32, connectTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	cfg.MinConns = minConns
	cfg.MaxConns = maxConns
	if connectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = connectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent (CREATE TABLE
// IF NOT EXISTS) so it is safe to call on every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
