// Package pgstore implements store.Store on PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-coord/pkg/store"
)

// PoolConfig configures one named connection pool
type PoolConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxConns        int32         `yaml:"max_conns" validate:"gte=0"`
	MinConns        int32         `yaml:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	// TablePrefix lets several independent clusters share one database
	TablePrefix string `yaml:"table_prefix" validate:"omitempty,alphanum"`
}

// DefaultPoolConfig returns the pool tuning used when a field is left zero
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
	}
}

// PGStore handles the node roster and property log in PostgreSQL
type PGStore struct {
	pool *pgxpool.Pool
	q    queries
}

// New connects to PostgreSQL, verifies connectivity and creates the tables
// if they don't exist
func New(ctx context.Context, cfg PoolConfig) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	defaults := DefaultPoolConfig()
	config.MaxConns = orDefault(cfg.MaxConns, defaults.MaxConns)
	config.MinConns = orDefault(cfg.MinConns, defaults.MinConns)
	config.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, defaults.MaxConnLifetime)
	config.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, defaults.MaxConnIdleTime)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool, q: newQueries(cfg.TablePrefix)}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// InTx runs fn in one transaction. Serialization between nodes comes from
// the sequence row lock each cluster operation takes first.
func (s *PGStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	ptx := &pgTx{tx: tx, q: &s.q}
	if err := fn(ptx); err != nil {
		ptx.done = true
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	ptx.done = true

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
