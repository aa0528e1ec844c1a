package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgOpTimeout = 5 * time.Second

// PostgresBackend stores keys in a session_store table. It is used for
// server-side deployments where session state must not live on local
// disk (several dashboard instances behind a load balancer).
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend wraps an existing connection pool.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

// EnsureSchema creates the backing table if it does not exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS session_store (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`

	_, err := p.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create session_store table: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()

	var value string
	query := `SELECT value FROM session_store WHERE key = $1`

	err := p.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (p *PostgresBackend) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()

	query := `
		INSERT INTO session_store (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	_, err := p.pool.Exec(ctx, query, key, value)
	return err
}

func (p *PostgresBackend) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx, `DELETE FROM session_store WHERE key = $1`, key)
	return err
}

// Close releases the underlying pool.
func (p *PostgresBackend) Close() {
	p.pool.Close()
}
