package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrKeyNotFound is returned by backends when a key has no value.
var ErrKeyNotFound = errors.New("store: key not found")

// Backend is the raw keyed storage underneath the Store. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Get retrieves the value for key, or ErrKeyNotFound.
	Get(key string) (string, error)

	// Set writes the value for key, creating it if needed.
	Set(key, value string) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
}

// BackendType selects a storage backend implementation.
type BackendType string

const (
	BackendTypeFile     BackendType = "file"
	BackendTypeMemory   BackendType = "memory"
	BackendTypePostgres BackendType = "postgres"
)

// BackendConfig holds configuration for a specific backend.
type BackendConfig struct {
	Type BackendType

	// File backend
	FilePath      string
	EncryptionKey string // base64-encoded 32-byte key; empty disables encryption

	// Postgres backend
	PostgresURL string
}

// NewBackend creates a storage backend from configuration.
func NewBackend(ctx context.Context, config BackendConfig) (Backend, error) {
	switch config.Type {
	case BackendTypeMemory:
		return NewMemoryBackend(), nil

	case BackendTypeFile, "":
		path := config.FilePath
		if path == "" {
			path = DefaultStoreFile
		}
		var key []byte
		if config.EncryptionKey != "" {
			decoded, err := base64.StdEncoding.DecodeString(config.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("invalid store encryption key: %w", err)
			}
			key = decoded
		}
		return NewFileBackend(path, key)

	case BackendTypePostgres:
		if config.PostgresURL == "" {
			return nil, fmt.Errorf("postgres_url is required for the postgres backend")
		}
		pool, err := pgxpool.New(ctx, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		backend := NewPostgresBackend(pool)
		if err := backend.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", config.Type)
	}
}
