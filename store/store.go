package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Store is a durable key/value store for pipeline state.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	Delete(ctx context.Context, key string) error

	// List returns every stored key/value pair.
	List(ctx context.Context) (map[string][]byte, error)

	Close() error
}
