package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a response cache layer.
type Store interface {
	// Get returns ErrCacheMiss if the key is absent or expired.
	Get(ctx context.Context, key Key) (*Entry, error)
	Set(ctx context.Context, key Key, entry *Entry) error
	Delete(ctx context.Context, key Key) error
	// Clear removes every entry in namespace.
	Clear(ctx context.Context, namespace string) error
	// Layer names the store in metrics and logs.
	Layer() string
}
