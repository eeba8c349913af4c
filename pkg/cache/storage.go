package cache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is one named cache.
type Store interface {
	// Name returns the cache name.
	Name() string

	// Match returns the entry stored under key, or ErrCacheMiss.
	Match(ctx context.Context, key string) (*Entry, error)

	// Put stores entry under key, overwriting any previous entry.
	Put(ctx context.Context, key string, entry *Entry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Size sums the body sizes of every entry.
	Size(ctx context.Context) (int64, error)
}

// Storage is the set of named caches.
type Storage interface {
	// Open returns the named cache, creating it if needed.
	Open(ctx context.Context, name string) (Store, error)

	// Has reports whether the named cache exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named cache and all its entries.
	// It reports whether a cache was removed.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists every cache name, sorted.
	Names(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// TotalSize sums the entry sizes of every named cache in storage.
// Cost is proportional to the total number of entries.
func TotalSize(ctx context.Context, storage Storage) (int64, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return 0, fmt.Errorf("list caches: %w", err)
	}

	var total int64
	for _, name := range names {
		store, err := storage.Open(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("open cache %q: %w", name, err)
		}
		size, err := store.Size(ctx)
		if err != nil {
			return 0, fmt.Errorf("size of cache %q: %w", name, err)
		}
		total += size
	}
	return total, nil
}

// DeleteAll removes every named cache and returns how many were deleted.
func DeleteAll(ctx context.Context, storage Storage) (int, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return 0, fmt.Errorf("list caches: %w", err)
	}

	deleted := 0
	for _, name := range names {
		ok, err := storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete cache %q: %w", name, err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
