package ports

import "context"

// DurableStore is a string key-value store that survives process restarts.
// Writes are read-modify-write by the owning component; implementations need
// not support concurrent writers to the same key.
type DurableStore interface {
	// GetItem returns the value under key and whether it exists.
	GetItem(ctx context.Context, key string) (string, bool, error)

	// SetItem stores value under key.
	SetItem(ctx context.Context, key, value string) error
}
