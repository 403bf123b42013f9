package ports

import (
	"context"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
)

// Cache is the UI's reactive cache, consumed as a mutable key-value store.
type Cache interface {
	// Get returns the entity stored under key.
	Get(key domain.Key) (domain.Payload, bool)

	// Set replaces the entry under key.
	Set(key domain.Key, value domain.Payload)

	// Update replaces the entry under key with fn(current). current is nil when
	// the key is absent.
	Update(key domain.Key, fn func(current domain.Payload) domain.Payload)

	// Invalidate marks every entry under the key prefix stale so readers refetch.
	Invalidate(key domain.Key)

	// Remove deletes the entry under key.
	Remove(key domain.Key)
}

// CacheSync is implemented by caches that pause writes while offline.
type CacheSync interface {
	// ResumePausedMutations replays mutations paused while offline.
	ResumePausedMutations(ctx context.Context) error

	// RefetchStale refetches reads invalidated while offline.
	RefetchStale(ctx context.Context) error
}

// CacheFailure describes one failed cache query or mutation.
type CacheFailure struct {
	ID        string
	Key       domain.Key
	Action    string
	Err       error
	FailedAt  time.Time
	FailCount int
	Variables domain.Payload
}

// CacheFailures exposes the cache's failed queries and mutations.
type CacheFailures interface {
	FailedMutations() []CacheFailure
	FailedQueries() []CacheFailure

	// RetryMutation re-runs the mutation with the given id.
	RetryMutation(ctx context.Context, id string) error

	// RefetchQuery re-runs the query with the given id.
	RefetchQuery(ctx context.Context, id string) error
}
