package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fieldsync/internal/domain"
)

func TestMemory_GetSetUpdateRemove(t *testing.T) {
	c := NewMemory()
	key := domain.EntityKey("job", "1")

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, domain.Payload{"id": "1", "status": "open"})
	c.Update(key, func(cur domain.Payload) domain.Payload {
		cur["status"] = "done"
		return cur
	})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "done", got["status"])

	// Returned payloads are copies.
	got["status"] = "mutated"
	again, _ := c.Get(key)
	assert.Equal(t, "done", again["status"])

	c.Remove(key)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestMemory_InvalidateAndRefetch(t *testing.T) {
	fetched := 0
	c := NewMemory(WithFetcher(func(ctx context.Context, key domain.Key) (domain.Payload, error) {
		fetched++
		return domain.Payload{"id": key[len(key)-1], "fresh": true}, nil
	}))
	c.Set(domain.EntityKey("job", "1"), domain.Payload{"id": "1"})
	c.Set(domain.EntityKey("route", "9"), domain.Payload{"id": "9"})

	c.Invalidate(domain.ListKey("job"))
	assert.True(t, c.IsStale(domain.EntityKey("job", "1")))
	assert.False(t, c.IsStale(domain.EntityKey("route", "9")))
	assert.Equal(t, []domain.Key{{"job"}}, c.Invalidations())

	require.NoError(t, c.RefetchStale(context.Background()))
	assert.Equal(t, 1, fetched)
	got, _ := c.Get(domain.EntityKey("job", "1"))
	assert.Equal(t, true, got["fresh"])
	assert.False(t, c.IsStale(domain.EntityKey("job", "1")))
}

func TestMemory_FailedQueryRefetch(t *testing.T) {
	fail := true
	c := NewMemory(WithFetcher(func(ctx context.Context, key domain.Key) (domain.Payload, error) {
		if fail {
			return nil, errors.New("network request failed")
		}
		return domain.Payload{"id": "1"}, nil
	}))
	c.Set(domain.EntityKey("job", "1"), domain.Payload{"id": "1"})
	c.Invalidate(domain.EntityKey("job", "1"))

	assert.Error(t, c.RefetchStale(context.Background()))
	failed := c.FailedQueries()
	require.Len(t, failed, 1)
	assert.Equal(t, "job/1", failed[0].ID)
	assert.Equal(t, 1, failed[0].FailCount)

	fail = false
	require.NoError(t, c.RefetchQuery(context.Background(), "job/1"))
	assert.Empty(t, c.FailedQueries())
	assert.ErrorIs(t, c.RefetchQuery(context.Background(), "job/1"), domain.ErrNotFound)
}

func TestMemory_PausedMutations(t *testing.T) {
	c := NewMemory()
	attempts := 0
	c.PauseMutation("m1", domain.EntityKey("job", "1"), "update", domain.Payload{"id": "1"}, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("server error")
		}
		return nil
	})
	assert.Equal(t, 1, c.PausedMutations())

	assert.Error(t, c.ResumePausedMutations(context.Background()))
	assert.Equal(t, 0, c.PausedMutations())
	failed := c.FailedMutations()
	require.Len(t, failed, 1)
	assert.Equal(t, "update", failed[0].Action)

	require.NoError(t, c.RetryMutation(context.Background(), "m1"))
	assert.Empty(t, c.FailedMutations())
	assert.ErrorIs(t, c.RetryMutation(context.Background(), "m1"), domain.ErrNotFound)
}
