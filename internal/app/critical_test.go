package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fieldsync/internal/domain"
)

func decrement(qty int) CriticalChange {
	return CriticalChange{
		Kind:              domain.CriticalDecrement,
		EntityType:        domain.EntityInventory,
		EntityID:          "inv-1",
		OptimisticPayload: domain.Payload{"id": "inv-1", "qty": qty},
		RemotePayload:     domain.Payload{"id": "inv-1", "qty": qty},
		OriginalValue:     qty + 1,
	}
}

func (h *harness) durableRecords() []domain.CriticalRecord {
	h.t.Helper()
	raw, ok, err := h.store.GetItem(context.Background(), CriticalStorageKey)
	require.NoError(h.t, err)
	if !ok {
		return nil
	}
	records, err := DecodeCriticalRecords(raw)
	require.NoError(h.t, err)
	return records
}

func (h *harness) inventory() domain.Payload {
	v, _ := h.cache.Get(domain.EntityKey(domain.EntityInventory, "inv-1"))
	return v
}

func TestCritical_OfflineDecrementSurvivesUntilReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cache.Set(domain.EntityKey(domain.EntityInventory, "inv-1"), domain.Payload{"id": "inv-1", "qty": 5, "name": "Filter"})
	h.tracker.EnableManualOffline()

	id, err := h.critical.ApplyCriticalChange(ctx, decrement(4))
	require.NoError(t, err)
	assert.Equal(t, "crit-1", id)

	cached := h.inventory()
	assert.Equal(t, 4, cached["qty"])
	assert.Equal(t, "Filter", cached["name"])
	assert.Equal(t, true, cached[domain.OptimisticTag])
	assert.Equal(t, id, cached[domain.OperationIDTag])

	records := h.durableRecords()
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.True(t, h.queue.IsPending(id))
	assert.Empty(t, h.remote.Calls())

	h.tracker.DisableManualOffline()
	h.clock.Flush()

	require.Len(t, h.remote.Calls(), 1)
	assert.Equal(t, "inv-1", h.remote.Calls()[0].ID)

	raw, ok, err := h.store.GetItem(ctx, CriticalStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", raw)

	cached = h.inventory()
	assert.False(t, domain.IsOptimistic(cached))
	assert.NotContains(t, cached, domain.OperationIDTag)
	assert.Equal(t, 4, cached["qty"])
	assert.Empty(t, h.critical.Pending())
}

func TestCritical_PersistedFormat(t *testing.T) {
	h := newHarness(t)
	h.tracker.EnableManualOffline()

	_, err := h.critical.ApplyCriticalChange(context.Background(), decrement(4))
	require.NoError(t, err)

	raw, ok, err := h.store.GetItem(context.Background(), CriticalStorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	g := goldie.New(t)
	g.Assert(t, "critical_records", []byte(raw))

	records, err := DecodeCriticalRecords(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	op := records[0].Operation()
	assert.Equal(t, "crit-1", op.ID)
	assert.Equal(t, domain.KindUpdate, op.Kind)
	assert.Equal(t, domain.PriorityCritical, op.Priority)
	assert.True(t, op.EnqueuedAt.Equal(epoch))
	assert.Equal(t, domain.CriticalDecrement, op.Metadata.OperationKind)
	assert.Equal(t, float64(5), op.Metadata.OriginalValue)
}

func TestCritical_EncodeEmpty(t *testing.T) {
	raw, err := EncodeCriticalRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)

	records, err := DecodeCriticalRecords("")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = DecodeCriticalRecords("{not json")
	assert.Error(t, err)
}

func TestCritical_OnlineWritesImmediately(t *testing.T) {
	h := newHarness(t)

	id, err := h.critical.ApplyCriticalChange(context.Background(), decrement(2))
	require.NoError(t, err)

	require.Len(t, h.remote.Calls(), 1)
	assert.False(t, h.queue.IsPending(id))
	assert.Empty(t, h.durableRecords())
	assert.False(t, domain.IsOptimistic(h.inventory()))
	assert.Equal(t, true, h.inventory()["synced"])
	assert.Contains(t, h.cache.Invalidations(), domain.ListKey(domain.EntityInventory))
	assert.NotNil(t, h.tracker.Status().LastSyncAt)
}

func TestCritical_ImmediateWriteFollowsStrategy(t *testing.T) {
	h := newHarness(t)

	_, err := h.critical.ApplyCriticalChange(context.Background(), decrement(3))
	require.NoError(t, err)

	poor := domain.StrategyFor(domain.TierPoor)
	h.queue.OnQualityChange(domain.ConnectionQualitySnapshot{Tier: domain.TierPoor}, poor)
	_, err = h.critical.ApplyCriticalChange(context.Background(), decrement(2))
	require.NoError(t, err)

	calls := h.remote.Calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Compressed)
	assert.True(t, calls[1].Compressed)

	good := domain.StrategyFor(domain.TierGood)
	require.False(t, calls[0].Deadline.IsZero())
	require.False(t, calls[1].Deadline.IsZero())
	assert.LessOrEqual(t, time.Until(calls[0].Deadline), good.Timeout)
	assert.Greater(t, time.Until(calls[1].Deadline), good.Timeout)
	assert.LessOrEqual(t, time.Until(calls[1].Deadline), poor.Timeout)
}

func TestCritical_ImmediateFailureQueuesSameID(t *testing.T) {
	h := newHarness(t)
	h.remote.FailNext(domain.EntityInventory, &domain.RemoteError{Status: 503, Message: "unavailable"})

	id, err := h.critical.ApplyCriticalChange(context.Background(), decrement(2))
	require.NoError(t, err)

	assert.True(t, h.queue.IsPending(id))
	assert.True(t, domain.IsOptimistic(h.inventory()))
	require.Len(t, h.durableRecords(), 1)

	h.settle(2 * time.Second)

	assert.Len(t, h.remote.Calls(), 2)
	assert.False(t, h.queue.IsPending(id))
	assert.Empty(t, h.durableRecords())
	assert.False(t, domain.IsOptimistic(h.inventory()))
}

func TestCritical_RestoredAfterRestart(t *testing.T) {
	h := newHarness(t)
	h.tracker.EnableManualOffline()
	id, err := h.critical.ApplyCriticalChange(context.Background(), decrement(4))
	require.NoError(t, err)

	// New process, same durable store and cache. The link is up.
	h.build()
	require.NoError(t, h.critical.Start(context.Background()))

	assert.True(t, h.queue.IsPending(id))
	require.Len(t, h.critical.Pending(), 1)
	assert.Equal(t, domain.CriticalDecrement, h.critical.Pending()[0].Metadata.OperationKind)
	assert.Equal(t, id, h.inventory()[domain.OperationIDTag])
	assert.True(t, h.logs.Has("info", "restored critical operations"))

	h.settle(2 * time.Second)

	assert.Equal(t, []string{"inv-1"}, h.remote.CallIDs())
	assert.Empty(t, h.durableRecords())
	assert.False(t, domain.IsOptimistic(h.inventory()))
}

func TestCritical_StartDoesNotDuplicatePending(t *testing.T) {
	h := newHarness(t)
	h.tracker.EnableManualOffline()
	id, err := h.critical.ApplyCriticalChange(context.Background(), decrement(4))
	require.NoError(t, err)

	require.NoError(t, h.critical.Start(context.Background()))
	assert.Equal(t, 1, h.queue.PendingCounts().Total)
	assert.True(t, h.queue.IsPending(id))
}

func TestCritical_StorageFailureDegradesToMemory(t *testing.T) {
	h := newHarness(t)
	h.store.SetFailWrites(true)
	h.tracker.EnableManualOffline()

	id, err := h.critical.ApplyCriticalChange(context.Background(), decrement(4))
	require.NoError(t, err)

	assert.True(t, h.critical.StorageDegraded())
	assert.True(t, h.logs.Has("warn", "durable storage unavailable, keeping critical operations in memory"))
	require.Len(t, h.critical.Records(), 1)
	assert.Equal(t, id, h.critical.Records()[0].ID)
	assert.True(t, h.queue.IsPending(id))

	h.store.SetFailWrites(false)
	h.tracker.DisableManualOffline()
	h.clock.Flush()

	assert.False(t, h.critical.StorageDegraded())
	assert.Empty(t, h.critical.Records())
}

func TestCritical_ExhaustionKeepsDurableRecord(t *testing.T) {
	h := newHarness(t)
	h.tracker.EnableManualOffline()
	id, err := h.critical.ApplyCriticalChange(context.Background(), decrement(4))
	require.NoError(t, err)

	h.remote.FailAlways(domain.EntityInventory, &domain.RemoteError{Status: 500, Message: "boom"})
	h.tracker.DisableManualOffline()
	h.settle(30 * time.Second)

	require.Len(t, h.remote.Calls(), DefaultCriticalRetry)
	assert.False(t, h.queue.IsPending(id))
	require.Len(t, h.queue.DeadLetters(), 1)
	assert.True(t, h.logs.Has("warn", "critical operation exhausted, keeping durable record"))
	assert.Len(t, h.durableRecords(), 1)
	assert.True(t, domain.IsOptimistic(h.inventory()))

	// The next reconnect queues it again.
	h.remote.FailAlways(domain.EntityInventory, nil)
	h.tracker.EnableManualOffline()
	h.tracker.DisableManualOffline()
	assert.True(t, h.queue.IsPending(id))
	h.settle(2 * time.Second)

	assert.Empty(t, h.durableRecords())
	assert.Empty(t, h.queue.DeadLetters())
	assert.False(t, domain.IsOptimistic(h.inventory()))
}

func TestCritical_ConfirmLeavesNewerTag(t *testing.T) {
	h := newHarness(t)
	h.tracker.EnableManualOffline()
	first, err := h.critical.ApplyCriticalChange(context.Background(), decrement(4))
	require.NoError(t, err)
	second, err := h.critical.ApplyCriticalChange(context.Background(), decrement(3))
	require.NoError(t, err)

	op := h.critical.Pending()[0]
	require.Equal(t, first, op.ID)
	h.critical.OnOperationSucceeded(op.Operation, domain.Payload{"id": "inv-1", "qty": 4})

	cached := h.inventory()
	assert.Equal(t, second, cached[domain.OperationIDTag])
	assert.Equal(t, 3, cached["qty"])
	records := h.durableRecords()
	require.Len(t, records, 1)
	assert.Equal(t, second, records[0].ID)
}

func TestCritical_Delete(t *testing.T) {
	h := newHarness(t)
	h.cache.Set(domain.EntityKey(domain.EntityJob, "job-9"), domain.Payload{"id": "job-9"})

	_, err := h.critical.ApplyCriticalChange(context.Background(), CriticalChange{
		Kind:       domain.CriticalStatusChange,
		Operation:  domain.KindDelete,
		EntityType: domain.EntityJob,
		EntityID:   "job-9",
	})
	require.NoError(t, err)

	_, ok := h.cache.Get(domain.EntityKey(domain.EntityJob, "job-9"))
	assert.False(t, ok)
	require.Len(t, h.remote.Calls(), 1)
	assert.Equal(t, domain.KindDelete, h.remote.Calls()[0].Kind)
}

func TestCritical_InvalidChange(t *testing.T) {
	h := newHarness(t)

	_, err := h.critical.ApplyCriticalChange(context.Background(), CriticalChange{Kind: domain.CriticalSet, EntityType: domain.EntityJob})
	assert.True(t, errors.Is(err, domain.ErrInvalidOperation))

	_, err = h.critical.ApplyCriticalChange(context.Background(), CriticalChange{Kind: domain.CriticalSet, EntityID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.Empty(t, h.durableRecords())
}
