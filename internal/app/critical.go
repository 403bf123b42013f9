package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// CriticalChange describes an optimistic business transition.
type CriticalChange struct {
	// Kind is the business transition applied.
	Kind domain.CriticalKind

	// Operation is the remote write. Default: update
	Operation domain.OperationKind

	EntityType string
	EntityID   string

	// OptimisticPayload is merged into the cache entry immediately.
	OptimisticPayload domain.Payload

	// RemotePayload is sent to the backend.
	RemotePayload domain.Payload

	// OriginalValue is kept for audit and rollback.
	OriginalValue any
}

// CriticalQueue is the part of the OperationQueue the manager needs.
type CriticalQueue interface {
	EnqueueOperation(op domain.Operation) (string, error)
	IsPending(id string) bool
	Strategy() domain.AdaptiveStrategy
}

// CriticalManager applies critical changes optimistically and keeps them
// durable until the backend acknowledges them.
type CriticalManager struct {
	cache    ports.Cache
	store    *criticalStore
	queue    CriticalQueue
	online   OnlineChecker
	resolver ports.RemoteResolver
	sync     SyncObserver
	clock    ports.Clock
	logger   ports.Logger
	dispatch func(func())
	newID    func() string

	mu       sync.Mutex
	ops      map[string]domain.CriticalOperation
	inflight map[string]bool
}

// CriticalOption configures a CriticalManager.
type CriticalOption func(*CriticalManager)

// WithCriticalDispatch sets how immediate remote writes are run. The default
// starts a goroutine.
func WithCriticalDispatch(dispatch func(func())) CriticalOption {
	return func(m *CriticalManager) { m.dispatch = dispatch }
}

// WithCriticalIDs replaces the operation id generator.
func WithCriticalIDs(newID func() string) CriticalOption {
	return func(m *CriticalManager) { m.newID = newID }
}

// NewCriticalManager creates a manager. observer may be nil.
func NewCriticalManager(
	cache ports.Cache,
	durable ports.DurableStore,
	queue CriticalQueue,
	online OnlineChecker,
	resolver ports.RemoteResolver,
	observer SyncObserver,
	clock ports.Clock,
	logger ports.Logger,
	opts ...CriticalOption,
) *CriticalManager {
	m := &CriticalManager{
		cache:    cache,
		store:    newCriticalStore(durable, logger),
		queue:    queue,
		online:   online,
		resolver: resolver,
		sync:     observer,
		clock:    clock,
		logger:   logger,
		dispatch: dispatchAsync,
		newID:    uuid.NewString,
		ops:      make(map[string]domain.CriticalOperation),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start reloads durable records, restores their optimistic cache entries and
// queues them again under their original ids.
func (m *CriticalManager) Start(ctx context.Context) error {
	records := m.store.Load(ctx)
	for _, rec := range records {
		op := rec.Operation()

		m.mu.Lock()
		m.ops[op.ID] = op
		m.mu.Unlock()

		m.writeOptimistic(op)
		if m.queue.IsPending(op.ID) {
			continue
		}
		if _, err := m.queue.EnqueueOperation(op.Operation); err != nil {
			m.logger.Error("failed to requeue critical operation",
				ports.String("id", op.ID),
				ports.Err(err),
			)
		}
	}
	if len(records) > 0 {
		m.logger.Info("restored critical operations", ports.Int("count", len(records)))
	}
	return nil
}

// ApplyCriticalChange writes the optimistic payload to the cache, persists
// the operation and schedules its remote write. It returns once the cache
// write and durable append are done; remote failures surface through the
// queue and the failure registry.
func (m *CriticalManager) ApplyCriticalChange(ctx context.Context, change CriticalChange) (string, error) {
	kind := change.Operation
	if kind == "" {
		kind = domain.KindUpdate
	}
	entityID := change.EntityID
	if entityID == "" {
		entityID = change.RemotePayload.ID()
	}
	if strings.TrimSpace(change.EntityType) == "" || entityID == "" {
		return "", fmt.Errorf("%w: critical changes need an entity type and id", domain.ErrInvalidOperation)
	}

	op := domain.CriticalOperation{
		Operation: domain.Operation{
			ID:         m.newID(),
			Kind:       kind,
			EntityType: change.EntityType,
			EntityID:   entityID,
			Payload:    change.RemotePayload.Clone(),
			Priority:   domain.PriorityCritical,
			EnqueuedAt: m.clock.Now(),
		},
		OptimisticPayload: change.OptimisticPayload.Clone(),
		Metadata: domain.CriticalMetadata{
			OperationKind: change.Kind,
			OriginalValue: change.OriginalValue,
		},
	}
	if err := op.Validate(); err != nil {
		return "", err
	}

	m.writeOptimistic(op)
	m.store.Append(ctx, op.Record())

	m.mu.Lock()
	m.ops[op.ID] = op
	m.mu.Unlock()

	if m.online.IsOnline() {
		m.mu.Lock()
		m.inflight[op.ID] = true
		m.mu.Unlock()
		m.dispatch(func() { m.writeNow(op) })
	} else {
		m.enqueue(op)
	}

	m.logger.Info("critical change applied",
		ports.String("id", op.ID),
		ports.String("kind", string(change.Kind)),
		ports.String("entity", op.EntityType),
		ports.String("entity_id", op.EntityID),
	)
	return op.ID, nil
}

// Pending returns unconfirmed critical operations, oldest first.
func (m *CriticalManager) Pending() []domain.CriticalOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CriticalOperation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Records returns the persisted list as currently known.
func (m *CriticalManager) Records() []domain.CriticalRecord {
	return m.store.List()
}

// StorageDegraded reports whether durable storage has failed.
func (m *CriticalManager) StorageDegraded() bool {
	return m.store.Degraded()
}

// OnOperationSucceeded confirms critical operations synced by the queue.
func (m *CriticalManager) OnOperationSucceeded(op domain.Operation, record domain.Payload) {
	m.mu.Lock()
	cop, ok := m.ops[op.ID]
	m.mu.Unlock()
	if ok {
		m.confirm(cop, record)
	}
}

// OnOperationExhausted keeps the durable record; the operation is retried on
// the next reconnect or restart.
func (m *CriticalManager) OnOperationExhausted(op domain.Operation, err error) {
	m.mu.Lock()
	_, ok := m.ops[op.ID]
	m.mu.Unlock()
	if ok {
		m.logger.Warn("critical operation exhausted, keeping durable record",
			ports.String("id", op.ID),
			ports.Err(err),
		)
	}
}

// OnReconnect queues every unconfirmed operation that is neither pending nor
// being written.
func (m *CriticalManager) OnReconnect(context.Context) {
	for _, op := range m.Pending() {
		m.mu.Lock()
		busy := m.inflight[op.ID]
		m.mu.Unlock()
		if busy || m.queue.IsPending(op.ID) {
			continue
		}
		m.enqueue(op)
	}
}

func (m *CriticalManager) writeNow(op domain.CriticalOperation) {
	defer func() {
		m.mu.Lock()
		delete(m.inflight, op.ID)
		m.mu.Unlock()
	}()

	// Immediate writes follow the same strategy as queued batches.
	strategy := m.queue.Strategy()
	ctx, cancel := context.WithTimeout(context.Background(), strategy.Timeout)
	defer cancel()
	ctx = ports.WithCallOptions(ctx, ports.CallOptions{Compress: strategy.UseCompression})

	record, err := applyRemote(ctx, m.resolver, op.Operation)
	if err != nil {
		if m.sync != nil {
			m.sync.RecordSyncFailure(err)
		}
		m.logger.Warn("immediate critical write failed, queueing",
			ports.String("id", op.ID),
			ports.String("kind", domain.Classify(err).String()),
			ports.Err(err),
		)
		m.enqueue(op)
		return
	}

	if m.sync != nil {
		m.sync.RecordSyncSuccess(m.clock.Now())
	}
	m.confirm(op, record)
}

func (m *CriticalManager) enqueue(op domain.CriticalOperation) {
	if _, err := m.queue.EnqueueOperation(op.Operation); err != nil {
		m.logger.Error("failed to queue critical operation",
			ports.String("id", op.ID),
			ports.Err(err),
		)
	}
}

// confirm drops the durable record and replaces the optimistic cache entry
// with the server's record. An entry tagged by a newer operation is left
// alone.
func (m *CriticalManager) confirm(op domain.CriticalOperation, record domain.Payload) {
	m.mu.Lock()
	delete(m.ops, op.ID)
	m.mu.Unlock()

	m.store.Remove(context.Background(), op.ID)

	if op.Kind == domain.KindDelete {
		m.cache.Remove(domain.EntityKey(op.EntityType, op.EntityID))
	} else {
		if record == nil {
			record = op.Payload
		}
		m.cache.Update(domain.EntityKey(op.EntityType, op.EntityID), func(current domain.Payload) domain.Payload {
			if tag, _ := current[domain.OperationIDTag].(string); tag != "" && tag != op.ID {
				return current
			}
			return domain.StripOptimistic(mergeRecord(current, record))
		})
	}
	m.cache.Invalidate(domain.ListKey(op.EntityType))

	m.logger.Info("critical operation confirmed", ports.String("id", op.ID))
}

func (m *CriticalManager) writeOptimistic(op domain.CriticalOperation) {
	m.cache.Update(domain.EntityKey(op.EntityType, op.EntityID), func(current domain.Payload) domain.Payload {
		return domain.TagOptimistic(mergeRecord(current, op.OptimisticPayload), op.ID)
	})
}
