package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// Queue tuning defaults.
const (
	DefaultInterOpDelay  = 100 * time.Millisecond
	DefaultCriticalRetry = 3
	lowPriorityFactor    = 3
)

// ProgressListener receives batch snapshots as they progress.
type ProgressListener interface {
	OnBatchProgress(batch domain.BatchExecution)
}

// ProgressListenerFunc adapts a function to ProgressListener.
type ProgressListenerFunc func(domain.BatchExecution)

// OnBatchProgress calls f.
func (f ProgressListenerFunc) OnBatchProgress(b domain.BatchExecution) { f(b) }

// OperationListener is told when a queued operation leaves the queue.
type OperationListener interface {
	// OnOperationSucceeded is called after the remote write and cache update.
	OnOperationSucceeded(op domain.Operation, record domain.Payload)
	// OnOperationExhausted is called when op moves to the dead-letter set.
	OnOperationExhausted(op domain.Operation, err error)
}

// DeadLetter is an operation removed from the queue after a final failure.
type DeadLetter struct {
	Operation domain.Operation
	Err       error
	FailedAt  time.Time
}

// QueueConfig configures the OperationQueue.
type QueueConfig struct {
	InterOpDelay       time.Duration
	CriticalBatchSize  int
	CriticalMaxRetries int
	MaxBackoff         time.Duration
}

func (c *QueueConfig) setDefaults() {
	if c.InterOpDelay <= 0 {
		c.InterOpDelay = DefaultInterOpDelay
	}
	if c.CriticalBatchSize <= 0 {
		c.CriticalBatchSize = CriticalBatchSize
	}
	if c.CriticalMaxRetries <= 0 {
		c.CriticalMaxRetries = DefaultCriticalRetry
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultBackoffMax
	}
}

type queuedOp struct {
	op  domain.Operation
	seq uint64
}

// OperationQueue holds pending operations and drains them in priority
// ordered batches.
type OperationQueue struct {
	config   QueueConfig
	resolver ports.RemoteResolver
	cache    ports.Cache
	online   OnlineChecker
	sync     SyncObserver
	clock    ports.Clock
	logger   ports.Logger
	newID    func() string

	mu          sync.Mutex
	seq         uint64
	pending     map[string]*queuedOp
	deadLetters map[string]DeadLetter
	strategy    domain.AdaptiveStrategy
	tier        domain.QualityTier
	debounce    ports.Timer
	debounceAt  time.Time
	debounceSeq uint64
	redrain     ports.Timer
	backoff     *backoff
	streak      int
	draining    bool
	dirty       bool
	closed      bool
	current     *domain.BatchExecution

	progress  *observers[ProgressListener]
	opsEvents *observers[OperationListener]
}

// NewOperationQueue creates a queue. observer may be nil.
func NewOperationQueue(
	config QueueConfig,
	resolver ports.RemoteResolver,
	cache ports.Cache,
	online OnlineChecker,
	observer SyncObserver,
	clock ports.Clock,
	logger ports.Logger,
) *OperationQueue {
	config.setDefaults()
	strategy := domain.StrategyFor(domain.TierGood)
	return &OperationQueue{
		config:      config,
		resolver:    resolver,
		cache:       cache,
		online:      online,
		sync:        observer,
		clock:       clock,
		logger:      logger,
		newID:       uuid.NewString,
		pending:     make(map[string]*queuedOp),
		deadLetters: make(map[string]DeadLetter),
		strategy:    strategy,
		tier:        domain.TierGood,
		backoff:     newBackoff(strategy.ProcessingDelay, config.MaxBackoff),
		progress:    newObservers[ProgressListener]("progress", logger),
		opsEvents:   newObservers[OperationListener]("operations", logger),
	}
}

// SetIDGenerator replaces the operation id generator.
func (q *OperationQueue) SetIDGenerator(fn func() string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.newID = fn
}

// SubscribeProgress registers l for batch progress snapshots.
func (q *OperationQueue) SubscribeProgress(l ProgressListener) func() {
	return q.progress.add(l)
}

// SubscribeOperations registers l for per-operation outcomes.
func (q *OperationQueue) SubscribeOperations(l OperationListener) func() {
	return q.opsEvents.add(l)
}

// OnQualityChange adopts the strategy of a new quality reading.
func (q *OperationQueue) OnQualityChange(s domain.ConnectionQualitySnapshot, strategy domain.AdaptiveStrategy) {
	q.SetStrategy(strategy)
	q.mu.Lock()
	q.tier = s.Tier
	q.mu.Unlock()
}

// SetStrategy replaces the adaptive strategy used for the next batches.
func (q *OperationQueue) SetStrategy(strategy domain.AdaptiveStrategy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.strategy = strategy
}

// Strategy returns the strategy in effect.
func (q *OperationQueue) Strategy() domain.AdaptiveStrategy {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.strategy
}

// Enqueue creates an operation and queues it. The entity id is taken from
// the payload's "id" field. Failures after this point are never returned to
// the caller; they surface through the failure registry.
func (q *OperationQueue) Enqueue(
	kind domain.OperationKind,
	entityType string,
	payload, originalPayload domain.Payload,
	priority domain.Priority,
) (string, error) {
	return q.EnqueueOperation(domain.Operation{
		Kind:            kind,
		EntityType:      entityType,
		EntityID:        payload.ID(),
		Payload:         payload.Clone(),
		OriginalPayload: originalPayload.Clone(),
		Priority:        priority,
	})
}

// EnqueueOperation queues op under its id, assigning one if empty. Queuing
// an id that is already pending only raises its priority; queuing a
// dead-lettered id moves it back to pending.
func (q *OperationQueue) EnqueueOperation(op domain.Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("enqueue: %w", domain.ErrNotRunning)
	}

	if op.ID == "" {
		op.ID = q.newID()
	}
	if existing, ok := q.pending[op.ID]; ok {
		if op.Priority.Rank() > existing.op.Priority.Rank() {
			existing.op.Priority = op.Priority
			q.armLocked(op.Priority)
		}
		return op.ID, nil
	}
	if dead, ok := q.deadLetters[op.ID]; ok {
		delete(q.deadLetters, op.ID)
		op.RetryCount = dead.Operation.RetryCount
		op.LastError = dead.Operation.LastError
		op.LastErrorKind = dead.Operation.LastErrorKind
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.clock.Now()
	}

	q.seq++
	q.pending[op.ID] = &queuedOp{op: op.Clone(), seq: q.seq}
	if q.draining {
		q.dirty = true
	}
	q.armLocked(op.Priority)

	q.logger.Debug("operation enqueued",
		ports.String("id", op.ID),
		ports.String("op", op.Label()),
		ports.String("priority", string(op.Priority)),
	)
	return op.ID, nil
}

// Pending returns pending operations in enqueue order.
func (q *OperationQueue) Pending() []domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// PendingCounts returns the number of pending operations per priority.
func (q *OperationQueue) PendingCounts() domain.PendingCounts {
	q.mu.Lock()
	defer q.mu.Unlock()
	var c domain.PendingCounts
	for _, e := range q.pending {
		c.Add(e.op.Priority)
	}
	return c
}

// IsPending reports whether id is queued.
func (q *OperationQueue) IsPending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Plan returns the batches a drain would run now.
func (q *OperationQueue) Plan() [][]domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return PlanBatches(q.pendingLocked(), q.strategy.BatchSize, q.config.CriticalBatchSize)
}

// Promote raises a pending operation to critical priority and requests a
// drain. It returns false if id is not pending.
func (q *OperationQueue) Promote(id string) bool {
	q.mu.Lock()
	e, ok := q.pending[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	already := e.op.Priority == domain.PriorityCritical
	e.op.Priority = domain.PriorityCritical
	q.mu.Unlock()

	if !already {
		q.logger.Debug("operation promoted", ports.String("id", id))
		q.RequestDrain()
	}
	return true
}

// ClearPending drops every pending operation. A batch already running
// finishes; no further batch starts.
func (q *OperationQueue) ClearPending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = make(map[string]*queuedOp)
	q.stopTimersLocked()
	q.streak = 0
	q.logger.Info("pending operations cleared", ports.Int("count", n))
}

// DeadLetters returns operations that failed permanently, oldest first.
func (q *OperationQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, 0, len(q.deadLetters))
	for _, d := range q.deadLetters {
		d.Operation = d.Operation.Clone()
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].Operation.ID < out[j].Operation.ID
		}
		return out[i].FailedAt.Before(out[j].FailedAt)
	})
	return out
}

// Requeue moves a dead-lettered operation back to pending.
func (q *OperationQueue) Requeue(id string) error {
	q.mu.Lock()
	dead, ok := q.deadLetters[id]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("requeue %s: %w", id, domain.ErrNotFound)
	}
	_, err := q.EnqueueOperation(dead.Operation)
	return err
}

// Discard drops id from the pending or dead-letter set.
func (q *OperationQueue) Discard(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; ok {
		delete(q.pending, id)
		return nil
	}
	if _, ok := q.deadLetters[id]; ok {
		delete(q.deadLetters, id)
		return nil
	}
	return fmt.Errorf("discard %s: %w", id, domain.ErrNotFound)
}

// CurrentBatch returns a snapshot of the running batch, if any.
func (q *OperationQueue) CurrentBatch() (domain.BatchExecution, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return domain.BatchExecution{}, false
	}
	return q.current.Snapshot(), true
}

// OnReconnect requests a drain.
func (q *OperationQueue) OnReconnect(context.Context) {
	q.RequestDrain()
}

// RequestDrain schedules an immediate drain unless one is running.
func (q *OperationQueue) RequestDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining || q.closed || len(q.pending) == 0 {
		return
	}
	q.scheduleLocked(0)
}

// ProcessNow drains the queue on the calling goroutine.
func (q *OperationQueue) ProcessNow(ctx context.Context) error {
	return q.drain(ctx)
}

// Close stops all timers. Pending operations stay in memory.
func (q *OperationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.stopTimersLocked()
}

// armLocked schedules the debounce for an operation of priority p. The
// earliest deadline wins; later enqueues never postpone a drain.
func (q *OperationQueue) armLocked(p domain.Priority) {
	delay := q.strategy.ProcessingDelay
	if !p.AtLeast(q.strategy.PriorityThreshold) {
		delay *= lowPriorityFactor
	}
	q.scheduleLocked(delay)
}

func (q *OperationQueue) scheduleLocked(delay time.Duration) {
	at := q.clock.Now().Add(delay)
	if q.debounce != nil && !q.debounceAt.After(at) {
		return
	}
	if q.debounce != nil {
		q.debounce.Stop()
	}
	q.debounceSeq++
	seq := q.debounceSeq
	q.debounceAt = at
	q.debounce = q.clock.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.debounceSeq == seq {
			q.debounce = nil
		}
		q.mu.Unlock()
		q.scheduledDrain()
	})
}

func (q *OperationQueue) stopTimersLocked() {
	if q.debounce != nil {
		q.debounce.Stop()
		q.debounce = nil
		q.debounceSeq++
	}
	if q.redrain != nil {
		q.redrain.Stop()
		q.redrain = nil
	}
}

func (q *OperationQueue) scheduledDrain() {
	err := q.drain(context.Background())
	switch {
	case err == nil, errors.Is(err, domain.ErrOffline), errors.Is(err, domain.ErrNotRunning):
	case errors.Is(err, domain.ErrDrainInProgress):
		q.mu.Lock()
		q.dirty = true
		q.mu.Unlock()
	default:
		q.logger.Error("scheduled drain failed", ports.Err(err))
	}
}

func (q *OperationQueue) pendingLocked() []domain.Operation {
	entries := make([]*queuedOp, 0, len(q.pending))
	for _, e := range q.pending {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.Operation, len(entries))
	for i, e := range entries {
		out[i] = e.op.Clone()
	}
	return out
}

// drain runs batches until nothing unattempted is left or the tracker goes
// offline. At most one drain runs at a time.
func (q *OperationQueue) drain(ctx context.Context) error {
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return domain.ErrNotRunning
	case q.draining:
		q.mu.Unlock()
		return domain.ErrDrainInProgress
	case !q.online.IsOnline():
		q.mu.Unlock()
		return domain.ErrOffline
	}
	q.draining = true
	q.dirty = false
	q.stopTimersLocked()
	q.mu.Unlock()

	attempted := make(map[string]bool)
	retained := false
	for {
		if ctx.Err() != nil || !q.online.IsOnline() {
			break
		}

		q.mu.Lock()
		var candidates []domain.Operation
		for _, op := range q.pendingLocked() {
			if !attempted[op.ID] {
				candidates = append(candidates, op)
			}
		}
		strategy := q.strategy
		tier := q.tier
		q.mu.Unlock()

		plan := PlanBatches(candidates, strategy.BatchSize, q.config.CriticalBatchSize)
		if len(plan) == 0 {
			break
		}
		if q.runBatch(ctx, plan[0], strategy, tier, attempted) {
			retained = true
		}
	}

	q.finishDrain(retained)
	return ctx.Err()
}

// finishDrain releases the guard and schedules follow-up work: an immediate
// redrain for work that arrived mid-drain on aggressive strategies, or a
// backoff redrain for retained failures.
func (q *OperationQueue) finishDrain(retained bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.draining = false
	if q.closed || len(q.pending) == 0 {
		q.resetBackoffLocked()
		return
	}

	if q.dirty {
		q.dirty = false
		if q.strategy.AggressiveBatching {
			q.scheduleLocked(0)
		} else {
			q.armLocked(domain.PriorityCritical)
		}
	}
	if !retained {
		q.resetBackoffLocked()
		return
	}
	if q.streak >= q.strategy.RetryAttempts {
		q.logger.Warn("retry budget spent, waiting for new work or reconnect",
			ports.Int("redrains", q.streak),
			ports.Int("pending", len(q.pending)),
		)
		return
	}
	q.streak++
	delay := q.backoff.Next()
	if q.redrain != nil {
		q.redrain.Stop()
	}
	q.redrain = q.clock.AfterFunc(delay, q.scheduledDrain)
	q.logger.Debug("redrain scheduled",
		ports.Duration("delay", delay),
		ports.Int("attempt", q.streak),
	)
}

func (q *OperationQueue) resetBackoffLocked() {
	q.streak = 0
	q.backoff.Reset(q.strategy.ProcessingDelay)
}

// runBatch executes ops sequentially and reports whether any failed
// operation stayed queued.
func (q *OperationQueue) runBatch(
	ctx context.Context,
	ops []domain.Operation,
	strategy domain.AdaptiveStrategy,
	tier domain.QualityTier,
	attempted map[string]bool,
) bool {
	batch := domain.NewBatchExecution(uuid.NewString(), ops, q.clock.Now(), tier.PerOperationEstimate())
	q.publish(batch)

	q.logger.Info("batch started",
		ports.String("batch", batch.ID),
		ports.Int("operations", len(ops)),
		ports.String("first_priority", string(ops[0].Priority)),
	)

	retained := false
	for i, op := range ops {
		if i > 0 {
			if err := q.clock.Sleep(ctx, q.config.InterOpDelay); err != nil {
				break
			}
			// Going offline mid-batch leaves the rest queued.
			if !q.online.IsOnline() {
				break
			}
		}
		attempted[op.ID] = true

		q.mu.Lock()
		batch.Progress.CurrentLabel = op.Label()
		q.mu.Unlock()
		q.publish(batch)

		record, err := q.execute(ctx, op, strategy)
		q.mu.Lock()
		if err != nil {
			batch.Progress.Failed++
		} else {
			batch.Progress.Completed++
		}
		q.mu.Unlock()

		if err != nil {
			if q.fail(op, err) {
				retained = true
			}
		} else {
			q.succeed(op, record)
		}
		q.publish(batch)
	}

	q.mu.Lock()
	batch.Finish(q.clock.Now())
	q.mu.Unlock()
	q.publish(batch)

	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()

	q.logger.Info("batch finished",
		ports.String("batch", batch.ID),
		ports.String("status", string(batch.Status)),
		ports.Int("completed", batch.Progress.Completed),
		ports.Int("failed", batch.Progress.Failed),
	)
	return retained
}

func (q *OperationQueue) execute(ctx context.Context, op domain.Operation, strategy domain.AdaptiveStrategy) (domain.Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, strategy.Timeout)
	defer cancel()
	ctx = ports.WithCallOptions(ctx, ports.CallOptions{Compress: strategy.UseCompression})
	return applyRemote(ctx, q.resolver, op)
}

func (q *OperationQueue) succeed(op domain.Operation, record domain.Payload) {
	q.mu.Lock()
	if e, ok := q.pending[op.ID]; ok {
		op = e.op
		delete(q.pending, op.ID)
	}
	q.mu.Unlock()

	id := syncedID(op, record)
	if op.Kind == domain.KindDelete {
		q.cache.Remove(domain.EntityKey(op.EntityType, id))
	} else if id != "" {
		merged := record
		if merged == nil {
			merged = op.Payload
		}
		q.cache.Update(domain.EntityKey(op.EntityType, id), func(current domain.Payload) domain.Payload {
			return mergeRecord(current, merged)
		})
	}
	q.cache.Invalidate(domain.ListKey(op.EntityType))

	if q.sync != nil {
		q.sync.RecordSyncSuccess(q.clock.Now())
	}
	q.logger.Debug("operation synced", ports.String("id", op.ID), ports.String("op", op.Label()))
	q.opsEvents.each(func(l OperationListener) { l.OnOperationSucceeded(op, record) })
}

// fail records err on op and reports whether op stays queued.
func (q *OperationQueue) fail(op domain.Operation, err error) bool {
	kind := domain.Classify(err)

	q.mu.Lock()
	e, ok := q.pending[op.ID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	e.op.RetryCount++
	e.op.LastError = err.Error()
	e.op.LastErrorKind = kind
	retain := e.op.Priority == domain.PriorityCritical &&
		kind.Retryable() &&
		e.op.RetryCount < q.config.CriticalMaxRetries
	failed := e.op.Clone()
	if !retain {
		delete(q.pending, op.ID)
		q.deadLetters[op.ID] = DeadLetter{Operation: failed, Err: err, FailedAt: q.clock.Now()}
	}
	q.mu.Unlock()

	if q.sync != nil {
		q.sync.RecordSyncFailure(err)
	}

	fields := []ports.Field{
		ports.String("id", op.ID),
		ports.String("op", op.Label()),
		ports.String("kind", kind.String()),
		ports.Int("retry_count", failed.RetryCount),
		ports.Err(err),
	}
	if retain {
		q.logger.Warn("operation failed, will retry", fields...)
		return true
	}
	q.logger.Error("operation failed permanently", fields...)
	q.opsEvents.each(func(l OperationListener) { l.OnOperationExhausted(failed, err) })
	return false
}

func (q *OperationQueue) publish(batch *domain.BatchExecution) {
	q.mu.Lock()
	q.current = batch
	snapshot := batch.Snapshot()
	q.mu.Unlock()
	q.progress.each(func(l ProgressListener) { l.OnBatchProgress(snapshot) })
}
