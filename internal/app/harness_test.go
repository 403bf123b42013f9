package app

import (
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/fieldsync/internal/adapters/cache"
	"github.com/bft-labs/fieldsync/internal/adapters/clock"
	"github.com/bft-labs/fieldsync/internal/adapters/kv"
	adlog "github.com/bft-labs/fieldsync/internal/adapters/log"
	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// harness wires the components the way the engine does, on a virtual clock
// with synchronous dispatch.
type harness struct {
	t        *testing.T
	clock    *clock.Virtual
	cache    *cache.Memory
	store    *kv.Memory
	remote   *testutil.Remote
	logs     *adlog.Recorder
	tracker  *ConnectivityTracker
	queue    *OperationQueue
	critical *CriticalManager
	registry *FailureRegistry
	batches  *batchRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  clock.NewVirtual(epoch),
		store:  kv.NewMemory(),
		remote: testutil.NewRemote(),
		logs:   adlog.NewRecorder(),
	}
	h.cache = cache.NewMemory(cache.WithNow(h.clock.Now))
	h.build()
	return h
}

// build (re)creates the components over the harness' cache, store and
// remote. Calling it again simulates a process restart.
func (h *harness) build() {
	if h.queue != nil {
		h.queue.Close()
	}
	h.tracker = NewConnectivityTracker(true, h.clock, h.logs, WithTrackerDispatch(testutil.SyncDispatch))
	h.queue = NewOperationQueue(QueueConfig{}, h.remote, h.cache, h.tracker, h.tracker, h.clock, h.logs)
	h.queue.SetIDGenerator(testutil.Sequence("op"))
	h.tracker.SetPendingSource(h.queue)

	h.critical = NewCriticalManager(h.cache, h.store, h.queue, h.tracker, h.remote, h.tracker, h.clock, h.logs,
		WithCriticalDispatch(testutil.SyncDispatch),
		WithCriticalIDs(testutil.Sequence("crit")),
	)
	h.queue.SubscribeOperations(h.critical)

	h.registry = NewFailureRegistry([]FailureSource{
		NewQueueSource(h.queue),
		NewCacheMutationSource(h.cache),
		NewCacheQuerySource(h.cache),
	}, h.clock, h.logs, WithRegistryDispatch(testutil.SyncDispatch))

	h.tracker.OnReconnectCache(h.cache)
	h.tracker.OnReconnect(h.queue)
	h.tracker.OnReconnect(h.critical)
	h.tracker.OnReconnect(h.registry)

	h.batches = &batchRecorder{}
	h.queue.SubscribeProgress(h.batches)
}

func (h *harness) enqueue(kind domain.OperationKind, entity, id string, priority domain.Priority) string {
	h.t.Helper()
	payload := domain.Payload{"title": entity + " " + id}
	if id != "" {
		payload["id"] = id
	}
	opID, err := h.queue.Enqueue(kind, entity, payload, nil, priority)
	if err != nil {
		h.t.Fatalf("enqueue: %v", err)
	}
	return opID
}

// settle advances the clock in steps so debounce, backoff and redrain
// timers all get to fire.
func (h *harness) settle(total time.Duration) {
	const step = time.Second
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		h.clock.Advance(step)
	}
}

// batchRecorder keeps every progress snapshot and checks that at most one
// batch is processing at any time.
type batchRecorder struct {
	mu            sync.Mutex
	events        []domain.BatchExecution
	processing    map[string]bool
	maxConcurrent int
}

func (r *batchRecorder) OnBatchProgress(b domain.BatchExecution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processing == nil {
		r.processing = make(map[string]bool)
	}
	r.events = append(r.events, b)
	if b.Status == domain.BatchProcessing {
		r.processing[b.ID] = true
	} else {
		delete(r.processing, b.ID)
	}
	if len(r.processing) > r.maxConcurrent {
		r.maxConcurrent = len(r.processing)
	}
}

// finished returns the terminal snapshot of each batch in completion order.
func (r *batchRecorder) finished() []domain.BatchExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BatchExecution
	for _, e := range r.events {
		if e.Status != domain.BatchProcessing {
			out = append(out, e)
		}
	}
	return out
}

// started returns batch ids in start order.
func (r *batchRecorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.events {
		if !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e.ID)
		}
	}
	return out
}
