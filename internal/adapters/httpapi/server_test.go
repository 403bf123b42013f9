package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adlog "github.com/bft-labs/fieldsync/internal/adapters/log"
	"github.com/bft-labs/fieldsync/internal/domain"
)

// fakeEngine records control calls and lets tests publish progress.
type fakeEngine struct {
	mu        sync.Mutex
	enqueued  []domain.Operation
	enqueueFn func(domain.Operation) (string, error)
	processFn func() error
	manual    bool
	failed    []domain.FailedOperationRecord
	retries   map[string]domain.RetryResult
	current   *domain.BatchExecution
	listeners map[int]func(domain.BatchExecution)
	nextID    int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		retries:   make(map[string]domain.RetryResult),
		listeners: make(map[int]func(domain.BatchExecution)),
	}
}

func (f *fakeEngine) EnqueueOperation(op domain.Operation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueFn != nil {
		return f.enqueueFn(op)
	}
	if err := op.Validate(); err != nil {
		return "", err
	}
	f.enqueued = append(f.enqueued, op)
	return fmt.Sprintf("op-%d", len(f.enqueued)), nil
}

func (f *fakeEngine) Status() domain.OfflineStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.OfflineStatus{
		IsOnline:      !f.manual,
		IsConnected:   true,
		ManualOffline: f.manual,
		Tier:          domain.TierGood,
		Pending:       domain.PendingCounts{Normal: len(f.enqueued), Total: len(f.enqueued)},
	}
}

func (f *fakeEngine) ConnectionQuality() domain.ConnectionQualitySnapshot {
	return domain.ConnectionQualitySnapshot{Tier: domain.TierGood, Score: 72}
}

func (f *fakeEngine) Strategy() domain.AdaptiveStrategy {
	return domain.StrategyFor(domain.TierGood)
}

func (f *fakeEngine) RetryStats() domain.RetryStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.RetryStats{TotalFailed: len(f.failed)}
}

func (f *fakeEngine) FailedOperations(context.Context) []domain.FailedOperationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func (f *fakeEngine) Retry(_ context.Context, id string) domain.RetryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if res, ok := f.retries[id]; ok {
		return res
	}
	return domain.RetryResult{ID: id, Error: domain.ErrNotFound.Error()}
}

func (f *fakeEngine) RetryAll(context.Context) []domain.RetryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RetryResult
	for _, res := range f.retries {
		out = append(out, res)
	}
	return out
}

func (f *fakeEngine) ForceProcess(context.Context) error {
	f.mu.Lock()
	fn := f.processFn
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

// set mutates the fake under its lock.
func (f *fakeEngine) set(fn func(f *fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeEngine) operations() []domain.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Operation(nil), f.enqueued...)
}

func (f *fakeEngine) EnableManualOffline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manual = true
}

func (f *fakeEngine) DisableManualOffline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manual = false
}

func (f *fakeEngine) CurrentBatch() (domain.BatchExecution, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return domain.BatchExecution{}, false
	}
	return *f.current, true
}

func (f *fakeEngine) SubscribeToProgress(fn func(domain.BatchExecution)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeEngine) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeEngine) publish(b domain.BatchExecution) {
	f.mu.Lock()
	fns := make([]func(domain.BatchExecution), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(b)
	}
}

func newTestServer(t *testing.T) (*fakeEngine, *Server, *httptest.Server) {
	t.Helper()
	engine := newFakeEngine()
	s := NewServer(engine, adlog.NewRecorder(), "")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return engine, s, ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestEnqueue(t *testing.T) {
	engine, _, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/operations",
		`{"kind":"update","entityType":"job","payload":{"id":"job-1","status":"done"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "op-1", decode[EnqueueResponse](t, resp).ID)

	ops := engine.operations()
	require.Len(t, ops, 1)
	op := ops[0]
	assert.Equal(t, "job-1", op.EntityID, "entity id comes from the payload")
	assert.Equal(t, domain.PriorityNormal, op.Priority)
	assert.Equal(t, "done", op.Payload["status"])
}

func TestEnqueue_Errors(t *testing.T) {
	engine, _, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/operations", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/v1/operations", `{"kind":"update","entityType":"job","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[ErrorResponse](t, resp).Error, "requires an entity id")

	engine.set(func(f *fakeEngine) {
		f.enqueueFn = func(domain.Operation) (string, error) {
			return "", fmt.Errorf("enqueue: %w", domain.ErrNotRunning)
		}
	})
	resp = do(t, http.MethodPost, ts.URL+"/v1/operations", `{"kind":"create","entityType":"job","payload":{}}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusAndOfflineToggle(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[StatusResponse](t, resp)
	assert.True(t, status.Status.IsOnline)
	assert.Equal(t, domain.TierGood, status.Quality.Tier)
	assert.Equal(t, 10, status.Strategy.BatchSize)

	resp = do(t, http.MethodPost, ts.URL+"/v1/offline", "")
	status = decode[StatusResponse](t, resp)
	assert.True(t, status.Status.ManualOffline)
	assert.False(t, status.Status.IsOnline)

	resp = do(t, http.MethodDelete, ts.URL+"/v1/offline", "")
	status = decode[StatusResponse](t, resp)
	assert.False(t, status.Status.ManualOffline)
}

func TestFailedAndRetry(t *testing.T) {
	engine, _, ts := newTestServer(t)
	engine.set(func(f *fakeEngine) {
		f.failed = []domain.FailedOperationRecord{{
			ID:         "queuedMutation:op-1",
			SourceType: domain.SourceQueuedMutation,
			SourceID:   "op-1",
			ErrorKind:  domain.ErrorKindAuth,
		}}
		f.retries["queuedMutation:op-2"] = domain.RetryResult{ID: "queuedMutation:op-2", Success: true}
		f.retries["queuedMutation:op-1"] = domain.RetryResult{ID: "queuedMutation:op-1", Error: domain.ErrNotRetryable.Error()}
	})

	resp := do(t, http.MethodGet, ts.URL+"/v1/failed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	failed := raw["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "AuthError", failed[0].(map[string]any)["errorKind"])

	resp = do(t, http.MethodPost, ts.URL+"/v1/failed/queuedMutation:op-2/retry", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[domain.RetryResult](t, resp).Success)

	resp = do(t, http.MethodPost, ts.URL+"/v1/failed/queuedMutation:op-1/retry", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/v1/failed/missing/retry", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/v1/failed/retry-all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[RetryAllResponse](t, resp).Results, 2)
}

func TestProcess(t *testing.T) {
	engine, _, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/v1/process", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	engine.set(func(f *fakeEngine) { f.processFn = func() error { return domain.ErrOffline } })
	resp = do(t, http.MethodPost, ts.URL+"/v1/process", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.ErrOffline.Error(), decode[ErrorResponse](t, resp).Error)

	engine.set(func(f *fakeEngine) { f.processFn = func() error { return errors.New("disk on fire") } })
	resp = do(t, http.MethodPost, ts.URL+"/v1/process", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/v1/process", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProgressStream(t *testing.T) {
	engine, s, ts := newTestServer(t)
	engine.set(func(f *fakeEngine) {
		f.current = &domain.BatchExecution{ID: "batch-0", Status: domain.BatchProcessing}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/progress", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first domain.BatchExecution
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &first))
	assert.Equal(t, "batch-0", first.ID)

	require.Eventually(t, func() bool { return engine.subscribers() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.ClientCount())

	engine.publish(domain.BatchExecution{
		ID:       "batch-1",
		Status:   domain.BatchCompleted,
		Progress: domain.BatchProgress{Total: 2, Completed: 2},
	})

	var next domain.BatchExecution
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &next))
	assert.Equal(t, "batch-1", next.ID)
	assert.Equal(t, 2, next.Progress.Completed)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return engine.subscribers() == 0 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestListenAndServe(t *testing.T) {
	engine := newFakeEngine()
	s := NewServer(engine, adlog.NewRecorder(), "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
