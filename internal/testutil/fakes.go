// Package testutil holds hand-written fakes of the ports for package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// Call is one recorded RemoteStore call.
type Call struct {
	Entity     string
	Kind       domain.OperationKind
	ID         string
	Payload    domain.Payload
	Compressed bool
	// Deadline is the call context's deadline, zero when it has none.
	Deadline time.Time
}

// Remote is a scriptable RemoteResolver. Every entity type shares its call
// log and error script.
type Remote struct {
	mu     sync.Mutex
	calls  []Call
	next   map[string][]error
	always map[string]error
	serial int

	// OnCall, if set, runs after each call is recorded.
	OnCall func(Call)
}

// NewRemote creates a Remote whose writes all succeed.
func NewRemote() *Remote {
	return &Remote{
		next:   make(map[string][]error),
		always: make(map[string]error),
	}
}

// Remote implements ports.RemoteResolver.
func (r *Remote) Remote(entityType string) (ports.RemoteStore, error) {
	return &entityRemote{parent: r, entity: entityType}, nil
}

// FailNext makes the next len(errs) calls on entity fail in order.
func (r *Remote) FailNext(entity string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next[entity] = append(r.next[entity], errs...)
}

// FailAlways makes every call on entity fail with err. A nil err clears it.
func (r *Remote) FailAlways(entity string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.always, entity)
		return
	}
	r.always[entity] = err
}

// Calls returns every call so far.
func (r *Remote) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallIDs returns the entity ids written, in call order.
func (r *Remote) CallIDs() []string {
	var out []string
	for _, c := range r.Calls() {
		out = append(out, c.ID)
	}
	return out
}

func (r *Remote) call(ctx context.Context, c Call) (domain.Payload, error) {
	c.Compressed = ports.CallOptionsFrom(ctx).Compress
	c.Deadline, _ = ctx.Deadline()

	r.mu.Lock()
	r.calls = append(r.calls, c)
	var err error
	if queued := r.next[c.Entity]; len(queued) > 0 {
		err = queued[0]
		r.next[c.Entity] = queued[1:]
	} else if e, ok := r.always[c.Entity]; ok {
		err = e
	}
	r.serial++
	serial := r.serial
	hook := r.OnCall
	r.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	if err != nil {
		return nil, err
	}
	if c.Kind == domain.KindDelete {
		return nil, nil
	}

	out := c.Payload.Clone()
	if out == nil {
		out = domain.Payload{}
	}
	if c.ID != "" {
		out["id"] = c.ID
	} else if out.ID() == "" {
		out["id"] = fmt.Sprintf("srv-%d", serial)
	}
	out["synced"] = true
	return out, nil
}

type entityRemote struct {
	parent *Remote
	entity string
}

func (e *entityRemote) Insert(ctx context.Context, payload domain.Payload) (domain.Payload, error) {
	return e.parent.call(ctx, Call{Entity: e.entity, Kind: domain.KindCreate, ID: payload.ID(), Payload: payload})
}

func (e *entityRemote) Update(ctx context.Context, id string, patch domain.Payload) (domain.Payload, error) {
	return e.parent.call(ctx, Call{Entity: e.entity, Kind: domain.KindUpdate, ID: id, Payload: patch})
}

func (e *entityRemote) Delete(ctx context.Context, id string) error {
	_, err := e.parent.call(ctx, Call{Entity: e.entity, Kind: domain.KindDelete, ID: id})
	return err
}

// Prober is a scriptable ports.Prober.
type Prober struct {
	mu          sync.Mutex
	latency     time.Duration
	pingErr     error
	bytes       int64
	elapsed     time.Duration
	downloadErr error
	pings       int
}

// NewProber returns a prober reporting latency and a download of bytes over
// elapsed.
func NewProber(latency time.Duration, bytes int64, elapsed time.Duration) *Prober {
	return &Prober{latency: latency, bytes: bytes, elapsed: elapsed}
}

// Set changes the readings.
func (p *Prober) Set(latency time.Duration, bytes int64, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency, p.bytes, p.elapsed = latency, bytes, elapsed
}

// SetErrors makes the probes fail.
func (p *Prober) SetErrors(pingErr, downloadErr error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pingErr, p.downloadErr = pingErr, downloadErr
}

// Pings returns the number of Ping calls.
func (p *Prober) Pings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

// Ping implements ports.Prober.
func (p *Prober) Ping(context.Context) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return p.latency, p.pingErr
}

// Download implements ports.Prober.
func (p *Prober) Download(context.Context) (int64, time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes, p.elapsed, p.downloadErr
}

// Workflows is a scriptable ports.WorkflowSource.
type Workflows struct {
	mu      sync.Mutex
	stalled map[string]ports.WorkflowFailure
	resume  map[string]error
	scanErr error
}

// NewWorkflows creates an empty workflow source.
func NewWorkflows() *Workflows {
	return &Workflows{
		stalled: make(map[string]ports.WorkflowFailure),
		resume:  make(map[string]error),
	}
}

// Stall adds a stalled step.
func (w *Workflows) Stall(f ports.WorkflowFailure) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stalled[f.ID] = f
}

// FailResume makes ResumeStep(id) fail with err.
func (w *Workflows) FailResume(id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resume[id] = err
}

// FailScan makes StalledSteps fail with err.
func (w *Workflows) FailScan(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scanErr = err
}

// StalledSteps implements ports.WorkflowSource.
func (w *Workflows) StalledSteps(context.Context) ([]ports.WorkflowFailure, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scanErr != nil {
		return nil, w.scanErr
	}
	out := make([]ports.WorkflowFailure, 0, len(w.stalled))
	for _, f := range w.stalled {
		out = append(out, f)
	}
	return out, nil
}

// ResumeStep implements ports.WorkflowSource. Success resolves the step.
func (w *Workflows) ResumeStep(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.resume[id]; err != nil {
		return err
	}
	if _, ok := w.stalled[id]; !ok {
		return domain.ErrNotFound
	}
	delete(w.stalled, id)
	return nil
}

// SyncDispatch runs fn on the calling goroutine.
func SyncDispatch(fn func()) {
	fn()
}

// Sequence returns an id generator yielding prefix-1, prefix-2, ...
func Sequence(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
