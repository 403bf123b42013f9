package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/bft-labs/fieldsync/internal/adapters/cache"
	"github.com/bft-labs/fieldsync/internal/adapters/clock"
	httpAdapter "github.com/bft-labs/fieldsync/internal/adapters/http"
	"github.com/bft-labs/fieldsync/internal/adapters/kv"
	"github.com/bft-labs/fieldsync/internal/app"
	"github.com/bft-labs/fieldsync/internal/ports"
	"github.com/bft-labs/fieldsync/pkg/log"
)

// Engine is the offline-first sync engine. Use New() to create an instance,
// Start() to begin background work and Destroy() to release it.
type Engine struct {
	config    Config
	logger    ports.Logger
	clock     ports.Clock
	cache     ports.Cache
	lifecycle *app.Lifecycle
	emitter   *eventEmitter
	dispatch  func(func())

	quality  *app.QualityMonitor
	tracker  *app.ConnectivityTracker
	queue    *app.OperationQueue
	critical *app.CriticalManager
	registry *app.FailureRegistry
	links    *app.LinkWatcher

	plugins     []Plugin
	unsubscribe []func()

	mu          sync.Mutex
	initialized []Plugin
	firstProbe  ports.Timer
	destroyed   bool
}

// New creates an Engine with the given configuration. The engine is created
// in StateStopped; operations may be enqueued before Start, but periodic
// probing, scanning and critical operation recovery begin with Start.
// Returns an error wrapping ErrInvalidConfig if configuration is invalid.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.ServiceURL == "" && (o.remote == nil || o.prober == nil) {
		return nil, fmt.Errorf("%w: service URL is required", ErrInvalidConfig)
	}

	e := &Engine{config: cfg, plugins: o.plugins}

	e.logger = o.logger
	if e.logger == nil {
		e.logger = log.NewNoopLogger()
	}
	e.clock = o.clock
	if e.clock == nil {
		e.clock = clock.NewReal()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if o.remote == nil {
		o.remote = httpAdapter.NewResolver(o.httpClient, httpAdapter.Metadata{
			ServiceURL: cfg.ServiceURL,
			AuthKey:    cfg.AuthKey,
			Hostname:   hostname(),
			DeviceID:   cfg.DeviceID,
			UserAgent:  "fieldsync/" + Version,
		}, e.logger)
	}
	if o.prober == nil {
		o.prober = httpAdapter.NewProber(o.httpClient, cfg.ServiceURL, cfg.ProbeBytes)
	}
	e.cache = o.cache
	if e.cache == nil {
		e.cache = cache.NewMemory(cache.WithNow(e.clock.Now))
	}
	durable := o.durable
	if durable == nil {
		if cfg.StateDir != "" {
			durable = kv.NewFile(cfg.StateDir)
		} else {
			durable = kv.NewMemory()
		}
	}

	e.emitter = &eventEmitter{handler: o.eventHandler, now: e.clock.Now}
	e.lifecycle = app.NewLifecycle(e.logger, e.emitter)
	e.dispatch = o.dispatch
	if e.dispatch == nil {
		e.dispatch = e.lifecycle.Go
	}

	e.wire(cfg, o, durable)
	return e, nil
}

func (e *Engine) wire(cfg Config, o options, durable ports.DurableStore) {
	e.tracker = app.NewConnectivityTracker(true, e.clock, e.logger, app.WithTrackerDispatch(e.dispatch))
	e.quality = app.NewQualityMonitor(o.prober, e.clock, e.logger, app.QualityConfig{
		Interval:     cfg.QualityInterval,
		ProbeTimeout: cfg.ProbeTimeout,
	})
	e.queue = app.NewOperationQueue(app.QueueConfig{
		InterOpDelay:       cfg.InterOpDelay,
		CriticalBatchSize:  cfg.CriticalBatchSize,
		CriticalMaxRetries: cfg.CriticalMaxRetries,
		MaxBackoff:         cfg.MaxBackoff,
	}, o.remote, e.cache, e.tracker, e.tracker, e.clock, e.logger)
	e.tracker.SetPendingSource(e.queue)

	e.critical = app.NewCriticalManager(e.cache, durable, e.queue, e.tracker, o.remote, e.tracker, e.clock, e.logger,
		app.WithCriticalDispatch(e.dispatch),
	)

	sources := []app.FailureSource{app.NewQueueSource(e.queue)}
	if failures, ok := e.cache.(ports.CacheFailures); ok {
		sources = append(sources, app.NewCacheMutationSource(failures), app.NewCacheQuerySource(failures))
	}
	if o.workflows != nil {
		sources = append(sources, app.NewWorkflowSource(o.workflows))
	}
	e.registry = app.NewFailureRegistry(sources, e.clock, e.logger,
		app.WithScanInterval(cfg.ScanInterval),
		app.WithRegistryDispatch(e.dispatch),
	)

	if !cfg.DisableLinkWatch {
		e.links = app.NewLinkWatcher(o.prober, e.tracker, e.clock, e.logger, cfg.LinkCheckInterval, cfg.ProbeTimeout)
	}

	// Quality readings reach the queue before the tracker so a drain
	// triggered by a recovered outage already uses the new strategy.
	e.unsubscribe = append(e.unsubscribe,
		e.quality.Subscribe(e.queue),
		e.quality.Subscribe(e.tracker),
		e.quality.Subscribe(e.emitter),
		e.tracker.SubscribeLink(e.quality),
		e.tracker.Subscribe(e.emitter),
		e.queue.SubscribeOperations(e.critical),
		e.queue.SubscribeOperations(e.emitter),
		e.queue.SubscribeProgress(e.emitter),
	)

	if cs, ok := e.cache.(ports.CacheSync); ok {
		e.tracker.OnReconnectCache(cs)
	}
	e.tracker.OnReconnect(e.queue)
	e.tracker.OnReconnect(e.critical)
	e.tracker.OnReconnect(e.registry)

	if cfg.ManualOffline {
		e.tracker.EnableManualOffline()
	}
}

// Start recovers persisted critical operations and begins link watching,
// quality probing and failure scanning, then initializes plugins.
// Returns ErrAlreadyRunning if the engine is running and ErrNotRunning if it
// was destroyed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return fmt.Errorf("engine destroyed: %w", ErrNotRunning)
	}
	if !e.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := e.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.lifecycle.SetCancel(cancel)

	if err := e.critical.Start(runCtx); err != nil {
		e.logger.Error("critical operation recovery failed", ports.Err(err))
		e.stopComponentsLocked()
		_ = e.lifecycle.TransitionTo(app.StateCrashed, "critical recovery failed")
		return err
	}

	if e.links != nil {
		e.links.Start()
	}
	e.quality.Start()
	e.registry.Start()
	e.firstProbe = e.clock.AfterFunc(0, func() { e.quality.TestQuality(runCtx) })

	pluginCfg := PluginConfig{Engine: e, Config: e.config, Logger: e.logger}
	e.initialized = e.initialized[:0]
	for _, p := range e.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			e.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			e.shutdownPluginsLocked()
			e.stopComponentsLocked()
			_ = e.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		e.initialized = append(e.initialized, p)
		e.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if err := e.lifecycle.TransitionTo(app.StateRunning, "started"); err != nil {
		return err
	}
	e.logger.Info("fieldsync started",
		ports.String("service_url", e.config.ServiceURL),
		ports.Bool("online", e.tracker.IsOnline()),
	)
	return nil
}

// Destroy shuts plugins down in reverse order, stops every timer, closes the
// queue and waits for background work. Pending operations stay pending;
// unconfirmed critical operations remain in the durable store for the next
// process. Destroy is idempotent.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return nil
	}
	e.destroyed = true

	running := e.lifecycle.CanStop()
	if running {
		if err := e.lifecycle.TransitionTo(app.StateStopping, "Destroy() called"); err != nil {
			return err
		}
	}

	e.shutdownPluginsLocked()
	e.stopComponentsLocked()
	e.queue.Close()
	for _, unsubscribe := range e.unsubscribe {
		unsubscribe()
	}
	e.unsubscribe = nil

	var errs []error
	if err := e.lifecycle.WaitWithTimeout(app.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	if running {
		if err := e.lifecycle.TransitionTo(app.StateStopped, "Destroy() completed"); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("fieldsync destroyed")
	return errors.Join(errs...)
}

func (e *Engine) stopComponentsLocked() {
	if e.firstProbe != nil {
		e.firstProbe.Stop()
		e.firstProbe = nil
	}
	if e.links != nil {
		e.links.Stop()
	}
	e.quality.Stop()
	e.registry.Stop()
	e.lifecycle.Cancel()
}

func (e *Engine) shutdownPluginsLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	for i := len(e.initialized) - 1; i >= 0; i-- {
		p := e.initialized[i]
		if err := p.Shutdown(ctx); err != nil {
			e.logger.Warn("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			continue
		}
		e.logger.Info("plugin shut down", ports.String("plugin", p.Name()))
	}
	e.initialized = nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.lifecycle.State()
}

// Config returns the configuration after defaults were applied.
func (e *Engine) Config() Config {
	return e.config
}

// Enqueue queues a create, update or delete of entityType. The entity id is
// taken from payload["id"]. Enqueue returns the operation id; remote
// failures never surface here, they appear in FailedOperations.
func (e *Engine) Enqueue(kind OperationKind, entityType string, payload, originalPayload Payload, priority Priority) (string, error) {
	return e.queue.Enqueue(kind, entityType, payload, originalPayload, priority)
}

// EnqueueOperation queues op as is. An empty id is assigned; an id already
// pending only raises its priority.
func (e *Engine) EnqueueOperation(op Operation) (string, error) {
	return e.queue.EnqueueOperation(op)
}

// PendingCounts returns pending operations by priority.
func (e *Engine) PendingCounts() PendingCounts {
	return e.queue.PendingCounts()
}

// PendingOperations returns pending operations in enqueue order.
func (e *Engine) PendingOperations() []Operation {
	return e.queue.Pending()
}

// CurrentBatch returns the batch being executed, if any.
func (e *Engine) CurrentBatch() (BatchExecution, bool) {
	return e.queue.CurrentBatch()
}

// SubscribeToProgress calls fn with every batch snapshot and returns a
// function removing it. A panicking fn is logged and does not stop the drain.
func (e *Engine) SubscribeToProgress(fn func(BatchExecution)) func() {
	return e.queue.SubscribeProgress(app.ProgressListenerFunc(fn))
}

// ForceProcess drains the queue now, bypassing the debounce. It returns
// ErrOffline while offline and ErrDrainInProgress if a drain is running.
func (e *Engine) ForceProcess(ctx context.Context) error {
	return e.queue.ProcessNow(ctx)
}

// Promote raises a pending operation to critical priority.
func (e *Engine) Promote(id string) bool {
	return e.queue.Promote(id)
}

// ClearPending drops every pending operation and cancels scheduled drains.
func (e *Engine) ClearPending() {
	e.queue.ClearPending()
}

// ApplyCriticalChange writes the optimistic payload to the cache, persists
// the change durably and schedules its remote write.
func (e *Engine) ApplyCriticalChange(ctx context.Context, change CriticalChange) (string, error) {
	return e.critical.ApplyCriticalChange(ctx, change)
}

// PendingCriticalOperations returns unconfirmed critical operations, oldest
// first.
func (e *Engine) PendingCriticalOperations() []CriticalOperation {
	return e.critical.Pending()
}

// FailedOperations rescans every failure source, drops records that have
// since resolved and returns the rest, most recent first.
func (e *Engine) FailedOperations(ctx context.Context) []FailedOperationRecord {
	e.registry.ClearResolved(ctx)
	return e.registry.FailedOperations()
}

// RetryableOperations returns the records that may still be retried.
func (e *Engine) RetryableOperations() []FailedOperationRecord {
	return e.registry.Retryable()
}

// RetryStats summarizes the failure registry.
func (e *Engine) RetryStats() RetryStats {
	return e.registry.Stats()
}

// Retry re-runs one failed operation through its source.
func (e *Engine) Retry(ctx context.Context, id string) RetryResult {
	return e.registry.Retry(ctx, id)
}

// RetryAll retries every retryable record.
func (e *Engine) RetryAll(ctx context.Context) []RetryResult {
	return e.registry.RetryAll(ctx)
}

// ClearResolved drops records whose source no longer reports them and
// returns how many were dropped.
func (e *Engine) ClearResolved(ctx context.Context) int {
	return e.registry.ClearResolved(ctx)
}

// ConnectionQuality returns the latest quality reading.
func (e *Engine) ConnectionQuality() ConnectionQualitySnapshot {
	return e.quality.Current()
}

// QualityHistory returns recent quality readings, oldest first.
func (e *Engine) QualityHistory() []ConnectionQualitySnapshot {
	return e.quality.History()
}

// Strategy returns the adaptive strategy in effect.
func (e *Engine) Strategy() AdaptiveStrategy {
	return e.quality.Strategy()
}

// TestConnectionQuality probes now. Concurrent callers share one probe.
func (e *Engine) TestConnectionQuality(ctx context.Context) ConnectionQualitySnapshot {
	return e.quality.TestQuality(ctx)
}

// EnableManualOffline forces the engine offline until disabled.
func (e *Engine) EnableManualOffline() {
	e.tracker.EnableManualOffline()
}

// DisableManualOffline lifts manual offline mode.
func (e *Engine) DisableManualOffline() {
	e.tracker.DisableManualOffline()
}

// SetLinkState reports the raw network link state. Hosts that disable the
// link watcher call this from their own network callbacks.
func (e *Engine) SetLinkState(connected bool) {
	e.tracker.SetLinkState(connected)
}

// IsOnline reports whether the engine currently syncs.
func (e *Engine) IsOnline() bool {
	return e.tracker.IsOnline()
}

// Status returns the aggregated offline status.
func (e *Engine) Status() OfflineStatus {
	return e.tracker.Status()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
