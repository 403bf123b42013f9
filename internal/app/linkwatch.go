package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/internal/ports"
)

// DefaultLinkInterval is how often the link watcher pings the backend.
const DefaultLinkInterval = 10 * time.Second

// LinkSink receives raw link state.
type LinkSink interface {
	SetLinkState(connected bool)
}

// LinkWatcher derives the raw link signal from periodic pings.
type LinkWatcher struct {
	prober   ports.Prober
	sink     LinkSink
	clock    ports.Clock
	logger   ports.Logger
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	timer   ports.Timer
	running bool
}

// NewLinkWatcher creates a watcher. Non-positive durations use defaults.
func NewLinkWatcher(prober ports.Prober, sink LinkSink, clock ports.Clock, logger ports.Logger, interval, timeout time.Duration) *LinkWatcher {
	if interval <= 0 {
		interval = DefaultLinkInterval
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &LinkWatcher{
		prober:   prober,
		sink:     sink,
		clock:    clock,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Check pings once and reports the result to the sink.
func (w *LinkWatcher) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	_, err := w.prober.Ping(ctx)
	if err != nil {
		w.logger.Debug("link check failed", ports.Err(err))
	}
	w.sink.SetLinkState(err == nil)
	return err == nil
}

// Start checks immediately and then on every interval.
func (w *LinkWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.timer = w.clock.AfterFunc(0, w.tick)
}

// Stop ends the periodic checks.
func (w *LinkWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *LinkWatcher) tick() {
	w.Check(context.Background())

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.timer = w.clock.AfterFunc(w.interval, w.tick)
	}
}
