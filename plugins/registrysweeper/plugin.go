// Package registrysweeper periodically drops failure records whose source no
// longer reports them, so the failed list only shows work that still needs
// attention.
package registrysweeper

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/pkg/fieldsync"
	"github.com/bft-labs/fieldsync/pkg/log"
)

// clearer is the part of the engine the sweeper drives.
type clearer interface {
	ClearResolved(ctx context.Context) int
}

// Plugin implements the sweep loop.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	interval       time.Duration
	runImmediately bool

	// Runtime state
	target clearer
	logger fieldsync.Logger
	swept  int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration options for the sweeper plugin.
type Config struct {
	// Interval is how often resolved records are cleared.
	// Default: 1 hour
	Interval time.Duration

	// RunImmediately if true, sweeps once on startup.
	RunImmediately bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Hour,
		RunImmediately: true,
	}
}

// New creates a new sweeper plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Plugin{
		interval:       cfg.Interval,
		runImmediately: cfg.RunImmediately,
		logger:         log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "registrysweeper"
}

// Initialize starts the sweep loop against the engine.
func (p *Plugin) Initialize(ctx context.Context, cfg fieldsync.PluginConfig) error {
	var target clearer
	if cfg.Engine != nil {
		target = cfg.Engine
	}
	p.start(ctx, target, cfg.Logger)
	return nil
}

func (p *Plugin) start(ctx context.Context, target clearer, logger fieldsync.Logger) {
	p.mu.Lock()
	p.target = target
	if logger != nil {
		p.logger = log.With(logger, log.String("plugin", p.Name()))
	}
	p.mu.Unlock()

	if target == nil {
		p.logger.Warn("registry sweeper disabled: no engine")
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("registry sweeper plugin initialized", log.Duration("interval", p.interval))

	p.wg.Add(1)
	go p.sweepLoop(sweepCtx)
}

// Shutdown stops the sweep loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

// Swept returns the number of records cleared since Initialize.
func (p *Plugin) Swept() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.swept
}

func (p *Plugin) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.runImmediately {
		p.sweepOnce(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Plugin) sweepOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p.mu.RLock()
	target := p.target
	p.mu.RUnlock()

	removed := target.ClearResolved(ctx)
	if removed == 0 {
		return
	}

	p.mu.Lock()
	p.swept += removed
	p.mu.Unlock()
	p.logger.Debug("registry sweep completed", log.Int("removed", removed))
}

// Ensure Plugin implements fieldsync.Plugin.
var _ fieldsync.Plugin = (*Plugin)(nil)
