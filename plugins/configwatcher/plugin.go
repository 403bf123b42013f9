// Package configwatcher provides config file monitoring for fieldsync.
// When enabled, it watches the daemon config file and applies changes to
// manual_offline and log_level without a restart.
package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/fieldsync/pkg/fieldsync"
	"github.com/bft-labs/fieldsync/pkg/log"
)

// offlineSwitch is the part of the engine the plugin drives.
type offlineSwitch interface {
	EnableManualOffline()
	DisableManualOffline()
}

// settings are the live-reloadable keys of the config file.
type settings struct {
	ManualOffline *bool  `toml:"manual_offline"`
	LogLevel      string `toml:"log_level"`
}

// Plugin implements config watching functionality.
type Plugin struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration
	onLogLevel    func(string) error

	target   offlineSwitch
	logger   fieldsync.Logger
	current  settings
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file to watch. Empty disables the plugin.
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// OnLogLevel is called with the new level name when log_level changes.
	OnLogLevel func(level string) error
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
		onLogLevel:    cfg.OnLogLevel,
		logger:        log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize records the current file contents and starts the watcher.
func (p *Plugin) Initialize(ctx context.Context, cfg fieldsync.PluginConfig) error {
	var target offlineSwitch
	if cfg.Engine != nil {
		target = cfg.Engine
	}
	return p.start(ctx, target, cfg.Logger)
}

func (p *Plugin) start(ctx context.Context, target offlineSwitch, logger fieldsync.Logger) error {
	p.mu.Lock()
	p.target = target
	if logger != nil {
		p.logger = log.With(logger, log.String("plugin", p.Name()))
	}
	p.mu.Unlock()

	if p.path == "" || target == nil {
		p.logger.Warn("config watcher disabled: no config file or engine")
		return nil
	}

	if s, err := readSettings(p.path); err == nil {
		p.mu.Lock()
		p.current = s
		p.mu.Unlock()
	} else if !os.IsNotExist(err) {
		p.logger.Warn("config watcher: initial read failed", log.Err(err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher plugin initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

// reload re-reads the file and applies keys whose value changed.
func (p *Plugin) reload() {
	next, err := readSettings(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("config watcher: reload failed", log.Err(err))
		}
		return
	}

	p.mu.Lock()
	prev := p.current
	p.current = next
	target := p.target
	p.mu.Unlock()

	if next.ManualOffline != nil && (prev.ManualOffline == nil || *prev.ManualOffline != *next.ManualOffline) {
		if *next.ManualOffline {
			target.EnableManualOffline()
		} else {
			target.DisableManualOffline()
		}
		p.logger.Info("config watcher: applied manual_offline", log.Bool("manual_offline", *next.ManualOffline))
	}

	if next.LogLevel != "" && next.LogLevel != prev.LogLevel && p.onLogLevel != nil {
		if err := p.onLogLevel(next.LogLevel); err != nil {
			p.logger.Warn("config watcher: rejected log_level", log.String("log_level", next.LogLevel), log.Err(err))
			return
		}
		p.logger.Info("config watcher: applied log_level", log.String("log_level", next.LogLevel))
	}
}

func readSettings(path string) (settings, error) {
	var s settings
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := toml.Unmarshal(b, &s); err != nil {
		return s, err
	}
	return s, nil
}

// Ensure Plugin implements fieldsync.Plugin.
var _ fieldsync.Plugin = (*Plugin)(nil)
