package fieldsync

import (
	"fmt"
	"net/url"
	"time"

	"github.com/bft-labs/fieldsync/internal/app"
)

// Default configuration values.
const (
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultQualityInterval   = app.DefaultQualityInterval
	DefaultLinkCheckInterval = app.DefaultLinkInterval
	DefaultScanInterval      = app.DefaultScanInterval
	DefaultInterOpDelay      = app.DefaultInterOpDelay
	DefaultCriticalBatchSize = app.CriticalBatchSize
	DefaultCriticalRetries   = app.DefaultCriticalRetry
	DefaultMaxBackoff        = app.DefaultBackoffMax
)

// Config holds the engine configuration.
type Config struct {
	// ServiceURL is the backend base URL. Required unless both WithRemote
	// and WithProber are given.
	ServiceURL string

	// AuthKey is sent as a bearer token.
	AuthKey string

	// DeviceID identifies this device to the backend.
	DeviceID string

	// StateDir holds the durable store file when no DurableStore is given.
	// Empty keeps critical operations in memory only.
	StateDir string

	// HTTPTimeout bounds every backend request. Default: 30s
	HTTPTimeout time.Duration

	// QualityInterval is the period between network quality probes. Default: 30s
	QualityInterval time.Duration

	// ProbeTimeout bounds a single probe. Default: 10s
	ProbeTimeout time.Duration

	// ProbeBytes is the size of the throughput probe download.
	ProbeBytes int

	// LinkCheckInterval is the period of the link reachability ping. Default: 10s
	LinkCheckInterval time.Duration

	// DisableLinkWatch turns the ping based link watcher off. The host is
	// then expected to call SetLinkState itself.
	DisableLinkWatch bool

	// ScanInterval is the period of the failure registry scan. Default: 15s
	ScanInterval time.Duration

	// InterOpDelay is the pause between writes inside a batch. Default: 100ms
	InterOpDelay time.Duration

	// CriticalBatchSize caps batches of critical operations. Default: 5
	CriticalBatchSize int

	// CriticalMaxRetries is the number of failed attempts a critical
	// operation survives before it is dead-lettered. Default: 3
	CriticalMaxRetries int

	// MaxBackoff caps the retry backoff of retained operations. Default: 60s
	MaxBackoff time.Duration

	// ManualOffline starts the engine in manual offline mode.
	ManualOffline bool
}

// SetDefaults fills in default values for unset fields.
func (c *Config) SetDefaults() {
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.QualityInterval == 0 {
		c.QualityInterval = DefaultQualityInterval
	}
	if c.LinkCheckInterval == 0 {
		c.LinkCheckInterval = DefaultLinkCheckInterval
	}
	if c.ScanInterval == 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.InterOpDelay == 0 {
		c.InterOpDelay = DefaultInterOpDelay
	}
	if c.CriticalBatchSize == 0 {
		c.CriticalBatchSize = DefaultCriticalBatchSize
	}
	if c.CriticalMaxRetries == 0 {
		c.CriticalMaxRetries = DefaultCriticalRetries
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
}

// Validate checks that the configuration is usable.
// Returns an error wrapping ErrInvalidConfig if validation fails.
func (c *Config) Validate() error {
	if c.ServiceURL != "" {
		u, err := url.Parse(c.ServiceURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: service URL %q is not an absolute URL", ErrInvalidConfig, c.ServiceURL)
		}
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"http timeout", c.HTTPTimeout},
		{"quality interval", c.QualityInterval},
		{"probe timeout", c.ProbeTimeout},
		{"link check interval", c.LinkCheckInterval},
		{"scan interval", c.ScanInterval},
		{"inter-op delay", c.InterOpDelay},
		{"max backoff", c.MaxBackoff},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, d.name)
		}
	}

	if c.CriticalBatchSize < 0 {
		return fmt.Errorf("%w: critical batch size must not be negative", ErrInvalidConfig)
	}
	if c.CriticalMaxRetries < 0 {
		return fmt.Errorf("%w: critical max retries must not be negative", ErrInvalidConfig)
	}
	if c.ProbeBytes < 0 {
		return fmt.Errorf("%w: probe bytes must not be negative", ErrInvalidConfig)
	}
	return nil
}
