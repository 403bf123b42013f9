package configwatcher

import "github.com/bft-labs/fieldsync/pkg/fieldsync"

// WithConfigWatcher returns a fieldsync Option that enables config file watching.
//
// Usage:
//
//	engine, err := fieldsync.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:          "/home/field/.fieldsync/config.toml",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) fieldsync.Option {
	return fieldsync.WithPlugin(New(cfg))
}
