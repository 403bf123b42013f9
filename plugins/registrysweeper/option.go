package registrysweeper

import "github.com/bft-labs/fieldsync/pkg/fieldsync"

// WithRegistrySweeper returns a fieldsync Option that periodically clears
// resolved failure records.
//
// Usage:
//
//	engine, err := fieldsync.New(cfg,
//	    registrysweeper.WithRegistrySweeper(registrysweeper.Config{
//	        Interval: 30 * time.Minute,
//	    }),
//	)
func WithRegistrySweeper(cfg Config) fieldsync.Option {
	return fieldsync.WithPlugin(New(cfg))
}

// WithDefaultRegistrySweeper enables the sweeper with default settings
// (hourly, plus once at startup).
func WithDefaultRegistrySweeper() fieldsync.Option {
	return WithRegistrySweeper(DefaultConfig())
}
