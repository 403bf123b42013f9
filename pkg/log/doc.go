// Package log provides the structured logging abstraction used by every
// fieldsync component.
//
// Components depend only on the Logger interface. The zerolog adapter is used
// by the daemon; the no-op logger is the library default and the test default.
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	logger.Info("batch completed", log.String("batch_id", id), log.Int("ops", n))
//
// Loggers can be scoped to a component:
//
//	qlog := log.With(logger, log.String("component", "queue"))
package log
