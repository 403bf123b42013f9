package fieldsync

import "context"

// Plugin extends the engine with optional behavior. Plugins are initialized
// in registration order once the engine components are running and shut
// down in reverse order by Destroy.
type Plugin interface {
	// Name returns a unique identifier used in logs.
	Name() string

	// Initialize is called from Start. A returned error aborts the start and
	// leaves the engine in StateCrashed.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called from Destroy. Errors are logged.
	Shutdown(ctx context.Context) error
}

// PluginConfig is handed to plugins on Initialize.
type PluginConfig struct {
	// Engine is the running engine the plugin may drive.
	Engine *Engine

	// Config is the engine configuration after defaults.
	Config Config

	Logger Logger
}
