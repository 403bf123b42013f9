package fieldsync

// Option configures optional behavior of the Engine.
type Option func(*options)

// options holds the optional dependencies of an Engine. Nil fields are
// filled in by New.
type options struct {
	logger       Logger
	clock        Clock
	cache        Cache
	durable      DurableStore
	remote       RemoteResolver
	prober       Prober
	workflows    WorkflowSource
	httpClient   HTTPClient
	eventHandler EventHandler
	plugins      []Plugin
	dispatch     func(func())
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces the wall clock. Tests pass a virtual clock.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithCache sets the reactive cache the engine writes optimistic and
// confirmed records to. If the cache also implements resume/refetch or
// failure reporting it is wired into reconnect handling and the failure
// registry. Default: an in-memory cache.
func WithCache(cache Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithDurableStore sets where critical operations are persisted.
// Default: a JSON file under Config.StateDir, or memory if StateDir is empty.
func WithDurableStore(store DurableStore) Option {
	return func(o *options) {
		o.durable = store
	}
}

// WithRemote replaces the HTTP backend resolver.
func WithRemote(remote RemoteResolver) Option {
	return func(o *options) {
		o.remote = remote
	}
}

// WithProber replaces the HTTP latency/throughput prober.
func WithProber(prober Prober) Option {
	return func(o *options) {
		o.prober = prober
	}
}

// WithWorkflowSource adds domain workflow failures to the failure registry.
func WithWorkflowSource(source WorkflowSource) Option {
	return func(o *options) {
		o.workflows = source
	}
}

// WithHTTPClient sets a custom HTTP client for backend communication.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithEventHandler sets a handler for engine events.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the engine starts.
// Plugins are initialized in registration order and shut down in reverse
// order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithDispatch sets how background work (immediate critical writes,
// reconnect handlers, periodic scans) is run. The default runs each call on
// a goroutine tracked by the engine so Destroy can wait for it.
func WithDispatch(dispatch func(func())) Option {
	return func(o *options) {
		o.dispatch = dispatch
	}
}
