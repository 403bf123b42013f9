// Package ports defines the interfaces (ports) that connect the sync core to
// its external collaborators.
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with concrete
// backends (HTTP, sqlite, files, in-memory cache, real or virtual clocks).
//
// # Port Interfaces
//
//   - [Cache], [CacheSync], [CacheFailures]: the UI's reactive cache
//   - [DurableStore]: string key-value storage that survives restarts
//   - [RemoteStore], [RemoteResolver]: backend CRUD per entity type
//   - [Prober]: latency and throughput probes
//   - [Clock]: timers and sleeps, replaceable by a virtual clock in tests
//   - [WorkflowSource]: domain workflow failures (e.g. stalled multi-step jobs)
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
package ports
