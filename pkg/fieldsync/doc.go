// Package fieldsync is an offline-first mutation sync engine for field
// applications.
//
// The Engine queues create/update/delete operations against a remote store,
// drains them in priority ordered batches sized to the measured connection
// quality, keeps critical business changes (inventory counts, job status)
// durable until the backend acknowledges them, and aggregates failures from
// every source into one retry registry.
//
// # Quick Start
//
//	engine, err := fieldsync.New(fieldsync.Config{
//		ServiceURL: "https://api.example.com",
//		AuthKey:    "your-auth-key",
//		StateDir:   "/var/lib/fieldsync",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := engine.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Destroy()
//
//	engine.Enqueue(fieldsync.KindUpdate, fieldsync.EntityJob,
//		fieldsync.Payload{"id": "job-1", "status": "done"}, nil, fieldsync.PriorityNormal)
//
// # Connectivity
//
// The engine is online when the link is up, manual offline mode is off and
// the backend has not been inferred unreachable. Going back online runs the
// reconnect handlers in order: cache resume, queue drain, critical re-queue,
// failure retry.
//
// # Events
//
// Implement EventHandler, embedding BaseEventHandler for the callbacks you
// do not need, and pass it with WithEventHandler.
//
// # Plugins
//
// Plugins are initialized in registration order after the engine starts and
// shut down in reverse order. See plugins/configwatcher.
package fieldsync
