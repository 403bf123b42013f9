package ports

import (
	"context"
	"time"
)

// Prober measures the connection to the backend.
type Prober interface {
	// Ping performs a lightweight round trip and returns its latency.
	Ping(ctx context.Context) (time.Duration, error)

	// Download performs a timed fixed-size transfer and returns the number of
	// bytes received and how long it took.
	Download(ctx context.Context) (int64, time.Duration, error)
}
