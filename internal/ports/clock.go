package ports

import (
	"context"
	"time"
)

// Timer is a handle to a callback scheduled with Clock.AfterFunc.
type Timer interface {
	// Stop cancels the callback. It returns false if it already fired or was stopped.
	Stop() bool
}

// Clock is the scheduling port. Components never call the time package for
// timers directly so they can run against a virtual clock.
type Clock interface {
	Now() time.Time

	// AfterFunc calls fn once, after d, on an unspecified goroutine.
	AfterFunc(d time.Duration, fn func()) Timer

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}
