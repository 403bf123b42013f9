// Package clock provides ports.Clock implementations: the wall clock and a
// manually advanced virtual clock for deterministic tests.
package clock

import (
	"context"
	"time"

	"github.com/bft-labs/fieldsync/internal/ports"
)

// Real implements ports.Clock with the time package.
type Real struct{}

// NewReal returns the wall clock.
func NewReal() Real {
	return Real{}
}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc calls fn in its own goroutine after d.
func (Real) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return time.AfterFunc(d, fn)
}

// Sleep blocks for d or until ctx is done.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
