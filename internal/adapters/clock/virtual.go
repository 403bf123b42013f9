package clock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/internal/ports"
)

// Virtual is a manually advanced clock. Timers fire synchronously, in due
// order, on the goroutine calling Advance. Sleep moves time forward without
// firing timers, so code sleeping inside a timer callback cannot re-enter
// itself.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*virtualTimer
	sleeps time.Duration
}

type virtualTimer struct {
	clock *Virtual
	at    time.Time
	seq   uint64
	fn    func()
}

// NewVirtual returns a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules fn at Now()+d.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) ports.Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{clock: v, at: v.now.Add(d), seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

// Sleep advances the clock by d.
func (v *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	v.mu.Lock()
	v.now = v.now.Add(d)
	v.sleeps += d
	v.mu.Unlock()
	return nil
}

// Advance moves the clock forward by d, firing every timer due on the way,
// including timers scheduled by callbacks that fall inside the window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		if v.now.After(target) {
			target = v.now
		}
		t := v.nextDueLocked(target)
		if t == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		if t.at.After(v.now) {
			v.now = t.at
		}
		v.mu.Unlock()

		t.fn()
	}
}

// Flush fires every timer that is already due without moving the clock.
func (v *Virtual) Flush() {
	v.Advance(0)
}

// PendingTimers returns the number of scheduled, unfired timers.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// Slept returns the total duration passed to Sleep.
func (v *Virtual) Slept() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sleeps
}

// nextDueLocked removes and returns the earliest timer due at or before target.
func (v *Virtual) nextDueLocked(target time.Time) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].at.Equal(v.timers[j].at) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].at.Before(v.timers[j].at)
	})
	t := v.timers[0]
	if t.at.After(target) {
		return nil
	}
	v.timers = v.timers[1:]
	return t
}

// Stop unschedules the timer.
func (t *virtualTimer) Stop() bool {
	v := t.clock
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, other := range v.timers {
		if other == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return true
		}
	}
	return false
}
