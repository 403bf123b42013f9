package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// InferOfflineAfter is the number of consecutive network-classified sync
// failures after which the tracker considers the backend unreachable.
const InferOfflineAfter = 3

// ReconnectHandler runs when the tracker transitions from offline to online.
type ReconnectHandler interface {
	OnReconnect(ctx context.Context)
}

// ReconnectFunc adapts a function to ReconnectHandler.
type ReconnectFunc func(ctx context.Context)

// OnReconnect calls f.
func (f ReconnectFunc) OnReconnect(ctx context.Context) { f(ctx) }

// LinkListener is notified when the raw link state changes.
type LinkListener interface {
	OnLinkChange(connected bool)
}

// StatusListener is notified whenever the effective online state changes.
type StatusListener interface {
	OnConnectivityChange(status domain.OfflineStatus)
}

// PendingSource reports queue counts for status aggregation.
type PendingSource interface {
	PendingCounts() domain.PendingCounts
}

// ConnectivityTracker combines the raw link signal, the manual override and
// the inferred outage into a single online/offline state.
type ConnectivityTracker struct {
	clock    ports.Clock
	logger   ports.Logger
	dispatch func(func())

	mu        sync.Mutex
	connected bool
	manual    bool
	inferred  bool
	failures  int
	tier      domain.QualityTier
	lastSync  *time.Time
	pending   PendingSource
	handlers  []ReconnectHandler

	links    *observers[LinkListener]
	statuses *observers[StatusListener]
}

// TrackerOption configures a ConnectivityTracker.
type TrackerOption func(*ConnectivityTracker)

// WithTrackerDispatch sets how blocking reconnect work is run. The default
// starts a goroutine.
func WithTrackerDispatch(dispatch func(func())) TrackerOption {
	return func(t *ConnectivityTracker) { t.dispatch = dispatch }
}

// NewConnectivityTracker creates a tracker whose link starts in the given state.
func NewConnectivityTracker(connected bool, clock ports.Clock, logger ports.Logger, opts ...TrackerOption) *ConnectivityTracker {
	t := &ConnectivityTracker{
		clock:     clock,
		logger:    logger,
		dispatch:  dispatchAsync,
		connected: connected,
		tier:      domain.TierGood,
		links:     newObservers[LinkListener]("link", logger),
		statuses:  newObservers[StatusListener]("connectivity", logger),
	}
	if !connected {
		t.tier = domain.TierOffline
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPendingSource sets the queue whose counts Status reports.
func (t *ConnectivityTracker) SetPendingSource(src PendingSource) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = src
}

// OnReconnect registers h. Handlers run in registration order.
func (t *ConnectivityTracker) OnReconnect(h ReconnectHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// OnReconnectCache registers the cache resume/refetch step. It runs through
// the dispatcher since both calls block on the backend.
func (t *ConnectivityTracker) OnReconnectCache(cache ports.CacheSync) {
	t.OnReconnect(ReconnectFunc(func(ctx context.Context) {
		t.dispatch(func() {
			if err := cache.ResumePausedMutations(ctx); err != nil {
				t.logger.Warn("resume paused mutations failed", ports.Err(err))
			}
			if err := cache.RefetchStale(ctx); err != nil {
				t.logger.Warn("refetch stale queries failed", ports.Err(err))
			}
		})
	}))
}

// SubscribeLink registers l for raw link changes.
func (t *ConnectivityTracker) SubscribeLink(l LinkListener) func() {
	return t.links.add(l)
}

// Subscribe registers l for effective online state changes.
func (t *ConnectivityTracker) Subscribe(l StatusListener) func() {
	return t.statuses.add(l)
}

// IsOnline reports whether the link is up, no manual override is set and no
// outage has been inferred.
func (t *ConnectivityTracker) IsOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineLocked()
}

// IsConnected reports the raw link state.
func (t *ConnectivityTracker) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SetLinkState records the raw link state reported by the platform.
func (t *ConnectivityTracker) SetLinkState(connected bool) {
	t.update("link", func() bool {
		if t.connected == connected {
			return false
		}
		t.connected = connected
		return true
	})
}

// EnableManualOffline forces the tracker offline.
func (t *ConnectivityTracker) EnableManualOffline() {
	t.update("manual", func() bool {
		changed := !t.manual
		t.manual = true
		return changed
	})
}

// DisableManualOffline clears the manual override.
func (t *ConnectivityTracker) DisableManualOffline() {
	t.update("manual", func() bool {
		changed := t.manual
		t.manual = false
		return changed
	})
}

// RecordSyncSuccess clears the failure streak and any inferred outage.
func (t *ConnectivityTracker) RecordSyncSuccess(at time.Time) {
	t.update("sync", func() bool {
		t.lastSync = &at
		t.failures = 0
		changed := t.inferred
		t.inferred = false
		return changed
	})
}

// RecordSyncFailure counts network-classified failures and infers an outage
// after InferOfflineAfter in a row. Any other failure means the backend
// answered, so it ends the streak.
func (t *ConnectivityTracker) RecordSyncFailure(err error) {
	if !domain.IsNetwork(err) {
		t.update("sync", func() bool {
			t.failures = 0
			return false
		})
		return
	}
	t.update("sync", func() bool {
		t.failures++
		if t.inferred || t.failures < InferOfflineAfter {
			return false
		}
		t.inferred = true
		t.logger.Warn("backend unreachable, going offline",
			ports.Int("consecutive_failures", t.failures),
			ports.Err(err),
		)
		return true
	})
}

// OnQualityChange tracks the tier; a non-offline reading clears an inferred
// outage.
func (t *ConnectivityTracker) OnQualityChange(s domain.ConnectionQualitySnapshot, _ domain.AdaptiveStrategy) {
	t.update("quality", func() bool {
		t.tier = s.Tier
		if s.Tier == domain.TierOffline || !t.inferred {
			return false
		}
		t.inferred = false
		t.failures = 0
		return true
	})
}

// Status aggregates connectivity and queue state.
func (t *ConnectivityTracker) Status() domain.OfflineStatus {
	t.mu.Lock()
	status := t.statusLocked()
	pending := t.pending
	t.mu.Unlock()

	if pending != nil {
		status.Pending = pending.PendingCounts()
	}
	status.EstimatedSyncSeconds = float64(status.Pending.Total) * status.Tier.PerOperationEstimate().Seconds()
	return status
}

func (t *ConnectivityTracker) statusLocked() domain.OfflineStatus {
	tier := t.tier
	if !t.connected {
		tier = domain.TierOffline
	}
	var lastSync *time.Time
	if t.lastSync != nil {
		ls := *t.lastSync
		lastSync = &ls
	}
	return domain.OfflineStatus{
		IsOnline:        t.onlineLocked(),
		IsConnected:     t.connected,
		ManualOffline:   t.manual,
		InferredOffline: t.inferred,
		Tier:            tier,
		LastSyncAt:      lastSync,
	}
}

func (t *ConnectivityTracker) onlineLocked() bool {
	return t.connected && !t.manual && !t.inferred
}

// update applies mutate under the lock and then runs the side effects of
// whatever changed: link listeners, status listeners and, on an
// offline→online transition, the reconnect handlers.
func (t *ConnectivityTracker) update(reason string, mutate func() bool) {
	t.mu.Lock()
	wasOnline := t.onlineLocked()
	wasConnected := t.connected
	if !mutate() {
		t.mu.Unlock()
		return
	}
	isOnline := t.onlineLocked()
	isConnected := t.connected
	handlers := append([]ReconnectHandler(nil), t.handlers...)
	t.mu.Unlock()

	if wasConnected != isConnected {
		t.links.each(func(l LinkListener) { l.OnLinkChange(isConnected) })
	}
	if wasOnline == isOnline {
		return
	}

	t.logger.Info("connectivity changed",
		ports.Bool("online", isOnline),
		ports.String("reason", reason),
	)
	status := t.Status()
	t.statuses.each(func(l StatusListener) { l.OnConnectivityChange(status) })

	if isOnline {
		ctx := context.Background()
		for _, h := range handlers {
			t.runHandler(ctx, h)
		}
	}
}

func (t *ConnectivityTracker) runHandler(ctx context.Context, h ReconnectHandler) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("reconnect handler panicked", ports.Any("panic", r))
		}
	}()
	h.OnReconnect(ctx)
}
