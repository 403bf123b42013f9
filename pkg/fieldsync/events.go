package fieldsync

import (
	"time"

	"github.com/bft-labs/fieldsync/internal/app"
	"github.com/bft-labs/fieldsync/internal/domain"
)

// StateChangeEvent is emitted when the engine lifecycle state changes.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// QualityChangeEvent is emitted after every network quality reading.
type QualityChangeEvent struct {
	Snapshot ConnectionQualitySnapshot
	Strategy AdaptiveStrategy
}

// OperationFailedEvent is emitted when a queued operation is moved to the
// dead-letter set.
type OperationFailedEvent struct {
	Operation Operation
	Error     error
	Kind      ErrorKind
	FailedAt  time.Time
}

// EventHandler receives engine events. Callbacks run synchronously on the
// goroutine that produced the event and must not block.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnBatchProgress(batch BatchExecution)
	OnConnectivityChange(status OfflineStatus)
	OnQualityChange(event QualityChangeEvent)
	OnOperationFailed(event OperationFailedEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)         {}
func (BaseEventHandler) OnBatchProgress(BatchExecution)         {}
func (BaseEventHandler) OnConnectivityChange(OfflineStatus)     {}
func (BaseEventHandler) OnQualityChange(QualityChangeEvent)     {}
func (BaseEventHandler) OnOperationFailed(OperationFailedEvent) {}

// eventEmitter adapts the internal listener interfaces to the public
// EventHandler. The zero value drops every event.
type eventEmitter struct {
	handler EventHandler
	now     func() time.Time
}

var (
	_ app.StateObserver     = (*eventEmitter)(nil)
	_ app.ProgressListener  = (*eventEmitter)(nil)
	_ app.StatusListener    = (*eventEmitter)(nil)
	_ app.QualityListener   = (*eventEmitter)(nil)
	_ app.OperationListener = (*eventEmitter)(nil)
)

func (e *eventEmitter) OnStateChange(previous, current app.State, reason string) {
	if e.handler != nil {
		e.handler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
	}
}

func (e *eventEmitter) OnBatchProgress(batch domain.BatchExecution) {
	if e.handler != nil {
		e.handler.OnBatchProgress(batch)
	}
}

func (e *eventEmitter) OnConnectivityChange(status domain.OfflineStatus) {
	if e.handler != nil {
		e.handler.OnConnectivityChange(status)
	}
}

func (e *eventEmitter) OnQualityChange(s domain.ConnectionQualitySnapshot, strategy domain.AdaptiveStrategy) {
	if e.handler != nil {
		e.handler.OnQualityChange(QualityChangeEvent{Snapshot: s, Strategy: strategy})
	}
}

func (e *eventEmitter) OnOperationSucceeded(domain.Operation, domain.Payload) {}

func (e *eventEmitter) OnOperationExhausted(op domain.Operation, err error) {
	if e.handler != nil {
		e.handler.OnOperationFailed(OperationFailedEvent{
			Operation: op,
			Error:     err,
			Kind:      domain.Classify(err),
			FailedAt:  e.now(),
		})
	}
}
