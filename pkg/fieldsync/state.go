package fieldsync

import "github.com/bft-labs/fieldsync/internal/app"

// State represents the lifecycle state of an Engine.
type State = app.State

const (
	StateStopped  = app.StateStopped
	StateStarting = app.StateStarting
	StateRunning  = app.StateRunning
	StateStopping = app.StateStopping
	StateCrashed  = app.StateCrashed
)
