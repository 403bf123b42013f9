// Package log provides logger adapters that complement pkg/log.
package log

import (
	"sync"

	"github.com/bft-labs/fieldsync/internal/ports"
)

// Entry is one recorded log call.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// Recorder implements ports.Logger by keeping every entry in memory. It is
// used by tests that assert on warnings.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Debug(msg string, fields ...ports.Field) { r.record("debug", msg, fields) }
func (r *Recorder) Info(msg string, fields ...ports.Field)  { r.record("info", msg, fields) }
func (r *Recorder) Warn(msg string, fields ...ports.Field)  { r.record("warn", msg, fields) }
func (r *Recorder) Error(msg string, fields ...ports.Field) { r.record("error", msg, fields) }

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many entries were recorded at level.
func (r *Recorder) Count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Has reports whether an entry with level and msg was recorded.
func (r *Recorder) Has(level, msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Level == level && e.Msg == msg {
			return true
		}
	}
	return false
}

func (r *Recorder) record(level, msg string, fields []ports.Field) {
	e := Entry{Level: level, Msg: msg, Fields: make(map[string]any, len(fields))}
	for _, f := range fields {
		e.Fields[f.Key] = f.Value
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}
