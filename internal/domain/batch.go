package domain

import "time"

// BatchStatus is the lifecycle state of a BatchExecution.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPartial    BatchStatus = "partial"
)

// BatchProgress tracks how far a batch has come.
type BatchProgress struct {
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	CurrentLabel string `json:"currentLabel,omitempty"`
}

// BatchExecution is an ordered group of operations executed together.
// It is owned by the queue; listeners only ever see snapshots.
type BatchExecution struct {
	ID                       string        `json:"id"`
	Operations               []Operation   `json:"operations"`
	Status                   BatchStatus   `json:"status"`
	Progress                 BatchProgress `json:"progress"`
	StartedAt                time.Time     `json:"startedAt"`
	EndedAt                  *time.Time    `json:"endedAt,omitempty"`
	EstimatedDurationSeconds float64       `json:"estimatedDurationSeconds"`
}

// NewBatchExecution starts a batch over ops.
func NewBatchExecution(id string, ops []Operation, startedAt time.Time, perOp time.Duration) *BatchExecution {
	return &BatchExecution{
		ID:                       id,
		Operations:               ops,
		Status:                   BatchProcessing,
		Progress:                 BatchProgress{Total: len(ops)},
		StartedAt:                startedAt,
		EstimatedDurationSeconds: float64(len(ops)) * perOp.Seconds(),
	}
}

// Finish stamps the end time and derives the terminal status from progress.
// A batch cut short before every operation ran is never completed.
func (b *BatchExecution) Finish(at time.Time) {
	b.EndedAt = &at
	b.Progress.CurrentLabel = ""
	ran := b.Progress.Completed + b.Progress.Failed
	switch {
	case b.Progress.Failed == 0 && ran == b.Progress.Total:
		b.Status = BatchCompleted
	case b.Progress.Completed == 0 && b.Progress.Failed > 0:
		b.Status = BatchFailed
	default:
		b.Status = BatchPartial
	}
}

// Snapshot returns a deep copy safe to hand to listeners.
func (b *BatchExecution) Snapshot() BatchExecution {
	out := *b
	out.Operations = make([]Operation, len(b.Operations))
	for i, op := range b.Operations {
		out.Operations[i] = op.Clone()
	}
	if b.EndedAt != nil {
		t := *b.EndedAt
		out.EndedAt = &t
	}
	return out
}
