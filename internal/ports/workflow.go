package ports

import (
	"context"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
)

// WorkflowFailure is a stalled step of a multi-step domain workflow.
type WorkflowFailure struct {
	ID         string
	Workflow   string
	Step       string
	EntityType string
	Err        error
	FailedAt   time.Time
	Attempts   int
	Payload    domain.Payload
}

// WorkflowSource reports domain workflow failures and resumes them.
type WorkflowSource interface {
	StalledSteps(ctx context.Context) ([]WorkflowFailure, error)
	ResumeStep(ctx context.Context, id string) error
}
