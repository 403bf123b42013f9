package app

import (
	"context"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// FailureSource reports failures of one kind and knows how to retry them.
type FailureSource interface {
	Type() domain.SourceType
	Failures(ctx context.Context) ([]domain.FailedOperationRecord, error)
	Retry(ctx context.Context, sourceID string) error
}

// QueueFailures is the part of the OperationQueue the registry reads.
type QueueFailures interface {
	Pending() []domain.Operation
	DeadLetters() []DeadLetter
	Requeue(id string) error
	IsPending(id string) bool
	RequestDrain()
}

// queueSource reports operations that failed at least once: dead letters
// and retained critical operations.
type queueSource struct {
	queue QueueFailures
}

// NewQueueSource adapts the operation queue into a FailureSource.
func NewQueueSource(q QueueFailures) FailureSource {
	return &queueSource{queue: q}
}

func (s *queueSource) Type() domain.SourceType { return domain.SourceQueuedMutation }

func (s *queueSource) Failures(context.Context) ([]domain.FailedOperationRecord, error) {
	var out []domain.FailedOperationRecord
	for _, d := range s.queue.DeadLetters() {
		out = append(out, queueRecord(d.Operation, d.FailedAt, "deadLetter"))
	}
	for _, op := range s.queue.Pending() {
		if op.RetryCount == 0 || op.LastError == "" {
			continue
		}
		out = append(out, queueRecord(op, op.EnqueuedAt, "pending"))
	}
	return out, nil
}

// Retry requeues a dead letter, or asks for a drain if the operation is
// still pending.
func (s *queueSource) Retry(_ context.Context, id string) error {
	if s.queue.IsPending(id) {
		s.queue.RequestDrain()
		return nil
	}
	return s.queue.Requeue(id)
}

func queueRecord(op domain.Operation, at time.Time, state string) domain.FailedOperationRecord {
	maxRetries := domain.DefaultMaxRetries
	if op.Priority == domain.PriorityLow {
		maxRetries = domain.LowPriorityMaxRetries
	}
	return domain.FailedOperationRecord{
		SourceType:      domain.SourceQueuedMutation,
		SourceID:        op.ID,
		EntityType:      op.EntityType,
		Action:          string(op.Kind),
		Error:           op.LastError,
		ErrorKind:       op.LastErrorKind,
		Priority:        op.Priority,
		OccurredAt:      at,
		RetryCount:      op.RetryCount,
		MaxRetries:      maxRetries,
		OriginalPayload: op.Payload.Clone(),
		SourceMetadata: map[string]any{
			"state":    state,
			"entityId": op.EntityID,
		},
	}
}

type cacheMutationSource struct {
	cache ports.CacheFailures
}

// NewCacheMutationSource reports the reactive cache's failed mutations.
func NewCacheMutationSource(c ports.CacheFailures) FailureSource {
	return &cacheMutationSource{cache: c}
}

func (s *cacheMutationSource) Type() domain.SourceType { return domain.SourceReactiveCacheMutation }

func (s *cacheMutationSource) Failures(context.Context) ([]domain.FailedOperationRecord, error) {
	var out []domain.FailedOperationRecord
	for _, f := range s.cache.FailedMutations() {
		out = append(out, cacheRecord(domain.SourceReactiveCacheMutation, f))
	}
	return out, nil
}

func (s *cacheMutationSource) Retry(ctx context.Context, id string) error {
	return s.cache.RetryMutation(ctx, id)
}

type cacheQuerySource struct {
	cache ports.CacheFailures
}

// NewCacheQuerySource reports the reactive cache's failed queries.
func NewCacheQuerySource(c ports.CacheFailures) FailureSource {
	return &cacheQuerySource{cache: c}
}

func (s *cacheQuerySource) Type() domain.SourceType { return domain.SourceReactiveCacheQuery }

func (s *cacheQuerySource) Failures(context.Context) ([]domain.FailedOperationRecord, error) {
	var out []domain.FailedOperationRecord
	for _, f := range s.cache.FailedQueries() {
		out = append(out, cacheRecord(domain.SourceReactiveCacheQuery, f))
	}
	return out, nil
}

func (s *cacheQuerySource) Retry(ctx context.Context, id string) error {
	return s.cache.RefetchQuery(ctx, id)
}

func cacheRecord(source domain.SourceType, f ports.CacheFailure) domain.FailedOperationRecord {
	entity := ""
	if len(f.Key) > 0 {
		entity = f.Key[0]
	}
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return domain.FailedOperationRecord{
		SourceType:      source,
		SourceID:        f.ID,
		EntityType:      entity,
		Action:          f.Action,
		Error:           msg,
		ErrorKind:       domain.Classify(f.Err),
		OccurredAt:      f.FailedAt,
		RetryCount:      f.FailCount,
		MaxRetries:      domain.DefaultMaxRetries,
		OriginalPayload: f.Variables.Clone(),
		SourceMetadata: map[string]any{
			"key": f.Key.String(),
		},
	}
}

type workflowSource struct {
	workflows ports.WorkflowSource
}

// NewWorkflowSource reports stalled domain workflow steps.
func NewWorkflowSource(w ports.WorkflowSource) FailureSource {
	return &workflowSource{workflows: w}
}

func (s *workflowSource) Type() domain.SourceType { return domain.SourceDomainWorkflow }

func (s *workflowSource) Failures(ctx context.Context) ([]domain.FailedOperationRecord, error) {
	stalled, err := s.workflows.StalledSteps(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FailedOperationRecord, 0, len(stalled))
	for _, w := range stalled {
		msg := ""
		if w.Err != nil {
			msg = w.Err.Error()
		}
		out = append(out, domain.FailedOperationRecord{
			SourceType:      domain.SourceDomainWorkflow,
			SourceID:        w.ID,
			EntityType:      w.EntityType,
			Action:          w.Step,
			Error:           msg,
			ErrorKind:       domain.Classify(w.Err),
			OccurredAt:      w.FailedAt,
			RetryCount:      w.Attempts,
			MaxRetries:      domain.DefaultMaxRetries,
			OriginalPayload: w.Payload.Clone(),
			SourceMetadata: map[string]any{
				"workflow": w.Workflow,
			},
		})
	}
	return out, nil
}

func (s *workflowSource) Retry(ctx context.Context, id string) error {
	return s.workflows.ResumeStep(ctx, id)
}
