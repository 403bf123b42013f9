package domain

import "time"

// CriticalKind describes the business transition a critical operation applies.
type CriticalKind string

const (
	CriticalIncrement      CriticalKind = "increment"
	CriticalDecrement      CriticalKind = "decrement"
	CriticalSet            CriticalKind = "set"
	CriticalStatusChange   CriticalKind = "statusChange"
	CriticalLocationUpdate CriticalKind = "locationUpdate"
)

// CriticalMetadata carries audit and rollback information.
type CriticalMetadata struct {
	OperationKind CriticalKind `json:"operationKind"`
	OriginalValue any          `json:"originalValue,omitempty"`
}

// Cache tags marking optimistic entries.
const (
	OptimisticTag  = "_optimistic"
	OperationIDTag = "_operationId"
)

// CriticalOperation is an operation whose optimistic effect is already visible
// locally and which must survive process restarts until the remote write is
// acknowledged.
type CriticalOperation struct {
	Operation
	OptimisticPayload Payload          `json:"optimisticPayload"`
	Metadata          CriticalMetadata `json:"metadata"`
}

// CriticalRecord is the persisted JSON shape of a CriticalOperation.
type CriticalRecord struct {
	ID             string           `json:"id"`
	Type           OperationKind    `json:"type"`
	Entity         string           `json:"entity"`
	EntityID       string           `json:"entityId"`
	Data           Payload          `json:"data"`
	OptimisticData Payload          `json:"optimisticData"`
	Timestamp      time.Time        `json:"timestamp"`
	Metadata       CriticalMetadata `json:"metadata"`
}

// Record converts c to its persisted form.
func (c CriticalOperation) Record() CriticalRecord {
	return CriticalRecord{
		ID:             c.ID,
		Type:           c.Kind,
		Entity:         c.EntityType,
		EntityID:       c.EntityID,
		Data:           c.Payload,
		OptimisticData: c.OptimisticPayload,
		Timestamp:      c.EnqueuedAt.UTC(),
		Metadata:       c.Metadata,
	}
}

// Operation rebuilds the critical operation described by r.
func (r CriticalRecord) Operation() CriticalOperation {
	return CriticalOperation{
		Operation: Operation{
			ID:         r.ID,
			Kind:       r.Type,
			EntityType: r.Entity,
			EntityID:   r.EntityID,
			Payload:    r.Data,
			Priority:   PriorityCritical,
			EnqueuedAt: r.Timestamp,
		},
		OptimisticPayload: r.OptimisticData,
		Metadata:          r.Metadata,
	}
}

// TagOptimistic returns a copy of p carrying the optimistic tags for opID.
func TagOptimistic(p Payload, opID string) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}
	out[OptimisticTag] = true
	out[OperationIDTag] = opID
	return out
}

// StripOptimistic returns a copy of p without optimistic tags.
func StripOptimistic(p Payload) Payload {
	out := p.Clone()
	delete(out, OptimisticTag)
	delete(out, OperationIDTag)
	return out
}

// IsOptimistic reports whether p carries the optimistic tag.
func IsOptimistic(p Payload) bool {
	v, ok := p[OptimisticTag].(bool)
	return ok && v
}
