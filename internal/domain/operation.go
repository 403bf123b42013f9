package domain

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind is the type of mutation an Operation applies remotely.
type OperationKind string

const (
	KindCreate OperationKind = "create"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	return k == KindCreate || k == KindUpdate || k == KindDelete
}

// Priority orders operations for batching. Higher priorities always run in an
// earlier (or the same) batch as lower ones.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns a comparable weight: critical > normal > low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityCritical || p == PriorityNormal || p == PriorityLow
}

// AtLeast reports whether p ranks at or above other.
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// Well-known entity types of the field-service application.
const (
	EntityJob       = "job"
	EntityInventory = "inventory"
	EntityRoute     = "route"
	EntityClient    = "client"
)

// EntityImportance ranks entity types for ordering critical operations.
// Unknown entity types rank below all known ones.
func EntityImportance(entityType string) int {
	switch entityType {
	case EntityJob:
		return 4
	case EntityInventory:
		return 3
	case EntityRoute:
		return 2
	case EntityClient:
		return 1
	default:
		return 0
	}
}

// Payload is an opaque entity representation. The core only inspects the "id"
// field.
type Payload map[string]any

// ID returns the payload's "id" field as a string, or "" if absent.
func (p Payload) ID() string {
	v, ok := p["id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a shallow copy of the payload. Nil stays nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Operation is a single pending state change awaiting synchronization.
// Only RetryCount, LastError and (upward) Priority change after creation.
type Operation struct {
	ID              string        `json:"id"`
	Kind            OperationKind `json:"kind"`
	EntityType      string        `json:"entityType"`
	EntityID        string        `json:"entityId,omitempty"`
	Payload         Payload       `json:"payload"`
	OriginalPayload Payload       `json:"originalPayload,omitempty"`
	Priority        Priority      `json:"priority"`
	EnqueuedAt      time.Time     `json:"enqueuedAt"`
	RetryCount      int           `json:"retryCount"`
	LastError       string        `json:"lastError,omitempty"`
	LastErrorKind   ErrorKind     `json:"lastErrorKind,omitempty"`
}

// Validate checks that the operation can be sent to a RemoteStore.
func (o Operation) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, o.Kind)
	}
	if !o.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidOperation, o.Priority)
	}
	if strings.TrimSpace(o.EntityType) == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidOperation)
	}
	if o.Kind != KindCreate && o.EntityID == "" {
		return fmt.Errorf("%w: %s requires an entity id", ErrInvalidOperation, o.Kind)
	}
	return nil
}

// Label is a short human readable description used for progress reporting.
func (o Operation) Label() string {
	if o.EntityID == "" {
		return fmt.Sprintf("%s %s", o.Kind, o.EntityType)
	}
	return fmt.Sprintf("%s %s %s", o.Kind, o.EntityType, o.EntityID)
}

// Clone returns a copy that shares no mutable state with o.
func (o Operation) Clone() Operation {
	o.Payload = o.Payload.Clone()
	o.OriginalPayload = o.OriginalPayload.Clone()
	return o
}

// PendingCounts is the number of queued operations per priority.
type PendingCounts struct {
	Critical int `json:"critical"`
	Normal   int `json:"normal"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// Add counts one operation of priority p.
func (c *PendingCounts) Add(p Priority) {
	switch p {
	case PriorityCritical:
		c.Critical++
	case PriorityNormal:
		c.Normal++
	default:
		c.Low++
	}
	c.Total++
}

// Key addresses an entry of the reactive cache: [entityType, id?, qualifiers...].
type Key []string

// EntityKey is the cache key of a single entity.
func EntityKey(entityType, id string) Key {
	return Key{entityType, id}
}

// ListKey is the cache key of every list query over an entity type.
func ListKey(entityType string) Key {
	return Key{entityType}
}

// String renders the key as a slash separated path.
func (k Key) String() string {
	return strings.Join(k, "/")
}

// HasPrefix reports whether k starts with prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
