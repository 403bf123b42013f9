package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

// OnlineChecker reports the effective connectivity state.
type OnlineChecker interface {
	IsOnline() bool
}

// SyncObserver receives the outcome of every remote write.
type SyncObserver interface {
	RecordSyncSuccess(at time.Time)
	RecordSyncFailure(err error)
}

// applyRemote sends op to the RemoteStore of its entity type.
func applyRemote(ctx context.Context, resolver ports.RemoteResolver, op domain.Operation) (domain.Payload, error) {
	remote, err := resolver.Remote(op.EntityType)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", op.EntityType, err)
	}

	switch op.Kind {
	case domain.KindCreate:
		return remote.Insert(ctx, op.Payload)
	case domain.KindUpdate:
		return remote.Update(ctx, op.EntityID, op.Payload)
	case domain.KindDelete:
		return nil, remote.Delete(ctx, op.EntityID)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidOperation, op.Kind)
	}
}

// mergeRecord applies record over current field by field. Later writes win.
func mergeRecord(current, record domain.Payload) domain.Payload {
	out := current.Clone()
	if out == nil {
		out = make(domain.Payload, len(record))
	}
	for k, v := range record {
		out[k] = v
	}
	return out
}

// syncedID is the id of the entity written by op, preferring the server's.
func syncedID(op domain.Operation, record domain.Payload) string {
	if id := record.ID(); id != "" {
		return id
	}
	if op.EntityID != "" {
		return op.EntityID
	}
	return op.Payload.ID()
}

// dispatchAsync runs fn on a new goroutine.
func dispatchAsync(fn func()) {
	go fn()
}
