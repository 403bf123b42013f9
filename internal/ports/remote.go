package ports

import (
	"context"

	"github.com/bft-labs/fieldsync/internal/domain"
)

// RemoteStore is the backend CRUD capability for one entity type.
// Errors should be *domain.RemoteError when a code/status is known so the core
// can classify network versus auth failures.
type RemoteStore interface {
	Insert(ctx context.Context, payload domain.Payload) (domain.Payload, error)
	Update(ctx context.Context, id string, patch domain.Payload) (domain.Payload, error)
	Delete(ctx context.Context, id string) error
}

// RemoteResolver returns the RemoteStore of an entity type.
type RemoteResolver interface {
	Remote(entityType string) (RemoteStore, error)
}

// CallOptions are transport hints derived from the adaptive strategy.
type CallOptions struct {
	// Compress asks the transport to compress request bodies.
	Compress bool
}

type callOptionsKey struct{}

// WithCallOptions attaches transport hints to ctx.
func WithCallOptions(ctx context.Context, opts CallOptions) context.Context {
	return context.WithValue(ctx, callOptionsKey{}, opts)
}

// CallOptionsFrom returns the transport hints attached to ctx.
func CallOptionsFrom(ctx context.Context) CallOptions {
	opts, _ := ctx.Value(callOptionsKey{}).(CallOptions)
	return opts
}
