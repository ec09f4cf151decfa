// Package identity carries the already-authenticated caller through a request.
package identity

import "context"

// Identity is the authenticated caller.
type Identity struct {
	// Subject identifies the caller; it is written to a collection's user_field.
	Subject string

	// Role selects the collection role rule.
	Role string
}

type ctxKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached to ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
