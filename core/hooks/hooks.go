// Package hooks defines the lifecycle hook pipeline.
//
// Each stage has its own context type carrying only what that stage needs.
// A context is created once per operation and passed to both the before and
// the after hooks of that operation, so State is the place to hand values
// from one to the other.
package hooks

import (
	"context"

	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// CreateContext is passed to before_create and after_create hooks.
type CreateContext struct {
	Collection string
	Identity   *identity.Identity
	Store      storage.Store

	// Record is the document to insert. Before hooks may modify it,
	// including protected fields. After hooks see the stored document.
	Record storage.Document

	State map[string]any
}

// UpdateContext is passed to before_update and after_update hooks.
type UpdateContext struct {
	Collection string
	Identity   *identity.Identity
	Store      storage.Store

	IDs []bson.ObjectID

	// Changes are the values to set. Before hooks may modify them.
	Changes storage.Document

	// Previous are the matched documents as they were before the update.
	Previous []storage.Document

	State map[string]any
}

// Records returns Previous with Changes applied.
func (c *UpdateContext) Records() []storage.Document {
	out := make([]storage.Document, len(c.Previous))
	for i, prev := range c.Previous {
		doc := storage.CopyDocument(prev)
		for k, v := range c.Changes {
			doc[k] = v
		}
		out[i] = doc
	}
	return out
}

// DeleteContext is passed to before_delete and after_delete hooks.
type DeleteContext struct {
	Collection string
	Identity   *identity.Identity
	Store      storage.Store

	IDs []bson.ObjectID

	// Records are the documents being deleted, loaded before the delete.
	Records []storage.Document

	State map[string]any
}

// ListQueryContext is passed to list_query hooks before a list query is
// built. Filter is merged as the server filter, so its keys always win over
// client search parameters.
type ListQueryContext struct {
	Collection string
	Identity   *identity.Identity

	Filter storage.Filter
}

// CreateHook runs on create.
type CreateHook func(ctx context.Context, hc *CreateContext) error

// UpdateHook runs on update.
type UpdateHook func(ctx context.Context, hc *UpdateContext) error

// DeleteHook runs on delete.
type DeleteHook func(ctx context.Context, hc *DeleteContext) error

// ListQueryHook runs before a list query is built.
type ListQueryHook func(ctx context.Context, hc *ListQueryContext) error

// Set holds the resolved hooks of one collection, in declaration order.
type Set struct {
	BeforeCreate []CreateHook
	AfterCreate  []CreateHook
	BeforeUpdate []UpdateHook
	AfterUpdate  []UpdateHook
	BeforeDelete []DeleteHook
	AfterDelete  []DeleteHook
	ListQuery    []ListQueryHook
}

// Len returns the total number of hooks.
func (s Set) Len() int {
	return len(s.BeforeCreate) + len(s.AfterCreate) +
		len(s.BeforeUpdate) + len(s.AfterUpdate) +
		len(s.BeforeDelete) + len(s.AfterDelete) +
		len(s.ListQuery)
}

// Run calls hooks in order and stops at the first error.
func Run[C any, H ~func(context.Context, *C) error](ctx context.Context, hooks []H, hc *C) error {
	for _, h := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h(ctx, hc); err != nil {
			return err
		}
	}
	return nil
}

// NewCreateContext returns a context with State initialized.
func NewCreateContext(collection string, id *identity.Identity, store storage.Store, record storage.Document) *CreateContext {
	return &CreateContext{Collection: collection, Identity: id, Store: store, Record: record, State: map[string]any{}}
}

// NewUpdateContext returns a context with State initialized.
func NewUpdateContext(collection string, id *identity.Identity, store storage.Store, ids []bson.ObjectID, changes storage.Document) *UpdateContext {
	return &UpdateContext{Collection: collection, Identity: id, Store: store, IDs: ids, Changes: changes, State: map[string]any{}}
}

// NewDeleteContext returns a context with State initialized.
func NewDeleteContext(collection string, id *identity.Identity, store storage.Store, ids []bson.ObjectID) *DeleteContext {
	return &DeleteContext{Collection: collection, Identity: id, Store: store, IDs: ids, State: map[string]any{}}
}
