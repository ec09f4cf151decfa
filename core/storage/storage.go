// Package storage defines the document-store collaborator and its
// implementations. The access layer only needs find, count, insert, update
// and delete over schemaless documents keyed by an "_id" ObjectID.
package storage

import (
	"context"
	"errors"
)

// IDField is the identifier key of every document.
const IDField = "_id"

// Document is a stored record.
type Document = map[string]any

// Filter is a query in document-store syntax: field equality, operator
// objects such as {"$in": [...]} and top-level "$and"/"$or".
type Filter = map[string]any

// ErrDuplicate is returned when a write violates a unique index.
var ErrDuplicate = errors.New("duplicate key")

// ErrUnknownCollection is returned for collections that were never ensured.
var ErrUnknownCollection = errors.New("unknown collection")

// SortField is one key of a compound sort.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions configures a find.
type FindOptions struct {
	// Sort is applied in order; earlier fields take precedence.
	Sort []SortField

	// Skip is the number of matching documents to skip.
	Skip int64

	// Limit is the maximum number of documents to return; 0 means no limit.
	Limit int64

	// Projection limits returned fields. Nil returns whole documents;
	// "_id" is always returned.
	Projection []string
}

// Change describes an update applied to every matching document.
type Change struct {
	// Set assigns field values.
	Set Document

	// Inc adds to numeric fields, treating missing fields as zero.
	Inc map[string]int64
}

// Empty reports whether the change does nothing.
func (c Change) Empty() bool {
	return len(c.Set) == 0 && len(c.Inc) == 0
}

// CollectionSpec describes a collection to prepare before serving.
type CollectionSpec struct {
	Name string

	// Unique lists fields that carry a unique index.
	Unique []string
}

// Store provides document operations for any collection.
type Store interface {
	// Ensure prepares a collection and its unique indexes.
	Ensure(ctx context.Context, spec CollectionSpec) error

	// Find returns matching documents.
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, collection string, filter Filter) (int64, error)

	// Insert stores a new document. The document must carry an "_id".
	Insert(ctx context.Context, collection string, doc Document) error

	// Update applies change to every matching document and returns the
	// number of documents matched.
	Update(ctx context.Context, collection string, filter Filter, change Change) (int64, error)

	// Delete removes every matching document and returns the number removed.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)

	// Close releases the connection.
	Close() error
}
