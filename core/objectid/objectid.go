// Package objectid converts external identifier strings into id queries.
// Malformed identifiers are treated as "not found", never as errors, and never
// reach storage.
package objectid

import (
	"context"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Finder is the read capability FindByID needs.
type Finder interface {
	Find(ctx context.Context, collection string, filter storage.Filter, opts storage.FindOptions) ([]storage.Document, error)
}

// Parse returns the ObjectID for a 24-hex-character string.
func Parse(raw string) (bson.ObjectID, bool) {
	if len(raw) != 24 {
		return bson.NilObjectID, false
	}
	id, err := bson.ObjectIDFromHex(raw)
	if err != nil {
		return bson.NilObjectID, false
	}
	return id, true
}

// ToIDQuery returns {"_id": id}, or nil when raw is malformed.
func ToIDQuery(raw string) storage.Filter {
	id, ok := Parse(raw)
	if !ok {
		return nil
	}
	return storage.Filter{storage.IDField: id}
}

// Guard applies the batch identifier policy.
type Guard struct {
	// Strict rejects a whole batch when any id is malformed. Otherwise
	// malformed ids are dropped.
	Strict bool
}

// ToIDs converts a batch of raw ids. In lenient mode malformed ids are dropped
// and the result may be empty. In strict mode any malformed id fails the batch
// with INVALID_PARAMS. Duplicates are removed; order is kept.
func (g Guard) ToIDs(raws []string) ([]bson.ObjectID, error) {
	ids := make([]bson.ObjectID, 0, len(raws))
	seen := make(map[bson.ObjectID]bool, len(raws))
	for _, raw := range raws {
		id, ok := Parse(raw)
		if !ok {
			if g.Strict {
				return nil, apierr.Newf(apierr.InvalidParams, "malformed id %q", raw)
			}
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// ToIDQueries converts a batch of raw ids into {"_id": {"$in": [...]}}. It
// returns nil when no id survives.
func (g Guard) ToIDQueries(raws []string) (storage.Filter, error) {
	ids, err := g.ToIDs(raws)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return InQuery(ids), nil
}

// InQuery builds an "_id" membership filter.
func InQuery(ids []bson.ObjectID) storage.Filter {
	return storage.Filter{storage.IDField: storage.Filter{"$in": ids}}
}

// FindByID reads a single record by raw id. A malformed id returns nil
// without touching storage.
func FindByID(ctx context.Context, f Finder, collection, raw string, projection []string) (storage.Document, error) {
	return FindByIDWithin(ctx, f, collection, raw, nil, projection)
}

// FindByIDWithin reads a single record by raw id that also matches scope.
// Keys of scope win over the id condition.
func FindByIDWithin(ctx context.Context, f Finder, collection, raw string, scope storage.Filter, projection []string) (storage.Document, error) {
	q := ToIDQuery(raw)
	if q == nil {
		return nil, nil
	}
	for k, v := range scope {
		q[k] = v
	}
	docs, err := f.Find(ctx, collection, q, storage.FindOptions{Limit: 1, Projection: projection})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}
