package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore implements Store with MongoDB. Filters are passed to the server
// unchanged.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri and uses the named database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// Ensure creates the collection and a unique index per unique field.
func (s *MongoStore) Ensure(ctx context.Context, spec CollectionSpec) error {
	// CreateCollection fails when the collection exists; that is fine.
	s.db.CreateCollection(ctx, spec.Name)

	if len(spec.Unique) == 0 {
		return nil
	}
	indexes := make([]mongo.IndexModel, 0, len(spec.Unique))
	for _, field := range spec.Unique {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("ux_" + field),
		})
	}
	if _, err := s.db.Collection(spec.Name).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create indexes for %s: %w", spec.Name, err)
	}
	return nil
}

// Find returns matching documents.
func (s *MongoStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		sort := make(bson.D, 0, len(opts.Sort))
		for _, f := range opts.Sort {
			dir := 1
			if f.Desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: f.Field, Value: dir})
		}
		findOpts.SetSort(sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Projection != nil {
		proj := bson.M{IDField: 1}
		for _, f := range opts.Projection {
			proj[f] = 1
		}
		findOpts.SetProjection(proj)
	}

	cursor, err := s.db.Collection(collection).Find(ctx, nonNil(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}

	docs := make([]Document, len(raw))
	for i, m := range raw {
		docs[i] = normalizeMap(m)
	}
	return docs, nil
}

// Count returns the number of matching documents.
func (s *MongoStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	n, err := s.db.Collection(collection).CountDocuments(ctx, nonNil(filter))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}

// Insert stores doc.
func (s *MongoStore) Insert(ctx context.Context, collection string, doc Document) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return nil
}

// Update applies change with $set and $inc.
func (s *MongoStore) Update(ctx context.Context, collection string, filter Filter, change Change) (int64, error) {
	if change.Empty() {
		return s.Count(ctx, collection, filter)
	}
	update := bson.M{}
	if len(change.Set) > 0 {
		update["$set"] = change.Set
	}
	if len(change.Inc) > 0 {
		update["$inc"] = change.Inc
	}

	result, err := s.db.Collection(collection).UpdateMany(ctx, nonNil(filter), update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return 0, fmt.Errorf("update %s: %w", collection, err)
	}
	return result.MatchedCount, nil
}

// Delete removes every matching document.
func (s *MongoStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	result, err := s.db.Collection(collection).DeleteMany(ctx, nonNil(filter))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", collection, err)
	}
	return result.DeletedCount, nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func nonNil(filter Filter) Filter {
	if filter == nil {
		return Filter{}
	}
	return filter
}
