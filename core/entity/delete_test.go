package entity

import (
	"context"
	"testing"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestDelete_CascadeAndKeep(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	tools := f.insert(t, "category", storage.Document{"name": "Tools"})
	garden := f.insert(t, "category", storage.Document{"name": "Garden"})
	hammer := f.insert(t, "product", storage.Document{"name": "Hammer", "category": tools})
	f.insert(t, "product", storage.Document{"name": "Saw", "category": tools})
	rake := f.insert(t, "product", storage.Document{"name": "Rake", "category": garden})
	f.insert(t, "review", storage.Document{"text": "solid", "product": hammer})
	f.insert(t, "review", storage.Document{"text": "sharp", "product": rake})
	fav := f.insert(t, "favorite", storage.Document{"category": tools})

	n, err := f.svc.Delete(as("admin"), "category", []string{tools.Hex()}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.EqualValues(t, 1, f.count(t, "category", nil))
	assert.EqualValues(t, 0, f.count(t, "product", storage.Filter{"category": tools}))
	assert.EqualValues(t, 1, f.count(t, "product", nil))
	assert.EqualValues(t, 1, f.count(t, "review", nil), "reviews of cascaded products are removed")
	assert.Equal(t, tools, f.load(t, "favorite", fav)["category"], "keep leaves the dangling reference")
}

func TestDelete_HasRef(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	tools := f.insert(t, "category", storage.Document{"name": "Tools"})
	hammer := f.insert(t, "product", storage.Document{"name": "Hammer", "category": tools})
	f.insert(t, "order", storage.Document{"qty": int64(1), "product": hammer})

	_, err := f.svc.Delete(as("admin"), "category", []string{tools.Hex()}, Options{})
	assert.Equal(t, apierr.HasRef, codeOf(err))
	assert.EqualValues(t, 1, f.count(t, "category", nil), "nothing is deleted")
	assert.EqualValues(t, 1, f.count(t, "product", nil))

	_, err = f.svc.Delete(as("admin"), "product", []string{hammer.Hex()}, Options{})
	assert.Equal(t, apierr.HasRef, codeOf(err))
}

func TestDelete_ReferrerInsidePlan(t *testing.T) {
	f := newFixture(t, Config{}, schema.Collection{
		Name:   "folder",
		Fields: []schema.Field{{Name: "name"}},
		Roles:  []string{"admin:*"},
	}, schema.Collection{
		Name: "file",
		Fields: []schema.Field{
			{Name: "folder", Ref: "folder", Delete: schema.DeleteCascade},
			{Name: "previous", Ref: "file"},
		},
		Roles: []string{"admin:*"},
	})
	dir := f.insert(t, "folder", storage.Document{"name": "docs"})
	v1 := f.insert(t, "file", storage.Document{"folder": dir})
	f.insert(t, "file", storage.Document{"folder": dir, "previous": v1})

	n, err := f.svc.Delete(as("admin"), "folder", []string{dir.Hex()}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 0, f.count(t, "file", nil))
}

func TestDelete_CycleTerminates(t *testing.T) {
	f := newFixture(t, Config{}, schema.Collection{
		Name: "node",
		Fields: []schema.Field{
			{Name: "parent", Ref: "node", Delete: schema.DeleteCascade},
		},
		Roles: []string{"admin:*"},
	})
	a, b, c := bson.NewObjectID(), bson.NewObjectID(), bson.NewObjectID()
	f.insert(t, "node", storage.Document{storage.IDField: a, "parent": c})
	f.insert(t, "node", storage.Document{storage.IDField: b, "parent": a})
	f.insert(t, "node", storage.Document{storage.IDField: c, "parent": b})
	f.insert(t, "node", storage.Document{})

	n, err := f.svc.Delete(as("admin"), "node", []string{a.Hex()}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 1, f.count(t, "node", nil))
}

func TestDelete_RunsHooks(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	tools := f.insert(t, "category", storage.Document{"name": "Tools", "product_count": int64(2)})
	p1 := f.insert(t, "product", storage.Document{"name": "Hammer", "category": tools})
	p2 := f.insert(t, "product", storage.Document{"name": "Saw", "category": tools})

	n, err := f.svc.Delete(as("admin"), "product", []string{p1.Hex(), p2.Hex()}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.EqualValues(t, 0, f.load(t, "category", tools)["product_count"])
}

func TestDelete_HookFailureWritesNothing(t *testing.T) {
	f := newFixture(t, Config{}, schema.Collection{
		Name:   "guarded",
		Fields: []schema.Field{{Name: "title"}},
		Roles:  []string{"admin:*"},
		Hooks: map[string][]schema.Hook{
			schema.StageBeforeDelete: {{Call: "reject"}},
		},
	})
	id := f.insert(t, "guarded", storage.Document{"title": "x"})

	_, err := f.svc.Delete(as("admin"), "guarded", []string{id.Hex()}, Options{})
	assert.Equal(t, apierr.NoRights, codeOf(err))
	assert.EqualValues(t, 1, f.count(t, "guarded", nil))
}

func TestDelete_Batch(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	p1 := f.insert(t, "product", storage.Document{"name": "A"})
	p2 := f.insert(t, "product", storage.Document{"name": "B"})

	_, err := f.svc.Delete(as("editor"), "product", []string{p1.Hex(), p2.Hex()}, Options{})
	assert.Equal(t, apierr.NoRights, codeOf(err), "batch needs b")

	n, err := f.svc.Delete(as("editor"), "product", []string{p1.Hex()}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.Delete(as("editor"), "product", nil, Options{})
	assert.Equal(t, apierr.NoParams, codeOf(err))

	_, err = f.svc.Delete(as("editor"), "product", []string{p1.Hex()}, Options{})
	assert.Equal(t, apierr.NotFound, codeOf(err), "already deleted")
}

func TestDelete_IDPolicy(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		want    apierr.Code
		removed int64
	}{
		{"lenient drops malformed ids", false, apierr.OK, 1},
		{"strict rejects the batch", true, apierr.InvalidParams, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{StrictIDs: tt.strict}, catalog()...)
			id := f.insert(t, "product", storage.Document{"name": "A"})

			n, err := f.svc.Delete(as("admin"), "product", []string{"bad", id.Hex()}, Options{})
			assert.Equal(t, tt.want, codeOf(err))
			assert.Equal(t, tt.removed, n)
		})
	}

	f := newFixture(t, Config{}, catalog()...)
	_, err := f.svc.Delete(as("admin"), "product", []string{"bad", "worse"}, Options{})
	assert.Equal(t, apierr.NotFound, codeOf(err))
}

// foreignIDStore also returns a record whose _id was not written by the
// service.
type foreignIDStore struct {
	storage.Store
}

func (s foreignIDStore) Find(ctx context.Context, collection string, flt storage.Filter, opts storage.FindOptions) ([]storage.Document, error) {
	docs, err := s.Store.Find(ctx, collection, flt, opts)
	if err != nil || collection != "product" {
		return docs, err
	}
	return append(docs, storage.Document{storage.IDField: "legacy-7", "name": "Legacy"}), nil
}

func TestDelete_SkipsForeignIDs(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	id := f.insert(t, "product", storage.Document{"name": "A"})
	svc := New(f.svc.Registry(), foreignIDStore{f.store}, Config{Logger: zerolog.Nop()})

	n, err := svc.Delete(as("admin"), "product", []string{id.Hex()}, Options{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, f.count(t, "product", nil))
}
