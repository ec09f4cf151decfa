package objectid

import (
	"context"
	"testing"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type countingFinder struct {
	inner storage.Store
	calls int
}

func (f *countingFinder) Find(ctx context.Context, collection string, filter storage.Filter, opts storage.FindOptions) ([]storage.Document, error) {
	f.calls++
	return f.inner.Find(ctx, collection, filter, opts)
}

func TestToIDQuery(t *testing.T) {
	id := bson.NewObjectID()

	q := ToIDQuery(id.Hex())
	require.NotNil(t, q)
	assert.Equal(t, id, q[storage.IDField])

	for _, raw := range []string{"not-an-id", "", "zzzzzzzzzzzzzzzzzzzzzzzz", id.Hex() + "0"} {
		assert.Nil(t, ToIDQuery(raw), "raw %q", raw)
	}
}

func TestGuard_Lenient(t *testing.T) {
	a, b := bson.NewObjectID(), bson.NewObjectID()
	g := Guard{}

	ids, err := g.ToIDs([]string{a.Hex(), "bad", b.Hex(), a.Hex()})
	require.NoError(t, err)
	assert.Equal(t, []bson.ObjectID{a, b}, ids)

	q, err := g.ToIDQueries([]string{"bad", "worse"})
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestGuard_Strict(t *testing.T) {
	g := Guard{Strict: true}

	_, err := g.ToIDQueries([]string{bson.NewObjectID().Hex(), "bad"})
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidParams, apierr.CodeOf(err))

	id := bson.NewObjectID()
	q, err := g.ToIDQueries([]string{id.Hex()})
	require.NoError(t, err)
	assert.Equal(t, storage.Filter{storage.IDField: storage.Filter{"$in": []bson.ObjectID{id}}}, q)
}

func TestFindByID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Ensure(ctx, storage.CollectionSpec{Name: "product"}))
	id := bson.NewObjectID()
	require.NoError(t, store.Insert(ctx, "product", storage.Document{storage.IDField: id, "name": "Widget", "cost": 3}))

	f := &countingFinder{inner: store}

	doc, err := FindByID(ctx, f, "product", "not-an-id", nil)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Zero(t, f.calls, "malformed id must not reach storage")

	doc, err = FindByID(ctx, f, "product", id.Hex(), []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, storage.Document{storage.IDField: id, "name": "Widget"}, doc)
	assert.Equal(t, 1, f.calls)

	doc, err = FindByID(ctx, f, "product", bson.NewObjectID().Hex(), nil)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestFindByIDWithin(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Ensure(ctx, storage.CollectionSpec{Name: "product"}))
	id := bson.NewObjectID()
	require.NoError(t, store.Insert(ctx, "product", storage.Document{storage.IDField: id, "name": "Widget", "owner": "alice"}))

	doc, err := FindByIDWithin(ctx, store, "product", id.Hex(), storage.Filter{"owner": "bob"}, nil)
	require.NoError(t, err)
	assert.Nil(t, doc, "scope must hide records outside it")

	doc, err = FindByIDWithin(ctx, store, "product", id.Hex(), storage.Filter{"owner": "alice"}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, storage.Document{storage.IDField: id, "name": "Widget"}, doc)
}
