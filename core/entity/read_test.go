package entity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/filter"
	"github.com/artpar/entitygate/core/mode"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestProductScenario(t *testing.T) {
	f := newFixture(t, Config{}, schema.Collection{
		Name: "product",
		Fields: []schema.Field{
			{Name: "sku", Sys: true},
			{Name: "name"},
			{Name: "price", Search: schema.Flag(true)},
		},
		Roles: []string{"admin:*", "user:rs"},
	})
	for i := 0; i < 3; i++ {
		f.insert(t, "product", storage.Document{
			"sku":   fmt.Sprintf("SKU-%d", i),
			"name":  fmt.Sprintf("Product %d", i),
			"price": float64(i),
		})
	}

	ctx := as("user")
	opts := Options{Mode: "crsud"}

	d, err := f.svc.Describe(ctx, "product", opts)
	require.NoError(t, err)
	assert.Equal(t, "rs", d.Mode.String())

	_, err = f.svc.Create(ctx, "product", map[string]any{"name": "New"}, opts)
	assert.Equal(t, apierr.NoRights, codeOf(err))
	assert.EqualValues(t, 3, f.count(t, "product", nil))

	res, err := f.svc.List(ctx, "product", ListRequest{Options: opts, Params: everything})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
	require.Len(t, res.Data, 3)
	for _, doc := range res.Data {
		assert.NotContains(t, doc, "sku")
		assert.Contains(t, doc, "name")
		assert.Contains(t, doc, "price")
	}
}

func TestList_Pagination(t *testing.T) {
	f := newFixture(t, Config{}, schema.Collection{
		Name: "item",
		Fields: []schema.Field{
			{Name: "rank", Type: schema.FieldTypeInt},
		},
		Roles: []string{"admin:*"},
	})
	for i := 1; i <= 25; i++ {
		f.insert(t, "item", storage.Document{"rank": int64(i)})
	}

	res, err := f.svc.List(as("admin"), "item", ListRequest{Params: filter.Params{
		Page:      2,
		Limit:     10,
		SortBy:    []string{"rank"},
		Desc:      []bool{false},
		AttrNames: []string{"rank"},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 25, res.Total)
	require.Len(t, res.Data, 10)
	for i, doc := range res.Data {
		assert.EqualValues(t, 11+i, doc["rank"])
	}

	res, err = f.svc.List(as("admin"), "item", ListRequest{Params: filter.Params{
		Page:      3,
		Limit:     10,
		SortBy:    []string{"rank"},
		Desc:      []bool{true},
		AttrNames: []string{},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 25, res.Total)
	require.Len(t, res.Data, 5)
	assert.EqualValues(t, 5, res.Data[0]["rank"])
}

func TestList_Rejections(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)

	_, err := f.svc.List(context.Background(), "product", ListRequest{Params: everything})
	assert.Equal(t, apierr.NoSession, codeOf(err))

	_, err = f.svc.List(as("admin"), "missing", ListRequest{Params: everything})
	assert.Equal(t, apierr.NotFound, codeOf(err))

	_, err = f.svc.List(as("stranger"), "product", ListRequest{Params: everything})
	assert.Equal(t, apierr.NoRights, codeOf(err))

	_, err = f.svc.List(as("admin"), "product", ListRequest{Params: filter.Params{SortBy: []string{}, Desc: []bool{}}})
	assert.Equal(t, apierr.NoParams, codeOf(err))

	_, err = f.svc.List(as("admin"), "product", ListRequest{
		Params: everything,
		Search: map[string]any{"price": "cheap"},
	})
	assert.Equal(t, apierr.InvalidParams, codeOf(err))

	// search needs the s permission
	_, err = f.svc.List(as("user"), "product", ListRequest{
		Options: Options{Mode: "r"},
		Params:  everything,
		Search:  map[string]any{"price": 1},
	})
	assert.Equal(t, apierr.NoRights, codeOf(err))
}

func TestList_SearchAndSecureFields(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	for i := 1; i <= 5; i++ {
		f.insert(t, "product", storage.Document{
			"name":  fmt.Sprintf("P%d", i),
			"price": float64(i * 10),
			"cost":  float64(i),
		})
	}

	res, err := f.svc.List(as("user"), "product", ListRequest{
		Params: filter.Params{SortBy: []string{"price"}, Desc: []bool{true}, AttrNames: []string{"name", "cost"}},
		Search: map[string]any{"price": map[string]any{"$gte": "30"}, "cost": 1, "$where": "1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
	require.Len(t, res.Data, 3)
	assert.Equal(t, "P5", res.Data[0]["name"])
	for _, doc := range res.Data {
		assert.NotContains(t, doc, "cost")
		assert.NotContains(t, doc, "price")
	}
}

func TestList_ServerFilterWins(t *testing.T) {
	f := newFixture(t, Config{}, schema.Collection{
		Name: "note",
		Fields: []schema.Field{
			{Name: "text", Type: schema.FieldTypeString},
			{Name: "owner", Type: schema.FieldTypeString, Search: schema.Flag(true)},
		},
		UserField: "owner",
		Roles:     []string{"admin:*", "user:rs"},
		Hooks: map[string][]schema.Hook{
			schema.StageListQuery: {{Call: "owner_only", Args: map[string]any{"except": []any{"admin"}}}},
		},
	})
	for i := 0; i < 2; i++ {
		f.insert(t, "note", storage.Document{"text": "mine", "owner": "u-user"})
	}
	for i := 0; i < 3; i++ {
		f.insert(t, "note", storage.Document{"text": "theirs", "owner": "someone"})
	}

	res, err := f.svc.List(as("user"), "note", ListRequest{
		Params: everything,
		Search: map[string]any{"owner": "someone"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	for _, doc := range res.Data {
		assert.Equal(t, "mine", doc["text"])
	}

	res, err = f.svc.List(as("admin"), "note", ListRequest{
		Params: everything,
		Search: map[string]any{"owner": "someone"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Total)
}

func TestList_ResolvesLinks(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	tools := f.insert(t, "category", storage.Document{"name": "Tools"})
	garden := f.insert(t, "category", storage.Document{"name": "Garden"})
	f.insert(t, "product", storage.Document{"name": "Hammer", "category": tools})
	f.insert(t, "product", storage.Document{"name": "Rake", "category": garden})
	f.insert(t, "product", storage.Document{"name": "Saw", "category": tools})
	f.insert(t, "product", storage.Document{"name": "Orphan", "category": bson.NewObjectID()})

	res, err := f.svc.List(as("user"), "product", ListRequest{Params: filter.Params{
		SortBy:    []string{"name"},
		Desc:      []bool{},
		AttrNames: []string{"name", "category_name"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Data, 4)

	got := make(map[string]any)
	for _, doc := range res.Data {
		assert.NotContains(t, doc, "category")
		got[doc["name"].(string)] = doc["category_name"]
	}
	assert.Equal(t, "Tools", got["Hammer"])
	assert.Equal(t, "Garden", got["Rake"])
	assert.Equal(t, "Tools", got["Saw"])
	assert.Nil(t, got["Orphan"])
}

func TestGet(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	tools := f.insert(t, "category", storage.Document{"name": "Tools"})
	id := f.insert(t, "product", storage.Document{"name": "Hammer", "cost": 2.5, "category": tools})

	doc, err := f.svc.Get(as("user"), "product", id.Hex(), Options{})
	require.NoError(t, err)
	assert.Equal(t, id, doc[storage.IDField])
	assert.Equal(t, "Hammer", doc["name"])
	assert.Equal(t, "Tools", doc["category_name"])
	assert.NotContains(t, doc, "cost")

	_, err = f.svc.Get(as("user"), "product", "not-an-id", Options{})
	assert.Equal(t, apierr.NotFound, codeOf(err))

	_, err = f.svc.Get(as("user"), "product", bson.NewObjectID().Hex(), Options{})
	assert.Equal(t, apierr.NotFound, codeOf(err))
}

func TestGet_MalformedIDSkipsStorage(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	var calls int
	f.svc.store = storage.Observe(f.store, func(string, string, time.Duration, error) { calls++ })

	_, err := f.svc.Get(as("user"), "product", "zzz", Options{})
	assert.Equal(t, apierr.NotFound, codeOf(err))
	assert.Zero(t, calls)
}

func TestExport(t *testing.T) {
	f := newFixture(t, Config{Limits: filter.Limits{Default: 2, Max: 4}}, catalog()...)
	for i := 0; i < 6; i++ {
		f.insert(t, "category", storage.Document{"name": fmt.Sprintf("C%d", i)})
	}

	res, err := f.svc.Export(as("admin"), "category", ListRequest{Params: everything})
	require.NoError(t, err)
	assert.Len(t, res.Data, 4)

	_, err = f.svc.Export(as("user"), "category", ListRequest{Params: everything})
	assert.Equal(t, apierr.NoRights, codeOf(err))
}

func TestResolveReference(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)
	toys := f.insert(t, "category", storage.Document{"name": "Toys", "active": true})
	tools := f.insert(t, "category", storage.Document{"name": "Tools", "active": true})
	f.insert(t, "category", storage.Document{"name": "Garden", "active": false})
	f.insert(t, "category", storage.Document{"name": "Tea", "active": true})

	opts, err := f.svc.ResolveReference(as("user"), "category", "product", "to", Options{})
	require.NoError(t, err)
	assert.Equal(t, []RefOption{
		{Value: tools.Hex(), Label: "Tools"},
		{Value: toys.Hex(), Label: "Toys"},
	}, opts)

	opts, err = f.svc.ResolveReference(as("user"), "category", "product", "", Options{})
	require.NoError(t, err)
	assert.Len(t, opts, 3, "inactive categories are filtered for product")

	opts, err = f.svc.ResolveReference(as("user"), "category", "", "", Options{})
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	// editor cannot read categories but fills in product.category
	opts, err = f.svc.ResolveReference(as("editor"), "category", "product", "t", Options{})
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	_, err = f.svc.ResolveReference(as("editor"), "category", "", "", Options{})
	assert.Equal(t, apierr.NoRights, codeOf(err))

	_, err = f.svc.ResolveReference(as("editor"), "category", "review", "", Options{})
	assert.Equal(t, apierr.NoRights, codeOf(err))
}

func TestDescribe(t *testing.T) {
	f := newFixture(t, Config{}, catalog()...)

	d, err := f.svc.Describe(as("editor"), "product", Options{Mode: "rsudbo"})
	require.NoError(t, err)
	assert.Equal(t, "rsud", d.Mode.String())
	assert.True(t, d.Mode.Has(mode.Delete))
	assert.Equal(t, []string{"name", "price", "cost", "category"}, d.Create)
	assert.NotContains(t, d.List, "cost")
	assert.Contains(t, d.List, "category_name")

	_, err = f.svc.Describe(as("stranger"), "product", Options{})
	assert.Equal(t, apierr.NoRights, codeOf(err))
}

func TestGet_OwnerScope(t *testing.T) {
	f := newFixture(t, Config{}, noteCollection())
	alice := asSubject("alice", "editor")
	bob := asSubject("bob", "editor")

	doc, err := f.svc.Create(alice, "note", map[string]any{"name": "secret plan", "body": "b"}, Options{})
	require.NoError(t, err)
	id := doc[storage.IDField].(bson.ObjectID)

	_, err = f.svc.Get(bob, "note", id.Hex(), Options{})
	assert.Equal(t, apierr.NotFound, codeOf(err))

	got, err := f.svc.Get(alice, "note", id.Hex(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "secret plan", got["name"])

	_, err = f.svc.Get(as("admin"), "note", id.Hex(), Options{})
	require.NoError(t, err)
}

func TestResolveReference_OwnerScope(t *testing.T) {
	f := newFixture(t, Config{}, noteCollection())
	f.insert(t, "note", storage.Document{"name": "secret plan", "owner": "alice"})
	mine := f.insert(t, "note", storage.Document{"name": "shopping", "owner": "bob"})

	opts, err := f.svc.ResolveReference(asSubject("bob", "editor"), "note", "", "", Options{})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, mine.Hex(), opts[0].Value)

	opts, err = f.svc.ResolveReference(asSubject("bob", "editor"), "note", "", "sec", Options{})
	require.NoError(t, err)
	assert.Empty(t, opts)

	opts, err = f.svc.ResolveReference(as("admin"), "note", "", "", Options{})
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}
