package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/filter"
	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// everything selects all listable fields with no sort.
var everything = filter.Params{SortBy: []string{}, Desc: []bool{}, AttrNames: []string{}}

func categoryCollection() schema.Collection {
	return schema.Collection{
		Name: "category",
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldTypeString, Required: true, Unique: true},
			{Name: "active", Type: schema.FieldTypeBool, Default: true},
			{Name: "product_count", Type: schema.FieldTypeInt, Sys: true, List: schema.Flag(true)},
		},
		Roles: []string{"admin:*", "user:rs"},
		RefFilter: map[string]map[string]any{
			"product": {"active": true},
		},
	}
}

func productCollection() schema.Collection {
	counter := schema.Hook{Call: "counter", Args: map[string]any{"ref": "category", "field": "product_count"}}
	return schema.Collection{
		Name: "product",
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldTypeString, Required: true},
			{Name: "sku", Sys: true, Unique: true},
			{Name: "price", Type: schema.FieldTypeFloat, Search: schema.Flag(true)},
			{Name: "cost", Type: schema.FieldTypeFloat, Secure: true},
			{Name: "category", Ref: "category", Delete: schema.DeleteCascade},
			{Name: "category_name", Link: "category"},
			{Name: "owner", Type: schema.FieldTypeString},
		},
		UserField: "owner",
		Roles:     []string{"admin:*", "user:rs", "editor:crsud"},
		Hooks: map[string][]schema.Hook{
			schema.StageAfterCreate: {counter},
			schema.StageAfterDelete: {counter},
		},
	}
}

func reviewCollection() schema.Collection {
	return schema.Collection{
		Name: "review",
		Fields: []schema.Field{
			{Name: "text", Type: schema.FieldTypeString},
			{Name: "product", Ref: "product", Delete: schema.DeleteCascade},
		},
		Roles: []string{"admin:*"},
	}
}

func favoriteCollection() schema.Collection {
	return schema.Collection{
		Name: "favorite",
		Fields: []schema.Field{
			{Name: "category", Ref: "category", Delete: schema.DeleteKeep},
		},
		Roles: []string{"admin:*"},
	}
}

func orderCollection() schema.Collection {
	return schema.Collection{
		Name: "order",
		Fields: []schema.Field{
			{Name: "qty", Type: schema.FieldTypeInt},
			{Name: "product", Ref: "product"},
		},
		Roles: []string{"admin:*"},
	}
}

// noteCollection is visible to editors only for the notes they own.
func noteCollection() schema.Collection {
	return schema.Collection{
		Name: "note",
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldTypeString, Required: true},
			{Name: "body", Type: schema.FieldTypeString},
			{Name: "owner", Type: schema.FieldTypeString},
		},
		UserField: "owner",
		Roles:     []string{"admin:*", "editor:crsudo"},
		Hooks: map[string][]schema.Hook{
			schema.StageListQuery: {{Call: "owner_only", Args: map[string]any{"except": []any{"admin"}}}},
		},
	}
}

func catalog() []schema.Collection {
	return []schema.Collection{
		categoryCollection(),
		productCollection(),
		reviewCollection(),
		favoriteCollection(),
		orderCollection(),
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	ops   []string
	hooks []string
}

func (o *recordingObserver) ObserveOperation(collection, op string, code apierr.Code, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, collection+":"+op+":"+string(code))
}

func (o *recordingObserver) ObserveHookFailure(collection, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hooks = append(o.hooks, collection+":"+stage)
}

type fixture struct {
	svc      *Service
	store    *storage.MemoryStore
	observer *recordingObserver
}

func newFixture(t *testing.T, cfg Config, colls ...schema.Collection) *fixture {
	t.Helper()

	fns := hooks.NewFunctions()
	hooks.RegisterBuiltins(fns, func() time.Time { return fixedNow })
	reject := func(ctx context.Context) error {
		return apierr.New(apierr.NoRights, "rejected by hook")
	}
	fns.Register("reject", hooks.Function{
		Create: func(hooks.Target) (hooks.CreateHook, error) {
			return func(ctx context.Context, _ *hooks.CreateContext) error { return reject(ctx) }, nil
		},
		Update: func(hooks.Target) (hooks.UpdateHook, error) {
			return func(ctx context.Context, _ *hooks.UpdateContext) error { return reject(ctx) }, nil
		},
		Delete: func(hooks.Target) (hooks.DeleteHook, error) {
			return func(ctx context.Context, _ *hooks.DeleteContext) error { return reject(ctx) }, nil
		},
	})

	b := registry.NewBuilder(fns, nil, zerolog.Nop())
	require.NoError(t, b.RegisterAll(colls))
	reg, err := b.Build()
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	for _, spec := range reg.Specs() {
		require.NoError(t, store.Ensure(context.Background(), spec))
	}

	obs := &recordingObserver{}
	cfg.Observer = obs
	cfg.Logger = zerolog.Nop()
	return &fixture{svc: New(reg, store, cfg), store: store, observer: obs}
}

// insert stores doc directly, bypassing the service.
func (f *fixture) insert(t *testing.T, collection string, doc storage.Document) bson.ObjectID {
	t.Helper()
	id, ok := doc[storage.IDField].(bson.ObjectID)
	if !ok {
		id = bson.NewObjectID()
		doc[storage.IDField] = id
	}
	require.NoError(t, f.store.Insert(context.Background(), collection, doc))
	return id
}

func (f *fixture) count(t *testing.T, collection string, flt storage.Filter) int64 {
	t.Helper()
	n, err := f.store.Count(context.Background(), collection, flt)
	require.NoError(t, err)
	return n
}

func (f *fixture) load(t *testing.T, collection string, id bson.ObjectID) storage.Document {
	t.Helper()
	docs, err := f.store.Find(context.Background(), collection, storage.Filter{storage.IDField: id}, storage.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	return docs[0]
}

func as(role string) context.Context {
	return identity.WithIdentity(context.Background(), &identity.Identity{Subject: "u-" + role, Role: role})
}

func asSubject(subject, role string) context.Context {
	return identity.WithIdentity(context.Background(), &identity.Identity{Subject: subject, Role: role})
}

func codeOf(err error) apierr.Code {
	return apierr.CodeOf(err)
}
