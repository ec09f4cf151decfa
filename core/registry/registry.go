// Package registry holds one immutable Meta record per collection.
//
// Collections are registered on a Builder during startup. Build checks the
// cross-collection references and returns a Registry that is never mutated
// again, so it needs no locking and is safe for concurrent reads.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/artpar/entitygate/core/convention"
	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/mode"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/rs/zerolog"
)

// DefaultLabelField is used as the label when a collection declares none and
// has a field of this name.
const DefaultLabelField = "name"

// Meta is the registered, fully derived form of one collection.
type Meta struct {
	Name       string
	Derived    convention.Derived
	Resolver   *mode.Resolver
	Hooks      hooks.Set
	LabelField string
	UserField  string
	RefFilter  map[string]map[string]any
}

// Field returns the named derived field.
func (m *Meta) Field(name string) (convention.DerivedField, bool) {
	return m.Derived.Field(name)
}

// Subsets returns the field subsets visible in view.
func (m *Meta) Subsets(view string) convention.Subsets {
	return m.Derived.Subsets.ForView(view)
}

// Spec returns the storage description of the collection.
func (m *Meta) Spec() storage.CollectionSpec {
	spec := storage.CollectionSpec{Name: m.Name}
	for _, f := range m.Derived.Fields {
		if f.Unique {
			spec.Unique = append(spec.Unique, f.Name)
		}
	}
	return spec
}

// Refs returns the ref fields of the collection in declaration order.
func (m *Meta) Refs() []convention.DerivedField {
	var refs []convention.DerivedField
	for _, f := range m.Derived.Fields {
		if f.IsRef() {
			refs = append(refs, f)
		}
	}
	return refs
}

// Referrer is a ref field of some collection that points at another one.
type Referrer struct {
	Collection string
	Field      string
	Delete     schema.DeleteMode
}

// Builder collects collection registrations.
type Builder struct {
	functions *hooks.Functions
	bus       *events.Bus
	logger    zerolog.Logger

	metas map[string]*Meta
}

// NewBuilder creates a builder. functions resolves "call:" hooks; bus
// receives "emit:" hooks and may be nil.
func NewBuilder(functions *hooks.Functions, bus *events.Bus, logger zerolog.Logger) *Builder {
	if functions == nil {
		functions = hooks.NewFunctions()
	}
	return &Builder{
		functions: functions,
		bus:       bus,
		logger:    logger,
		metas:     make(map[string]*Meta),
	}
}

// Register validates and derives a collection. Any defect is returned as a
// ConfigurationError.
func (b *Builder) Register(coll schema.Collection) error {
	if _, exists := b.metas[coll.Name]; exists {
		return schema.Configf(coll.Name, "", "collection already registered")
	}
	if err := schema.Validate(coll); err != nil {
		return err
	}

	derived, err := convention.Derive(coll)
	if err != nil {
		return err
	}

	rules := make([]mode.Rule, 0, len(coll.Roles))
	for _, decl := range coll.Roles {
		rule, err := mode.ParseRule(decl)
		if err != nil {
			return schema.Configf(coll.Name, "", "%v", err)
		}
		rules = append(rules, rule)
	}
	resolver, err := mode.NewResolver(rules)
	if err != nil {
		return schema.Configf(coll.Name, "", "%v", err)
	}

	set, err := hooks.Resolve(coll, b.functions, b.bus)
	if err != nil {
		return err
	}

	label := coll.LabelField
	if label == "" {
		if _, ok := coll.Field(DefaultLabelField); ok {
			label = DefaultLabelField
		}
	}
	if f, ok := coll.Field(label); ok && f.Secure {
		return schema.Configf(coll.Name, label, "label field must not be secure")
	}

	b.metas[coll.Name] = &Meta{
		Name:       coll.Name,
		Derived:    derived,
		Resolver:   resolver,
		Hooks:      set,
		LabelField: label,
		UserField:  coll.UserField,
		RefFilter:  coll.RefFilter,
	}

	b.logger.Debug().
		Str("collection", coll.Name).
		Int("fields", len(derived.Fields)).
		Int("hooks", set.Len()).
		Msg("collection registered")
	return nil
}

// RegisterAll registers every collection and joins the errors.
func (b *Builder) RegisterAll(colls []schema.Collection) error {
	var errs []error
	for _, coll := range colls {
		if err := b.Register(coll); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build checks references between collections and returns the registry.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		metas:     make(map[string]*Meta, len(b.metas)),
		referrers: make(map[string][]Referrer),
	}

	var errs []error
	for name, meta := range b.metas {
		r.metas[name] = meta
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	for _, name := range r.names {
		for _, f := range r.metas[name].Refs() {
			if _, ok := b.metas[f.Ref]; !ok {
				errs = append(errs, schema.Configf(name, f.Name, "ref target %q is not registered", f.Ref))
				continue
			}
			r.referrers[f.Ref] = append(r.referrers[f.Ref], Referrer{
				Collection: name,
				Field:      f.Name,
				Delete:     f.Delete,
			})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Registry is the immutable set of registered collections.
type Registry struct {
	metas     map[string]*Meta
	names     []string
	referrers map[string][]Referrer
}

// Get returns the Meta of a collection.
func (r *Registry) Get(name string) (*Meta, bool) {
	m, ok := r.metas[name]
	return m, ok
}

// MustGet returns the Meta of a collection or panics.
func (r *Registry) MustGet(name string) *Meta {
	m, ok := r.metas[name]
	if !ok {
		panic(fmt.Sprintf("registry: collection %q not registered", name))
	}
	return m
}

// Names returns the registered collection names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// List returns every Meta sorted by name.
func (r *Registry) List() []*Meta {
	out := make([]*Meta, len(r.names))
	for i, name := range r.names {
		out[i] = r.metas[name]
	}
	return out
}

// Referrers returns the ref fields, across all collections, that point at
// target. The result must not be modified.
func (r *Registry) Referrers(target string) []Referrer {
	return r.referrers[target]
}

// Specs returns the storage descriptions of every collection.
func (r *Registry) Specs() []storage.CollectionSpec {
	specs := make([]storage.CollectionSpec, len(r.names))
	for i, name := range r.names {
		specs[i] = r.metas[name].Spec()
	}
	return specs
}
