package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
)

// Args are the arguments of a "call:" hook declaration.
type Args map[string]any

// String returns the string argument key, or def.
func (a Args) String(key, def string) string {
	if v, ok := a[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Strings returns a list-of-strings argument.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// Target is what a hook factory is built against.
type Target struct {
	Collection schema.Collection
	Args       Args
}

// Function builds typed hooks for the stages it supports. A nil factory
// means the function cannot be declared for that kind of stage.
type Function struct {
	Create    func(t Target) (CreateHook, error)
	Update    func(t Target) (UpdateHook, error)
	Delete    func(t Target) (DeleteHook, error)
	ListQuery func(t Target) (ListQueryHook, error)
}

// Functions is the registry behind "call:" hook declarations.
type Functions struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewFunctions creates an empty registry.
func NewFunctions() *Functions {
	return &Functions{funcs: make(map[string]Function)}
}

// Register adds or replaces a function.
func (r *Functions) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns a registered function.
func (r *Functions) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered function names, sorted.
func (r *Functions) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a collection's hook declarations into a Set. An unknown
// function, or a function declared for a stage it does not support, is a
// ConfigurationError. Emit hooks publish to bus; a nil bus makes them no-ops.
func Resolve(coll schema.Collection, fns *Functions, bus *events.Bus) (Set, error) {
	var set Set
	for _, stage := range schema.Stages {
		for i, decl := range coll.Hooks[stage] {
			if err := resolveOne(&set, coll, stage, decl, fns, bus); err != nil {
				return Set{}, schema.Configf(coll.Name, "", "hook %s[%d]: %v", stage, i, err)
			}
		}
	}
	return set, nil
}

func resolveOne(set *Set, coll schema.Collection, stage string, decl schema.Hook, fns *Functions, bus *events.Bus) error {
	if decl.Emit != "" {
		addEmit(set, coll.Name, stage, decl.Emit, bus)
		return nil
	}

	fn, ok := fns.Lookup(decl.Call)
	if !ok {
		return fmt.Errorf("function %q is not registered", decl.Call)
	}
	t := Target{Collection: coll, Args: Args(decl.Args)}
	unsupported := fmt.Errorf("function %q cannot run at %s", decl.Call, stage)

	switch stage {
	case schema.StageBeforeCreate, schema.StageAfterCreate:
		if fn.Create == nil {
			return unsupported
		}
		h, err := fn.Create(t)
		if err != nil {
			return err
		}
		if stage == schema.StageBeforeCreate {
			set.BeforeCreate = append(set.BeforeCreate, h)
		} else {
			set.AfterCreate = append(set.AfterCreate, h)
		}
	case schema.StageBeforeUpdate, schema.StageAfterUpdate:
		if fn.Update == nil {
			return unsupported
		}
		h, err := fn.Update(t)
		if err != nil {
			return err
		}
		if stage == schema.StageBeforeUpdate {
			set.BeforeUpdate = append(set.BeforeUpdate, h)
		} else {
			set.AfterUpdate = append(set.AfterUpdate, h)
		}
	case schema.StageBeforeDelete, schema.StageAfterDelete:
		if fn.Delete == nil {
			return unsupported
		}
		h, err := fn.Delete(t)
		if err != nil {
			return err
		}
		if stage == schema.StageBeforeDelete {
			set.BeforeDelete = append(set.BeforeDelete, h)
		} else {
			set.AfterDelete = append(set.AfterDelete, h)
		}
	case schema.StageListQuery:
		if fn.ListQuery == nil {
			return unsupported
		}
		h, err := fn.ListQuery(t)
		if err != nil {
			return err
		}
		set.ListQuery = append(set.ListQuery, h)
	}
	return nil
}

func addEmit(set *Set, collection, stage, name string, bus *events.Bus) {
	publish := func(ctx context.Context, caller *identity.Identity, records []storage.Document) {
		if bus == nil {
			return
		}
		ev := events.Event{Name: name, Collection: collection, Stage: stage, Records: records}
		if caller != nil {
			ev.Subject = caller.Subject
		}
		bus.Publish(ctx, ev)
	}

	switch stage {
	case schema.StageBeforeCreate, schema.StageAfterCreate:
		h := func(ctx context.Context, hc *CreateContext) error {
			publish(ctx, hc.Identity, []storage.Document{hc.Record})
			return nil
		}
		if stage == schema.StageBeforeCreate {
			set.BeforeCreate = append(set.BeforeCreate, h)
		} else {
			set.AfterCreate = append(set.AfterCreate, h)
		}
	case schema.StageBeforeUpdate, schema.StageAfterUpdate:
		h := func(ctx context.Context, hc *UpdateContext) error {
			publish(ctx, hc.Identity, hc.Records())
			return nil
		}
		if stage == schema.StageBeforeUpdate {
			set.BeforeUpdate = append(set.BeforeUpdate, h)
		} else {
			set.AfterUpdate = append(set.AfterUpdate, h)
		}
	case schema.StageBeforeDelete, schema.StageAfterDelete:
		h := func(ctx context.Context, hc *DeleteContext) error {
			publish(ctx, hc.Identity, hc.Records)
			return nil
		}
		if stage == schema.StageBeforeDelete {
			set.BeforeDelete = append(set.BeforeDelete, h)
		} else {
			set.AfterDelete = append(set.AfterDelete, h)
		}
	case schema.StageListQuery:
		set.ListQuery = append(set.ListQuery, func(ctx context.Context, hc *ListQueryContext) error {
			publish(ctx, hc.Identity, nil)
			return nil
		})
	}
}
