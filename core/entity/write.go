package entity

import (
	"context"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/convention"
	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/mode"
	"github.com/artpar/entitygate/core/objectid"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/artpar/entitygate/core/validation"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Create inserts a record built from the create fields of payload and returns
// it projected to the property fields.
func (s *Service) Create(ctx context.Context, collection string, payload map[string]any, opts Options) (doc storage.Document, err error) {
	defer s.finish(ctx, collection, OpCreate, time.Now(), &err)

	a, err := s.authorize(ctx, collection, opts, mode.Create)
	if err != nil {
		return nil, err
	}
	subsets := a.meta.Subsets(opts.View)
	return s.create(ctx, a, pick(payload, subsets.Create), subsets, false)
}

// Clone copies the clone fields of an existing record, overlays overrides
// restricted to the same fields and creates a new record from the result.
func (s *Service) Clone(ctx context.Context, collection, rawID string, overrides map[string]any, opts Options) (doc storage.Document, err error) {
	defer s.finish(ctx, collection, OpClone, time.Now(), &err)

	a, err := s.authorize(ctx, collection, opts, mode.Clone)
	if err != nil {
		return nil, err
	}
	subsets := a.meta.Subsets(opts.View)
	scope, err := s.serverFilter(ctx, a)
	if err != nil {
		return nil, err
	}

	source, err := objectid.FindByIDWithin(ctx, s.store, a.meta.Name, rawID, scope, subsets.Clone)
	if err != nil {
		return nil, storageError(err, "clone "+a.meta.Name)
	}
	if source == nil {
		return nil, apierr.Newf(apierr.NotFound, "%s %q not found", a.meta.Name, rawID)
	}

	payload := pick(source, subsets.Clone)
	for k, v := range pick(overrides, subsets.Clone) {
		payload[k] = v
	}
	return s.create(ctx, a, payload, subsets, false)
}

// ImportResult is the outcome of one imported item.
type ImportResult struct {
	Index int         `json:"index"`
	Code  apierr.Code `json:"code"`
	Err   string      `json:"err,omitempty"`
	ID    string      `json:"id,omitempty"`
}

// Import creates every item independently. Ref fields may name their target
// by label instead of id. A failing item does not stop the batch.
func (s *Service) Import(ctx context.Context, collection string, items []map[string]any, opts Options) (results []ImportResult, err error) {
	defer s.finish(ctx, collection, OpImport, time.Now(), &err)

	a, err := s.authorize(ctx, collection, opts, mode.Create, mode.Import)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apierr.New(apierr.NoParams, "nothing to import")
	}
	subsets := a.meta.Subsets(opts.View)

	results = make([]ImportResult, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = ImportResult{Index: i, Code: apierr.OK}

		doc, err := s.create(ctx, a, pick(item, subsets.Create), subsets, true)
		if err != nil {
			err = apierr.Wrap(err, "import "+a.meta.Name)
			if apierr.Is(err, apierr.Internal) {
				s.logger.Error().Err(err).Str("collection", a.meta.Name).Int("index", i).Msg("import item failed")
			}
			results[i].Code = apierr.CodeOf(err)
			results[i].Err = apierr.ClientMessage(err)
			continue
		}
		if id, ok := doc[storage.IDField].(bson.ObjectID); ok {
			results[i].ID = id.Hex()
		}
	}
	return results, nil
}

// create runs the create pipeline on an already field-filtered payload.
func (s *Service) create(ctx context.Context, a access, doc storage.Document, subsets convention.Subsets, byLabel bool) (storage.Document, error) {
	meta := a.meta

	if byLabel {
		if err := s.resolveRefLabels(ctx, meta, doc); err != nil {
			return nil, err
		}
	}

	for _, name := range subsets.Create {
		f, _ := meta.Field(name)
		if _, ok := doc[name]; !ok && f.Default != nil {
			doc[name] = f.Default
		}
	}
	if res := validation.Payload(meta.Derived.Fields, doc); !res.Valid() {
		return nil, apierr.New(apierr.InvalidParams, res.Error())
	}

	if meta.UserField != "" {
		f, _ := meta.Field(meta.UserField)
		doc[meta.UserField] = hooks.SubjectValue(f.Field, a.caller.Subject)
	}
	id := bson.NewObjectID()
	doc[storage.IDField] = id

	hc := hooks.NewCreateContext(meta.Name, a.caller, s.store, doc)
	if err := hooks.Run(ctx, meta.Hooks.BeforeCreate, hc); err != nil {
		return nil, s.hookFailed(meta.Name, schema.StageBeforeCreate, err)
	}
	doc = hc.Record
	doc[storage.IDField] = id

	for _, f := range meta.Derived.Fields {
		if !f.Required || f.IsLink() {
			continue
		}
		v, ok := doc[f.Name]
		if missing(v, ok) {
			return nil, apierr.Newf(apierr.NoParams, "field %q is required", f.Name)
		}
	}
	if err := s.checkRefs(ctx, meta, doc); err != nil {
		return nil, err
	}

	if err := s.store.Insert(ctx, meta.Name, doc); err != nil {
		return nil, storageError(err, "create "+meta.Name)
	}

	if err := hooks.Run(ctx, meta.Hooks.AfterCreate, hc); err != nil {
		return nil, s.hookFailed(meta.Name, schema.StageAfterCreate, err)
	}

	return s.read(ctx, meta, id.Hex(), nil, subsets.Property)
}

// Update sets the update fields of payload on one record and returns the
// updated record projected to the property fields.
func (s *Service) Update(ctx context.Context, collection, rawID string, payload map[string]any, opts Options) (doc storage.Document, err error) {
	defer s.finish(ctx, collection, OpUpdate, time.Now(), &err)

	a, err := s.authorize(ctx, collection, opts, mode.Update)
	if err != nil {
		return nil, err
	}
	meta := a.meta
	subsets := meta.Subsets(opts.View)

	id, ok := objectid.Parse(rawID)
	if !ok {
		return nil, apierr.Newf(apierr.NotFound, "%s %q not found", meta.Name, rawID)
	}
	changes := pick(payload, subsets.Update)
	if len(changes) == 0 {
		return nil, apierr.New(apierr.NoParams, "no updatable fields in payload")
	}
	if res := validation.Payload(meta.Derived.Fields, changes); !res.Valid() {
		return nil, apierr.New(apierr.InvalidParams, res.Error())
	}
	if err := requiredNotCleared(meta, changes); err != nil {
		return nil, err
	}

	byID := storage.Filter{storage.IDField: id}
	previous, err := s.store.Find(ctx, meta.Name, byID, storage.FindOptions{Limit: 1})
	if err != nil {
		return nil, storageError(err, "update "+meta.Name)
	}
	if len(previous) == 0 {
		return nil, apierr.Newf(apierr.NotFound, "%s %q not found", meta.Name, rawID)
	}

	hc := hooks.NewUpdateContext(meta.Name, a.caller, s.store, []bson.ObjectID{id}, changes)
	hc.Previous = previous
	if err := hooks.Run(ctx, meta.Hooks.BeforeUpdate, hc); err != nil {
		return nil, s.hookFailed(meta.Name, schema.StageBeforeUpdate, err)
	}
	changes = hc.Changes
	if err := requiredNotCleared(meta, changes); err != nil {
		return nil, err
	}
	if err := s.checkRefs(ctx, meta, changes); err != nil {
		return nil, err
	}

	delete(changes, storage.IDField)
	n, err := s.store.Update(ctx, meta.Name, byID, storage.Change{Set: changes})
	if err != nil {
		return nil, storageError(err, "update "+meta.Name)
	}
	if n == 0 {
		return nil, apierr.Newf(apierr.NotFound, "%s %q not found", meta.Name, rawID)
	}

	if err := hooks.Run(ctx, meta.Hooks.AfterUpdate, hc); err != nil {
		return nil, s.hookFailed(meta.Name, schema.StageAfterUpdate, err)
	}
	return s.read(ctx, meta, rawID, nil, subsets.Property)
}

func requiredNotCleared(meta *registry.Meta, changes storage.Document) error {
	for name, v := range changes {
		f, ok := meta.Field(name)
		if ok && f.Required && missing(v, true) {
			return apierr.Newf(apierr.NoParams, "field %q is required", name)
		}
	}
	return nil
}

// checkRefs verifies that every ref value in doc names an existing record.
func (s *Service) checkRefs(ctx context.Context, meta *registry.Meta, doc storage.Document) error {
	for _, f := range meta.Refs() {
		v, ok := doc[f.Name]
		if !ok || v == nil {
			continue
		}
		id, ok := v.(bson.ObjectID)
		if !ok {
			raw, isString := v.(string)
			if id, ok = objectid.Parse(raw); !isString || !ok {
				return apierr.Newf(apierr.InvalidParams, "field %q is not a valid id", f.Name)
			}
			doc[f.Name] = id
		}
		n, err := s.store.Count(ctx, f.Ref, storage.Filter{storage.IDField: id})
		if err != nil {
			return storageError(err, "check ref "+f.Ref)
		}
		if n == 0 {
			return apierr.Newf(apierr.RefNotFound, "%s %s referenced by %q does not exist", f.Ref, id.Hex(), f.Name)
		}
	}
	return nil
}

// resolveRefLabels replaces ref values that are not ids with the id of the
// single target record carrying that label.
func (s *Service) resolveRefLabels(ctx context.Context, meta *registry.Meta, doc storage.Document) error {
	for _, f := range meta.Refs() {
		raw, ok := doc[f.Name].(string)
		if !ok || raw == "" {
			continue
		}
		if _, isID := objectid.Parse(raw); isID {
			continue
		}
		target, ok := s.registry.Get(f.Ref)
		if !ok || target.LabelField == "" {
			continue
		}
		found, err := s.store.Find(ctx, target.Name, storage.Filter{target.LabelField: raw}, storage.FindOptions{
			Limit:      2,
			Projection: []string{},
		})
		if err != nil {
			return storageError(err, "resolve label "+target.Name)
		}
		switch len(found) {
		case 0:
			return apierr.Newf(apierr.RefNotFound, "no %s labelled %q", target.Name, raw)
		case 1:
			doc[f.Name] = found[0][storage.IDField]
		default:
			return apierr.Newf(apierr.RefNotUnique, "more than one %s labelled %q", target.Name, raw)
		}
	}
	return nil
}

// Description is the caller's view of a collection.
type Description struct {
	Collection string    `json:"collection"`
	Mode       mode.Mode `json:"mode"`
	Client     []string  `json:"client_fields"`
	List       []string  `json:"list_fields"`
	Search     []string  `json:"search_fields"`
	Create     []string  `json:"create_fields"`
	Update     []string  `json:"update_fields"`
	Clone      []string  `json:"clone_fields"`
}

// Describe returns the caller's effective mode and field subsets.
func (s *Service) Describe(ctx context.Context, collection string, opts Options) (d *Description, err error) {
	defer s.finish(ctx, collection, OpDescribe, time.Now(), &err)

	caller := identity.FromContext(ctx)
	if caller == nil {
		return nil, apierr.New(apierr.NoSession, "no session")
	}
	meta, ok := s.registry.Get(collection)
	if !ok {
		return nil, apierr.Newf(apierr.NotFound, "unknown collection %q", collection)
	}
	m := meta.Resolver.Effective(caller.Role, opts.View, opts.Mode)
	if m.Empty() {
		return nil, apierr.New(apierr.NoRights, "no access to collection")
	}

	subsets := meta.Subsets(opts.View)
	return &Description{
		Collection: meta.Name,
		Mode:       m,
		Client:     subsets.Client,
		List:       subsets.List,
		Search:     subsets.Search,
		Create:     subsets.Create,
		Update:     subsets.Update,
		Clone:      subsets.Clone,
	}, nil
}
