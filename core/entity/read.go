package entity

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/filter"
	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/mode"
	"github.com/artpar/entitygate/core/objectid"
	"github.com/artpar/entitygate/core/registry"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/artpar/entitygate/core/validation"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"
)

// ListRequest is a list or export request.
type ListRequest struct {
	Options

	Params filter.Params

	// Search holds client filter values keyed by field name.
	Search map[string]any

	// RefBy names the collection on whose behalf records are listed,
	// selecting a ref_filter entry.
	RefBy string
}

// ListResult is one page of records.
type ListResult struct {
	Total int64
	Data  []storage.Document
}

// List returns one page of records and the total number of matches.
func (s *Service) List(ctx context.Context, collection string, req ListRequest) (res *ListResult, err error) {
	defer s.finish(ctx, collection, OpList, time.Now(), &err)

	ops := []mode.Op{mode.Read}
	if len(req.Search) > 0 {
		ops = append(ops, mode.Search)
	}
	a, err := s.authorize(ctx, collection, req.Options, ops...)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, a, req, true)
}

// Export returns every matching record up to the maximum page size, without
// pagination.
func (s *Service) Export(ctx context.Context, collection string, req ListRequest) (res *ListResult, err error) {
	defer s.finish(ctx, collection, OpExport, time.Now(), &err)

	a, err := s.authorize(ctx, collection, req.Options, mode.Read, mode.Export)
	if err != nil {
		return nil, err
	}
	req.Params.Page = 1
	req.Params.Limit = s.limits.Max
	return s.list(ctx, a, req, false)
}

func (s *Service) list(ctx context.Context, a access, req ListRequest, withTotal bool) (*ListResult, error) {
	meta := a.meta
	subsets := meta.Subsets(req.View)

	search, err := s.coerceSearch(meta, subsets.Search, req.Search)
	if err != nil {
		return nil, err
	}

	server, err := s.serverFilter(ctx, a)
	if err != nil {
		return nil, err
	}

	q, err := filter.Build(req.Params, server, search, req.RefBy, filter.Scope{
		List:      subsets.List,
		Search:    subsets.Search,
		RefFilter: meta.RefFilter,
	}, s.limits)
	if err != nil {
		return nil, err
	}

	opts := q.FindOptions()
	opts.Projection = withLinkSources(meta, q.Projection)

	var (
		docs  []storage.Document
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	if withTotal {
		g.Go(func() error {
			n, err := s.store.Count(gctx, meta.Name, q.Filter)
			total = n
			return err
		})
	}
	g.Go(func() error {
		found, err := s.store.Find(gctx, meta.Name, q.Filter, opts)
		docs = found
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storageError(err, "list "+meta.Name)
	}
	if !withTotal {
		total = int64(len(docs))
	}

	if err := s.resolveLinks(ctx, meta, docs, q.Projection); err != nil {
		return nil, err
	}
	for i, doc := range docs {
		docs[i] = storage.Project(doc, q.Projection)
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	return &ListResult{Total: total, Data: docs}, nil
}

// serverFilter runs the list_query hooks of the collection and returns the
// filter they build. Every read of client-visible rows goes through it.
func (s *Service) serverFilter(ctx context.Context, a access) (storage.Filter, error) {
	lc := &hooks.ListQueryContext{Collection: a.meta.Name, Identity: a.caller, Filter: storage.Filter{}}
	if err := hooks.Run(ctx, a.meta.Hooks.ListQuery, lc); err != nil {
		return nil, s.hookFailed(a.meta.Name, schema.StageListQuery, err)
	}
	return lc.Filter, nil
}

// coerceSearch converts searchable client values to field types. Keys that
// are not searchable are passed through for the merger to drop.
func (s *Service) coerceSearch(meta *registry.Meta, searchable []string, search map[string]any) (map[string]any, error) {
	if len(search) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(search))
	for k, v := range search {
		if !slices.Contains(searchable, k) {
			continue
		}
		f, _ := meta.Field(k)
		coerced, cerr := validation.CoerceQuery(f, v)
		if cerr != nil {
			return nil, apierr.New(apierr.InvalidParams, cerr.Error())
		}
		out[k] = coerced
	}
	return out, nil
}

// Get returns one record projected to the property fields.
func (s *Service) Get(ctx context.Context, collection, rawID string, opts Options) (doc storage.Document, err error) {
	defer s.finish(ctx, collection, OpGet, time.Now(), &err)

	a, err := s.authorize(ctx, collection, opts, mode.Read)
	if err != nil {
		return nil, err
	}
	scope, err := s.serverFilter(ctx, a)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, a.meta, rawID, scope, a.meta.Subsets(opts.View).Property)
}

// read loads a record by raw id within scope and projects it. Malformed,
// unknown and out-of-scope ids are NOT_FOUND.
func (s *Service) read(ctx context.Context, meta *registry.Meta, rawID string, scope storage.Filter, projection []string) (storage.Document, error) {
	doc, err := objectid.FindByIDWithin(ctx, s.store, meta.Name, rawID, scope, withLinkSources(meta, projection))
	if err != nil {
		return nil, storageError(err, "get "+meta.Name)
	}
	if doc == nil {
		return nil, apierr.Newf(apierr.NotFound, "%s %q not found", meta.Name, rawID)
	}
	docs := []storage.Document{doc}
	if err := s.resolveLinks(ctx, meta, docs, projection); err != nil {
		return nil, err
	}
	return storage.Project(docs[0], projection), nil
}

// withLinkSources adds the ref fields that projected link fields are
// computed from.
func withLinkSources(meta *registry.Meta, projection []string) []string {
	out := append([]string{}, projection...)
	for _, name := range projection {
		f, ok := meta.Field(name)
		if !ok || !f.IsLink() || slices.Contains(out, f.Link) {
			continue
		}
		out = append(out, f.Link)
	}
	return out
}

// linkGroup is every link field that reads from one target collection.
type linkGroup struct {
	target string
	pairs  [][2]string // link field, ref field
	ids    []bson.ObjectID
	labels map[bson.ObjectID]any
}

// resolveLinks splices reference labels onto docs for every link field in
// fields, issuing one batched lookup per distinct target collection.
func (s *Service) resolveLinks(ctx context.Context, meta *registry.Meta, docs []storage.Document, fields []string) error {
	if len(docs) == 0 {
		return nil
	}

	groups := make(map[string]*linkGroup)
	var order []string
	for _, name := range fields {
		f, ok := meta.Field(name)
		if !ok || !f.IsLink() {
			continue
		}
		ref, _ := meta.Field(f.Link)
		g, ok := groups[ref.Ref]
		if !ok {
			g = &linkGroup{target: ref.Ref, labels: make(map[bson.ObjectID]any)}
			groups[ref.Ref] = g
			order = append(order, ref.Ref)
		}
		g.pairs = append(g.pairs, [2]string{f.Name, ref.Name})
	}
	if len(groups) == 0 {
		return nil
	}

	for _, g := range groups {
		seen := make(map[bson.ObjectID]bool)
		for _, doc := range docs {
			for _, p := range g.pairs {
				if id, ok := doc[p[1]].(bson.ObjectID); ok && !seen[id] {
					seen[id] = true
					g.ids = append(g.ids, id)
				}
			}
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	for _, target := range order {
		g := groups[target]
		if len(g.ids) == 0 {
			continue
		}
		targetMeta, ok := s.registry.Get(g.target)
		if !ok {
			continue
		}
		eg.Go(func() error {
			var projection []string
			if targetMeta.LabelField != "" {
				projection = []string{targetMeta.LabelField}
			} else {
				projection = []string{}
			}
			found, err := s.store.Find(gctx, g.target, objectid.InQuery(g.ids), storage.FindOptions{Projection: projection})
			if err != nil {
				return err
			}
			for _, doc := range found {
				id, _ := doc[storage.IDField].(bson.ObjectID)
				g.labels[id] = label(targetMeta, doc)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return storageError(err, "resolve links of "+meta.Name)
	}

	for _, g := range groups {
		for _, doc := range docs {
			for _, p := range g.pairs {
				id, ok := doc[p[1]].(bson.ObjectID)
				if !ok {
					continue
				}
				if l, found := g.labels[id]; found {
					doc[p[0]] = l
				}
			}
		}
	}
	return nil
}

// label returns the display label of a record.
func label(meta *registry.Meta, doc storage.Document) any {
	if meta.LabelField != "" {
		if v, ok := doc[meta.LabelField]; ok && v != nil {
			return v
		}
	}
	if id, ok := doc[storage.IDField].(bson.ObjectID); ok {
		return id.Hex()
	}
	return nil
}

// RefOption is one selectable reference target.
type RefOption struct {
	Value string `json:"value"`
	Label any    `json:"label"`
}

// ResolveReference lists records of collection that may be referenced from
// refBy, optionally filtered by a label prefix query. The caller needs read
// on collection, or create or update on refBy.
func (s *Service) ResolveReference(ctx context.Context, collection, refBy, query string, opts Options) (out []RefOption, err error) {
	defer s.finish(ctx, collection, OpRef, time.Now(), &err)

	a, err := s.authorizeRef(ctx, collection, refBy, opts)
	if err != nil {
		return nil, err
	}
	meta := a.meta
	server, err := s.serverFilter(ctx, a)
	if err != nil {
		return nil, err
	}

	var prefix storage.Filter
	find := storage.FindOptions{Limit: s.refLimit, Projection: []string{}}
	if meta.LabelField != "" {
		find.Projection = []string{meta.LabelField}
		find.Sort = []storage.SortField{{Field: meta.LabelField}}
		if q := strings.TrimSpace(query); q != "" {
			prefix = storage.Filter{
				meta.LabelField: storage.Filter{"$regex": "^" + regexp.QuoteMeta(q), "$options": "i"},
			}
		}
	}
	f := filter.Merge(server, filter.Contextual(meta.RefFilter, refBy), prefix)

	docs, err := s.store.Find(ctx, meta.Name, f, find)
	if err != nil {
		return nil, storageError(err, "resolve reference "+meta.Name)
	}

	out = make([]RefOption, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc[storage.IDField].(bson.ObjectID)
		out = append(out, RefOption{Value: id.Hex(), Label: label(meta, doc)})
	}
	return out, nil
}

func (s *Service) authorizeRef(ctx context.Context, collection, refBy string, opts Options) (access, error) {
	a, err := s.authorize(ctx, collection, opts, mode.Read)
	if err == nil {
		return a, nil
	}
	if !apierr.Is(err, apierr.NoRights) || refBy == "" {
		return access{}, err
	}

	// A caller filling in a ref field of refBy may see the options without
	// read access to the target.
	by, ok := s.registry.Get(refBy)
	if !ok || !refersTo(by, collection) {
		return access{}, err
	}
	caller := identity.FromContext(ctx)
	m := by.Resolver.Effective(caller.Role, opts.View, opts.Mode)
	if !m.Has(mode.Create) && !m.Has(mode.Update) {
		return access{}, err
	}
	meta, _ := s.registry.Get(collection)
	return access{meta: meta, caller: caller}, nil
}

func refersTo(meta *registry.Meta, target string) bool {
	for _, f := range meta.Refs() {
		if f.Ref == target {
			return true
		}
	}
	return false
}
