// Package filter combines a server-enforced filter, a contextual reference
// filter and untrusted client search parameters into one sanitized query.
//
// Precedence is fixed: client values are laid down first, the contextual
// filter overlays them, and the server filter overlays both. A key present in
// either trusted filter always discards the client value for that key.
package filter

import (
	"strings"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/storage"
)

// Wildcard is the ref_filter key used when no entry matches the requester.
const Wildcard = "*"

// Params are the pagination, sort and projection parameters of a list request.
// A nil SortBy, Desc or AttrNames means the parameter was not sent.
type Params struct {
	Page      int64
	Limit     int64
	SortBy    []string
	Desc      []bool
	AttrNames []string
}

// Scope is the field visibility a query is checked against.
type Scope struct {
	// List bounds projection and sort fields.
	List []string

	// Search bounds client filter keys.
	Search []string

	// RefFilter maps requesting collection names to contextual filters.
	RefFilter map[string]map[string]any
}

// Limits bound the page size.
type Limits struct {
	Default int64
	Max     int64
}

// DefaultLimits are used when a zero Limits is passed.
var DefaultLimits = Limits{Default: 20, Max: 500}

// Query is the request-scoped result of Build.
type Query struct {
	Page       int64
	Limit      int64
	Skip       int64
	Sort       []storage.SortField
	Projection []string
	Filter     storage.Filter
}

// FindOptions converts q into storage options.
func (q *Query) FindOptions() storage.FindOptions {
	return storage.FindOptions{
		Sort:       q.Sort,
		Skip:       q.Skip,
		Limit:      q.Limit,
		Projection: q.Projection,
	}
}

// Build produces a sanitized query. It fails only when a required parameter
// is missing; over-requested fields are narrowed silently.
func Build(params Params, server storage.Filter, client map[string]any, refBy string, scope Scope, limits Limits) (*Query, error) {
	switch {
	case params.AttrNames == nil:
		return nil, apierr.New(apierr.NoParams, "attr_names is required")
	case params.SortBy == nil:
		return nil, apierr.New(apierr.NoParams, "sort_by is required")
	case params.Desc == nil:
		return nil, apierr.New(apierr.NoParams, "desc is required")
	}

	if limits.Default <= 0 {
		limits.Default = DefaultLimits.Default
	}
	if limits.Max <= 0 {
		limits.Max = DefaultLimits.Max
	}

	q := &Query{
		Page:  params.Page,
		Limit: params.Limit,
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = limits.Default
	}
	if q.Limit > limits.Max {
		q.Limit = limits.Max
	}
	q.Skip = (q.Page - 1) * q.Limit

	q.Sort = BuildSort(params.SortBy, params.Desc, scope.List)
	q.Projection = Project(params.AttrNames, scope.List)
	q.Filter = Merge(server, Contextual(scope.RefFilter, refBy), SanitizeClient(client, scope.Search))
	return q, nil
}

// Merge overlays contextual and then server onto client. The inputs are not
// modified.
func Merge(server, contextual, client storage.Filter) storage.Filter {
	merged := make(storage.Filter, len(client)+len(contextual)+len(server))
	for k, v := range client {
		merged[k] = v
	}
	for k, v := range contextual {
		merged[k] = v
	}
	for k, v := range server {
		merged[k] = v
	}
	return merged
}

// Contextual resolves ref_filter[refBy], falling back to the wildcard entry
// and then to an empty filter. An empty refBy resolves to an empty filter.
func Contextual(refFilter map[string]map[string]any, refBy string) storage.Filter {
	if refBy == "" {
		return storage.Filter{}
	}
	if f, ok := refFilter[refBy]; ok {
		return copyFilter(f)
	}
	if f, ok := refFilter[Wildcard]; ok {
		return copyFilter(f)
	}
	return storage.Filter{}
}

func copyFilter(f map[string]any) storage.Filter {
	out := make(storage.Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// safeOperators may appear inside a client value.
var safeOperators = map[string]bool{
	"$gt":      true,
	"$gte":     true,
	"$lt":      true,
	"$lte":     true,
	"$in":      true,
	"$ne":      true,
	"$regex":   true,
	"$options": true,
}

// SanitizeClient keeps only searchable, non-operator keys whose values are
// plain values or objects of safe comparison operators.
func SanitizeClient(client map[string]any, searchable []string) storage.Filter {
	allowed := make(map[string]bool, len(searchable))
	for _, f := range searchable {
		allowed[f] = true
	}

	out := make(storage.Filter, len(client))
	for k, v := range client {
		if strings.HasPrefix(k, "$") || !allowed[k] {
			continue
		}
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, false
		}
		for op, arg := range t {
			if !safeOperators[op] || !isPlain(arg) {
				return nil, false
			}
		}
		return t, true
	case []any:
		// A bare array is an exact array match; elements must be plain.
		if !isPlain(t) {
			return nil, false
		}
		return t, true
	}
	return v, true
}

// isPlain reports whether v contains no nested objects.
func isPlain(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return false
	case []any:
		for _, item := range t {
			if _, isMap := item.(map[string]any); isMap {
				return false
			}
		}
	}
	return true
}

// BuildSort zips field names with directions. A missing direction is
// ascending. Fields outside allowed, other than "_id", are dropped.
func BuildSort(sortBy []string, desc []bool, allowed []string) []storage.SortField {
	ok := toSet(allowed)
	ok[storage.IDField] = true

	sort := make([]storage.SortField, 0, len(sortBy))
	seen := make(map[string]bool, len(sortBy))
	for i, field := range sortBy {
		if !ok[field] || seen[field] {
			continue
		}
		seen[field] = true
		sort = append(sort, storage.SortField{Field: field, Desc: i < len(desc) && desc[i]})
	}
	return sort
}

// Project intersects requested with allowed, keeping allowed's order. An
// empty request selects every allowed field. The result is never nil.
func Project(requested, allowed []string) []string {
	if len(requested) == 0 {
		return append([]string{}, allowed...)
	}
	want := toSet(requested)
	out := make([]string, 0, len(requested))
	for _, f := range allowed {
		if want[f] {
			out = append(out, f)
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
