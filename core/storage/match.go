package storage

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Match reports whether doc satisfies filter. It evaluates the subset of
// query syntax the access layer produces, so stores without a native query
// engine answer the same way MongoDB does.
func Match(doc Document, filter Filter) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$and", "$or", "$nor":
			subs, err := subFilters(key, cond)
			if err != nil {
				return false, err
			}
			ok, err := matchLogical(key, doc, subs)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return false, fmt.Errorf("unsupported top-level operator %s", key)
		}

		value, present := lookup(doc, key)
		ok, err := matchCondition(value, present, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(op string, doc Document, subs []Filter) (bool, error) {
	switch op {
	case "$and":
		for _, sub := range subs {
			ok, err := Match(doc, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "$or":
		for _, sub := range subs {
			ok, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return len(subs) == 0, nil
	default: // $nor
		for _, sub := range subs {
			ok, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}
}

func subFilters(op string, cond any) ([]Filter, error) {
	items, ok := toSlice(cond)
	if !ok {
		return nil, fmt.Errorf("%s requires an array", op)
	}
	subs := make([]Filter, 0, len(items))
	for _, item := range items {
		f, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%s elements must be objects", op)
		}
		subs = append(subs, f)
	}
	return subs, nil
}

// lookup resolves a dotted path.
func lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchCondition(value any, present bool, cond any) (bool, error) {
	ops, isOps := operatorMap(cond)
	if !isOps {
		return present && matchesEqual(value, cond), nil
	}

	for op, arg := range ops {
		ok, err := matchOperator(value, present, op, arg, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// operatorMap returns cond as an operator object when every key is an operator.
func operatorMap(cond any) (map[string]any, bool) {
	m, ok := asMap(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchOperator(value any, present bool, op string, arg any, all map[string]any) (bool, error) {
	switch op {
	case "$eq":
		return present && matchesEqual(value, arg), nil
	case "$ne":
		return !present || !matchesEqual(value, arg), nil
	case "$in", "$nin":
		items, ok := toSlice(arg)
		if !ok {
			return false, fmt.Errorf("%s requires an array", op)
		}
		found := false
		for _, item := range items {
			if (present && matchesEqual(value, item)) || (!present && item == nil) {
				found = true
				break
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		c, ok := Compare(value, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "$exists":
		want, _ := arg.(bool)
		return present == want, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return false, fmt.Errorf("$regex requires a string")
		}
		if opts, _ := all["$options"].(string); strings.Contains(opts, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("$regex: %w", err)
		}
		s, ok := value.(string)
		return present && ok && re.MatchString(s), nil
	case "$options":
		return true, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
}

// matchesEqual applies equality with array-contains semantics: an array
// field matches a scalar when any element equals it.
func matchesEqual(value, want any) bool {
	if Equal(value, want) {
		return true
	}
	if _, wantIsSlice := toSlice(want); wantIsSlice {
		return false
	}
	if items, ok := toSlice(value); ok {
		for _, item := range items {
			if Equal(item, want) {
				return true
			}
		}
	}
	return false
}

// Equal compares two stored values, treating numeric kinds as one type.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	as, aok := toSlice(a)
	bs, bok := toSlice(b)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	am, aok := asMap(a)
	bm, bok := asMap(b)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			w, ok := bm[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two scalar values of the same kind. The second result is
// false when the values are not comparable.
func Compare(a, b any) (int, bool) {
	if af, ok := toNumber(a); ok {
		bf, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bson.DateTime:
		bv, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return av.Time().Compare(bv), true
	case bson.ObjectID:
		bv, ok := b.(bson.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av[:], bv[:]), true
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case bson.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case bson.M:
		return m, true
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

// toSlice accepts any slice kind except byte slices.
func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case bson.A:
		return s, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isID := v.(bson.ObjectID); isID {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// SortDocuments orders docs in place by a compound sort. Missing values sort
// before present ones. The sort is stable.
func SortDocuments(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, aok := lookup(docs[i], f.Field)
			b, bok := lookup(docs[j], f.Field)
			c := compareForSort(a, aok, b, bok)
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareForSort(a any, aok bool, b any, bok bool) int {
	aok = aok && a != nil
	bok = bok && b != nil
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if c, ok := Compare(a, b); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Project copies the named fields of doc. A nil projection copies the whole
// document. "_id" is always kept.
func Project(doc Document, fields []string) Document {
	if fields == nil {
		return CopyDocument(doc)
	}
	out := make(Document, len(fields)+1)
	if id, ok := doc[IDField]; ok {
		out[IDField] = id
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = copyValue(v)
		}
	}
	return out
}

// Window applies skip and limit to an already sorted slice.
func Window(docs []Document, skip, limit int64) []Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// ApplyChange applies a change to doc in place.
func ApplyChange(doc Document, change Change) error {
	for k, v := range change.Set {
		doc[k] = copyValue(v)
	}
	for k, delta := range change.Inc {
		cur, ok := doc[k]
		if !ok || cur == nil {
			doc[k] = delta
			continue
		}
		switch n := cur.(type) {
		case int:
			doc[k] = int64(n) + delta
		case int32:
			doc[k] = int64(n) + delta
		case int64:
			doc[k] = n + delta
		case float64:
			doc[k] = n + float64(delta)
		default:
			return fmt.Errorf("cannot increment non-numeric field %s", k)
		}
	}
	return nil
}

// CopyDocument returns a deep copy of doc.
func CopyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	}
	return v
}

// Normalize converts driver-specific container and date types into plain
// Go values so callers see the same shapes from every store.
func Normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	}
	return v
}

func normalizeMap(m map[string]any) Document {
	out := make(Document, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

// evaluate runs the shared find pipeline over candidate documents.
func evaluate(candidates []Document, filter Filter, opts FindOptions) ([]Document, error) {
	var matched []Document
	for _, doc := range candidates {
		ok, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}
	SortDocuments(matched, opts.Sort)
	matched = Window(matched, opts.Skip, opts.Limit)

	out := make([]Document, len(matched))
	for i, doc := range matched {
		out[i] = Project(doc, opts.Projection)
	}
	return out, nil
}
