// Package validation coerces client values to their declared field types and
// checks them against field constraints before anything reaches storage.
package validation

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/entitygate/core/convention"
	"github.com/artpar/entitygate/core/schema"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Result collects validation failures.
type Result struct {
	Errors []schema.ConstraintError
}

// Add records a failure.
func (r *Result) Add(field, constraint, message string) {
	r.Errors = append(r.Errors, schema.ConstraintError{Field: field, Constraint: constraint, Message: message})
}

// Valid reports whether no failure was recorded.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Error joins the failures.
func (r Result) Error() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Payload coerces every value of data whose key is a field in fields and
// checks it. Values are replaced in place by their coerced form. Keys that
// are not fields are left alone; callers filter payloads by subset first.
func Payload(fields []convention.DerivedField, data map[string]any) Result {
	var result Result
	for _, f := range fields {
		value, ok := data[f.Name]
		if !ok {
			continue
		}
		coerced, err := Coerce(f, value)
		if err != nil {
			result.Errors = append(result.Errors, *err)
			continue
		}
		data[f.Name] = coerced
		if coerced == nil {
			continue
		}
		for _, c := range f.Constraints {
			if cerr := schema.CheckConstraint(f.Name, coerced, c); cerr != nil {
				result.Errors = append(result.Errors, *cerr)
			}
		}
	}
	return result
}

// Coerce converts a client value to the stored form of the field type. Nil
// passes through.
func Coerce(f convention.DerivedField, value any) (any, *schema.ConstraintError) {
	if value == nil {
		return nil, nil
	}
	fail := func(msg string) (any, *schema.ConstraintError) {
		return nil, &schema.ConstraintError{Field: f.Name, Constraint: "type", Message: msg}
	}

	switch f.EffectiveType() {
	case schema.FieldTypeString:
		s, ok := value.(string)
		if !ok {
			return fail("must be a string")
		}
		return s, nil

	case schema.FieldTypeInt:
		n, ok := toInt64(value)
		if !ok {
			return fail("must be an integer")
		}
		return n, nil

	case schema.FieldTypeFloat:
		n, ok := toFloat64(value)
		if !ok {
			return fail("must be a number")
		}
		return n, nil

	case schema.FieldTypeBool:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			if parsed, err := strconv.ParseBool(b); err == nil {
				return parsed, nil
			}
		}
		return fail("must be a boolean")

	case schema.FieldTypeDate:
		t, ok := toTime(value)
		if !ok {
			return fail("must be an RFC 3339 date")
		}
		return t, nil

	case schema.FieldTypeObjectID:
		switch id := value.(type) {
		case bson.ObjectID:
			return id, nil
		case string:
			if parsed, err := bson.ObjectIDFromHex(id); err == nil {
				return parsed, nil
			}
		}
		return fail("must be a 24 character hex id")

	case schema.FieldTypeEnum:
		s, ok := value.(string)
		if !ok || !slices.Contains(f.Values, s) {
			return fail("must be one of: " + strings.Join(f.Values, ", "))
		}
		return s, nil

	case schema.FieldTypeArray:
		items, ok := toSlice(value)
		if !ok {
			return fail("must be an array")
		}
		return items, nil

	case schema.FieldTypeObject:
		m, ok := value.(map[string]any)
		if !ok {
			return fail("must be an object")
		}
		return m, nil
	}
	return value, nil
}

// CoerceQuery coerces a search value, which is either a plain value or an
// object of comparison operators. $in operands are coerced elementwise;
// $regex and $options are left as strings.
func CoerceQuery(f convention.DerivedField, value any) (any, *schema.ConstraintError) {
	ops, ok := value.(map[string]any)
	if !ok {
		return Coerce(f, value)
	}
	out := make(map[string]any, len(ops))
	for op, arg := range ops {
		switch op {
		case "$regex", "$options":
			s, ok := arg.(string)
			if !ok {
				return nil, &schema.ConstraintError{Field: f.Name, Constraint: "type", Message: op + " must be a string"}
			}
			out[op] = s
		case "$in":
			items, ok := toSlice(arg)
			if !ok {
				return nil, &schema.ConstraintError{Field: f.Name, Constraint: "type", Message: "$in must be an array"}
			}
			coerced := make([]any, len(items))
			for i, item := range items {
				c, err := Coerce(f, item)
				if err != nil {
					return nil, err
				}
				coerced[i] = c
			}
			out[op] = coerced
		default:
			c, err := Coerce(f, arg)
			if err != nil {
				return nil, err
			}
			out[op] = c
		}
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return parsed, true
		}
	case fmt.Stringer:
		if parsed, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return parsed, true
		}
	case fmt.Stringer:
		if parsed, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func toSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
