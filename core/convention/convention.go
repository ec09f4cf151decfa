// Package convention derives defaults from minimal collection definitions.
// It resolves undeclared field flags and computes the field subsets used to
// filter every request.
package convention

import (
	"errors"

	"github.com/artpar/entitygate/core/schema"
)

// Derived is the fully-expanded form of a collection definition.
// It is computed once at registration and never recomputed.
type Derived struct {
	// Source is the original collection definition.
	Source schema.Collection

	// Fields are the definitions with every flag resolved, in declaration order.
	Fields []DerivedField

	// Subsets are the named field groups.
	Subsets Subsets
}

// DerivedField is a field with all flags resolved.
type DerivedField struct {
	schema.Field

	CanCreate bool
	CanUpdate bool
	CanClone  bool
	CanSearch bool
	CanList   bool

	// Protected is true for sys, user_field and link fields. Only hooks
	// (or the service itself) may write them.
	Protected bool
}

// Field returns the named derived field.
func (d Derived) Field(name string) (DerivedField, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return DerivedField{}, false
}

// Derive resolves flags and computes subsets. A protected field that
// explicitly declares create, update or clone true is a ConfigurationError.
func Derive(coll schema.Collection) (Derived, error) {
	d := Derived{Source: coll}

	var errs []error
	for _, f := range coll.Fields {
		df, err := deriveField(coll, f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.Fields = append(d.Fields, df)
	}
	if len(errs) > 0 {
		return Derived{}, errors.Join(errs...)
	}

	d.Subsets = computeSubsets(d.Fields)
	return d, nil
}

func deriveField(coll schema.Collection, f schema.Field) (DerivedField, error) {
	df := DerivedField{Field: f}

	writable := f.Sys || f.Name == coll.UserField
	df.Protected = writable || f.IsLink()

	if df.Protected {
		for _, decl := range []struct {
			name string
			flag *bool
		}{{"create", f.Create}, {"update", f.Update}, {"clone", f.Clone}} {
			if isTrue(decl.flag) {
				return DerivedField{}, schema.Configf(coll.Name, f.Name,
					"%s: true contradicts a server-managed field", decl.name)
			}
		}
		if f.IsLink() && isTrue(f.Search) {
			return DerivedField{}, schema.Configf(coll.Name, f.Name,
				"link fields are computed at read time and cannot be searched")
		}

		df.CanCreate, df.CanUpdate, df.CanClone = false, false, false
		df.CanSearch = flagOr(f.Search, false)
		// Link fields exist to be listed; sys and user fields are hidden unless declared.
		df.CanList = flagOr(f.List, f.IsLink())
	} else {
		df.CanCreate = flagOr(f.Create, true)
		df.CanUpdate = flagOr(f.Update, true)
		df.CanClone = flagOr(f.Clone, true)
		// Filtering on a secure value reveals it through the match count.
		df.CanSearch = flagOr(f.Search, !f.Secure)
		df.CanList = flagOr(f.List, true)
	}

	return df, nil
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func flagOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
