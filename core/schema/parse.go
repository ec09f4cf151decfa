package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/entitygate/core/mode"
	"gopkg.in/yaml.v3"
)

// ParseFile parses a collection definition from a YAML file.
func ParseFile(path string) (Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Collection{}, fmt.Errorf("read file %s: %w", path, err)
	}

	coll, err := Parse(data)
	if err != nil {
		return Collection{}, fmt.Errorf("%s: %w", path, err)
	}
	return coll, nil
}

// Parse parses a collection definition from YAML bytes.
func Parse(data []byte) (Collection, error) {
	var coll Collection
	if err := yaml.Unmarshal(data, &coll); err != nil {
		return Collection{}, fmt.Errorf("parse yaml: %w", err)
	}

	if err := Validate(coll); err != nil {
		return Collection{}, err
	}

	return coll, nil
}

// ParseDir parses all collection definitions from a directory, including
// subdirectories. Files are visited in lexical order.
func ParseDir(dir string) ([]Collection, error) {
	var colls []Collection

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDir(path)
			if err != nil {
				return nil, err
			}
			colls = append(colls, sub...)
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		coll, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		colls = append(colls, coll)
	}

	return colls, nil
}

// Validate checks a single collection definition in isolation. References
// to other collections are checked when the registry is built.
func Validate(coll Collection) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, Configf(coll.Name, field, format, args...))
	}

	if !isValidIdentifier(coll.Name) {
		add("", "collection name %q is not a valid identifier", coll.Name)
	}

	if len(coll.Fields) == 0 {
		add("", "at least one field is required")
	}

	seen := make(map[string]bool, len(coll.Fields))
	for _, f := range coll.Fields {
		if !isValidIdentifier(f.Name) {
			add(f.Name, "field name is not a valid identifier")
			continue
		}
		if seen[f.Name] {
			add(f.Name, "duplicate field name")
		}
		seen[f.Name] = true

		if err := validateField(f); err != "" {
			add(f.Name, "%s", err)
		}
	}

	// Links must point at a ref field of the same collection.
	for _, f := range coll.Fields {
		if !f.IsLink() {
			continue
		}
		target, ok := coll.Field(f.Link)
		if !ok || !target.IsRef() {
			add(f.Name, "link %q does not name a ref field", f.Link)
		}
	}

	if coll.UserField != "" && !seen[coll.UserField] {
		add(coll.UserField, "user_field does not name a field")
	}
	if coll.LabelField != "" && !seen[coll.LabelField] {
		add(coll.LabelField, "label_field does not name a field")
	}

	for _, decl := range coll.Roles {
		if _, err := mode.ParseRule(decl); err != nil {
			add("", "%v", err)
		}
	}

	for stage, hooks := range coll.Hooks {
		if !isValidStage(stage) {
			add("", "unknown hook stage %q", stage)
			continue
		}
		for i, h := range hooks {
			if (h.Call == "") == (h.Emit == "") {
				add("", "hook %s[%d] must set exactly one of call or emit", stage, i)
			}
		}
	}

	return errors.Join(errs...)
}

// validateField returns a reason string for an invalid field, or "".
func validateField(f Field) string {
	if !isValidFieldType(f.Type) {
		return fmt.Sprintf("unknown type %q", f.Type)
	}

	if f.Type == FieldTypeEnum && len(f.Values) == 0 {
		return "enum type requires values"
	}

	if f.IsRef() && f.EffectiveType() != FieldTypeObjectID {
		return "ref fields must have type objectid"
	}

	switch f.Delete {
	case DeleteUnset:
	case DeleteKeep, DeleteCascade:
		if !f.IsRef() {
			return "delete policy requires ref"
		}
	default:
		return fmt.Sprintf("unknown delete policy %q", f.Delete)
	}

	if f.IsRef() && f.IsLink() {
		return "field cannot be both ref and link"
	}

	for _, c := range f.Constraints {
		if reason := checkConstraintConfig(c); reason != "" {
			return reason
		}
	}

	if f.Default != nil {
		return validateDefault(f)
	}

	return ""
}

// validateDefault checks that a default value matches the field type.
func validateDefault(f Field) string {
	switch f.EffectiveType() {
	case FieldTypeInt:
		switch v := f.Default.(type) {
		case int, int64:
			return ""
		case float64:
			if v == float64(int64(v)) {
				return ""
			}
		}
		return "default must be an integer"
	case FieldTypeFloat:
		switch f.Default.(type) {
		case int, int64, float64:
			return ""
		}
		return "default must be a number"
	case FieldTypeBool:
		if _, ok := f.Default.(bool); !ok {
			return "default must be a boolean"
		}
	case FieldTypeString:
		if _, ok := f.Default.(string); !ok {
			return "default must be a string"
		}
	case FieldTypeEnum:
		s, ok := f.Default.(string)
		if !ok {
			return "default must be a string"
		}
		for _, v := range f.Values {
			if v == s {
				return ""
			}
		}
		return fmt.Sprintf("default %q is not a valid enum value", s)
	}
	return ""
}

func isValidStage(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	// "_id" is the storage identifier and cannot be declared.
	return s != "_id"
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}
