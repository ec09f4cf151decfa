package schema

// Field defines a data field in a collection.
type Field struct {
	// Name is unique within the collection.
	Name string `yaml:"name"`

	// Type is the declared value type. See FieldType constants.
	Type FieldType `yaml:"type"`

	// Context flags. Nil means "not declared"; see the convention package
	// for how undeclared flags are defaulted.
	Create *bool `yaml:"create,omitempty"`
	Update *bool `yaml:"update,omitempty"`
	Clone  *bool `yaml:"clone,omitempty"`
	Search *bool `yaml:"search,omitempty"`
	List   *bool `yaml:"list,omitempty"`

	// Sys marks server-managed fields a client can never set directly.
	Sys bool `yaml:"sys,omitempty"`

	// Secure marks fields that never leave the server.
	Secure bool `yaml:"secure,omitempty"`

	// Required indicates the field must be present on create.
	Required bool `yaml:"required,omitempty"`

	// Unique indicates the field must have unique values.
	Unique bool `yaml:"unique,omitempty"`

	// Default value applied on create when the payload omits the field.
	Default any `yaml:"default,omitempty"`

	// Values lists valid values for enum fields.
	Values []string `yaml:"values,omitempty"`

	// Ref names the target collection of a relationship.
	Ref string `yaml:"ref,omitempty"`

	// Link names a ref field of this collection whose target label this
	// field denormalizes.
	Link string `yaml:"link,omitempty"`

	// Delete is the propagation policy when the Ref target is removed.
	Delete DeleteMode `yaml:"delete,omitempty"`

	// View restricts the field to a named UI context.
	View string `yaml:"view,omitempty"`

	// Constraints are validation rules for this field.
	Constraints []Constraint `yaml:"constraints,omitempty"`

	// Description provides human-readable documentation for this field.
	Description string `yaml:"description,omitempty"`
}

// FieldType represents the declared type of a field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInt      FieldType = "int"
	FieldTypeFloat    FieldType = "float"
	FieldTypeBool     FieldType = "bool"
	FieldTypeDate     FieldType = "date"
	FieldTypeObjectID FieldType = "objectid"
	FieldTypeEnum     FieldType = "enum" // Requires Values
	FieldTypeArray    FieldType = "array"
	FieldTypeObject   FieldType = "object"
	FieldTypeAny      FieldType = "any"
)

// DeleteMode is the propagation policy of a ref field.
type DeleteMode string

const (
	// DeleteUnset blocks deleting a target that still has dependents.
	DeleteUnset DeleteMode = ""
	// DeleteKeep leaves dangling references untouched.
	DeleteKeep DeleteMode = "keep"
	// DeleteCascade removes dependents after the target is removed.
	DeleteCascade DeleteMode = "cascade"
)

// Flag returns a pointer to b, for declaring field flags in Go.
func Flag(b bool) *bool {
	return &b
}

// IsRef reports whether the field references another collection.
func (f Field) IsRef() bool {
	return f.Ref != ""
}

// IsLink reports whether the field is a denormalized reference label.
func (f Field) IsLink() bool {
	return f.Link != ""
}

// EffectiveType returns the declared type, treating ref fields without an
// explicit type as objectid and untyped fields as any.
func (f Field) EffectiveType() FieldType {
	if f.Type != "" {
		return f.Type
	}
	if f.IsRef() {
		return FieldTypeObjectID
	}
	if f.IsLink() {
		return FieldTypeString
	}
	return FieldTypeAny
}

func isValidFieldType(t FieldType) bool {
	switch t {
	case "", FieldTypeString, FieldTypeInt, FieldTypeFloat, FieldTypeBool,
		FieldTypeDate, FieldTypeObjectID, FieldTypeEnum,
		FieldTypeArray, FieldTypeObject, FieldTypeAny:
		return true
	default:
		return false
	}
}
