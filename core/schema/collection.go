package schema

import "fmt"

// Collection is the root definition of a data collection.
type Collection struct {
	// Name is the collection name (e.g., "product", "order").
	Name string `yaml:"collection"`

	// Fields in declaration order. Order is preserved into every derived subset.
	Fields []Field `yaml:"fields"`

	// Roles are role rule declarations, e.g. "admin:*" or "user:rs".
	Roles []string `yaml:"roles"`

	// UserField names the field auto-populated with the caller's identity.
	UserField string `yaml:"user_field,omitempty"`

	// LabelField names the field used as the label when this collection is
	// the target of a reference. Defaults to "name" when such a field exists.
	LabelField string `yaml:"label_field,omitempty"`

	// RefFilter maps a requesting collection name (or "*") to a partial
	// filter applied when this collection's records are offered as reference
	// options or listed in that context.
	RefFilter map[string]map[string]any `yaml:"ref_filter,omitempty"`

	// Hooks maps a lifecycle stage (e.g. "before_create") to hook declarations.
	Hooks map[string][]Hook `yaml:"hooks,omitempty"`

	// Description for documentation.
	Description string `yaml:"description,omitempty"`
}

// Field returns the named field definition.
func (c Collection) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Hook declares one lifecycle hook.
type Hook struct {
	// Call names a registered hook function.
	Call string `yaml:"call,omitempty"`

	// Emit names an event published on the event bus.
	Emit string `yaml:"emit,omitempty"`

	// Args are passed to the hook function factory.
	Args map[string]any `yaml:"args,omitempty"`
}

// Lifecycle stages a hook can be declared for.
const (
	StageBeforeCreate = "before_create"
	StageAfterCreate  = "after_create"
	StageBeforeUpdate = "before_update"
	StageAfterUpdate  = "after_update"
	StageBeforeDelete = "before_delete"
	StageAfterDelete  = "after_delete"
	StageListQuery    = "list_query"
)

// Stages lists every valid stage.
var Stages = []string{
	StageBeforeCreate, StageAfterCreate,
	StageBeforeUpdate, StageAfterUpdate,
	StageBeforeDelete, StageAfterDelete,
	StageListQuery,
}

// ConfigurationError is a defect in a collection definition. It is raised
// while registering collections at startup, never while serving requests.
type ConfigurationError struct {
	Collection string
	Field      string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("collection %q field %q: %s", e.Collection, e.Field, e.Reason)
	}
	return fmt.Sprintf("collection %q: %s", e.Collection, e.Reason)
}

// Configf builds a ConfigurationError.
func Configf(collection, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Collection: collection, Field: field, Reason: fmt.Sprintf(format, args...)}
}
