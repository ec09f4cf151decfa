/*
Package schema defines the declarative description of a data collection.

A collection definition names its fields, the roles allowed to act on it,
and the lifecycle hooks that run around each mutation. Everything the
access layer enforces per request is derived from this definition once,
at startup.

# Collection Definition

A collection definition in YAML:

	collection: product
	label_field: name
	user_field: owner

	fields:
	  - { name: sku,      type: string, sys: true, unique: true }
	  - { name: name,     type: string, required: true }
	  - { name: price,    type: float,  search: true, constraints: [{ type: min, value: 0 }] }
	  - { name: owner,    type: objectid }
	  - { name: category, type: objectid, ref: category, delete: cascade }
	  - { name: category_name, type: string, link: category }
	  - { name: secret_cost,   type: float, secure: true }

	roles: ["admin:*", "user:rs"]

	ref_filter:
	  order: { active: true }
	  "*":   {}

	hooks:
	  before_create: [{ call: timestamps }]
	  after_create:  [{ emit: product.created }]

# Field Flags

The create, update, clone, search and list flags default to true. A field
that is sys or is the user_field defaults all five to false; declaring
create, update or clone true on such a field is a configuration error.
A secure field never leaves the server. A link field denormalizes the label
of the record referenced by the named ref field and is computed at read time.

# Roles

Role rules have the form role:perms[:view], where perms is drawn from
c (create), r (read), s (search), u (update), d (delete), b (batch),
o (clone), i (import), e (export) and * (all).

# Parsing

	coll, err := schema.ParseFile("collections/product.yaml")
	colls, err := schema.ParseDir("collections/")

All definitions are validated on parse. Invalid definitions return a
ConfigurationError.
*/
package schema
