package hooks

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/identity"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// RegisterBuiltins registers the built-in hook functions. now supplies the
// current time; nil means time.Now.
//
//	timestamps          stamp created_at and updated_at (args: created, updated)
//	status_changed_at   stamp when a field changes value (args: field, stamp)
//	counter             keep a child count on the parent of a ref (args: ref, field)
//	owner_only          restrict rows to the caller's user_field (args: except)
func RegisterBuiltins(fns *Functions, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	clock := func() time.Time { return now().UTC() }

	fns.Register("timestamps", timestamps(clock))
	fns.Register("status_changed_at", statusChangedAt(clock))
	fns.Register("counter", counter())
	fns.Register("owner_only", ownerOnly())
}

func timestamps(now func() time.Time) Function {
	return Function{
		Create: func(t Target) (CreateHook, error) {
			created := t.Args.String("created", "created_at")
			updated := t.Args.String("updated", "updated_at")
			return func(ctx context.Context, hc *CreateContext) error {
				ts := now()
				hc.Record[created] = ts
				hc.Record[updated] = ts
				return nil
			}, nil
		},
		Update: func(t Target) (UpdateHook, error) {
			updated := t.Args.String("updated", "updated_at")
			return func(ctx context.Context, hc *UpdateContext) error {
				hc.Changes[updated] = now()
				return nil
			}, nil
		},
	}
}

func statusChangedAt(now func() time.Time) Function {
	names := func(t Target) (string, string, error) {
		field := t.Args.String("field", "status")
		if _, ok := t.Collection.Field(field); !ok {
			return "", "", fmt.Errorf("field %q does not exist", field)
		}
		return field, t.Args.String("stamp", field+"_changed_at"), nil
	}

	return Function{
		Create: func(t Target) (CreateHook, error) {
			field, stamp, err := names(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *CreateContext) error {
				if _, ok := hc.Record[field]; ok {
					hc.Record[stamp] = now()
				}
				return nil
			}, nil
		},
		Update: func(t Target) (UpdateHook, error) {
			field, stamp, err := names(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *UpdateContext) error {
				next, ok := hc.Changes[field]
				if !ok {
					return nil
				}
				for _, prev := range hc.Previous {
					if !storage.Equal(prev[field], next) {
						hc.Changes[stamp] = now()
						return nil
					}
				}
				return nil
			}, nil
		},
	}
}

// counter keeps field on the record referenced by ref equal to the number of
// records pointing at it.
func counter() Function {
	resolve := func(t Target) (refField, parent, countField string, err error) {
		refField = t.Args.String("ref", "")
		countField = t.Args.String("field", "")
		if refField == "" || countField == "" {
			return "", "", "", fmt.Errorf("counter requires args ref and field")
		}
		f, ok := t.Collection.Field(refField)
		if !ok || !f.IsRef() {
			return "", "", "", fmt.Errorf("counter ref %q is not a ref field", refField)
		}
		return refField, f.Ref, countField, nil
	}

	bump := func(ctx context.Context, store storage.Store, parent, field string, target any, delta int64) error {
		id, ok := target.(bson.ObjectID)
		if !ok || delta == 0 {
			return nil
		}
		_, err := store.Update(ctx, parent, storage.Filter{storage.IDField: id}, storage.Change{
			Inc: map[string]int64{field: delta},
		})
		return err
	}

	return Function{
		Create: func(t Target) (CreateHook, error) {
			ref, parent, field, err := resolve(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *CreateContext) error {
				return bump(ctx, hc.Store, parent, field, hc.Record[ref], 1)
			}, nil
		},
		Update: func(t Target) (UpdateHook, error) {
			ref, parent, field, err := resolve(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *UpdateContext) error {
				next, ok := hc.Changes[ref]
				if !ok {
					return nil
				}
				for _, prev := range hc.Previous {
					if storage.Equal(prev[ref], next) {
						continue
					}
					if err := bump(ctx, hc.Store, parent, field, prev[ref], -1); err != nil {
						return err
					}
					if err := bump(ctx, hc.Store, parent, field, next, 1); err != nil {
						return err
					}
				}
				return nil
			}, nil
		},
		Delete: func(t Target) (DeleteHook, error) {
			ref, parent, field, err := resolve(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *DeleteContext) error {
				for _, rec := range hc.Records {
					if err := bump(ctx, hc.Store, parent, field, rec[ref], -1); err != nil {
						return err
					}
				}
				return nil
			}, nil
		},
	}
}

// ownerOnly limits callers to their own records unless their role is listed
// in args.except.
func ownerOnly() Function {
	resolve := func(t Target) (schema.Field, []string, error) {
		if t.Collection.UserField == "" {
			return schema.Field{}, nil, fmt.Errorf("owner_only requires user_field")
		}
		f, _ := t.Collection.Field(t.Collection.UserField)
		return f, t.Args.Strings("except"), nil
	}

	exempt := func(caller *identity.Identity, except []string) (bool, error) {
		if caller == nil {
			return false, apierr.New(apierr.NoSession, "no session")
		}
		return slices.Contains(except, caller.Role), nil
	}

	owns := func(field schema.Field, caller *identity.Identity, records []storage.Document) error {
		want := SubjectValue(field, caller.Subject)
		for _, rec := range records {
			if !storage.Equal(rec[field.Name], want) {
				return apierr.New(apierr.NoRights, "record belongs to another user")
			}
		}
		return nil
	}

	return Function{
		ListQuery: func(t Target) (ListQueryHook, error) {
			field, except, err := resolve(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *ListQueryContext) error {
				skip, err := exempt(hc.Identity, except)
				if err != nil || skip {
					return err
				}
				hc.Filter[field.Name] = SubjectValue(field, hc.Identity.Subject)
				return nil
			}, nil
		},
		Update: func(t Target) (UpdateHook, error) {
			field, except, err := resolve(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *UpdateContext) error {
				skip, err := exempt(hc.Identity, except)
				if err != nil || skip {
					return err
				}
				return owns(field, hc.Identity, hc.Previous)
			}, nil
		},
		Delete: func(t Target) (DeleteHook, error) {
			field, except, err := resolve(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *DeleteContext) error {
				skip, err := exempt(hc.Identity, except)
				if err != nil || skip {
					return err
				}
				return owns(field, hc.Identity, hc.Records)
			}, nil
		},
	}
}

// SubjectValue converts a caller subject into the stored form of a user_field:
// an ObjectID for objectid fields when the subject is one, otherwise the string.
func SubjectValue(field schema.Field, subject string) any {
	if field.EffectiveType() == schema.FieldTypeObjectID {
		if id, err := bson.ObjectIDFromHex(subject); err == nil {
			return id
		}
	}
	return subject
}
