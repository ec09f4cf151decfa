package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/entitygate/core/hooks"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// RegisterHooks registers every function available to "call:" hooks.
func RegisterHooks(fns *hooks.Functions, logger zerolog.Logger, now func() time.Time) {
	// Built-in functions for "call:" hooks
	hooks.RegisterBuiltins(fns, now)

	// hash_secret replaces a plaintext field with its bcrypt hash
	fns.Register("hash_secret", hashSecret(logger))

	logger.Debug().
		Strs("functions", fns.Names()).
		Msg("hook functions registered")
}

// hashSecret hashes args.field (default "password") into args.into
// (default "password_hash") before create and update. The plaintext is
// removed from the document. args.cost overrides the bcrypt cost.
func hashSecret(logger zerolog.Logger) hooks.Function {
	config := func(t hooks.Target) (from, into string, cost int, err error) {
		from = t.Args.String("field", "password")
		into = t.Args.String("into", "password_hash")
		if from == into {
			return "", "", 0, fmt.Errorf("hash_secret: field and into must differ")
		}
		if _, ok := t.Collection.Field(from); !ok {
			return "", "", 0, fmt.Errorf("hash_secret: unknown field %q", from)
		}
		if _, ok := t.Collection.Field(into); !ok {
			return "", "", 0, fmt.Errorf("hash_secret: unknown field %q", into)
		}
		cost = bcrypt.DefaultCost
		switch c := t.Args["cost"].(type) {
		case int:
			cost = c
		case float64:
			cost = int(c)
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return "", "", 0, fmt.Errorf("hash_secret: cost %d out of range", cost)
		}
		return from, into, cost, nil
	}

	replace := func(doc map[string]any, from, into string, cost int) error {
		plaintext, ok := doc[from].(string)
		delete(doc, from)
		if !ok || plaintext == "" {
			return nil
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
		if err != nil {
			logger.Error().Err(err).Msg("failed to hash secret")
			return err
		}
		doc[into] = string(hash)
		return nil
	}

	return hooks.Function{
		Create: func(t hooks.Target) (hooks.CreateHook, error) {
			from, into, cost, err := config(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *hooks.CreateContext) error {
				return replace(hc.Record, from, into, cost)
			}, nil
		},
		Update: func(t hooks.Target) (hooks.UpdateHook, error) {
			from, into, cost, err := config(t)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, hc *hooks.UpdateContext) error {
				return replace(hc.Changes, from, into, cost)
			}, nil
		},
	}
}
