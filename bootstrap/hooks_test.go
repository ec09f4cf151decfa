package bootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/artpar/entitygate/core/hooks"
	"github.com/artpar/entitygate/core/schema"
	"github.com/artpar/entitygate/core/storage"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

func userCollection() schema.Collection {
	return schema.Collection{
		Name: "user",
		Fields: []schema.Field{
			{Name: "email", Type: schema.FieldTypeString},
			{Name: "password", Type: schema.FieldTypeString},
			{Name: "password_hash", Type: schema.FieldTypeString, Sys: true, Secure: true},
			{Name: "pin", Type: schema.FieldTypeString},
			{Name: "pin_hash", Type: schema.FieldTypeString, Sys: true, Secure: true},
		},
		Roles: []string{"admin:*"},
	}
}

func TestRegisterHooks(t *testing.T) {
	fns := hooks.NewFunctions()
	RegisterHooks(fns, zerolog.Nop(), time.Now)

	for _, name := range []string{"timestamps", "status_changed_at", "counter", "owner_only", "hash_secret"} {
		if _, ok := fns.Lookup(name); !ok {
			t.Errorf("function %q not registered", name)
		}
	}
}

func TestHashSecret_Create(t *testing.T) {
	fn := hashSecret(zerolog.Nop())
	h, err := fn.Create(hooks.Target{Collection: userCollection(), Args: hooks.Args{"cost": 4}})
	if err != nil {
		t.Fatalf("Create factory error: %v", err)
	}

	hc := hooks.NewCreateContext("user", nil, nil, storage.Document{"email": "a@b.c", "password": "hunter2"})
	if err := h(context.Background(), hc); err != nil {
		t.Fatalf("hook error: %v", err)
	}

	if _, ok := hc.Record["password"]; ok {
		t.Error("plaintext should be removed")
	}
	hash, _ := hc.Record["password_hash"].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
	if cost, _ := bcrypt.Cost([]byte(hash)); cost != 4 {
		t.Errorf("cost = %d, want 4", cost)
	}
}

func TestHashSecret_UpdateCustomFields(t *testing.T) {
	fn := hashSecret(zerolog.Nop())
	h, err := fn.Update(hooks.Target{
		Collection: userCollection(),
		Args:       hooks.Args{"field": "pin", "into": "pin_hash", "cost": 4},
	})
	if err != nil {
		t.Fatalf("Update factory error: %v", err)
	}

	hc := hooks.NewUpdateContext("user", nil, nil, nil, storage.Document{"pin": "1234", "email": "x@y.z"})
	if err := h(context.Background(), hc); err != nil {
		t.Fatalf("hook error: %v", err)
	}
	if _, ok := hc.Changes["pin"]; ok {
		t.Error("plaintext pin should be removed")
	}
	if hc.Changes["email"] != "x@y.z" {
		t.Error("other changes must be kept")
	}
	if !strings.HasPrefix(hc.Changes["pin_hash"].(string), "$2") {
		t.Errorf("pin_hash = %v", hc.Changes["pin_hash"])
	}

	// An update without the secret leaves the stored hash alone.
	hc = hooks.NewUpdateContext("user", nil, nil, nil, storage.Document{"email": "x@y.z"})
	if err := h(context.Background(), hc); err != nil {
		t.Fatalf("hook error: %v", err)
	}
	if _, ok := hc.Changes["pin_hash"]; ok {
		t.Error("pin_hash should not be set without a pin")
	}
}

func TestHashSecret_InvalidArgs(t *testing.T) {
	fn := hashSecret(zerolog.Nop())
	tests := []struct {
		name string
		args hooks.Args
	}{
		{"unknown field", hooks.Args{"field": "token"}},
		{"unknown target", hooks.Args{"into": "secret"}},
		{"same field", hooks.Args{"field": "pin", "into": "pin"}},
		{"cost too high", hooks.Args{"cost": 99}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fn.Create(hooks.Target{Collection: userCollection(), Args: tt.args}); err == nil {
				t.Error("expected error")
			}
		})
	}

	if fn.Delete != nil || fn.ListQuery != nil {
		t.Error("hash_secret only applies to create and update")
	}
}
