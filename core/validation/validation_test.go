package validation

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/artpar/entitygate/core/convention"
	"github.com/artpar/entitygate/core/schema"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func field(name string, typ schema.FieldType) convention.DerivedField {
	return convention.DerivedField{Field: schema.Field{Name: name, Type: typ}}
}

func TestCoerce(t *testing.T) {
	id := bson.NewObjectID()
	day := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	status := field("status", schema.FieldTypeEnum)
	status.Values = []string{"new", "paid"}

	tests := []struct {
		name    string
		field   convention.DerivedField
		value   any
		want    any
		wantErr bool
	}{
		{"string", field("s", schema.FieldTypeString), "x", "x", false},
		{"string from number", field("s", schema.FieldTypeString), 1.0, nil, true},
		{"int from float", field("n", schema.FieldTypeInt), 3.0, int64(3), false},
		{"int from fraction", field("n", schema.FieldTypeInt), 3.5, nil, true},
		{"int from query string", field("n", schema.FieldTypeInt), "42", int64(42), false},
		{"int from json number", field("n", schema.FieldTypeInt), json.Number("7"), int64(7), false},
		{"float from int", field("f", schema.FieldTypeFloat), 2, 2.0, false},
		{"float from string", field("f", schema.FieldTypeFloat), "2.5", 2.5, false},
		{"float invalid", field("f", schema.FieldTypeFloat), "abc", nil, true},
		{"bool", field("b", schema.FieldTypeBool), true, true, false},
		{"bool from string", field("b", schema.FieldTypeBool), "false", false, false},
		{"date", field("d", schema.FieldTypeDate), "2024-02-03", day, false},
		{"date rfc3339", field("d", schema.FieldTypeDate), "2024-02-03T00:00:00Z", day, false},
		{"date invalid", field("d", schema.FieldTypeDate), "yesterday", nil, true},
		{"objectid", field("o", schema.FieldTypeObjectID), id.Hex(), id, false},
		{"objectid invalid", field("o", schema.FieldTypeObjectID), "123", nil, true},
		{"enum", status, "paid", "paid", false},
		{"enum invalid", status, "void", nil, true},
		{"array", field("a", schema.FieldTypeArray), []string{"x"}, []any{"x"}, false},
		{"object", field("m", schema.FieldTypeObject), map[string]any{"k": 1}, map[string]any{"k": 1}, false},
		{"untyped", field("u", ""), 5, 5, false},
		{"nil", field("n", schema.FieldTypeInt), nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.field, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Coerce() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCoerce_RefDefaultsToObjectID(t *testing.T) {
	ref := convention.DerivedField{Field: schema.Field{Name: "category", Ref: "category"}}
	if _, err := Coerce(ref, "not-an-id"); err == nil {
		t.Error("ref field should reject malformed ids")
	}
}

func TestCoerceQuery(t *testing.T) {
	price := field("price", schema.FieldTypeFloat)

	got, err := CoerceQuery(price, map[string]any{"$gte": "10", "$in": []any{"1", 2}})
	if err != nil {
		t.Fatalf("CoerceQuery() error = %v", err)
	}
	want := map[string]any{"$gte": 10.0, "$in": []any{1.0, 2.0}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CoerceQuery() = %#v, want %#v", got, want)
	}

	name := field("name", schema.FieldTypeString)
	got, err = CoerceQuery(name, map[string]any{"$regex": "^wid", "$options": "i"})
	if err != nil {
		t.Fatalf("CoerceQuery() error = %v", err)
	}
	if got.(map[string]any)["$regex"] != "^wid" {
		t.Errorf("regex not preserved: %v", got)
	}

	if _, err := CoerceQuery(price, map[string]any{"$lt": "cheap"}); err == nil {
		t.Error("CoerceQuery() should reject non-numeric operand")
	}
}

func TestPayload(t *testing.T) {
	fields := []convention.DerivedField{
		field("name", schema.FieldTypeString),
		field("qty", schema.FieldTypeInt),
		{Field: schema.Field{Name: "price", Type: schema.FieldTypeFloat, Constraints: []schema.Constraint{
			{Type: schema.ConstraintMin, Value: 0},
		}}},
	}

	data := map[string]any{"name": "Widget", "qty": 2.0, "price": 9.5, "extra": "kept"}
	if r := Payload(fields, data); !r.Valid() {
		t.Fatalf("Payload() = %v", r.Error())
	}
	if data["qty"] != int64(2) {
		t.Errorf("qty = %#v, want int64(2)", data["qty"])
	}
	if data["extra"] != "kept" {
		t.Error("unknown keys should be left alone")
	}

	bad := map[string]any{"name": 5, "price": -1.0}
	r := Payload(fields, bad)
	if r.Valid() || len(r.Errors) != 2 {
		t.Fatalf("Payload() errors = %+v, want 2", r.Errors)
	}
	if r.Errors[0].Field != "name" || r.Errors[1].Constraint != string(schema.ConstraintMin) {
		t.Errorf("errors = %+v", r.Errors)
	}
}
