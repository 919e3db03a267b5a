package track

import (
	"errors"
	"reflect"
	"testing"

	"docsession/pkg/document"
)

type animal struct {
	ID      document.ID    `doc:"_id"`
	Name    string         `doc:"name"`
	Weight  float64        `doc:"weight_g"`
	Tags    []string       `doc:"tags"`
	Attrs   map[string]any `doc:"attrs"`
	skipped int
	Ignored string `doc:"-"`
}

type noIdentifier struct {
	Name string `doc:"name"`
}

type badIdentifier struct {
	ID string `doc:"_id"`
}

type badMapKeys struct {
	ID   document.ID    `doc:"_id"`
	Bins map[int]string `doc:"bins"`
}

func TestRegisterAndFieldNames(t *testing.T) {
	r := NewRegistry()
	rt, err := r.Register(animal{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rt.Name() != "animal" {
		t.Fatalf("Name() = %q", rt.Name())
	}
	want := []string{"_id", "attrs", "name", "tags", "weight_g"}
	if got := rt.FieldNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("FieldNames() = %v, want %v", got, want)
	}
	if !r.Registered(&animal{}) {
		t.Fatal("Registered should report true after Register")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(&animal{}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := r.Register(animal{})
	var dup AlreadyRegisteredError
	if !errors.As(err, &dup) {
		t.Fatalf("expected AlreadyRegisteredError, got %v", err)
	}
}

func TestRegisterRejectsBadShapes(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(noIdentifier{}); err == nil {
		t.Error("type without identifier field should be rejected")
	}
	if _, err := r.Register(badIdentifier{}); err == nil {
		t.Error("identifier with wrong Go type should be rejected")
	}
	if _, err := r.Register(badMapKeys{}); err == nil {
		t.Error("map field with non-string keys should be rejected")
	}
	if _, err := r.Register(42); err == nil {
		t.Error("non-struct prototype should be rejected")
	}
	if _, err := r.Register(nil); err == nil {
		t.Error("nil prototype should be rejected")
	}
}

func TestTypeOfRequiresRegistration(t *testing.T) {
	r := NewRegistry()
	_, err := r.typeOf(&animal{})
	var missing NotRegisteredError
	if !errors.As(err, &missing) {
		t.Fatalf("expected NotRegisteredError, got %v", err)
	}
	if _, err := r.typeOf(animal{}); err == nil {
		t.Error("non-pointer record should be rejected")
	}
	var nilRec *animal
	if _, err := r.typeOf(nilRec); err == nil {
		t.Error("nil record pointer should be rejected")
	}
}

func TestFieldKindClassification(t *testing.T) {
	info, err := describeStruct(reflect.TypeOf(animal{}))
	if err != nil {
		t.Fatalf("describeStruct: %v", err)
	}
	cases := map[string]fieldKind{
		"_id":      kindScalar,
		"name":     kindScalar,
		"weight_g": kindScalar,
		"tags":     kindSequence,
		"attrs":    kindMapping,
	}
	for name, want := range cases {
		f, ok := info.field(name)
		if !ok {
			t.Fatalf("field %q missing", name)
		}
		if f.kind != want {
			t.Errorf("field %q kind = %v, want %v", name, f.kind, want)
		}
	}
	if _, ok := info.field("Ignored"); ok {
		t.Error("tag-excluded field should be skipped")
	}
	if _, ok := info.field("skipped"); ok {
		t.Error("unexported field should be skipped")
	}
	_ = animal{skipped: 1}
}
