package typeset_test

import (
	"reflect"
	"testing"

	"github.com/gofhir/pathcheck/internal/fhirtest"
	"github.com/gofhir/pathcheck/pkg/profile"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

func newCatalog(t *testing.T) *schema.RegistryCatalog {
	t.Helper()
	c, err := schema.FromRegistry(fhirtest.Registry())
	if err != nil {
		t.Fatalf("FromRegistry() error = %v", err)
	}
	return c
}

func props(t *testing.T, c schema.Catalog, name string, collection bool) typeset.NodeProps {
	t.Helper()
	td := c.TypeByName(name)
	if td == nil {
		t.Fatalf("TypeByName(%q) = nil", name)
	}
	return typeset.NodeProps{Type: td, Collection: collection}
}

func TestNodePropsImmutable(t *testing.T) {
	c := newCatalog(t)
	p := props(t, c, "string", false)

	coll := p.AsCollection()
	if p.Collection {
		t.Error("AsCollection() modified the receiver")
	}
	if !coll.Collection || coll.String() != "string[]" {
		t.Errorf("AsCollection() = %s, want string[]", coll)
	}
	if single := coll.AsSingle(); single.Collection || !coll.Collection {
		t.Errorf("AsSingle() = %s from %s", single, coll)
	}

	boolean := c.TypeByName("boolean")
	if got := p.WithType(boolean); got.TypeName() != "boolean" || p.TypeName() != "string" {
		t.Errorf("WithType() = %s, receiver %s", got, p)
	}
}

func TestStringAndNames(t *testing.T) {
	c := newCatalog(t)
	s := typeset.Of(
		props(t, c, "string", false),
		props(t, c, "string", true),
		typeset.NodeProps{Type: c.TypeByName("string"), Path: "HumanName.family"},
		props(t, c, "code", true),
	)

	if got, want := s.String(), "string, string[], code[]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := s.TypeNames(), []string{"string", "code"}; !reflect.DeepEqual(got, want) {
		t.Errorf("TypeNames() = %v, want %v", got, want)
	}
	// Display names collapse, members do not.
	if s.Len() != 4 {
		t.Errorf("Len() = %d, want 4", s.Len())
	}
	if !s.IsCollection() {
		t.Error("IsCollection() = false, want true")
	}
	if typeset.Empty().String() != "" {
		t.Errorf("Empty().String() = %q", typeset.Empty().String())
	}
}

func TestUnion(t *testing.T) {
	c := newCatalog(t)
	a := typeset.Of(props(t, c, "string", false), props(t, c, "code", true))
	b := typeset.Of(props(t, c, "code", true), props(t, c, "Period", false))

	u := typeset.Union(a, b)
	want := typeset.Of(props(t, c, "string", false), props(t, c, "code", true), props(t, c, "Period", false))
	if !u.Equal(want) {
		t.Errorf("Union() = %s, want %s", u, want)
	}
	for _, p := range append(a.Props, b.Props...) {
		if !u.Contains(p) {
			t.Errorf("Union() lost %s", p)
		}
	}

	root := typeset.Of(props(t, c, "Patient", false))
	root.Root = true
	root.Annotation = &typeset.ExtensionContext{URL: "x"}
	if u := typeset.Union(root); u.Root || u.Annotation != nil {
		t.Error("Union() should drop root and annotation")
	}
}

func TestCanBeOfType(t *testing.T) {
	c := newCatalog(t)
	s := typeset.Of(props(t, c, "code", false), props(t, c, "positiveInt", true), props(t, c, "instant", false))

	tests := []struct {
		name       string
		singleOnly bool
		want       bool
	}{
		{"string", false, true},
		{"code", false, true},
		{"id", true, true},
		{"integer", false, true},
		{"integer", true, false},
		{"dateTime", true, true},
		{"date", false, true},
		{"boolean", false, false},
	}
	for _, tt := range tests {
		if got := s.CanBeOfType(tt.name, tt.singleOnly); got != tt.want {
			t.Errorf("CanBeOfType(%q, %v) = %v, want %v", tt.name, tt.singleOnly, got, tt.want)
		}
	}
}

func TestNormalizeBaseType(t *testing.T) {
	tests := map[string]string{
		"code":         "string",
		"markdown":     "string",
		"base64Binary": "string",
		"unsignedInt":  "integer",
		"instant":      "dateTime",
		"decimal":      "decimal",
		"Quantity":     "Quantity",
	}
	for in, want := range tests {
		if got := typeset.NormalizeBaseType(in); got != want {
			t.Errorf("NormalizeBaseType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapFilterKeepAnnotation(t *testing.T) {
	c := newCatalog(t)
	ext := &typeset.ExtensionContext{URL: fhirtest.MothersMaidenNameURL}
	s := typeset.Of(props(t, c, "string", true), props(t, c, "Coding", true)).WithAnnotation(ext)

	single := s.AsSingle()
	if single.IsCollection() || single.ExtensionContext() != ext {
		t.Errorf("AsSingle() = %s, annotation %v", single, single.ExtensionContext())
	}
	if !s.IsCollection() {
		t.Error("AsSingle() modified the receiver")
	}

	strings := s.Filter(func(p typeset.NodeProps) bool { return p.TypeName() == "string" })
	if strings.Len() != 1 || strings.ExtensionContext() != ext {
		t.Errorf("Filter() = %s", strings)
	}

	if typeset.Empty().ExtensionContext() != nil {
		t.Error("Empty().ExtensionContext() should be nil")
	}
}

func TestExtensionContext(t *testing.T) {
	ctx := &typeset.ExtensionContext{
		URL:         "code",
		Profile:     &profile.Definition{URL: fhirtest.NationalityURL},
		ElementPath: "Extension.extension:code",
	}
	if got, want := ctx.ValueElementID(), "Extension.extension:code.value[x]"; got != want {
		t.Errorf("ValueElementID() = %q, want %q", got, want)
	}
	if !ctx.Singular() {
		t.Error("Singular() = false, want true")
	}
	ctx.ParentCollection = true
	if ctx.Singular() {
		t.Error("Singular() = true with a collection parent")
	}
}

func TestFieldProps(t *testing.T) {
	c := newCatalog(t)
	patient := props(t, c, "Patient", false)
	observation := props(t, c, "Observation", false)

	t.Run("plain", func(t *testing.T) {
		got := typeset.FieldProps(c, patient, c.Field(patient.Type, "name"))
		if len(got) != 1 || got[0].String() != "HumanName[]" || got[0].Path != "Patient.name" {
			t.Errorf("FieldProps(name) = %v", got)
		}
	})

	t.Run("datatype choice", func(t *testing.T) {
		got := typeset.Of(typeset.FieldProps(c, observation, c.Field(observation.Type, "value"))...)
		if got.Len() != 9 {
			t.Errorf("value[x] expands to %d types, want 9: %s", got.Len(), got)
		}
		if !got.CanBeOfType("Quantity", true) {
			t.Errorf("value[x] = %s, want Quantity", got)
		}
	})

	t.Run("resource choice", func(t *testing.T) {
		got := typeset.FieldProps(c, patient, c.Field(patient.Type, "contained"))
		if len(got) != len(c.ResourceTypes()) {
			t.Errorf("contained expands to %d types, want %d", len(got), len(c.ResourceTypes()))
		}
		for _, p := range got {
			if !p.Collection {
				t.Errorf("%s should be a collection", p)
			}
		}
	})

	t.Run("collection owner", func(t *testing.T) {
		name := props(t, c, "HumanName", true)
		got := typeset.FieldProps(c, name, c.Field(name.Type, "family"))
		if len(got) != 1 || !got[0].Collection {
			t.Errorf("FieldProps(family) on HumanName[] = %v, want string[]", got)
		}
	})

	t.Run("choice suffix", func(t *testing.T) {
		f := c.FieldByChoiceName(observation.Type, "valueQuantity")
		p, ok := typeset.ChoiceProps(c, observation, f, "valueQuantity")
		if !ok || p.TypeName() != "Quantity" {
			t.Errorf("ChoiceProps(valueQuantity) = %v, %v", p, ok)
		}
	})
}

func TestEqualAcrossCatalogs(t *testing.T) {
	a, b := newCatalog(t), newCatalog(t)
	fromA := typeset.FieldProps(a, props(t, a, "Patient", false), a.Field(a.TypeByName("Patient"), "name"))
	fromB := typeset.FieldProps(b, props(t, b, "Patient", false), b.Field(b.TypeByName("Patient"), "name"))

	if !typeset.Of(fromA...).Equal(typeset.Of(fromB...)) {
		t.Errorf("Patient.name from two catalogs: %v != %v", fromA, fromB)
	}
	if u := typeset.Union(typeset.Of(fromA...), typeset.Of(fromB...)); u.Len() != 1 {
		t.Errorf("Union() = %s, want one member", u)
	}

	given := typeset.FieldProps(b, props(t, b, "HumanName", true), b.Field(b.TypeByName("HumanName"), "given"))
	family := typeset.FieldProps(b, props(t, b, "HumanName", true), b.Field(b.TypeByName("HumanName"), "family"))
	if given[0].Equal(family[0].AsCollection()) {
		t.Error("members read from different fields should differ")
	}
	if props(t, a, "string", false).Equal(props(t, b, "code", false)) {
		t.Error("string should differ from code")
	}
}
