package schema_test

import (
	"errors"
	"testing"

	"github.com/gofhir/pathcheck/internal/fhirtest"
	"github.com/gofhir/pathcheck/pkg/registry"
	"github.com/gofhir/pathcheck/pkg/schema"
)

func newCatalog(t *testing.T) *schema.RegistryCatalog {
	t.Helper()
	c, err := schema.FromRegistry(fhirtest.Registry())
	if err != nil {
		t.Fatalf("FromRegistry() error = %v", err)
	}
	return c
}

func TestFromRegistryEmpty(t *testing.T) {
	if _, err := schema.FromRegistry(registry.New()); !errors.Is(err, schema.ErrEmptyRegistry) {
		t.Errorf("FromRegistry(empty) error = %v, want ErrEmptyRegistry", err)
	}
}

func TestTypeByName(t *testing.T) {
	c := newCatalog(t)

	tests := []struct {
		name string
		want string
		kind schema.Kind
	}{
		{"Patient", "Patient", schema.KindResource},
		{"FHIR.Patient", "Patient", schema.KindResource},
		{"HumanName", "HumanName", schema.KindComplexType},
		{"System.String", "string", schema.KindPrimitiveType},
		{"http://hl7.org/fhirpath/System.Boolean", "boolean", schema.KindPrimitiveType},
		{"Patient.contact", "Patient.contact", schema.KindBackbone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := c.TypeByName(tt.name)
			if td == nil {
				t.Fatalf("TypeByName(%q) = nil", tt.name)
			}
			if td.Name != tt.want {
				t.Errorf("Name = %q, want %q", td.Name, tt.want)
			}
			if td.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", td.Kind, tt.kind)
			}
		})
	}

	if c.TypeByName("Chicken") != nil {
		t.Error("TypeByName(Chicken) should be nil")
	}
}

func TestIsAssignableFrom(t *testing.T) {
	c := newCatalog(t)
	resource := c.TypeByName("Resource")
	patient := c.TypeByName("Patient")
	str := c.TypeByName("string")
	code := c.TypeByName("code")

	if !resource.IsAssignableFrom(patient) {
		t.Error("Resource should be assignable from Patient")
	}
	if patient.IsAssignableFrom(resource) {
		t.Error("Patient should not be assignable from Resource")
	}
	if !str.IsAssignableFrom(code) {
		t.Error("string should be assignable from code")
	}
	if !patient.IsAssignableFrom(patient) {
		t.Error("a type is assignable from itself")
	}
	if c.TypeByName("Patient.contact").Base().Name != "BackboneElement" {
		t.Error("backbone types derive from BackboneElement")
	}
}

func TestIsKnownRootType(t *testing.T) {
	c := newCatalog(t)
	for name, want := range map[string]bool{
		"Patient":     true,
		"Resource":    true,
		"HumanName":   false,
		"string":      false,
		"Encounter":   false,
		"Observation": true,
	} {
		if got := c.IsKnownRootType(name); got != want {
			t.Errorf("IsKnownRootType(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFieldKinds(t *testing.T) {
	c := newCatalog(t)
	patient := c.TypeByName("Patient")
	obs := c.TypeByName("Observation")

	name := c.Field(patient, "name")
	if name == nil || name.Choice != schema.ChoiceNone || !name.IsCollection || name.Types[0] != "HumanName" {
		t.Errorf("Patient.name = %+v", name)
	}

	deceased := c.Field(patient, "deceased")
	if deceased == nil || deceased.Choice != schema.ChoiceDatatype || len(deceased.Types) != 2 {
		t.Errorf("Patient.deceased = %+v", deceased)
	}

	contained := c.Field(patient, "contained")
	if contained == nil || contained.Choice != schema.ChoiceResource {
		t.Errorf("Patient.contained = %+v", contained)
	}

	gp := c.Field(patient, "generalPractitioner")
	if gp == nil || len(gp.Targets) != 3 {
		t.Errorf("Patient.generalPractitioner targets = %+v", gp)
	}

	id := c.Field(patient, "id")
	if id == nil || id.Types[0] != "string" {
		t.Errorf("Patient.id = %+v, want System.String mapped to string", id)
	}

	if f := c.Field(obs, "valueQuantity"); f != nil {
		t.Errorf("Field(valueQuantity) = %+v, want nil", f)
	}
}

func TestFieldByChoiceName(t *testing.T) {
	c := newCatalog(t)
	obs := c.TypeByName("Observation")

	f := c.FieldByChoiceName(obs, "valueQuantity")
	if f == nil || f.Name != "value" {
		t.Fatalf("FieldByChoiceName(valueQuantity) = %+v", f)
	}
	if c.FieldByChoiceName(obs, "valueChicken") != nil {
		t.Error("valueChicken does not name a declared type")
	}
	if c.FieldByChoiceName(obs, "status") != nil {
		t.Error("status is not a choice field")
	}
}

func TestBackboneAndContentReference(t *testing.T) {
	c := newCatalog(t)

	contact := c.Field(c.TypeByName("Patient"), "contact")
	if contact == nil || contact.Types[0] != "Patient.contact" {
		t.Fatalf("Patient.contact = %+v", contact)
	}
	telecom := c.Field(c.TypeByName("Patient.contact"), "telecom")
	if telecom == nil || telecom.Types[0] != "ContactPoint" {
		t.Errorf("Patient.contact.telecom = %+v", telecom)
	}
	if ext := c.Field(c.TypeByName("Patient.contact"), "modifierExtension"); ext == nil {
		t.Error("backbone should expose modifierExtension")
	}

	component := c.TypeByName("Observation.component")
	rr := c.Field(component, "referenceRange")
	if rr == nil || rr.Types[0] != "Observation.referenceRange" || !rr.IsCollection {
		t.Errorf("Observation.component.referenceRange = %+v", rr)
	}
}

func TestPrimitivesInheritElementFields(t *testing.T) {
	c := newCatalog(t)
	str := c.TypeByName("string")
	if c.Field(str, "extension") == nil {
		t.Error("string should inherit extension from Element")
	}
	if len(c.Fields(c.TypeByName("code"))) != 2 {
		t.Errorf("code fields = %d, want 2 (id, extension)", len(c.Fields(c.TypeByName("code"))))
	}
}

func TestResourceAndOpenTypes(t *testing.T) {
	c := newCatalog(t)

	var names []string
	for _, td := range c.ResourceTypes() {
		names = append(names, td.Name)
	}
	want := []string{"Group", "Observation", "Organization", "Patient", "Practitioner"}
	if len(names) != len(want) {
		t.Fatalf("ResourceTypes() = %v, want %v", names, want)
	}

	open := c.OpenTypes()
	if len(open) != 30 {
		t.Errorf("len(OpenTypes()) = %d, want 30 (Extension.value[x])", len(open))
	}
	if open[0].Name != "base64Binary" {
		t.Errorf("OpenTypes()[0] = %s, want declaration order", open[0].Name)
	}
}

func TestOpenTypeMarker(t *testing.T) {
	r := registry.New()
	for _, sd := range []string{
		`{"resourceType":"StructureDefinition","url":"http://example.org/Element","type":"Element","kind":"complex-type","abstract":true,"derivation":"specialization","snapshot":{"element":[{"id":"Element","path":"Element"},{"id":"Element.id","path":"Element.id","max":"1","type":[{"code":"string"}]}]}}`,
		`{"resourceType":"StructureDefinition","url":"http://example.org/string","type":"string","kind":"primitive-type","baseDefinition":"http://example.org/Element","derivation":"specialization"}`,
		`{"resourceType":"StructureDefinition","url":"http://example.org/Param","type":"Param","kind":"resource","derivation":"specialization","snapshot":{"element":[{"id":"Param","path":"Param"},{"id":"Param.value[x]","path":"Param.value[x]","max":"1","type":[{"code":"*"}]}]}}`,
	} {
		if err := r.AddStructureDefinition([]byte(sd)); err != nil {
			t.Fatal(err)
		}
	}
	c, err := schema.FromRegistry(r)
	if err != nil {
		t.Fatal(err)
	}
	f := c.Field(c.TypeByName("Param"), "value")
	if f == nil || !f.OpenType || f.Choice != schema.ChoiceDatatype {
		t.Fatalf("Param.value = %+v, want open datatype choice", f)
	}
	if !f.MatchesChoiceName("valueAnything") {
		t.Error("open choice fields accept any suffix")
	}
	open := c.OpenTypes()
	if len(open) != 1 || open[0].Name != "string" {
		t.Errorf("OpenTypes() = %v, want [string]", open)
	}
}

func TestNormalizeTypeName(t *testing.T) {
	tests := map[string]string{
		"System.String":                          "string",
		"System.DateTime":                        "dateTime",
		"FHIR.Patient":                           "Patient",
		"Patient":                                "Patient",
		"http://hl7.org/fhirpath/System.Integer": "integer",
	}
	for in, want := range tests {
		if got := schema.NormalizeTypeName(in); got != want {
			t.Errorf("NormalizeTypeName(%q) = %q, want %q", in, got, want)
		}
	}
}
