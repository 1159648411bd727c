// Package schema describes FHIR types and their fields in the shape the
// FHIRPath type checker consumes.
//
// A Catalog is built once, typically from the StructureDefinition snapshots
// of a registry, and is read-only afterwards; it is safe for concurrent use.
package schema

import "strings"

// Kind classifies a TypeDescriptor.
type Kind string

// Kind constants. KindBackbone is used for the anonymous element types
// declared inline in a resource, named by their element path.
const (
	KindResource      Kind = "resource"
	KindComplexType   Kind = "complex-type"
	KindPrimitiveType Kind = "primitive-type"
	KindBackbone      Kind = "backbone-element"
)

// TypeDescriptor identifies a schema type. Descriptors are compared by
// identity; a catalog hands out exactly one descriptor per name.
type TypeDescriptor struct {
	Name     string
	Kind     Kind
	Abstract bool

	base *TypeDescriptor
}

// Base returns the base type, or nil for root types such as Element and
// Resource.
func (t *TypeDescriptor) Base() *TypeDescriptor {
	if t == nil {
		return nil
	}
	return t.base
}

// IsAssignableFrom reports whether a value of type other can be used where t
// is expected, i.e. t is other or one of its ancestors.
func (t *TypeDescriptor) IsAssignableFrom(other *TypeDescriptor) bool {
	if t == nil {
		return false
	}
	for o := other; o != nil; o = o.base {
		if o == t || o.Name == t.Name {
			return true
		}
	}
	return false
}

// IsResource reports whether t is a resource type.
func (t *TypeDescriptor) IsResource() bool {
	return t != nil && t.Kind == KindResource
}

// IsPrimitive reports whether t is a primitive type.
func (t *TypeDescriptor) IsPrimitive() bool {
	return t != nil && t.Kind == KindPrimitiveType
}

func (t *TypeDescriptor) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}

// Choice is the polymorphism kind of a field.
type Choice int

// Choice kinds.
const (
	// ChoiceNone is a field with a single declared type.
	ChoiceNone Choice = iota
	// ChoiceDatatype is a value[x] field holding one of its declared types.
	ChoiceDatatype
	// ChoiceResource is a field holding any resource, e.g. contained.
	ChoiceResource
)

func (c Choice) String() string {
	switch c {
	case ChoiceDatatype:
		return "datatype"
	case ChoiceResource:
		return "resource"
	default:
		return "none"
	}
}

// FieldDescriptor is a named field of a TypeDescriptor.
type FieldDescriptor struct {
	// Name is the FHIRPath name, without the [x] marker.
	Name string

	// Path is the element path the field was read from, e.g.
	// "Observation.value[x]".
	Path string

	Choice Choice

	// Types are the declared type names in declaration order.
	Types []string

	IsCollection bool

	// OpenType is set when the declared type is the "any data type" marker.
	OpenType bool

	// Targets are the resource type names a Reference or canonical field
	// may point to. Empty means unconstrained.
	Targets []string

	Min int
}

// IsChoice reports whether the field is polymorphic.
func (f *FieldDescriptor) IsChoice() bool {
	return f != nil && f.Choice != ChoiceNone
}

// MatchesChoiceName reports whether name is this choice field's name with a
// type suffix, e.g. "valueString" for value[x]. The suffix must name one of
// the declared types unless the field is open.
func (f *FieldDescriptor) MatchesChoiceName(name string) bool {
	if f == nil || f.Choice != ChoiceDatatype {
		return false
	}
	suffix, ok := strings.CutPrefix(name, f.Name)
	if !ok || suffix == "" || suffix[0] < 'A' || suffix[0] > 'Z' {
		return false
	}
	if f.OpenType {
		return true
	}
	for _, t := range f.Types {
		if strings.EqualFold(t, suffix) {
			return true
		}
	}
	return false
}

// Catalog answers type and field queries against a schema.
type Catalog interface {
	// TypeByName returns the descriptor for a type name, or nil.
	TypeByName(name string) *TypeDescriptor

	// IsKnownRootType reports whether name is a resource type, abstract
	// ones included.
	IsKnownRootType(name string) bool

	// Fields returns the fields of t in declaration order, inherited ones
	// included.
	Fields(t *TypeDescriptor) []*FieldDescriptor

	// Field returns the field of t named name, or nil.
	Field(t *TypeDescriptor, name string) *FieldDescriptor

	// FieldByChoiceName returns the choice field of t that name refers to
	// with a type suffix, e.g. value[x] for "valueString", or nil.
	FieldByChoiceName(t *TypeDescriptor, name string) *FieldDescriptor

	// ResourceTypes returns every concrete resource type.
	ResourceTypes() []*TypeDescriptor

	// OpenTypes returns the types an open ("any data type") field may hold.
	OpenTypes() []*TypeDescriptor
}

// systemTypes maps FHIRPath System types to the FHIR primitives used for
// them in StructureDefinitions and in type specifiers.
var systemTypes = map[string]string{
	"String":   "string",
	"Boolean":  "boolean",
	"Integer":  "integer",
	"Decimal":  "decimal",
	"DateTime": "dateTime",
	"Date":     "date",
	"Time":     "time",
	"Quantity": "Quantity",
}

const systemTypePrefix = "http://hl7.org/fhirpath/System."

// NormalizeTypeName maps FHIRPath type spellings to catalog names:
// "System.String" and "http://hl7.org/fhirpath/System.String" to "string",
// "FHIR.Patient" to "Patient". Other names are returned unchanged.
func NormalizeTypeName(name string) string {
	if rest, ok := strings.CutPrefix(name, systemTypePrefix); ok {
		name = "System." + rest
	}
	if rest, ok := strings.CutPrefix(name, "System."); ok {
		if mapped, ok := systemTypes[rest]; ok {
			return mapped
		}
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "FHIR."); ok {
		return rest
	}
	return name
}
