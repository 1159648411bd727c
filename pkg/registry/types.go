package registry

import (
	"encoding/json"
	"strings"
)

// StructureDefinition.Kind constants.
const (
	KindResource      = "resource"
	KindComplexType   = "complex-type"
	KindPrimitiveType = "primitive-type"
	KindLogical       = "logical"
)

// StructureDefinition is the subset of a FHIR StructureDefinition needed to
// build a schema catalog and resolve extension profiles.
type StructureDefinition struct {
	ResourceType   string `json:"resourceType"`
	ID             string `json:"id"`
	URL            string `json:"url"`
	Name           string `json:"name"`
	Kind           string `json:"kind"` // resource, complex-type, primitive-type, logical
	Abstract       bool   `json:"abstract"`
	Type           string `json:"type"`
	BaseDefinition string `json:"baseDefinition"`
	Derivation     string `json:"derivation"` // specialization | constraint

	Context []ExtensionContext `json:"context,omitempty"`

	Snapshot     *ElementList `json:"snapshot,omitempty"`
	Differential *ElementList `json:"differential,omitempty"`
}

// ExtensionContext defines where an extension can be used.
type ExtensionContext struct {
	Type       string `json:"type"` // element, extension, fhirpath
	Expression string `json:"expression"`
}

// ElementList is the element array of a snapshot or differential.
type ElementList struct {
	Element []ElementDefinition `json:"element"`
}

// IsExtension reports whether the definition is an extension profile.
func (sd *StructureDefinition) IsExtension() bool {
	return sd.Type == "Extension" && sd.Derivation == "constraint"
}

// BaseTypeName returns the last segment of BaseDefinition, e.g.
// "DomainResource" for Patient.
func (sd *StructureDefinition) BaseTypeName() string {
	if sd.BaseDefinition == "" {
		return ""
	}
	return lastSegment(sd.BaseDefinition)
}

// ElementDefinition is the subset of a FHIR ElementDefinition read by the
// schema and the profile resolver.
type ElementDefinition struct {
	ID               string       `json:"id"`
	Path             string       `json:"path"`
	SliceName        *string      `json:"sliceName,omitempty"`
	Min              uint32       `json:"min"`
	Max              string       `json:"max"`
	Type             []Type       `json:"type,omitempty"`
	Constraint       []Constraint `json:"constraint,omitempty"`
	ContentReference *string      `json:"contentReference,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the element and keeps its raw JSON so fixed[x]
// values of any type can be read later.
func (ed *ElementDefinition) UnmarshalJSON(data []byte) error {
	type plain ElementDefinition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*ed = ElementDefinition(p)
	ed.raw = append(json.RawMessage(nil), data...)
	return nil
}

// IsCollection reports whether the element allows more than one repetition.
func (ed *ElementDefinition) IsCollection() bool {
	return ed.Max != "" && ed.Max != "0" && ed.Max != "1"
}

// TypeCodes returns the declared type codes in declaration order.
func (ed *ElementDefinition) TypeCodes() []string {
	codes := make([]string, 0, len(ed.Type))
	for _, t := range ed.Type {
		if t.Code != "" {
			codes = append(codes, t.Code)
		}
	}
	return codes
}

// GetFixed extracts the fixed[x] value from the raw JSON.
// It returns the value, the type suffix (e.g. "Uri") and whether it exists.
func (ed *ElementDefinition) GetFixed() (value json.RawMessage, typeSuffix string, exists bool) {
	return extractPrefixedValue(ed.raw, "fixed")
}

// FixedString returns a fixed[x] value when it is a JSON string (fixedUri,
// fixedCode, fixedString, ...).
func (ed *ElementDefinition) FixedString() (string, bool) {
	value, _, ok := ed.GetFixed()
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", false
	}
	return s, true
}

func extractPrefixedValue(raw json.RawMessage, prefix string) (json.RawMessage, string, bool) {
	if raw == nil {
		return nil, "", false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, "", false
	}

	for key, value := range obj {
		suffix, ok := strings.CutPrefix(key, prefix)
		// fixed[x] keys continue with an upper-case type name
		if ok && suffix != "" && suffix[0] >= 'A' && suffix[0] <= 'Z' {
			return value, suffix, true
		}
	}
	return nil, "", false
}

// Type represents an allowed type for an element.
type Type struct {
	Code          string   `json:"code"`
	Profile       []string `json:"profile,omitempty"`
	TargetProfile []string `json:"targetProfile,omitempty"`
}

// TargetTypes returns the resource type names of the target profiles.
func (t Type) TargetTypes() []string {
	out := make([]string, 0, len(t.TargetProfile))
	for _, p := range t.TargetProfile {
		out = append(out, lastSegment(p))
	}
	return out
}

// Constraint represents a FHIRPath constraint/invariant.
type Constraint struct {
	Key        string `json:"key"`
	Severity   string `json:"severity"` // error | warning
	Human      string `json:"human"`
	Expression string `json:"expression"`
}

// SearchParameter is the subset of a FHIR SearchParameter needed for type
// validation.
type SearchParameter struct {
	ResourceType string                 `json:"resourceType"`
	ID           string                 `json:"id"`
	URL          string                 `json:"url"`
	Name         string                 `json:"name"`
	Code         string                 `json:"code"`
	Base         []string               `json:"base"`
	Type         string                 `json:"type"`
	Expression   string                 `json:"expression"`
	Target       []string               `json:"target,omitempty"`
	Component    []SearchParamComponent `json:"component,omitempty"`
}

// SearchParamComponent is one component of a composite search parameter.
type SearchParamComponent struct {
	Definition string `json:"definition"`
	Expression string `json:"expression"`
}

func lastSegment(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		url = url[i+1:]
	}
	if i := strings.IndexByte(url, '|'); i >= 0 {
		url = url[:i]
	}
	return url
}
