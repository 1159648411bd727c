package searchparam

import (
	"sort"

	"github.com/gofhir/pathcheck/pkg/schema"
)

// allowedTypes lists the element types each search type can index.
// Composite and special parameters have no list.
var allowedTypes = map[string][]string{
	TypeNumber:    {"decimal", "integer", "integer64", "positiveInt", "unsignedInt"},
	TypeDate:      {"date", "dateTime", "instant", "Period", "Timing"},
	TypeString:    {"string", "markdown", "HumanName", "Address"},
	TypeToken:     {"Identifier", "code", "CodeableConcept", "Coding", "string", "boolean", "id", "ContactPoint", "uri", "canonical", "oid", "url", "uuid"},
	TypeReference: {"Reference", "canonical", "uri", "url", "Resource"},
	TypeQuantity:  {"Quantity", "SimpleQuantity", "Money", "Age", "Count", "Distance", "Duration", "Range"},
	TypeURI:       {"uri", "url", "canonical", "uuid", "oid"},
}

var allowedSets = func() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(allowedTypes))
	for st, names := range allowedTypes {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		out[st] = set
	}
	return out
}()

// KnownType reports whether searchType is a FHIR search parameter type.
func KnownType(searchType string) bool {
	switch searchType {
	case TypeComposite, TypeSpecial:
		return true
	}
	_, ok := allowedTypes[searchType]
	return ok
}

// AllowedTypes returns the element types searchType accepts, sorted. It is
// nil for composite and special parameters.
func AllowedTypes(searchType string) []string {
	names := allowedTypes[searchType]
	if names == nil {
		return nil
	}
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

// Allows reports whether a value of type typeName can be indexed by a
// parameter of searchType. Reference parameters also accept every resource
// type of cat.
func Allows(cat schema.Catalog, searchType, typeName string) bool {
	set, ok := allowedSets[searchType]
	if !ok {
		return true
	}
	if set[typeName] {
		return true
	}
	return searchType == TypeReference && cat != nil && cat.IsKnownRootType(typeName)
}
