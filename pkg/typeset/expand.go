package typeset

import (
	"strings"

	"github.com/gofhir/pathcheck/pkg/schema"
)

// FieldProps expands field f of owner into the candidates it may hold:
// every resource type for a resource choice, the open type list for an open
// datatype choice, the declared types otherwise. Declared types the catalog
// does not know are skipped.
func FieldProps(cat schema.Catalog, owner NodeProps, f *schema.FieldDescriptor) []NodeProps {
	base := NodeProps{
		Field:      f,
		Collection: owner.Collection || f.IsCollection,
		Path:       childPath(owner, f.Name),
	}

	var types []*schema.TypeDescriptor
	switch {
	case f.Choice == schema.ChoiceResource:
		types = cat.ResourceTypes()
	case f.OpenType:
		types = cat.OpenTypes()
	default:
		types = make([]*schema.TypeDescriptor, 0, len(f.Types))
		for _, name := range f.Types {
			if t := cat.TypeByName(name); t != nil {
				types = append(types, t)
			}
		}
	}

	out := make([]NodeProps, 0, len(types))
	for _, t := range types {
		out = append(out, base.WithType(t))
	}
	return out
}

// ChoiceProps returns the candidate for a choice field referred to with a
// type suffix, e.g. string for "valueString" on value[x]. It returns false
// when the suffix names no type the catalog knows.
func ChoiceProps(cat schema.Catalog, owner NodeProps, f *schema.FieldDescriptor, name string) (NodeProps, bool) {
	suffix := strings.TrimPrefix(name, f.Name)
	candidates := f.Types
	if f.OpenType {
		candidates = nil
		for _, t := range cat.OpenTypes() {
			candidates = append(candidates, t.Name)
		}
	}
	for _, c := range candidates {
		if strings.EqualFold(c, suffix) {
			if t := cat.TypeByName(c); t != nil {
				return NodeProps{
					Type:       t,
					Field:      f,
					Collection: owner.Collection || f.IsCollection,
					Path:       childPath(owner, name),
				}, true
			}
		}
	}
	return NodeProps{}, false
}

func childPath(owner NodeProps, name string) string {
	prefix := owner.Path
	if prefix == "" {
		prefix = owner.TypeName()
	}
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
