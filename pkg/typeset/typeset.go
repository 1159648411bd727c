// Package typeset implements the candidate-type algebra of the FHIRPath type
// checker.
//
// Every expression node evaluates to a TypeSet: an ordered list of NodeProps,
// each a (type, cardinality, source field) triple read from a schema
// catalog. TypeSets are values; operations return new sets and never modify
// their receiver's members.
package typeset

import (
	"strings"

	"github.com/gofhir/pathcheck/pkg/schema"
)

// NodeProps is one candidate occurrence of a node's result.
type NodeProps struct {
	Type *schema.TypeDescriptor

	// Field is the field the value was read from, nil for roots, constants
	// and function results.
	Field *schema.FieldDescriptor

	Collection bool

	// Path is the navigation path that produced the value, e.g.
	// "Patient.contact.telecom".
	Path string
}

// AsCollection returns a copy marked as a collection.
func (p NodeProps) AsCollection() NodeProps {
	p.Collection = true
	return p
}

// AsSingle returns a copy marked as a single value.
func (p NodeProps) AsSingle() NodeProps {
	p.Collection = false
	return p
}

// WithType returns a copy with its type replaced.
func (p NodeProps) WithType(t *schema.TypeDescriptor) NodeProps {
	p.Type = t
	return p
}

// TypeName returns the type name, or "" when the type is unknown.
func (p NodeProps) TypeName() string {
	if p.Type == nil {
		return ""
	}
	return p.Type.Name
}

// String returns "Type" or "Type[]".
func (p NodeProps) String() string {
	if p.Collection {
		return p.TypeName() + "[]"
	}
	return p.TypeName()
}

// Equal reports structural equality. Types compare by name and fields by
// element path, so members built from different catalogs over the same
// definitions are equal.
func (p NodeProps) Equal(o NodeProps) bool {
	return p.TypeName() == o.TypeName() && fieldPath(p.Field) == fieldPath(o.Field) &&
		p.Collection == o.Collection && p.Path == o.Path
}

func fieldPath(f *schema.FieldDescriptor) string {
	if f == nil {
		return ""
	}
	return f.Path
}

// TypeSet is the result of evaluating one expression node.
type TypeSet struct {
	Props []NodeProps

	// Root marks the ambient evaluation context before any navigation.
	Root bool

	// Annotation carries cross-cutting context. It never affects type
	// identity, Equal ignores it.
	Annotation Annotation
}

// Empty returns the empty set.
func Empty() TypeSet {
	return TypeSet{}
}

// Of returns a set of the given members.
func Of(props ...NodeProps) TypeSet {
	return TypeSet{Props: append([]NodeProps(nil), props...)}
}

// Single returns a set holding one single-valued member of type t, or the
// empty set when t is nil.
func Single(t *schema.TypeDescriptor) TypeSet {
	if t == nil {
		return Empty()
	}
	return TypeSet{Props: []NodeProps{{Type: t}}}
}

// IsEmpty reports whether the set has no members.
func (s TypeSet) IsEmpty() bool {
	return len(s.Props) == 0
}

// Len returns the number of members.
func (s TypeSet) Len() int {
	return len(s.Props)
}

// Contains reports whether a structurally equal member is present.
func (s TypeSet) Contains(p NodeProps) bool {
	for _, m := range s.Props {
		if m.Equal(p) {
			return true
		}
	}
	return false
}

// Add returns a copy with p appended unless an equal member exists.
func (s TypeSet) Add(p NodeProps) TypeSet {
	if s.Contains(p) {
		return s
	}
	out := s.clone()
	out.Props = append(out.Props, p)
	return out
}

// Union returns the members of all sets, in order, dropping structural
// duplicates. The result is neither root nor annotated.
func Union(sets ...TypeSet) TypeSet {
	var out TypeSet
	for _, s := range sets {
		for _, p := range s.Props {
			if !out.Contains(p) {
				out.Props = append(out.Props, p)
			}
		}
	}
	return out
}

// IsCollection reports whether any member is a collection.
func (s TypeSet) IsCollection() bool {
	for _, p := range s.Props {
		if p.Collection {
			return true
		}
	}
	return false
}

// Names returns the distinct "Type"/"Type[]" renderings in member order.
func (s TypeSet) Names() []string {
	return distinct(s.Props, NodeProps.String)
}

// TypeNames returns the distinct type names without collection markers.
func (s TypeSet) TypeNames() []string {
	return distinct(s.Props, NodeProps.TypeName)
}

func distinct(props []NodeProps, name func(NodeProps) string) []string {
	out := make([]string, 0, len(props))
	seen := make(map[string]bool, len(props))
	for _, p := range props {
		n := name(p)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (s TypeSet) String() string {
	return strings.Join(s.Names(), ", ")
}

// CanBeOfType reports whether some member, after base-type normalization,
// has the type name. With singleOnly, collection members do not count.
func (s TypeSet) CanBeOfType(name string, singleOnly bool) bool {
	want := NormalizeBaseType(name)
	for _, p := range s.Props {
		if singleOnly && p.Collection {
			continue
		}
		if NormalizeBaseType(p.TypeName()) == want {
			return true
		}
	}
	return false
}

// AsCollection returns a copy with every member marked as a collection.
func (s TypeSet) AsCollection() TypeSet {
	return s.Map(NodeProps.AsCollection)
}

// AsSingle returns a copy with every member marked as a single value.
func (s TypeSet) AsSingle() TypeSet {
	return s.Map(NodeProps.AsSingle)
}

// Map returns a copy with fn applied to every member. Root and annotation
// are kept.
func (s TypeSet) Map(fn func(NodeProps) NodeProps) TypeSet {
	out := s.clone()
	for i := range out.Props {
		out.Props[i] = fn(out.Props[i])
	}
	return out
}

// Filter returns a copy holding the members keep accepts. Root and
// annotation are kept.
func (s TypeSet) Filter(keep func(NodeProps) bool) TypeSet {
	out := TypeSet{Root: s.Root, Annotation: s.Annotation}
	for _, p := range s.Props {
		if keep(p) {
			out.Props = append(out.Props, p)
		}
	}
	return out
}

// WithAnnotation returns a copy carrying a.
func (s TypeSet) WithAnnotation(a Annotation) TypeSet {
	out := s.clone()
	out.Annotation = a
	return out
}

// WithoutRoot returns a copy that no longer denotes the evaluation root.
func (s TypeSet) WithoutRoot() TypeSet {
	out := s.clone()
	out.Root = false
	return out
}

// Equal reports whether both sets have structurally equal members in the
// same order and the same root flag.
func (s TypeSet) Equal(o TypeSet) bool {
	if s.Root != o.Root || len(s.Props) != len(o.Props) {
		return false
	}
	for i := range s.Props {
		if !s.Props[i].Equal(o.Props[i]) {
			return false
		}
	}
	return true
}

// SameMembers reports whether both sets hold the same members regardless of
// order.
func (s TypeSet) SameMembers(o TypeSet) bool {
	if len(s.Props) != len(o.Props) {
		return false
	}
	for _, p := range s.Props {
		if !o.Contains(p) {
			return false
		}
	}
	return true
}

func (s TypeSet) clone() TypeSet {
	s.Props = append([]NodeProps(nil), s.Props...)
	return s
}

var baseTypes = map[string]string{
	"code":         "string",
	"id":           "string",
	"uri":          "string",
	"url":          "string",
	"canonical":    "string",
	"uuid":         "string",
	"oid":          "string",
	"markdown":     "string",
	"base64Binary": "string",
	"positiveInt":  "integer",
	"unsignedInt":  "integer",
	"date":         "dateTime",
	"instant":      "dateTime",
}

// NormalizeBaseType maps a primitive type name to the primitive it is
// compared as: string-like types to "string", constrained integers to
// "integer", date and instant to "dateTime".
func NormalizeBaseType(name string) string {
	if base, ok := baseTypes[name]; ok {
		return base
	}
	return name
}
