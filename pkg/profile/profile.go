// Package profile resolves extension profiles by canonical URL.
//
// A Definition is the reduced view of an extension StructureDefinition that
// the type checker needs: the ordered differential elements with their ids,
// fixed values, cardinality and declared value types. Resolvers may read
// definitions from a registry, from typed r4 resources, or from any other
// store; Chain and Cached compose them.
package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/gofhir/pathcheck/pkg/registry"
)

// ErrNotFound is returned when a resolver does not know a canonical URL.
var ErrNotFound = errors.New("profile not found")

// Resolver resolves an extension profile by canonical URL. It returns
// ErrNotFound when the URL is unknown.
type Resolver interface {
	ResolveProfile(ctx context.Context, url string) (*Definition, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, url string) (*Definition, error)

// ResolveProfile calls f.
func (f ResolverFunc) ResolveProfile(ctx context.Context, url string) (*Definition, error) {
	return f(ctx, url)
}

// Element is one differential element of a profile.
type Element struct {
	ID   string
	Path string

	// Fixed is the fixed[x] value when it is a string-like value
	// (fixedUri, fixedCode, ...). HasFixed tells an empty fixed value apart
	// from none.
	Fixed    string
	HasFixed bool

	Min int
	Max string

	// TypeCodes are the declared type codes in declaration order.
	TypeCodes []string
}

// IsCollection reports whether the element allows more than one repetition.
// An element without max inherits it from the base and is treated as
// singular.
func (e *Element) IsCollection() bool {
	return e.Max != "" && e.Max != "0" && e.Max != "1"
}

// Prohibited reports whether the element is constrained out (max 0).
func (e *Element) Prohibited() bool {
	return e.Max == "0"
}

// Definition is a resolved extension profile.
type Definition struct {
	URL          string
	Name         string
	Differential []Element
}

// First returns the first differential element, which describes the
// extension itself, or nil for an empty differential.
func (d *Definition) First() *Element {
	if d == nil || len(d.Differential) == 0 {
		return nil
	}
	return &d.Differential[0]
}

// IsCollection reports whether the extension may repeat.
func (d *Definition) IsCollection() bool {
	first := d.First()
	return first == nil || first.IsCollection()
}

// ElementByID returns the element with the given id, or nil.
func (d *Definition) ElementByID(id string) *Element {
	if d == nil {
		return nil
	}
	for i := range d.Differential {
		if d.Differential[i].ID == id {
			return &d.Differential[i]
		}
	}
	return nil
}

// ElementByFixed returns the first element whose fixed value equals value,
// or nil.
func (d *Definition) ElementByFixed(value string) *Element {
	if d == nil {
		return nil
	}
	for i := range d.Differential {
		e := &d.Differential[i]
		if e.HasFixed && e.Fixed == value {
			return e
		}
	}
	return nil
}

// ValueElementID is the id of the root value element of an extension.
const ValueElementID = "Extension.value[x]"

// ValueElement returns the root value[x] element, or nil when the profile
// does not constrain it.
func (d *Definition) ValueElement() *Element {
	return d.ElementByID(ValueElementID)
}

// ChildValueElement returns the value[x] element of the child extension
// slice identified by url inside a complex extension. The slice is found
// through its url element (the one fixed to url); the value element is its
// sibling, i.e. "<slice>.url" becomes "<slice>.value[x]". The returned url
// element is nil when no slice declares url.
func (d *Definition) ChildValueElement(url string) (urlElem, valueElem *Element) {
	urlElem = d.ElementByFixed(url)
	if urlElem == nil {
		return nil, nil
	}
	slice, ok := strings.CutSuffix(urlElem.ID, ".url")
	if !ok {
		return urlElem, nil
	}
	return urlElem, d.ElementByID(slice + ".value[x]")
}

// ChildSlice returns the slice element of a child extension, e.g.
// "Extension.extension:code" for the slice whose url is fixed to "code".
func (d *Definition) ChildSlice(url string) *Element {
	urlElem := d.ElementByFixed(url)
	if urlElem == nil {
		return nil
	}
	slice, ok := strings.CutSuffix(urlElem.ID, ".url")
	if !ok {
		return nil
	}
	return d.ElementByID(slice)
}

// FromRegistry converts a registry StructureDefinition. The differential is
// used when present, the snapshot otherwise.
func FromRegistry(sd *registry.StructureDefinition) *Definition {
	if sd == nil {
		return nil
	}
	def := &Definition{URL: sd.URL, Name: sd.Name}

	list := sd.Differential
	if list == nil || len(list.Element) == 0 {
		list = sd.Snapshot
	}
	if list == nil {
		return def
	}

	def.Differential = make([]Element, 0, len(list.Element))
	for i := range list.Element {
		ed := &list.Element[i]
		e := Element{
			ID:        ed.ID,
			Path:      ed.Path,
			Min:       int(ed.Min),
			Max:       ed.Max,
			TypeCodes: ed.TypeCodes(),
		}
		if e.ID == "" {
			e.ID = ed.Path
		}
		e.Fixed, e.HasFixed = ed.FixedString()
		def.Differential = append(def.Differential, e)
	}
	return def
}
