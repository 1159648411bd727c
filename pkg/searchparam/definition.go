// Package searchparam checks SearchParameter expressions against the type
// their search type requires.
//
// Every expression is type checked once per base resource with a fresh
// engine. The distinct result types must belong to the taxonomy of the
// declared search type (token, reference, date, ...). Composite parameters
// are checked through their components: each component expression is typed
// against every candidate type of the composite expression and checked
// against the search type of the component's own definition.
package searchparam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/gofhir/pathcheck/pkg/registry"
)

// Definition is a SearchParameter resource.
type Definition = registry.SearchParameter

// Component is one component of a composite search parameter.
type Component = registry.SearchParamComponent

// Search parameter types.
const (
	TypeNumber    = "number"
	TypeDate      = "date"
	TypeString    = "string"
	TypeToken     = "token"
	TypeReference = "reference"
	TypeComposite = "composite"
	TypeQuantity  = "quantity"
	TypeURI       = "uri"
	TypeSpecial   = "special"
)

// ErrNotFound is returned by a Lookup for an unknown canonical URL.
var ErrNotFound = errors.New("search parameter not found")

// Lookup resolves search parameter definitions by canonical URL, for the
// components of composite parameters.
type Lookup interface {
	LookupSearchParameter(ctx context.Context, url string) (*Definition, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, url string) (*Definition, error)

// LookupSearchParameter calls f.
func (f LookupFunc) LookupSearchParameter(ctx context.Context, url string) (*Definition, error) {
	return f(ctx, url)
}

// RegistryLookup resolves definitions from a registry.
func RegistryLookup(reg *registry.Registry) Lookup {
	return LookupFunc(func(_ context.Context, url string) (*Definition, error) {
		if sp := reg.GetSearchParameter(url); sp != nil {
			return sp, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	})
}

// Set is an ordered collection of definitions indexed by URL. It
// implements Lookup. A Set is not safe for concurrent modification.
type Set struct {
	byURL map[string]*Definition
	order []*Definition
}

// NewSet creates a set holding defs.
func NewSet(defs ...*Definition) *Set {
	s := &Set{byURL: make(map[string]*Definition)}
	for _, d := range defs {
		s.Add(d)
	}
	return s
}

// FromRegistry returns the search parameters of a registry as a Set.
func FromRegistry(reg *registry.Registry) *Set {
	return NewSet(reg.SearchParameters()...)
}

// Add adds d. When a definition with the same key exists the first one is
// kept and Add reports false.
func (s *Set) Add(d *Definition) bool {
	key := keyOf(d)
	if _, exists := s.byURL[key]; exists {
		return false
	}
	s.byURL[key] = d
	s.order = append(s.order, d)
	return true
}

// Get returns the definition with the given URL, or nil.
func (s *Set) Get(url string) *Definition {
	return s.byURL[url]
}

// All returns the definitions in insertion order.
func (s *Set) All() []*Definition {
	return append([]*Definition(nil), s.order...)
}

// Len returns the number of definitions.
func (s *Set) Len() int {
	return len(s.order)
}

// LookupSearchParameter implements Lookup.
func (s *Set) LookupSearchParameter(_ context.Context, url string) (*Definition, error) {
	if d := s.byURL[url]; d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
}

func keyOf(d *Definition) string {
	if d.URL != "" {
		return d.URL
	}
	return "SearchParameter/" + d.ID
}

// DisplayName returns the code of d, falling back to name, id and url.
func DisplayName(d *Definition) string {
	for _, s := range []string{d.Code, d.Name, d.ID, d.URL} {
		if s != "" {
			return s
		}
	}
	return "(unnamed)"
}

type probe struct {
	ResourceType string `json:"resourceType"`
}

type bundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// Source is a definition read from a JSON document, with the path of its
// resource inside the document ("" when the document is the resource).
type Source struct {
	Definition *Definition
	Path       string
}

// ExpressionPath returns the path of the definition's expression.
func (s Source) ExpressionPath() string {
	return joinPath(s.Path, "expression")
}

// ComponentPath returns the path of the expression of component i.
func (s Source) ComponentPath(i int) string {
	return joinPath(s.Path, fmt.Sprintf("component[%d].expression", i))
}

func joinPath(prefix, member string) string {
	if prefix == "" {
		return member
	}
	return prefix + "." + member
}

// LoadJSON reads search parameters from a SearchParameter resource, a
// Bundle of them, or a JSON array of either. Bundle entries of other
// resource types are skipped.
func LoadJSON(data []byte) ([]*Definition, error) {
	sources, err := LoadJSONSources(data)
	if err != nil {
		return nil, err
	}
	defs := make([]*Definition, len(sources))
	for i, src := range sources {
		defs[i] = src.Definition
	}
	return defs, nil
}

// LoadJSONSources is LoadJSON keeping the position of every definition in
// data.
func LoadJSONSources(data []byte) ([]Source, error) {
	return loadJSON(data, "")
}

func loadJSON(data []byte, prefix string) ([]Source, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to parse search parameter list: %w", err)
		}
		var out []Source
		for i, item := range items {
			sources, err := loadJSON(item, fmt.Sprintf("%s[%d]", prefix, i))
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, sources...)
		}
		return out, nil
	}

	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse resource: %w", err)
	}

	switch p.ResourceType {
	case "SearchParameter":
		var d Definition
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("failed to parse SearchParameter: %w", err)
		}
		return []Source{{Definition: &d, Path: prefix}}, nil
	case "Bundle":
		var b bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to parse Bundle: %w", err)
		}
		var out []Source
		for i, e := range b.Entry {
			var ep probe
			if err := json.Unmarshal(e.Resource, &ep); err != nil || ep.ResourceType != "SearchParameter" {
				continue
			}
			var d Definition
			if err := json.Unmarshal(e.Resource, &d); err != nil {
				return nil, fmt.Errorf("bundle entry %d: failed to parse SearchParameter: %w", i, err)
			}
			out = append(out, Source{Definition: &d, Path: joinPath(prefix, fmt.Sprintf("entry[%d].resource", i))})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected resourceType %q", p.ResourceType)
	}
}

// LoadYAML reads search parameters written as YAML, in any shape LoadJSON
// accepts.
func LoadYAML(data []byte) ([]*Definition, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return LoadJSON(js)
}

// LoadFile reads search parameters from a .json, .yaml or .yml file.
func LoadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var defs []*Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		defs, err = LoadYAML(data)
	default:
		defs, err = LoadJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}
