// Package registry indexes the StructureDefinitions and SearchParameters of
// loaded FHIR packages.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gofhir/pathcheck/pkg/loader"
)

// Registry holds loaded conformance resources indexed by URL and type.
type Registry struct {
	mu     sync.RWMutex
	byURL  map[string]*StructureDefinition
	byType map[string]*StructureDefinition // base definitions, e.g. "Patient", "HumanName"

	searchParams     map[string]*SearchParameter // by URL
	searchParamOrder []string
}

// New creates a new empty Registry.
func New() *Registry {
	return &Registry{
		byURL:        make(map[string]*StructureDefinition),
		byType:       make(map[string]*StructureDefinition),
		searchParams: make(map[string]*SearchParameter),
	}
}

// LoadFromPackages indexes the StructureDefinitions and SearchParameters of
// the given packages. When a URL appears in several packages the first one
// wins, except that extension contexts are merged.
func (r *Registry) LoadFromPackages(packages []*loader.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pkg := range packages {
		// resources are indexed under both URL and type/id; visit each once
		seen := make(map[string]bool, len(pkg.Resources))
		keys := make([]string, 0, len(pkg.Resources))
		for key := range pkg.Resources {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			data := pkg.Resources[key]
			var peek struct {
				ResourceType string `json:"resourceType"`
				URL          string `json:"url"`
				ID           string `json:"id"`
			}
			if err := json.Unmarshal(data, &peek); err != nil {
				continue
			}
			identity := peek.ResourceType + "|" + peek.URL + "|" + peek.ID
			if seen[identity] {
				continue
			}
			seen[identity] = true

			switch peek.ResourceType {
			case "StructureDefinition":
				if err := r.addStructureDefinitionLocked(data); err != nil {
					return fmt.Errorf("package %s: %s: %w", pkg.Name, key, err)
				}
			case "SearchParameter":
				if err := r.addSearchParameterLocked(data); err != nil {
					return fmt.Errorf("package %s: %s: %w", pkg.Name, key, err)
				}
			}
		}
	}
	return nil
}

// AddStructureDefinition registers a single StructureDefinition from JSON.
func (r *Registry) AddStructureDefinition(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addStructureDefinitionLocked(data)
}

func (r *Registry) addStructureDefinitionLocked(data []byte) error {
	var sd StructureDefinition
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("failed to parse StructureDefinition: %w", err)
	}

	if sd.URL != "" {
		if existing, ok := r.byURL[sd.URL]; ok {
			mergeExtensionContexts(existing, &sd)
		} else {
			r.byURL[sd.URL] = &sd
		}
	}

	if sd.Type != "" && sd.Derivation != "constraint" && sd.Kind != KindLogical {
		if _, exists := r.byType[sd.Type]; !exists {
			r.byType[sd.Type] = &sd
		}
	}
	return nil
}

// AddSearchParameter registers a single SearchParameter from JSON.
func (r *Registry) AddSearchParameter(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addSearchParameterLocked(data)
}

func (r *Registry) addSearchParameterLocked(data []byte) error {
	var sp SearchParameter
	if err := json.Unmarshal(data, &sp); err != nil {
		return fmt.Errorf("failed to parse SearchParameter: %w", err)
	}
	key := sp.URL
	if key == "" {
		key = "SearchParameter/" + sp.ID
	}
	if _, exists := r.searchParams[key]; exists {
		return nil
	}
	r.searchParams[key] = &sp
	r.searchParamOrder = append(r.searchParamOrder, key)
	return nil
}

// mergeExtensionContexts adds unique contexts from newSD to existing.
func mergeExtensionContexts(existing, newSD *StructureDefinition) {
	if len(newSD.Context) == 0 {
		return
	}
	have := make(map[string]bool, len(existing.Context))
	for _, ctx := range existing.Context {
		have[ctx.Type+":"+ctx.Expression] = true
	}
	for _, ctx := range newSD.Context {
		if !have[ctx.Type+":"+ctx.Expression] {
			existing.Context = append(existing.Context, ctx)
		}
	}
}

// GetByURL returns a StructureDefinition by its canonical URL. A "|version"
// suffix is ignored.
func (r *Registry) GetByURL(url string) *StructureDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sd, ok := r.byURL[url]; ok {
		return sd
	}
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '|' {
			return r.byURL[url[:i]]
		}
	}
	return nil
}

// GetByType returns the base StructureDefinition for a type name.
func (r *Registry) GetByType(typeName string) *StructureDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[typeName]
}

// Count returns the number of loaded StructureDefinitions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byURL)
}

// TypeCount returns the number of indexed types.
func (r *Registry) TypeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

// AllTypes returns all registered type names, sorted.
func (r *Registry) AllTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ResourceTypes returns the names of all concrete resource types, sorted.
func (r *Registry) ResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for name, sd := range r.byType {
		if sd.Kind == KindResource && !sd.Abstract {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// IsResourceType checks if the given type name is a FHIR resource type.
func (r *Registry) IsResourceType(typeName string) bool {
	sd := r.GetByType(typeName)
	return sd != nil && sd.Kind == KindResource
}

// IsPrimitiveType checks if the given type name is a FHIR primitive type.
func (r *Registry) IsPrimitiveType(typeName string) bool {
	sd := r.GetByType(typeName)
	return sd != nil && sd.Kind == KindPrimitiveType
}

// IsDataType checks if the given type name is a FHIR complex data type.
func (r *Registry) IsDataType(typeName string) bool {
	sd := r.GetByType(typeName)
	return sd != nil && sd.Kind == KindComplexType
}

// GetSearchParameter returns a SearchParameter by canonical URL.
func (r *Registry) GetSearchParameter(url string) *SearchParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.searchParams[url]
}

// SearchParameters returns every registered SearchParameter in load order.
func (r *Registry) SearchParameters() []*SearchParameter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SearchParameter, 0, len(r.searchParamOrder))
	for _, key := range r.searchParamOrder {
		out = append(out, r.searchParams[key])
	}
	return out
}

// SearchParametersFor returns the SearchParameters whose base includes the
// given resource type.
func (r *Registry) SearchParametersFor(resourceType string) []*SearchParameter {
	var out []*SearchParameter
	for _, sp := range r.SearchParameters() {
		for _, base := range sp.Base {
			if base == resourceType {
				out = append(out, sp)
				break
			}
		}
	}
	return out
}

// GetSDForResource returns the StructureDefinition URL for a core type.
func GetSDForResource(typeName string) string {
	return "http://hl7.org/fhir/StructureDefinition/" + typeName
}
