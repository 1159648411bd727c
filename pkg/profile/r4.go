package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gofhir/fhir/r4"
)

// R4Resolver resolves extension profiles held as typed r4
// StructureDefinitions, e.g. read from a database or a FHIR server.
type R4Resolver struct {
	mu    sync.RWMutex
	byURL map[string]*Definition
}

// NewR4Resolver creates a resolver preloaded with the given definitions.
func NewR4Resolver(sds ...*r4.StructureDefinition) *R4Resolver {
	r := &R4Resolver{byURL: make(map[string]*Definition)}
	for _, sd := range sds {
		_ = r.Add(sd) // invalid definitions are skipped
	}
	return r
}

// Add converts and registers sd. Definitions without url are rejected.
func (r *R4Resolver) Add(sd *r4.StructureDefinition) error {
	if sd == nil {
		return errors.New("nil StructureDefinition")
	}
	def := FromR4(sd)
	if def.URL == "" {
		return errors.New("StructureDefinition has no url")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byURL[def.URL] = def
	return nil
}

// LoadFromJSON loads a StructureDefinition or a Bundle of them and returns
// how many were registered.
func (r *R4Resolver) LoadFromJSON(data []byte) (int, error) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("invalid JSON: %w", err)
	}

	switch probe.ResourceType {
	case "StructureDefinition":
		var sd r4.StructureDefinition
		if err := json.Unmarshal(data, &sd); err != nil {
			return 0, fmt.Errorf("failed to parse StructureDefinition: %w", err)
		}
		if err := r.Add(&sd); err != nil {
			return 0, err
		}
		return 1, nil
	case "Bundle":
		var bundle struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(data, &bundle); err != nil {
			return 0, fmt.Errorf("failed to parse Bundle: %w", err)
		}
		count := 0
		for _, entry := range bundle.Entry {
			if entry.Resource == nil {
				continue
			}
			n, err := r.LoadFromJSON(entry.Resource)
			if err != nil {
				continue
			}
			count += n
		}
		return count, nil
	default:
		return 0, fmt.Errorf("unsupported resourceType: %s", probe.ResourceType)
	}
}

// Len returns the number of registered definitions.
func (r *R4Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byURL)
}

// ResolveProfile implements Resolver.
func (r *R4Resolver) ResolveProfile(ctx context.Context, url string) (*Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	def, ok := r.byURL[url]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return def, nil
}

// FromR4 converts a typed r4 StructureDefinition. The differential is used
// when present, the snapshot otherwise.
func FromR4(sd *r4.StructureDefinition) *Definition {
	if sd == nil {
		return nil
	}
	def := &Definition{
		URL:  derefString(sd.Url),
		Name: derefString(sd.Name),
	}

	var elements []r4.ElementDefinition
	if sd.Differential != nil && len(sd.Differential.Element) > 0 {
		elements = sd.Differential.Element
	} else if sd.Snapshot != nil {
		elements = sd.Snapshot.Element
	}

	def.Differential = make([]Element, 0, len(elements))
	for i := range elements {
		def.Differential = append(def.Differential, convertElement(&elements[i]))
	}
	return def
}

func convertElement(ed *r4.ElementDefinition) Element {
	e := Element{
		ID:   derefString(ed.Id),
		Path: derefString(ed.Path),
		Max:  derefString(ed.Max),
	}
	if e.ID == "" {
		e.ID = e.Path
	}
	if ed.Min != nil {
		e.Min = int(*ed.Min)
	}
	for i := range ed.Type {
		if code := derefString(ed.Type[i].Code); code != "" {
			e.TypeCodes = append(e.TypeCodes, code)
		}
	}
	e.Fixed, e.HasFixed = fixedString(ed)
	return e
}

// fixedString returns the first string-like fixed[x] value.
func fixedString(ed *r4.ElementDefinition) (string, bool) {
	for _, v := range []*string{ed.FixedUri, ed.FixedUrl, ed.FixedCanonical, ed.FixedCode, ed.FixedString} {
		if v != nil {
			return *v, true
		}
	}
	return "", false
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
