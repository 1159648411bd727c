package schema

import (
	"errors"
	"sort"
	"strings"

	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/registry"
)

// ErrEmptyRegistry is returned when a catalog is built from a registry
// without base StructureDefinitions.
var ErrEmptyRegistry = errors.New("registry holds no base StructureDefinitions")

// RegistryCatalog is a Catalog built from the snapshots of the base
// StructureDefinitions in a registry.
type RegistryCatalog struct {
	types     map[string]*TypeDescriptor
	fields    map[*TypeDescriptor]*fieldSet
	resources []*TypeDescriptor
	open      []*TypeDescriptor
}

type fieldSet struct {
	list   []*FieldDescriptor
	byName map[string]*FieldDescriptor
}

var _ Catalog = (*RegistryCatalog)(nil)

// FromRegistry builds a catalog from every base (non-constraint)
// StructureDefinition of reg. Types without a snapshot inherit the fields of
// their base type.
func FromRegistry(reg *registry.Registry) (*RegistryCatalog, error) {
	names := reg.AllTypes()
	if len(names) == 0 {
		return nil, ErrEmptyRegistry
	}

	c := &RegistryCatalog{
		types:  make(map[string]*TypeDescriptor, len(names)),
		fields: make(map[*TypeDescriptor]*fieldSet, len(names)),
	}

	sds := make([]*registry.StructureDefinition, 0, len(names))
	for _, name := range names {
		sd := reg.GetByType(name)
		kind, ok := kindOf(sd.Kind)
		if !ok {
			continue
		}
		c.types[name] = &TypeDescriptor{Name: name, Kind: kind, Abstract: sd.Abstract}
		sds = append(sds, sd)
	}
	for _, sd := range sds {
		td := c.types[sd.Type]
		if base := c.types[sd.BaseTypeName()]; base != nil && base != td {
			td.base = base
		}
	}
	for _, sd := range sds {
		if sd.Snapshot != nil {
			c.readSnapshot(sd)
		}
	}

	for _, td := range c.types {
		if td.Kind == KindResource && !td.Abstract {
			c.resources = append(c.resources, td)
		}
	}
	sortTypes(c.resources)
	c.open = c.computeOpenTypes()

	logger.Debug("schema catalog: %d types, %d resources, %d open types",
		len(c.types), len(c.resources), len(c.open))
	return c, nil
}

func kindOf(sdKind string) (Kind, bool) {
	switch sdKind {
	case registry.KindResource:
		return KindResource, true
	case registry.KindComplexType:
		return KindComplexType, true
	case registry.KindPrimitiveType:
		return KindPrimitiveType, true
	}
	return "", false
}

func (c *RegistryCatalog) readSnapshot(sd *registry.StructureDefinition) {
	elems := sd.Snapshot.Element
	isPrimitive := sd.Kind == registry.KindPrimitiveType

	parents := make(map[string]bool, len(elems))
	for _, ed := range elems {
		if i := strings.LastIndexByte(ed.Path, '.'); i > 0 {
			parents[ed.Path[:i]] = true
		}
	}

	for i := range elems {
		ed := &elems[i]
		if ed.Path == sd.Type || ed.SliceName != nil || strings.Contains(ed.ID, ":") {
			continue
		}
		dot := strings.LastIndexByte(ed.Path, '.')
		if dot < 0 {
			continue
		}
		owner := c.types[ed.Path[:dot]]
		if owner == nil {
			logger.Debug("schema: no owner type for element %s", ed.Path)
			continue
		}
		f := newField(ed)
		if isPrimitive && f.Name == "value" {
			continue
		}
		if parents[ed.Path] && ed.ContentReference == nil {
			bt := &TypeDescriptor{Name: ed.Path, Kind: KindBackbone}
			if len(f.Types) > 0 {
				bt.base = c.types[f.Types[0]]
			}
			c.types[ed.Path] = bt
			f.Types = []string{ed.Path}
			f.Choice = ChoiceNone
		}
		c.addField(owner, f)
	}
}

func newField(ed *registry.ElementDefinition) *FieldDescriptor {
	name := ed.Path[strings.LastIndexByte(ed.Path, '.')+1:]
	f := &FieldDescriptor{
		Path:         ed.Path,
		IsCollection: ed.IsCollection(),
		Min:          int(ed.Min),
	}
	if trimmed, ok := strings.CutSuffix(name, "[x]"); ok {
		name = trimmed
		f.Choice = ChoiceDatatype
	}
	f.Name = name

	if ed.ContentReference != nil {
		ref := *ed.ContentReference
		if i := strings.IndexByte(ref, '#'); i >= 0 {
			ref = ref[i+1:]
		}
		f.Types = []string{ref}
		return f
	}

	for _, tp := range ed.Type {
		code := NormalizeTypeName(tp.Code)
		switch code {
		case "*":
			f.OpenType = true
			continue
		case "Resource":
			if f.Choice == ChoiceNone {
				f.Choice = ChoiceResource
			}
		case "Reference", "canonical":
			f.Targets = append(f.Targets, tp.TargetTypes()...)
		}
		f.Types = append(f.Types, code)
	}
	if f.Choice == ChoiceDatatype && len(f.Types) == 0 {
		f.OpenType = true
	}
	if f.OpenType {
		f.Choice = ChoiceDatatype
	}
	return f
}

func (c *RegistryCatalog) addField(owner *TypeDescriptor, f *FieldDescriptor) {
	fs := c.fields[owner]
	if fs == nil {
		fs = &fieldSet{byName: make(map[string]*FieldDescriptor)}
		c.fields[owner] = fs
	}
	if _, exists := fs.byName[f.Name]; exists {
		return
	}
	fs.list = append(fs.list, f)
	fs.byName[f.Name] = f
}

func (c *RegistryCatalog) fieldSetOf(t *TypeDescriptor) *fieldSet {
	for x := t; x != nil; x = x.base {
		if fs := c.fields[x]; fs != nil {
			return fs
		}
	}
	return nil
}

func (c *RegistryCatalog) computeOpenTypes() []*TypeDescriptor {
	if f := c.Field(c.types["Extension"], "value"); f != nil && !f.OpenType && len(f.Types) > 0 {
		out := make([]*TypeDescriptor, 0, len(f.Types))
		for _, name := range f.Types {
			if td := c.types[name]; td != nil {
				out = append(out, td)
			}
		}
		return out
	}

	var out []*TypeDescriptor
	for _, td := range c.types {
		if td.Abstract || td.Name == "Extension" {
			continue
		}
		if td.Kind == KindPrimitiveType || td.Kind == KindComplexType {
			out = append(out, td)
		}
	}
	sortTypes(out)
	return out
}

// TypeByName returns the descriptor for a type name, or nil. System and
// FHIR namespace prefixes are accepted.
func (c *RegistryCatalog) TypeByName(name string) *TypeDescriptor {
	if td, ok := c.types[name]; ok {
		return td
	}
	return c.types[NormalizeTypeName(name)]
}

// IsKnownRootType reports whether name is a resource type.
func (c *RegistryCatalog) IsKnownRootType(name string) bool {
	td := c.types[name]
	return td != nil && td.Kind == KindResource
}

// Fields returns the fields of t in declaration order.
func (c *RegistryCatalog) Fields(t *TypeDescriptor) []*FieldDescriptor {
	if fs := c.fieldSetOf(t); fs != nil {
		return fs.list
	}
	return nil
}

// Field returns the field of t named name, or nil.
func (c *RegistryCatalog) Field(t *TypeDescriptor, name string) *FieldDescriptor {
	if fs := c.fieldSetOf(t); fs != nil {
		return fs.byName[name]
	}
	return nil
}

// FieldByChoiceName returns the choice field name refers to with a type
// suffix, or nil.
func (c *RegistryCatalog) FieldByChoiceName(t *TypeDescriptor, name string) *FieldDescriptor {
	fs := c.fieldSetOf(t)
	if fs == nil {
		return nil
	}
	for _, f := range fs.list {
		if f.MatchesChoiceName(name) {
			return f
		}
	}
	return nil
}

// ResourceTypes returns every concrete resource type, sorted by name.
func (c *RegistryCatalog) ResourceTypes() []*TypeDescriptor {
	return c.resources
}

// OpenTypes returns the value types of Extension.value[x] or, when the
// schema does not declare them, every concrete datatype.
func (c *RegistryCatalog) OpenTypes() []*TypeDescriptor {
	return c.open
}

// TypeCount returns the number of descriptors, backbone types included.
func (c *RegistryCatalog) TypeCount() int {
	return len(c.types)
}

func sortTypes(types []*TypeDescriptor) {
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
}
