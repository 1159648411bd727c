package rules

import (
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// withArgument returns the focus joined with the first argument, for union
// and combine.
func withArgument(c *Call) typeset.TypeSet {
	return typeset.Union(c.Focus, c.Arg(0))
}

// resolve expands every focus member to the resource types its source
// field may reference, or to every resource type when the field declares no
// target.
func resolve(c *Call) typeset.TypeSet {
	var out typeset.TypeSet
	for _, p := range c.Focus.Props {
		for _, t := range referenceTargets(c.Catalog, p.Field) {
			out = out.Add(typeset.NodeProps{Type: t, Collection: p.Collection})
		}
	}
	return out
}

func referenceTargets(cat schema.Catalog, f *schema.FieldDescriptor) []*schema.TypeDescriptor {
	if f == nil || len(f.Targets) == 0 {
		return cat.ResourceTypes()
	}
	out := make([]*schema.TypeDescriptor, 0, len(f.Targets))
	for _, name := range f.Targets {
		if name == "Resource" || name == "DomainResource" {
			return cat.ResourceTypes()
		}
		if t := cat.TypeByName(name); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// children is the union of every field type of every focus member, as a
// collection.
func children(c *Call) typeset.TypeSet {
	var out typeset.TypeSet
	for _, p := range c.Focus.Props {
		for _, f := range c.Catalog.Fields(p.Type) {
			for _, child := range typeset.FieldProps(c.Catalog, p, f) {
				out = out.Add(child.AsCollection())
			}
		}
	}
	return out
}

// selectFn returns the projection's member types. Extra arguments, already
// reported by the arity check, contribute their types to the union.
func selectFn(c *Call) typeset.TypeSet {
	out := typeset.Union(c.Args...)
	if c.Focus.IsCollection() {
		out = out.AsCollection()
	}
	return out
}

// iif is not type checked beyond the union of its branches.
func iif(c *Call) typeset.TypeSet {
	return typeset.Union(c.Arg(1), c.Arg(2))
}

// aggregate returns the type of the init argument when given, the focus
// otherwise.
func aggregate(c *Call) typeset.TypeSet {
	if len(c.ArgNodes) > 1 {
		return c.Arg(1)
	}
	return Passthrough(c)
}

func typeReflection(c *Call) typeset.TypeSet {
	c.Report(issue.DiagTypeReflection, nil)
	return typeset.Empty()
}

func typeTest(name string, boolean bool) *Rule {
	ret := func(c *Call) typeset.TypeSet {
		narrowed, ok := TypeTest(c)
		if boolean {
			return c.Single("boolean")
		}
		if !ok {
			return typeset.Empty()
		}
		return narrowed
	}
	r := newRule(name, CategorySpecial, ret, args(1, 1), collectionFocus)
	r.TypeArgument = true
	return r
}

// TypeTest resolves the type argument of is, as or ofType and narrows the
// focus to it. It reports a malformed or unknown type argument, and a type
// no focus member can hold. ok is false when the argument is unusable.
func TypeTest(c *Call) (narrowed typeset.TypeSet, ok bool) {
	if len(c.ArgNodes) == 0 {
		return typeset.Empty(), false
	}
	name, ok := expr.TypeName(c.ArgNodes[0])
	if !ok {
		c.Report(issue.DiagTypeArgument, map[string]any{"name": c.Name})
		return typeset.Empty(), false
	}
	name = schema.NormalizeTypeName(name)
	target := c.Catalog.TypeByName(name)
	if target == nil {
		c.Report(issue.DiagTypeUnknown, map[string]any{"type": name})
		return typeset.Empty(), false
	}

	narrowed = Narrow(c.Focus, target)
	if narrowed.IsEmpty() && !c.Focus.IsEmpty() {
		c.Report(issue.DiagTypeTestImpossible, map[string]any{"type": name, "types": c.Focus.String()})
	}
	return narrowed, true
}

// Narrow keeps the focus members that can hold a value of type target.
// Members of target or one of its subtypes are kept as they are; members of
// a supertype of target are narrowed to target.
func Narrow(focus typeset.TypeSet, target *schema.TypeDescriptor) typeset.TypeSet {
	out := typeset.TypeSet{Annotation: focus.Annotation}
	for _, p := range focus.Props {
		switch {
		case target.IsAssignableFrom(p.Type):
			out = out.Add(p)
		case p.Type.IsAssignableFrom(target):
			out = out.Add(p.WithType(target))
		}
	}
	return out
}
