package engine

import (
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/rules"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// eval types n with focus as the ambient $this.
func (e *Engine) eval(n expr.Node, focus typeset.TypeSet) typeset.TypeSet {
	line := e.beginTrace(n)

	var out typeset.TypeSet
	switch n := n.(type) {
	case *expr.Constant:
		// Literals are typed by the function consuming them.
	case *expr.Variable:
		out = e.variable(n, focus)
	case *expr.Child:
		out = e.child(n, focus)
	case *expr.Call:
		out = e.call(n, focus)
	case *expr.Binary:
		out = e.binary(n, focus)
	case *expr.Unary:
		out = e.eval(n.Operand, focus).WithoutRoot()
	case *expr.Indexer:
		// Indexing keeps the candidate types and their cardinality.
		out = e.eval(n.Focus, focus).WithoutRoot()
		e.eval(n.Index, focus)
	case *expr.NodeList:
		for _, item := range n.Items {
			e.eval(item, focus)
		}
	}

	e.endTrace(line, n, out)
	return out
}

func (e *Engine) variable(n *expr.Variable, focus typeset.TypeSet) typeset.TypeSet {
	if !n.External {
		switch n.Name {
		case "this":
			return focus
		case "total":
			return focus.WithoutRoot()
		case "index":
			return e.single("integer")
		}
		e.Report(n, issue.DiagVariableNotFound, map[string]any{"name": n.Name})
		return typeset.Empty()
	}

	if t, ok := e.vars.Lookup(n.Name); ok {
		return typeset.Single(t)
	}
	if isStringConstant(n.Name) {
		return e.single("string")
	}
	if contextAliases[n.Name] && !e.roots.IsEmpty() {
		return e.roots.WithoutRoot()
	}
	e.Report(n, issue.DiagVariableNotFound, map[string]any{"name": n.Name})
	return typeset.Empty()
}

func (e *Engine) child(n *expr.Child, focus typeset.TypeSet) typeset.TypeSet {
	in := e.eval(n.Focus, focus)
	e.owners[n] = in
	out := e.navigate(n, in)

	step := ChildStep{Node: n, Focus: in}
	for _, h := range e.hooks {
		out = h.AfterChild(e, step, out)
	}
	return out
}

// navigate looks up field n.Name on every member of in.
func (e *Engine) navigate(n *expr.Child, in typeset.TypeSet) typeset.TypeSet {
	if in.Root && e.catalog.IsKnownRootType(n.Name) {
		return e.rootFilter(n.Name, in)
	}
	if in.IsEmpty() {
		return typeset.Empty()
	}

	var out typeset.TypeSet
	found := false
	for _, p := range in.Props {
		f := e.catalog.Field(p.Type, n.Name)
		if f == nil {
			continue
		}
		found = true
		for _, c := range typeset.FieldProps(e.catalog, p, f) {
			out = out.Add(c)
		}
	}
	if found {
		return out
	}

	for _, p := range in.Props {
		f := e.catalog.FieldByChoiceName(p.Type, n.Name)
		if f == nil {
			continue
		}
		found = true
		e.Report(n, issue.DiagPropertyChoiceSuffix, map[string]any{"name": n.Name, "choice": f.Name})
		if c, ok := typeset.ChoiceProps(e.catalog, p, f, n.Name); ok {
			out = out.Add(c)
		}
	}
	if !found {
		e.Report(n, issue.DiagPropertyNotFound, map[string]any{"name": n.Name, "types": in.String()})
	}
	return out
}

// rootFilter handles a resource type name at the root, e.g. "Patient" in
// "Patient.name". Root members of that type, or of a supertype, are
// narrowed to it; no candidate yields the empty set without a diagnostic so
// that expressions covering several resource types type check per base.
func (e *Engine) rootFilter(name string, in typeset.TypeSet) typeset.TypeSet {
	t := e.catalog.TypeByName(name)
	if in.IsEmpty() {
		return typeset.Single(t)
	}
	return rules.Narrow(in, t)
}

func (e *Engine) call(n *expr.Call, focus typeset.TypeSet) typeset.TypeSet {
	in := e.eval(n.Focus, focus)

	rule, ok := e.rules.Lookup(n.Name)
	if !ok {
		e.Report(n, issue.DiagFunctionUnknown, map[string]any{"name": n.Name})
		args := make([]typeset.TypeSet, len(n.Args))
		for i, a := range n.Args {
			args[i] = e.eval(a, in)
		}
		return e.afterCall(CallStep{Node: n, Focus: in, Owner: e.owner(n), Args: args}, typeset.Empty())
	}

	argFocus := focus
	if rule.FocusRelative {
		argFocus = in
	}
	args := make([]typeset.TypeSet, len(n.Args))
	if !rule.TypeArgument {
		for i, a := range n.Args {
			args[i] = e.eval(a, argFocus)
		}
	}

	c := &rules.Call{
		Name:        n.Name,
		Focus:       in,
		Args:        args,
		ArgNodes:    n.Args,
		RootUntyped: in.Root && e.roots.IsEmpty(),
		Catalog:     e.catalog,
		Report:      e.reporter(n),
	}
	rule.Check(c)
	out := rule.Result(c)
	return e.afterCall(CallStep{Node: n, Rule: rule, Focus: in, Owner: e.owner(n), Args: args}, out)
}

// owner returns the input of the navigation that produced the focus of n,
// or the empty set when the focus is not a navigation.
func (e *Engine) owner(n *expr.Call) typeset.TypeSet {
	if c, ok := n.Focus.(*expr.Child); ok {
		return e.owners[c]
	}
	return typeset.Empty()
}

func (e *Engine) afterCall(step CallStep, out typeset.TypeSet) typeset.TypeSet {
	for _, h := range e.hooks {
		out = h.AfterCall(e, step, out)
	}
	return out
}

// booleanOps always produce a boolean, whatever their operands.
var booleanOps = map[string]bool{
	"=": true, "!=": true, "~": true, "!~": true,
	"<": true, ">": true, "<=": true, ">=": true,
	"and": true, "or": true, "xor": true, "implies": true,
	"in": true, "contains": true,
}

func (e *Engine) binary(n *expr.Binary, focus typeset.TypeSet) typeset.TypeSet {
	switch {
	case n.Op == "|":
		return typeset.Union(e.eval(n.Left, focus), e.eval(n.Right, focus))
	case n.Op == "is" || n.Op == "as":
		return e.typeOperator(n, e.eval(n.Left, focus))
	case booleanOps[n.Op]:
		e.eval(n.Left, focus)
		e.eval(n.Right, focus)
		return e.single("boolean")
	case n.Op == "&":
		e.eval(n.Left, focus)
		e.eval(n.Right, focus)
		return e.single("string")
	default:
		left := e.eval(n.Left, focus)
		e.eval(n.Right, focus)
		return left.WithoutRoot()
	}
}

// typeOperator types "x is T" and "x as T" with the rules of the is() and
// as() functions.
func (e *Engine) typeOperator(n *expr.Binary, left typeset.TypeSet) typeset.TypeSet {
	rule, ok := e.rules.Lookup(n.Op)
	if !ok {
		return typeset.Empty()
	}
	return rule.Result(&rules.Call{
		Name:     n.Op,
		Focus:    left,
		Args:     []typeset.TypeSet{{}},
		ArgNodes: []expr.Node{n.Right},
		Catalog:  e.catalog,
		Report:   e.reporter(n),
	})
}

func (e *Engine) single(typeName string) typeset.TypeSet {
	return typeset.Single(e.catalog.TypeByName(typeName))
}
