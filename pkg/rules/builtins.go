package rules

import (
	"strings"

	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// option adjusts a rule built by one of the constructors below.
type option func(*Rule)

func args(lo, hi int) option {
	return func(r *Rule) { r.ArgValidators = append(r.ArgValidators, Arity(lo, hi)) }
}

func collectionFocus(r *Rule) { r.SupportsCollectionFocus = true }
func atRoot(r *Rule)          { r.ValidAtRoot = true }
func focusRelative(r *Rule)   { r.FocusRelative = true }

func newRule(name string, cat Category, ret ReturnFunc, opts ...option) *Rule {
	r := &Rule{Name: name, Category: cat, ReturnType: ret}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Fixed returns a ReturnFunc producing a single value of typeName.
func Fixed(typeName string) ReturnFunc {
	return func(c *Call) typeset.TypeSet { return c.Single(typeName) }
}

// FixedCollection returns a ReturnFunc producing a collection of typeName.
func FixedCollection(typeName string) ReturnFunc {
	return func(c *Call) typeset.TypeSet { return c.Collection(typeName) }
}

// Passthrough returns the focus unchanged, annotation included.
func Passthrough(c *Call) typeset.TypeSet {
	return c.Focus.WithoutRoot()
}

func stringFn(name string, opts ...option) *Rule {
	return newRule(name, CategoryString, Fixed("string"), opts...)
}

func booleanFn(name string, opts ...option) *Rule {
	return newRule(name, CategoryBoolean, Fixed("boolean"), opts...)
}

func integerFn(name string, opts ...option) *Rule {
	return newRule(name, CategoryInteger, Fixed("integer"), opts...)
}

func passthroughFn(name string, opts ...option) *Rule {
	return newRule(name, CategoryPassthrough, Passthrough, append([]option{collectionFocus}, opts...)...)
}

func conversionFn(name, typeName string) *Rule {
	return newRule(name, CategoryConversion, Fixed(typeName), args(0, 0))
}

func mathFn(name string, contexts []Context, opts ...option) *Rule {
	r := newRule(name, CategoryMath, nil, opts...)
	r.SupportedContexts = contexts
	r.ReturnType = func(c *Call) typeset.TypeSet { return byContext(r, c) }
	return r
}

var (
	sameNumeric = []Context{
		{Focus: "integer", Returns: "integer"},
		{Focus: "decimal", Returns: "decimal"},
		{Focus: "Quantity", Returns: "Quantity"},
	}
	toInteger = []Context{
		{Focus: "integer", Returns: "integer"},
		{Focus: "decimal", Returns: "integer"},
	}
	toDecimal = []Context{
		{Focus: "integer", Returns: "decimal"},
		{Focus: "decimal", Returns: "decimal"},
	}
)

// byContext maps every focus member through the rule's supported contexts
// and reports the focus types no context accepts.
func byContext(r *Rule, c *Call) typeset.TypeSet {
	var out typeset.TypeSet
	var unsupported []string
	for _, p := range c.Focus.Props {
		ctx, ok := r.contextFor(p.TypeName())
		if !ok {
			unsupported = append(unsupported, p.String())
			continue
		}
		if t := c.Catalog.TypeByName(ctx.Returns); t != nil {
			out = out.Add(typeset.NodeProps{Type: t, Collection: p.Collection})
		}
	}
	if len(unsupported) > 0 {
		c.Report(issue.DiagFunctionContext, map[string]any{"name": c.Name, "types": strings.Join(unsupported, ", ")})
	}
	return out
}

func (r *Rule) contextFor(typeName string) (Context, bool) {
	base := typeset.NormalizeBaseType(typeName)
	for _, ctx := range r.SupportedContexts {
		if ctx.Focus == base {
			return ctx, true
		}
	}
	return Context{}, false
}

func builtins() []*Rule {
	return []*Rule{
		// String producing
		stringFn("toString", args(0, 0)),
		stringFn("upper", args(0, 0)),
		stringFn("lower", args(0, 0)),
		stringFn("substring", args(1, 2)),
		stringFn("join", args(0, 1), collectionFocus),
		newRule("split", CategoryString, FixedCollection("string"), args(1, 1)),
		stringFn("replace", args(2, 2)),
		stringFn("replaceMatches", args(2, 2)),
		stringFn("trim", args(0, 0)),
		stringFn("encode", args(1, 1)),
		stringFn("decode", args(1, 1)),
		stringFn("escape", args(1, 1)),
		stringFn("unescape", args(1, 1)),
		newRule("toChars", CategoryString, FixedCollection("string"), args(0, 0)),

		// Boolean producing
		booleanFn("empty", args(0, 0), collectionFocus),
		booleanFn("exists", args(0, 1), collectionFocus, focusRelative),
		booleanFn("not", args(0, 0)),
		booleanFn("all", args(1, 1), collectionFocus, focusRelative),
		booleanFn("allTrue", args(0, 0), collectionFocus),
		booleanFn("anyTrue", args(0, 0), collectionFocus),
		booleanFn("allFalse", args(0, 0), collectionFocus),
		booleanFn("anyFalse", args(0, 0), collectionFocus),
		booleanFn("subsetOf", args(1, 1), collectionFocus),
		booleanFn("supersetOf", args(1, 1), collectionFocus),
		booleanFn("isDistinct", args(0, 0), collectionFocus),
		booleanFn("startsWith", args(1, 1)),
		booleanFn("endsWith", args(1, 1)),
		booleanFn("contains", args(1, 1)),
		booleanFn("matches", args(1, 1)),
		booleanFn("matchesFull", args(1, 1)),
		booleanFn("memberOf", args(1, 1), collectionFocus),
		booleanFn("subsumes", args(1, 1)),
		booleanFn("subsumedBy", args(1, 1)),
		booleanFn("hasValue", args(0, 0)),
		booleanFn("convertsToBoolean", args(0, 0)),
		booleanFn("convertsToInteger", args(0, 0)),
		booleanFn("convertsToDecimal", args(0, 0)),
		booleanFn("convertsToDate", args(0, 0)),
		booleanFn("convertsToDateTime", args(0, 0)),
		booleanFn("convertsToTime", args(0, 0)),
		booleanFn("convertsToString", args(0, 0)),
		booleanFn("convertsToQuantity", args(0, 1)),
		booleanFn("conformsTo", args(1, 1), collectionFocus),
		booleanFn("comparable", args(1, 1)),
		booleanFn("htmlChecks", args(0, 0)),
		booleanFn("hasTemplateIdOf", args(1, 1)),

		// Focus unchanged
		passthroughFn("where", args(1, 1), focusRelative),
		passthroughFn("trace", args(1, 2), focusRelative),
		passthroughFn("first", args(0, 0), focusRelative),
		passthroughFn("last", args(0, 0), focusRelative),
		passthroughFn("skip", args(1, 1), focusRelative),
		passthroughFn("take", args(1, 1), focusRelative),
		passthroughFn("tail", args(0, 0), focusRelative),
		passthroughFn("single", args(0, 0)),
		passthroughFn("distinct", args(0, 0)),
		passthroughFn("intersect", args(1, 1)),
		passthroughFn("exclude", args(1, 1)),
		passthroughFn("repeat", args(1, 1), focusRelative),
		passthroughFn("descendants", args(0, 0)),
		passthroughFn("sort", args(0, -1), focusRelative),
		passthroughFn("coalesce", args(1, -1)),
		newRule("union", CategoryPassthrough, withArgument, args(1, 1), collectionFocus),
		newRule("combine", CategoryPassthrough, withArgument, args(1, 1), collectionFocus),

		// Integer producing
		integerFn("count", args(0, 0), collectionFocus),
		integerFn("length", args(0, 0)),
		integerFn("indexOf", args(1, 1)),
		integerFn("lastIndexOf", args(1, 1)),

		// Math
		mathFn("abs", sameNumeric, args(0, 0)),
		mathFn("ceiling", toInteger, args(0, 0)),
		mathFn("floor", toInteger, args(0, 0)),
		mathFn("truncate", toInteger, args(0, 0)),
		mathFn("round", sameNumeric, args(0, 1)),
		mathFn("exp", toDecimal, args(0, 0)),
		mathFn("ln", toDecimal, args(0, 0)),
		mathFn("log", toDecimal, args(1, 1)),
		mathFn("power", toDecimal, args(1, 1)),
		mathFn("sqrt", toDecimal, args(0, 0)),

		// Conversions
		conversionFn("toInteger", "integer"),
		conversionFn("toDecimal", "decimal"),
		conversionFn("toDate", "date"),
		conversionFn("toDateTime", "dateTime"),
		conversionFn("toTime", "time"),
		newRule("toQuantity", CategoryConversion, Fixed("Quantity"), args(0, 1)),
		conversionFn("toBoolean", "boolean"),
		newRule("now", CategoryConversion, Fixed("dateTime"), args(0, 0), atRoot, collectionFocus),
		newRule("today", CategoryConversion, Fixed("date"), args(0, 0), atRoot, collectionFocus),
		newRule("timeOfDay", CategoryConversion, Fixed("time"), args(0, 0), atRoot, collectionFocus),

		// Special
		newRule("extension", CategorySpecial, FixedCollection("Extension"), args(1, 1), collectionFocus),
		newRule("resolve", CategorySpecial, resolve, args(0, 0), collectionFocus),
		newRule("children", CategorySpecial, children, args(0, 0), collectionFocus),
		newRule("select", CategorySpecial, selectFn, args(1, 1), collectionFocus, focusRelative),
		typeTest("is", true),
		typeTest("as", false),
		typeTest("ofType", false),
		newRule("type", CategorySpecial, typeReflection, args(0, 0), collectionFocus),
		newRule("iif", CategorySpecial, iif, args(2, 3), collectionFocus, atRoot),
		newRule("getValue", CategorySpecial, Passthrough, args(0, 0)),
		newRule("aggregate", CategorySpecial, aggregate, args(1, 2), collectionFocus, focusRelative),
	}
}
