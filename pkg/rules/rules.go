// Package rules holds the FHIRPath function rule table used by the type
// checker.
//
// Every known function is one Rule: its category, the focus types it
// supports, how its result type is computed and how its arguments are
// validated. Adding a function is a table entry, not a new branch in the
// engine.
package rules

import (
	"sort"
	"strconv"

	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// Category groups functions with the same result policy.
type Category int

// Function categories.
const (
	CategorySpecial Category = iota
	CategoryString
	CategoryBoolean
	CategoryInteger
	CategoryPassthrough
	CategoryMath
	CategoryConversion
)

var categoryNames = [...]string{
	CategorySpecial:     "special",
	CategoryString:      "string",
	CategoryBoolean:     "boolean",
	CategoryInteger:     "integer",
	CategoryPassthrough: "passthrough",
	CategoryMath:        "math",
	CategoryConversion:  "conversion",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// Context is one supported (focus type, result type) pair. Focus is
// compared after base-type normalization.
type Context struct {
	Focus   string
	Returns string
}

// Call describes one function invocation being typed.
type Call struct {
	Name string

	// Focus is the input collection of the call.
	Focus typeset.TypeSet

	// Args are the evaluated argument types, ArgNodes the argument
	// expressions. Args entries are empty for type-name arguments, which
	// are not evaluated.
	Args     []typeset.TypeSet
	ArgNodes []expr.Node

	// RootUntyped is set when the focus is the evaluation root and no root
	// type was declared.
	RootUntyped bool

	Catalog schema.Catalog

	// Report records a diagnostic at the call's location.
	Report func(id issue.DiagnosticID, params map[string]any)
}

// Single returns a single-valued set of the named type, or the empty set
// when the catalog does not know it.
func (c *Call) Single(typeName string) typeset.TypeSet {
	return typeset.Single(c.Catalog.TypeByName(typeName))
}

// Collection returns a collection set of the named type.
func (c *Call) Collection(typeName string) typeset.TypeSet {
	return c.Single(typeName).AsCollection()
}

// Arg returns the i-th argument type, or the empty set.
func (c *Call) Arg(i int) typeset.TypeSet {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return typeset.Empty()
}

// ReturnFunc computes the result type of a call.
type ReturnFunc func(c *Call) typeset.TypeSet

// ArgValidator checks the arguments of a call and reports violations.
type ArgValidator func(r *Rule, c *Call)

// Rule describes one function.
type Rule struct {
	Name     string
	Category Category

	// SupportsCollectionFocus is false for functions that expect a single
	// input value.
	SupportsCollectionFocus bool

	// ValidAtRoot is true for functions that do not read their focus, so an
	// untyped root is fine.
	ValidAtRoot bool

	// FocusRelative functions evaluate their arguments against the call's
	// focus instead of the enclosing one.
	FocusRelative bool

	// TypeArgument functions take a type name that is not evaluated.
	TypeArgument bool

	SupportedContexts []Context
	ReturnType        ReturnFunc
	ArgValidators     []ArgValidator
}

// Check runs the focus checks and argument validators.
func (r *Rule) Check(c *Call) {
	if !r.ValidAtRoot && c.RootUntyped {
		c.Report(issue.DiagFunctionNoFocus, map[string]any{"name": r.Name})
	}
	if !r.SupportsCollectionFocus && c.Focus.IsCollection() {
		c.Report(issue.DiagFunctionCollectionFocus, map[string]any{"name": r.Name, "types": c.Focus.String()})
	}
	for _, v := range r.ArgValidators {
		v(r, c)
	}
}

// Result computes the result type of c.
func (r *Rule) Result(c *Call) typeset.TypeSet {
	if r.ReturnType == nil {
		return typeset.Empty()
	}
	return r.ReturnType(c)
}

// Table is a function rule table keyed by name.
type Table struct {
	rules map[string]*Rule
}

// NewTable creates a table holding rules. Later rules replace earlier ones
// of the same name.
func NewTable(rules ...*Rule) *Table {
	t := &Table{rules: make(map[string]*Rule, len(rules))}
	for _, r := range rules {
		t.Register(r)
	}
	return t
}

// Register adds or replaces a rule.
func (t *Table) Register(r *Rule) {
	t.rules[r.Name] = r
}

// Lookup returns the rule for name.
func (t *Table) Lookup(name string) (*Rule, bool) {
	r, ok := t.rules[name]
	return r, ok
}

// Names returns the function names in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.rules))
	for name := range t.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Clone returns a copy that can be extended without affecting t.
func (t *Table) Clone() *Table {
	out := &Table{rules: make(map[string]*Rule, len(t.rules))}
	for name, r := range t.rules {
		out.rules[name] = r
	}
	return out
}

var defaultTable = NewTable(builtins()...)

// Default returns the table of built-in FHIRPath functions. It is shared;
// use Clone before registering custom rules.
func Default() *Table {
	return defaultTable
}

// --- Argument validators ---

// Arity reports calls with fewer than lo or more than hi arguments. A
// negative hi means unbounded.
func Arity(lo, hi int) ArgValidator {
	return func(r *Rule, c *Call) {
		n := len(c.ArgNodes)
		if n >= lo && (hi < 0 || n <= hi) {
			return
		}
		c.Report(issue.DiagFunctionArity, map[string]any{
			"name":     r.Name,
			"expected": arityText(lo, hi),
			"count":    n,
		})
	}
}

func arityText(lo, hi int) string {
	switch {
	case hi < 0:
		return "at least " + strconv.Itoa(lo)
	case lo == hi:
		return strconv.Itoa(lo)
	default:
		return strconv.Itoa(lo) + " to " + strconv.Itoa(hi)
	}
}
