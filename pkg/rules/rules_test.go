package rules_test

import (
	"testing"

	"github.com/gofhir/pathcheck/internal/fhirtest"
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/rules"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

type recorder struct {
	ids []issue.DiagnosticID
}

func (r *recorder) report(id issue.DiagnosticID, _ map[string]any) {
	r.ids = append(r.ids, id)
}

func (r *recorder) has(id issue.DiagnosticID) bool {
	for _, got := range r.ids {
		if got == id {
			return true
		}
	}
	return false
}

func newCall(t *testing.T, name string, focus typeset.TypeSet, argNodes ...expr.Node) (*rules.Call, *recorder) {
	t.Helper()
	cat, err := schema.FromRegistry(fhirtest.Registry())
	if err != nil {
		t.Fatalf("FromRegistry() error = %v", err)
	}
	rec := &recorder{}
	return &rules.Call{
		Name:     name,
		Focus:    focus,
		ArgNodes: argNodes,
		Args:     make([]typeset.TypeSet, len(argNodes)),
		Catalog:  cat,
		Report:   rec.report,
	}, rec
}

func single(t *testing.T, name string) typeset.TypeSet {
	t.Helper()
	cat, err := schema.FromRegistry(fhirtest.Registry())
	if err != nil {
		t.Fatalf("FromRegistry() error = %v", err)
	}
	td := cat.TypeByName(name)
	if td == nil {
		t.Fatalf("TypeByName(%q) = nil", name)
	}
	return typeset.Single(td)
}

func TestDefaultTable(t *testing.T) {
	table := rules.Default()

	tests := []struct {
		name          string
		category      rules.Category
		focusRelative bool
		collection    bool
	}{
		{"upper", rules.CategoryString, false, false},
		{"exists", rules.CategoryBoolean, true, true},
		{"where", rules.CategoryPassthrough, true, true},
		{"first", rules.CategoryPassthrough, true, true},
		{"count", rules.CategoryInteger, false, true},
		{"abs", rules.CategoryMath, false, false},
		{"toInteger", rules.CategoryConversion, false, false},
		{"select", rules.CategorySpecial, true, true},
		{"ofType", rules.CategorySpecial, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := table.Lookup(tt.name)
			if !ok {
				t.Fatalf("Lookup(%q) not found", tt.name)
			}
			if r.Category != tt.category {
				t.Errorf("Category = %s, want %s", r.Category, tt.category)
			}
			if r.FocusRelative != tt.focusRelative {
				t.Errorf("FocusRelative = %v, want %v", r.FocusRelative, tt.focusRelative)
			}
			if r.SupportsCollectionFocus != tt.collection {
				t.Errorf("SupportsCollectionFocus = %v, want %v", r.SupportsCollectionFocus, tt.collection)
			}
		})
	}

	if _, ok := table.Lookup("chicken"); ok {
		t.Error("Lookup(chicken) should fail")
	}
	if r, _ := table.Lookup("ofType"); !r.TypeArgument {
		t.Error("ofType should take a type argument")
	}
	if names := table.Names(); len(names) != table.Len() || names[0] > names[len(names)-1] {
		t.Errorf("Names() not sorted or incomplete: %d vs %d", len(names), table.Len())
	}
}

func TestTableCloneRegister(t *testing.T) {
	custom := rules.Default().Clone()
	custom.Register(&rules.Rule{Name: "chicken", ReturnType: rules.Fixed("string")})

	if _, ok := custom.Lookup("chicken"); !ok {
		t.Error("custom table lost the registered rule")
	}
	if _, ok := rules.Default().Lookup("chicken"); ok {
		t.Error("Register on a clone changed the default table")
	}
}

func TestArity(t *testing.T) {
	r, _ := rules.Default().Lookup("substring")

	c, rec := newCall(t, "substring", single(t, "string"))
	r.Check(c)
	if !rec.has(issue.DiagFunctionArity) {
		t.Error("substring() without arguments should report arity")
	}

	c, rec = newCall(t, "substring", single(t, "string"), expr.MustParse("1"))
	r.Check(c)
	if len(rec.ids) != 0 {
		t.Errorf("substring(1) reported %v", rec.ids)
	}
}

func TestCheckFocus(t *testing.T) {
	upper, _ := rules.Default().Lookup("upper")

	c, rec := newCall(t, "upper", single(t, "string").AsCollection())
	upper.Check(c)
	if !rec.has(issue.DiagFunctionCollectionFocus) {
		t.Error("upper() on a collection should warn")
	}

	c, rec = newCall(t, "upper", typeset.TypeSet{Root: true})
	c.RootUntyped = true
	upper.Check(c)
	if !rec.has(issue.DiagFunctionNoFocus) {
		t.Error("upper() on an untyped root should report")
	}

	now, _ := rules.Default().Lookup("now")
	c, rec = newCall(t, "now", typeset.TypeSet{Root: true})
	c.RootUntyped = true
	now.Check(c)
	if len(rec.ids) != 0 {
		t.Errorf("now() at the root reported %v", rec.ids)
	}
}

func TestMathContexts(t *testing.T) {
	tests := []struct {
		fn      string
		focus   string
		want    string
		warning bool
	}{
		{"abs", "integer", "integer", false},
		{"abs", "Quantity", "Quantity", false},
		{"abs", "positiveInt", "integer", false},
		{"ceiling", "decimal", "integer", false},
		{"sqrt", "integer", "decimal", false},
		{"abs", "string", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.fn+"/"+tt.focus, func(t *testing.T) {
			r, _ := rules.Default().Lookup(tt.fn)
			c, rec := newCall(t, tt.fn, single(t, tt.focus))
			got := r.Result(c)
			if got.String() != tt.want {
				t.Errorf("Result() = %q, want %q", got, tt.want)
			}
			if rec.has(issue.DiagFunctionContext) != tt.warning {
				t.Errorf("context warning = %v, want %v", rec.has(issue.DiagFunctionContext), tt.warning)
			}
		})
	}
}

func TestTypeTest(t *testing.T) {
	c, _ := newCall(t, "ofType", typeset.Empty())
	quantity := c.Catalog.TypeByName("Quantity")
	str := c.Catalog.TypeByName("string")
	resource := c.Catalog.TypeByName("Resource")
	focus := typeset.Of(
		typeset.NodeProps{Type: quantity},
		typeset.NodeProps{Type: str},
		typeset.NodeProps{Type: resource, Collection: true},
	)

	tests := []struct {
		fn      string
		arg     string
		want    string
		impossi bool
	}{
		{"ofType", "Quantity", "Quantity", false},
		{"as", "System.String", "string", false},
		{"ofType", "Patient", "Patient[]", false},
		{"is", "Quantity", "boolean", false},
		{"ofType", "Period", "", true},
		{"is", "Period", "boolean", true},
	}
	for _, tt := range tests {
		t.Run(tt.fn+"("+tt.arg+")", func(t *testing.T) {
			r, _ := rules.Default().Lookup(tt.fn)
			c, rec := newCall(t, tt.fn, focus, expr.MustParse(tt.arg))
			if got := r.Result(c); got.String() != tt.want {
				t.Errorf("Result() = %q, want %q", got, tt.want)
			}
			if rec.has(issue.DiagTypeTestImpossible) != tt.impossi {
				t.Errorf("impossible = %v, want %v", rec.has(issue.DiagTypeTestImpossible), tt.impossi)
			}
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		r, _ := rules.Default().Lookup("as")
		c, rec := newCall(t, "as", focus, expr.MustParse("Chicken"))
		if got := r.Result(c); !got.IsEmpty() {
			t.Errorf("Result() = %s, want empty", got)
		}
		if !rec.has(issue.DiagTypeUnknown) {
			t.Error("missing unknown type diagnostic")
		}
	})

	t.Run("not a type", func(t *testing.T) {
		r, _ := rules.Default().Lookup("ofType")
		c, rec := newCall(t, "ofType", focus, expr.MustParse("1 + 2"))
		r.Result(c)
		if !rec.has(issue.DiagTypeArgument) {
			t.Error("missing type argument diagnostic")
		}
	})
}

func TestResolve(t *testing.T) {
	c, _ := newCall(t, "resolve", typeset.Empty())
	patient := c.Catalog.TypeByName("Patient")
	reference := c.Catalog.TypeByName("Reference")

	gp := c.Catalog.Field(patient, "generalPractitioner")
	c.Focus = typeset.Of(typeset.NodeProps{Type: reference, Field: gp, Collection: true})
	r, _ := rules.Default().Lookup("resolve")

	// PractitionerRole is not part of the fixtures and is skipped.
	if got, want := r.Result(c).String(), "Organization[], Practitioner[]"; got != want {
		t.Errorf("resolve() = %q, want %q", got, want)
	}

	c.Focus = typeset.Single(reference)
	if got := r.Result(c); got.Len() != len(c.Catalog.ResourceTypes()) {
		t.Errorf("resolve() without targets = %s, want every resource type", got)
	}
}

func TestSelectUnionIif(t *testing.T) {
	str := single(t, "string")
	boolean := single(t, "boolean")

	sel, _ := rules.Default().Lookup("select")
	c, _ := newCall(t, "select", str.AsCollection(), expr.MustParse("a"))
	c.Args = []typeset.TypeSet{boolean}
	if got := sel.Result(c).String(); got != "boolean[]" {
		t.Errorf("select() = %q, want boolean[]", got)
	}

	c, _ = newCall(t, "select", str, expr.MustParse("a"), expr.MustParse("b"))
	c.Args = []typeset.TypeSet{boolean, str}
	if got := sel.Result(c).String(); got != "boolean, string" {
		t.Errorf("select() with two arguments = %q, want the union", got)
	}

	iif, _ := rules.Default().Lookup("iif")
	c, _ = newCall(t, "iif", str, expr.MustParse("true"), expr.MustParse("a"), expr.MustParse("b"))
	c.Args = []typeset.TypeSet{boolean, str, str.AsCollection()}
	if got := iif.Result(c).String(); got != "string, string[]" {
		t.Errorf("iif() = %q", got)
	}

	union, _ := rules.Default().Lookup("union")
	c, _ = newCall(t, "union", str, expr.MustParse("a"))
	c.Args = []typeset.TypeSet{boolean}
	if got := union.Result(c).String(); got != "string, boolean" {
		t.Errorf("union() = %q", got)
	}
}
