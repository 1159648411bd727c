package expr

import (
	"errors"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"name.given.first()", "name.given.first()"},
		{"contact.telecom.where(use='phone').system", "contact.telecom.where(use = 'phone').system"},
		{"Patient.name | Practitioner.name", "Patient.name | Practitioner.name"},
		{"value is Quantity", "value is Quantity"},
		{"(value as FHIR.Quantity).unit", "value as FHIR.Quantity.unit"},
		{"%resource.id", "%resource.id"},
		{"%`vs-administrative-gender`", "%vs-administrative-gender"},
		{"$this.name[0]", "$this.name[0]"},
		{"-5 + 2", "-5 + 2"},
		{"4 'mg' + 2 days", "4 'mg' + 2 days"},
		{"@2024-01-01 < @2024-01-02T10:00:00Z", "@2024-01-01 < @2024-01-02T10:00:00Z"},
		{"{}", "{}"},
		{"iif(active, 'a', 'b')", "iif(active, 'a', 'b')"},
		{"`given`.exists()", "given.exists()"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if got := n.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRootIdentifierIsChildOfThis(t *testing.T) {
	n := MustParse("name")
	child, ok := n.(*Child)
	if !ok {
		t.Fatalf("Parse(name) = %T, want *Child", n)
	}
	v, ok := child.Focus.(*Variable)
	if !ok || !v.Implicit || !v.IsThis() {
		t.Errorf("root focus = %#v, want implicit $this", child.Focus)
	}

	call := MustParse("exists()").(*Call)
	if v, ok := call.Focus.(*Variable); !ok || !v.Implicit {
		t.Errorf("root call focus = %#v, want implicit $this", call.Focus)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		in     string
		rootOp string
	}{
		{"a and b or c", "or"},
		{"a or b and c", "or"},
		{"a = b and c", "and"},
		{"a | b = c", "="},
		{"a + b * c", "+"},
		{"a implies b or c", "implies"},
		{"a in b and c", "and"},
		{"a is T | b", "|"},
		{"a < b = true", "="},
		{"a & b + c", "+"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			b, ok := MustParse(tt.in).(*Binary)
			if !ok {
				t.Fatalf("root is not a binary expression")
			}
			if b.Op != tt.rootOp {
				t.Errorf("root op = %q, want %q", b.Op, tt.rootOp)
			}
		})
	}
}

func TestParseLeftAssociative(t *testing.T) {
	b := MustParse("a - b - c").(*Binary)
	if _, ok := b.Left.(*Binary); !ok {
		t.Errorf("a - b - c should group as (a - b) - c, got %s", b)
	}
}

func TestParseConstants(t *testing.T) {
	tests := []struct {
		in   string
		kind ConstantKind
		unit string
	}{
		{"'abc'", ConstString, ""},
		{"true", ConstBoolean, ""},
		{"42", ConstInteger, ""},
		{"4.5", ConstDecimal, ""},
		{"@2020-01", ConstDate, ""},
		{"@2020-01-01T12:00", ConstDateTime, ""},
		{"@T12:30:00", ConstTime, ""},
		{"10 'mg'", ConstQuantity, "mg"},
		{"3 weeks", ConstQuantity, "weeks"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, ok := MustParse(tt.in).(*Constant)
			if !ok {
				t.Fatalf("Parse(%q) is not a constant", tt.in)
			}
			if c.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", c.Kind, tt.kind)
			}
			if c.Unit != tt.unit {
				t.Errorf("Unit = %q, want %q", c.Unit, tt.unit)
			}
		})
	}
}

func TestParseStringEscapes(t *testing.T) {
	c := MustParse(`'it\'s\nA'`).(*Constant)
	if c.Value != "it's\nA" {
		t.Errorf("Value = %q", c.Value)
	}
}

func TestParseComments(t *testing.T) {
	n := MustParse("name // the names\n  /* block */ .given")
	if n.String() != "name.given" {
		t.Errorf("String() = %q", n.String())
	}
}

func TestParseLocations(t *testing.T) {
	n := MustParse("name\n  .chicken")
	child := n.(*Child)
	if child.At.Line != 2 || child.At.Position != 4 {
		t.Errorf("chicken at %s, want 2:4", child.At)
	}
	if child.Focus.Loc().Line != 1 || child.Focus.Loc().Position != 1 {
		t.Errorf("name at %s, want 1:1", child.Focus.Loc())
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"",
		"name.",
		"name.where(",
		"'unterminated",
		"a = ",
		"name ]",
		"$foo",
		"value is 'x'",
		"# nope",
		"/* open",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", in)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("error %T is not a *ParseError", err)
			}
		})
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Patient", "Patient", true},
		{"FHIR.Patient", "FHIR.Patient", true},
		{"'Quantity'", "Quantity", true},
		{"System.String", "System.String", true},
		{"name.first()", "", false},
		{"1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := TypeName(MustParse(tt.in))
			if ok != tt.ok || got != tt.want {
				t.Errorf("TypeName(%s) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}

	b := MustParse("x as FHIR.Quantity").(*Binary)
	if got, _ := TypeName(b.Right); got != "FHIR.Quantity" {
		t.Errorf("type specifier = %q", got)
	}
}

func TestWalk(t *testing.T) {
	var names []string
	Walk(MustParse("a.where(b = 1).c"), func(n Node) bool {
		if c, ok := n.(*Child); ok {
			names = append(names, c.Name)
		}
		return true
	})
	if len(names) != 3 {
		t.Errorf("Walk visited children %v, want 3", names)
	}
}
