// Package expr parses FHIRPath expressions into the node tree walked by the
// type checker.
//
// The tree is purely syntactic. Identifiers at the start of a path are
// parsed as children of the implicit $this variable, so "name.given" is
// Child(Child(Variable($this), "name"), "given").
package expr

import (
	"strconv"
	"strings"
)

// Location is a 1-based position in the expression source.
type Location struct {
	Line     int
	Position int
}

func (l Location) String() string {
	return strconv.Itoa(l.Line) + ":" + strconv.Itoa(l.Position)
}

// Node is an expression tree node.
type Node interface {
	// Loc returns where the node starts in the source text.
	Loc() Location

	// String renders the node back to FHIRPath text.
	String() string

	node()
}

// ConstantKind is the literal type of a Constant.
type ConstantKind int

// Constant kinds.
const (
	ConstString ConstantKind = iota
	ConstBoolean
	ConstInteger
	ConstDecimal
	ConstDate
	ConstDateTime
	ConstTime
	ConstQuantity
	// ConstTypeSpecifier is the right operand of "is" and "as".
	ConstTypeSpecifier
)

var constantKindNames = [...]string{
	ConstString:        "string",
	ConstBoolean:       "boolean",
	ConstInteger:       "integer",
	ConstDecimal:       "decimal",
	ConstDate:          "date",
	ConstDateTime:      "dateTime",
	ConstTime:          "time",
	ConstQuantity:      "Quantity",
	ConstTypeSpecifier: "type",
}

func (k ConstantKind) String() string {
	if int(k) < len(constantKindNames) {
		return constantKindNames[k]
	}
	return "unknown"
}

// Constant is a literal value.
type Constant struct {
	Kind  ConstantKind
	Value string
	// Unit is set for quantities, e.g. "mg" or "days".
	Unit string
	At   Location
}

// Variable is $this, $index, $total or an external constant (%name).
type Variable struct {
	// Name is the variable name without its '$' or '%' prefix.
	Name string
	// External is true for %name references.
	External bool
	// Implicit marks the $this inserted in front of root identifiers and
	// root function calls.
	Implicit bool
	At       Location
}

// IsThis reports whether v denotes the ambient focus.
func (v *Variable) IsThis() bool {
	return !v.External && v.Name == "this"
}

// Child is member navigation: Focus.Name.
type Child struct {
	Focus Node
	Name  string
	At    Location
}

// Call is a function invocation: Focus.Name(Args...).
type Call struct {
	Focus Node
	Name  string
	Args  []Node
	At    Location
}

// Binary is an operator expression.
type Binary struct {
	Op    string
	Left  Node
	Right Node
	At    Location
}

// Unary is a prefix '+' or '-'.
type Unary struct {
	Op      string
	Operand Node
	At      Location
}

// Indexer is Focus[Index].
type Indexer struct {
	Focus Node
	Index Node
	At    Location
}

// NodeList is a collection literal: {} or {a, b}.
type NodeList struct {
	Items []Node
	At    Location
}

func (n *Constant) Loc() Location { return n.At }
func (n *Variable) Loc() Location { return n.At }
func (n *Child) Loc() Location    { return n.At }
func (n *Call) Loc() Location     { return n.At }
func (n *Binary) Loc() Location   { return n.At }
func (n *Unary) Loc() Location    { return n.At }
func (n *Indexer) Loc() Location  { return n.At }
func (n *NodeList) Loc() Location { return n.At }

func (*Constant) node() {}
func (*Variable) node() {}
func (*Child) node()    {}
func (*Call) node()     {}
func (*Binary) node()   {}
func (*Unary) node()    {}
func (*Indexer) node()  {}
func (*NodeList) node() {}

func (n *Constant) String() string {
	switch n.Kind {
	case ConstString:
		return "'" + strings.ReplaceAll(n.Value, "'", `\'`) + "'"
	case ConstDate, ConstDateTime, ConstTime:
		return "@" + n.Value
	case ConstQuantity:
		if isCalendarUnit(n.Unit) {
			return n.Value + " " + n.Unit
		}
		return n.Value + " '" + n.Unit + "'"
	default:
		return n.Value
	}
}

func (n *Variable) String() string {
	if n.External {
		return "%" + n.Name
	}
	return "$" + n.Name
}

func (n *Child) String() string {
	if isImplicitThis(n.Focus) {
		return n.Name
	}
	return n.Focus.String() + "." + n.Name
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	call := n.Name + "(" + strings.Join(args, ", ") + ")"
	if n.Focus == nil || isImplicitThis(n.Focus) {
		return call
	}
	return n.Focus.String() + "." + call
}

func (n *Binary) String() string {
	return n.Left.String() + " " + n.Op + " " + n.Right.String()
}

func (n *Unary) String() string {
	return n.Op + n.Operand.String()
}

func (n *Indexer) String() string {
	return n.Focus.String() + "[" + n.Index.String() + "]"
}

func (n *NodeList) String() string {
	items := make([]string, len(n.Items))
	for i, it := range n.Items {
		items[i] = it.String()
	}
	return "{" + strings.Join(items, ", ") + "}"
}

func isImplicitThis(n Node) bool {
	v, ok := n.(*Variable)
	return ok && v.Implicit
}

// TypeName extracts a type name from a node used as a type argument:
// a type specifier or string constant, or a (qualified) identifier such as
// Patient or FHIR.Patient. ok is false for any other shape.
func TypeName(n Node) (name string, ok bool) {
	switch n := n.(type) {
	case *Constant:
		if n.Kind == ConstTypeSpecifier || n.Kind == ConstString {
			return n.Value, n.Value != ""
		}
	case *Child:
		if isImplicitThis(n.Focus) {
			return n.Name, true
		}
		prefix, ok := TypeName(n.Focus)
		if ok {
			return prefix + "." + n.Name, true
		}
	}
	return "", false
}

// Walk calls fn for n and every node below it, depth first, stopping the
// descent into a subtree when fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch n := n.(type) {
	case *Child:
		Walk(n.Focus, fn)
	case *Call:
		Walk(n.Focus, fn)
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *Binary:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Unary:
		Walk(n.Operand, fn)
	case *Indexer:
		Walk(n.Focus, fn)
		Walk(n.Index, fn)
	case *NodeList:
		for _, it := range n.Items {
			Walk(it, fn)
		}
	}
}
