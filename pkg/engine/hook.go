package engine

import (
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/rules"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// ChildStep describes a member navigation that was just typed.
type ChildStep struct {
	Node  *expr.Child
	Focus typeset.TypeSet
}

// CallStep describes a function call that was just typed.
type CallStep struct {
	Node *expr.Call

	// Rule is nil for functions the table does not know.
	Rule *rules.Rule

	Focus typeset.TypeSet

	// Owner is the input of the navigation that produced Focus, e.g. the
	// Patient holding the list in Patient.extension.where(...). It is empty
	// when Focus does not come from a navigation.
	Owner typeset.TypeSet

	Args []typeset.TypeSet
}

// Hook customizes typing. Each method receives the result computed so far
// (by the engine and earlier hooks) and returns the result to use.
type Hook interface {
	AfterChild(e *Engine, step ChildStep, result typeset.TypeSet) typeset.TypeSet
	AfterCall(e *Engine, step CallStep, result typeset.TypeSet) typeset.TypeSet
}

// NopHook implements Hook without changing anything. Embed it to implement
// only one of the methods.
type NopHook struct{}

// AfterChild returns result.
func (NopHook) AfterChild(_ *Engine, _ ChildStep, result typeset.TypeSet) typeset.TypeSet {
	return result
}

// AfterCall returns result.
func (NopHook) AfterCall(_ *Engine, _ CallStep, result typeset.TypeSet) typeset.TypeSet {
	return result
}
