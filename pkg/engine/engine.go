// Package engine infers the result types of FHIRPath expressions against a
// schema catalog without evaluating them.
//
// An Engine walks an expression tree once, assigning a TypeSet to every node
// and collecting diagnostics. The ambient focus ($this) is passed down the
// recursion, so nested function arguments see the focus of their call and
// the enclosing focus is restored on return. Behavior is extended with
// Hooks, e.g. the extension profile narrowing in package extprofile.
//
// Engines hold per-traversal state and are single use: construct a new one
// for every expression.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/rules"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// ErrEngineReused is returned by Evaluate on an engine that already ran.
var ErrEngineReused = errors.New("engine: already evaluated an expression")

// ErrUnknownType is returned by New for root or variable types the catalog
// does not know.
var ErrUnknownType = errors.New("engine: unknown type")

// Config holds engine configuration.
type Config struct {
	// RootTypes are the possible types of the evaluation root.
	RootTypes []string

	// Variables are bound in order; the first binding of a name wins.
	Variables []Binding

	Hooks []Hook

	// Rules is the function table, rules.Default() when nil.
	Rules *rules.Table

	// Trace records an indented line per evaluated node.
	Trace bool

	Logger *logger.Logger

	// Source is the expression text attached to diagnostics. It defaults
	// to the rendering of the evaluated tree.
	Source string
}

// Binding binds an external variable (%name) to a type name.
type Binding struct {
	Name string
	Type string
}

// Option is a functional option for configuring an Engine.
type Option func(*Config)

// WithRootTypes sets the possible types of the evaluation root.
func WithRootTypes(names ...string) Option {
	return func(c *Config) {
		c.RootTypes = append(c.RootTypes, names...)
	}
}

// WithVariable binds %name to a type.
func WithVariable(name, typeName string) Option {
	return func(c *Config) {
		c.Variables = append(c.Variables, Binding{Name: name, Type: typeName})
	}
}

// WithHooks appends hooks. Hooks run in the order they were added.
func WithHooks(hooks ...Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hooks...)
	}
}

// WithRules replaces the function table.
func WithRules(table *rules.Table) Option {
	return func(c *Config) {
		c.Rules = table
	}
}

// WithTrace enables the traversal trace.
func WithTrace(enabled bool) Option {
	return func(c *Config) {
		c.Trace = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithSource sets the expression text attached to diagnostics.
func WithSource(text string) Option {
	return func(c *Config) {
		c.Source = text
	}
}

// Engine infers the type of one expression.
type Engine struct {
	catalog schema.Catalog
	rules   *rules.Table
	roots   typeset.TypeSet
	vars    *Variables
	hooks   []Hook
	log     *logger.Logger
	source  string
	tracing bool

	ctx    context.Context
	result *issue.Result
	trace  []string
	depth  int
	used   bool

	// owners holds the input of each navigation, by node.
	owners map[*expr.Child]typeset.TypeSet
}

// New creates an engine over catalog.
func New(catalog schema.Catalog, opts ...Option) (*Engine, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{
		catalog: catalog,
		rules:   cfg.Rules,
		vars:    NewVariables(),
		hooks:   cfg.Hooks,
		log:     cfg.Logger,
		source:  cfg.Source,
		tracing: cfg.Trace,
		ctx:     context.Background(),
		result:  issue.NewResult(),
		owners:  map[*expr.Child]typeset.TypeSet{},
	}
	if e.rules == nil {
		e.rules = rules.Default()
	}
	if e.log == nil {
		e.log = logger.Default().Named("engine")
	}

	e.roots.Root = true
	for _, name := range cfg.RootTypes {
		t := catalog.TypeByName(name)
		if t == nil {
			return nil, fmt.Errorf("%w: root type %q", ErrUnknownType, name)
		}
		e.roots = e.roots.Add(typeset.NodeProps{Type: t})
	}
	for _, b := range cfg.Variables {
		t := catalog.TypeByName(b.Type)
		if t == nil {
			return nil, fmt.Errorf("%w: variable %%%s type %q", ErrUnknownType, b.Name, b.Type)
		}
		e.vars.Register(b.Name, t)
	}
	return e, nil
}

// RegisterVariable binds %name to t. It reports false, keeping the existing
// binding, when name is already bound.
func (e *Engine) RegisterVariable(name string, t *schema.TypeDescriptor) bool {
	return e.vars.Register(name, t)
}

// Evaluate infers the type of node. Diagnostics are available from Issues
// afterwards. It fails only when the engine was used before or ctx is done.
func (e *Engine) Evaluate(ctx context.Context, node expr.Node) (typeset.TypeSet, error) {
	if e.used {
		return typeset.Empty(), ErrEngineReused
	}
	e.used = true
	if err := ctx.Err(); err != nil {
		return typeset.Empty(), err
	}
	e.ctx = ctx
	if e.source == "" {
		e.source = node.String()
	}

	out := e.eval(node, e.roots)
	e.log.Debug("%s : %s (%d issues)", e.source, out, len(e.result.Issues))
	return out, nil
}

// Issues returns the diagnostics collected so far.
func (e *Engine) Issues() *issue.Result {
	return e.result
}

// Trace returns the traversal trace, empty unless tracing was enabled.
func (e *Engine) Trace() string {
	return strings.Join(e.trace, "\n")
}

// Catalog returns the schema catalog.
func (e *Engine) Catalog() schema.Catalog {
	return e.catalog
}

// Context returns the context passed to Evaluate.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Logger returns the engine logger.
func (e *Engine) Logger() *logger.Logger {
	return e.log
}

// RootTypes returns the declared root types.
func (e *Engine) RootTypes() typeset.TypeSet {
	return e.roots
}

// Report records a diagnostic located at n.
func (e *Engine) Report(n expr.Node, id issue.DiagnosticID, params map[string]any) {
	var loc *issue.Location
	if n != nil {
		if at := n.Loc(); at.Line > 0 {
			loc = &issue.Location{Line: at.Line, Column: at.Position}
		}
	}
	e.result.AddWithID(id, params, loc, e.source)
}

func (e *Engine) reporter(n expr.Node) func(issue.DiagnosticID, map[string]any) {
	return func(id issue.DiagnosticID, params map[string]any) {
		e.Report(n, id, params)
	}
}

func (e *Engine) beginTrace(n expr.Node) int {
	if !e.tracing {
		return -1
	}
	if v, ok := n.(*expr.Variable); ok && v.Implicit {
		return -1
	}
	e.trace = append(e.trace, "")
	e.depth++
	return len(e.trace) - 1
}

func (e *Engine) endTrace(line int, n expr.Node, out typeset.TypeSet) {
	if line < 0 {
		return
	}
	e.depth--
	e.trace[line] = strings.Repeat("  ", e.depth) + n.String() + " : " + out.String()
}
