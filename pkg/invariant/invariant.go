// Package invariant type checks the FHIRPath constraints (invariants) of
// StructureDefinition snapshots.
//
// Every constraint is typed with the element it is declared on as the
// evaluation root and %resource bound to the definition's type. %context is
// bound to the element's type when it has exactly one. A
// constraint whose result cannot be a boolean is reported.
package invariant

import (
	"context"
	"strings"

	"github.com/gofhir/pathcheck/pkg/engine"
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/registry"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
	"github.com/gofhir/pathcheck/pkg/worker"
)

// Finding is the outcome of checking one constraint.
type Finding struct {
	Key        string
	Path       string
	Expression string

	// Types is the inferred result type.
	Types typeset.TypeSet
}

// Report holds the findings for one StructureDefinition.
type Report struct {
	Type     string
	Findings []Finding
	Result   *issue.Result
}

// Checker checks constraints against a catalog.
type Checker struct {
	catalog  schema.Catalog
	hooks    []engine.Hook
	verifier *expr.Verifier
	workers  int
	log      *logger.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithHooks adds engine hooks.
func WithHooks(hooks ...engine.Hook) Option {
	return func(c *Checker) {
		c.hooks = append(c.hooks, hooks...)
	}
}

// WithVerifier enables syntax verification.
func WithVerifier(v *expr.Verifier) Option {
	return func(c *Checker) {
		c.verifier = v
	}
}

// WithWorkers sets CheckAll parallelism.
func WithWorkers(n int) Option {
	return func(c *Checker) {
		c.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Checker) {
		c.log = l
	}
}

// New creates a Checker.
func New(catalog schema.Catalog, opts ...Option) *Checker {
	c := &Checker{catalog: catalog}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Default().Named("invariant")
	}
	return c
}

// Check type checks every constraint of the snapshot of sd.
func (c *Checker) Check(ctx context.Context, sd *registry.StructureDefinition) (*Report, error) {
	rep := &Report{Type: sd.Type, Result: issue.NewResult()}
	if sd.Snapshot == nil {
		return rep, nil
	}

	for i := range sd.Snapshot.Element {
		elem := &sd.Snapshot.Element[i]
		if len(elem.Constraint) == 0 {
			continue
		}
		roots := c.contextTypes(sd.Type, elem.Path)
		if len(roots) == 0 {
			c.log.Debug("%s: no context type, skipping %d constraints", elem.Path, len(elem.Constraint))
			continue
		}
		for _, con := range elem.Constraint {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			f, err := c.checkConstraint(ctx, sd.Type, elem.Path, roots, con, rep.Result)
			if err != nil {
				return rep, err
			}
			if f != nil {
				rep.Findings = append(rep.Findings, *f)
			}
		}
	}
	return rep, nil
}

func (c *Checker) checkConstraint(ctx context.Context, resourceType, path string, roots []string, con registry.Constraint, result *issue.Result) (*Finding, error) {
	if strings.TrimSpace(con.Expression) == "" {
		return nil, nil
	}
	node, err := expr.ParseAndVerify(con.Expression, c.verifier)
	if err != nil {
		result.AddWithID(issue.DiagInvariantParseError, map[string]any{"key": con.Key, "path": path, "error": err.Error()}, nil, con.Expression)
		return nil, nil
	}

	opts := []engine.Option{
		engine.WithRootTypes(roots...),
		engine.WithVariable("resource", resourceType),
		engine.WithHooks(c.hooks...),
		engine.WithSource(con.Expression),
		engine.WithLogger(c.log),
	}
	if len(roots) == 1 {
		opts = append(opts, engine.WithVariable("context", roots[0]))
	}
	e, err := engine.New(c.catalog, opts...)
	if err != nil {
		return nil, err
	}
	ts, err := e.Evaluate(ctx, node)
	if err != nil {
		return nil, err
	}
	result.Merge(e.Issues())

	if !ts.IsEmpty() && !isBoolean(ts) {
		result.AddWithID(issue.DiagInvariantNotBoolean, map[string]any{"key": con.Key, "path": path, "types": ts.String()}, nil, con.Expression)
	}
	return &Finding{Key: con.Key, Path: path, Expression: con.Expression, Types: ts}, nil
}

func isBoolean(ts typeset.TypeSet) bool {
	for _, name := range ts.TypeNames() {
		if name != "boolean" {
			return false
		}
	}
	return true
}

// contextTypes returns the type names an element's constraints are
// evaluated on: the resource itself, a backbone type, or the declared
// types of a field.
func (c *Checker) contextTypes(resourceType, path string) []string {
	if path == resourceType {
		return []string{resourceType}
	}
	if c.catalog.TypeByName(path) != nil {
		return []string{path}
	}

	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return nil
	}
	owner := c.catalog.TypeByName(path[:dot])
	if owner == nil {
		return nil
	}
	f := c.catalog.Field(owner, strings.TrimSuffix(path[dot+1:], "[x]"))
	if f == nil {
		return nil
	}

	var out []string
	for _, name := range f.Types {
		if c.catalog.TypeByName(name) != nil {
			out = append(out, name)
		}
	}
	return out
}

// CheckAll checks sds in parallel. Reports are in input order; a
// definition that failed has a nil report and its error in errs.
func (c *Checker) CheckAll(ctx context.Context, sds []*registry.StructureDefinition) (reports []*Report, errs []error) {
	batch := worker.NewBatch(func(ctx context.Context, sd *registry.StructureDefinition) *Report {
		rep, err := c.Check(ctx, sd)
		if err != nil {
			rep.Result.AddError(issue.CodeProcessing, err.Error(), sd.URL)
		}
		return rep
	}, c.workers)

	br := batch.Run(ctx, sds)
	reports = make([]*Report, len(br.Results))
	errs = make([]error, len(br.Results))
	for i, r := range br.Results {
		reports[i] = r.Value
		errs[i] = r.Err
	}
	c.log.Info("checked constraints of %d definitions in %s", len(sds), br.TotalDuration)
	return reports, errs
}
