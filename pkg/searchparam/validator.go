package searchparam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofhir/pathcheck/pkg/engine"
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/typeset"
	"github.com/gofhir/pathcheck/pkg/worker"
)

// DefaultMaxCompositeDepth bounds nested composite parameters.
const DefaultMaxCompositeDepth = 4

// Config holds the validator configuration.
type Config struct {
	// Lookup resolves composite components. Without one every component is
	// reported as unresolvable.
	Lookup Lookup

	// Hooks are added to every engine, e.g. extension profile narrowing.
	Hooks []engine.Hook

	// Verifier, when set, checks expressions against the reference grammar.
	Verifier *expr.Verifier

	MaxCompositeDepth int

	// Workers bounds ValidateAll parallelism; runtime.NumCPU() when <= 0.
	Workers int

	Logger *logger.Logger
}

// Option is a functional option for configuring the validator.
type Option func(*Config)

// WithLookup sets the resolver for composite components.
func WithLookup(l Lookup) Option {
	return func(c *Config) {
		c.Lookup = l
	}
}

// WithHooks adds engine hooks.
func WithHooks(hooks ...engine.Hook) Option {
	return func(c *Config) {
		c.Hooks = append(c.Hooks, hooks...)
	}
}

// WithVerifier enables syntax verification.
func WithVerifier(v *expr.Verifier) Option {
	return func(c *Config) {
		c.Verifier = v
	}
}

// WithMaxCompositeDepth sets how deep composite components may nest.
func WithMaxCompositeDepth(depth int) Option {
	return func(c *Config) {
		c.MaxCompositeDepth = depth
	}
}

// WithWorkers sets ValidateAll parallelism.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Validator checks search parameter definitions. It is safe for concurrent
// use as long as its hooks and lookup are.
type Validator struct {
	catalog schema.Catalog
	config  *Config
	log     *logger.Logger
}

// NewValidator creates a validator over catalog.
func NewValidator(catalog schema.Catalog, opts ...Option) *Validator {
	cfg := &Config{MaxCompositeDepth: DefaultMaxCompositeDepth}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxCompositeDepth <= 0 {
		cfg.MaxCompositeDepth = DefaultMaxCompositeDepth
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Default().Named("searchparam")
	}
	return &Validator{catalog: catalog, config: cfg, log: log}
}

// Validate checks one definition once per base resource type. Findings are
// diagnostics in the result; the error is only set when ctx is done.
func (v *Validator) Validate(ctx context.Context, def *Definition) (*issue.Result, error) {
	result := issue.NewResult()
	name := DisplayName(def)

	if !KnownType(def.Type) {
		result.AddWithID(issue.DiagSearchUnknownParamType, map[string]any{"name": name, "searchType": def.Type}, nil, name)
		return result, nil
	}
	if strings.TrimSpace(def.Expression) == "" {
		if def.Type != TypeSpecial {
			result.AddWithID(issue.DiagSearchNoExpression, map[string]any{"name": name, "searchType": def.Type}, nil, name)
		}
		return result, nil
	}

	for _, base := range def.Base {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !v.catalog.IsKnownRootType(base) {
			result.AddWithID(issue.DiagSearchUnknownResource, map[string]any{"name": name, "resource": base}, nil, def.Expression)
			continue
		}
		if err := v.validateBase(ctx, def, base, result); err != nil {
			return result, err
		}
	}
	v.log.Debug("%s: %d errors, %d warnings", name, result.ErrorCount(), result.WarningCount())
	return result, nil
}

func (v *Validator) validateBase(ctx context.Context, def *Definition, base string, result *issue.Result) error {
	ts, ok, err := v.evaluate(ctx, def, def.Expression, base, result)
	if err != nil || !ok {
		return err
	}
	v.checkType(def, def.Expression, ts, result)

	if def.Type == TypeComposite {
		seen := map[string]bool{keyOf(def): true}
		return v.components(ctx, def, ts, seen, 1, result)
	}
	return nil
}

// evaluate types text with a fresh engine rooted at rootType, bound to
// %context and %resource. ok is false when the expression did not parse.
func (v *Validator) evaluate(ctx context.Context, def *Definition, text, rootType string, result *issue.Result) (ts typeset.TypeSet, ok bool, err error) {
	node, perr := expr.ParseAndVerify(text, v.config.Verifier)
	if perr != nil {
		result.AddWithID(issue.DiagSearchParseError, map[string]any{"name": DisplayName(def), "error": perr.Error()}, nil, text)
		return typeset.Empty(), false, nil
	}

	e, err := engine.New(v.catalog,
		engine.WithRootTypes(rootType),
		engine.WithVariable("context", rootType),
		engine.WithVariable("resource", rootType),
		engine.WithHooks(v.config.Hooks...),
		engine.WithSource(text),
		engine.WithLogger(v.log),
	)
	if err != nil {
		return typeset.Empty(), false, fmt.Errorf("search parameter %s: %w", DisplayName(def), err)
	}
	ts, err = e.Evaluate(ctx, node)
	if err != nil {
		return typeset.Empty(), false, err
	}
	result.Merge(e.Issues())
	return ts, true, nil
}

// checkType verifies every distinct result type against the taxonomy of
// the definition's search type.
func (v *Validator) checkType(def *Definition, text string, ts typeset.TypeSet, result *issue.Result) {
	if def.Type == TypeComposite || def.Type == TypeSpecial {
		return
	}
	name := DisplayName(def)
	if ts.IsEmpty() {
		result.AddWithID(issue.DiagSearchUnknownReturn, map[string]any{"name": name, "expression": text}, nil, text)
		return
	}

	allowed := strings.Join(AllowedTypes(def.Type), ", ")
	for _, typeName := range ts.TypeNames() {
		if Allows(v.catalog, def.Type, typeName) {
			continue
		}
		result.AddWithID(issue.DiagSearchTypeMismatch, map[string]any{
			"name":       name,
			"searchType": def.Type,
			"type":       typeName,
			"allowed":    allowed,
		}, nil, text)
	}
}

// components checks the components of composite def against every
// candidate type of the composite expression. seen holds the composites on
// the current path.
func (v *Validator) components(ctx context.Context, def *Definition, parent typeset.TypeSet, seen map[string]bool, depth int, result *issue.Result) error {
	name := DisplayName(def)
	for _, comp := range def.Component {
		cdef := v.lookup(ctx, comp.Definition)
		if cdef == nil {
			result.AddWithID(issue.DiagSearchCannotResolve, map[string]any{"url": comp.Definition, "name": name}, nil, comp.Expression)
			continue
		}

		nested := cdef.Type == TypeComposite
		if nested && (seen[keyOf(cdef)] || depth >= v.config.MaxCompositeDepth) {
			result.AddWithID(issue.DiagSearchCompositeDepth, map[string]any{"name": name, "url": comp.Definition}, nil, comp.Expression)
			continue
		}

		for _, typeName := range parent.TypeNames() {
			ts, ok, err := v.evaluate(ctx, cdef, comp.Expression, typeName, result)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			v.checkType(cdef, comp.Expression, ts, result)
			if !nested {
				continue
			}

			seen[keyOf(cdef)] = true
			err = v.components(ctx, cdef, ts, seen, depth+1, result)
			delete(seen, keyOf(cdef))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) lookup(ctx context.Context, url string) *Definition {
	if v.config.Lookup == nil {
		return nil
	}
	def, err := v.config.Lookup.LookupSearchParameter(ctx, url)
	if err != nil {
		v.log.Debug("component %s: %v", url, err)
		return nil
	}
	return def
}

// Report is the outcome of validating one definition.
type Report struct {
	Definition *Definition
	Result     *issue.Result
	Err        error
	Duration   time.Duration
}

// Summary aggregates the reports of ValidateAll.
type Summary struct {
	Reports  []Report
	Errors   int
	Warnings int
	Failed   int
	Duration time.Duration
}

// Success reports whether no definition has errors or failed.
func (s *Summary) Success() bool {
	return s.Errors == 0 && s.Failed == 0
}

// ValidateAll validates defs in parallel, each with its own engines.
// Reports are in input order.
func (v *Validator) ValidateAll(ctx context.Context, defs []*Definition) *Summary {
	batch := worker.NewBatch(func(ctx context.Context, def *Definition) *issue.Result {
		result, err := v.Validate(ctx, def)
		if err != nil {
			result.AddError(issue.CodeProcessing, err.Error(), DisplayName(def))
		}
		return result
	}, v.config.Workers)

	br := batch.Run(ctx, defs)
	summary := &Summary{Reports: make([]Report, len(br.Results)), Duration: br.TotalDuration}
	for i, r := range br.Results {
		rep := Report{Definition: defs[r.Index], Result: r.Value, Err: r.Err, Duration: r.Duration}
		if rep.Result == nil {
			rep.Result = issue.NewResult()
		}
		if rep.Err != nil {
			summary.Failed++
		}
		summary.Errors += rep.Result.ErrorCount()
		summary.Warnings += rep.Result.WarningCount()
		summary.Reports[i] = rep
	}

	v.log.Info("validated %d search parameters in %s: %d errors, %d warnings, %d failed",
		len(defs), summary.Duration, summary.Errors, summary.Warnings, summary.Failed)
	return summary
}
