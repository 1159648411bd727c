// Package checker provides the FHIRPath type checker.
//
// A Checker loads FHIR packages, builds the schema catalog and wires the
// engine, extension profile resolution, the search parameter validator and
// the invariant checker together.
package checker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/gofhir/pathcheck/pkg/cache"
	"github.com/gofhir/pathcheck/pkg/engine"
	"github.com/gofhir/pathcheck/pkg/expr"
	"github.com/gofhir/pathcheck/pkg/extprofile"
	"github.com/gofhir/pathcheck/pkg/invariant"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/loader"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/profile"
	"github.com/gofhir/pathcheck/pkg/registry"
	"github.com/gofhir/pathcheck/pkg/schema"
	"github.com/gofhir/pathcheck/pkg/searchparam"
	"github.com/gofhir/pathcheck/pkg/typeset"
)

// ErrUnknownType is returned when a requested definition type is not loaded.
var ErrUnknownType = errors.New("unknown type")

// Checker is the FHIRPath type checker.
type Checker struct {
	registry *registry.Registry
	catalog  *schema.RegistryCatalog
	profiles *profile.Cached
	hook     *extprofile.Hook
	verifier *expr.Verifier
	search   *searchparam.Validator
	inv      *invariant.Checker
	config   *Config
	log      *logger.Logger
}

// Config holds the checker configuration.
type Config struct {
	FHIRVersion          string              // e.g., "4.0.1", "4.3.0", "5.0.0"
	PackagePath          string              // Path to FHIR package cache
	SkipCorePackages     bool                // Do not load the default packages of FHIRVersion
	AdditionalPackages   []loader.PackageRef // Additional packages from the cache
	PackageTgzPaths      []string            // Paths to local .tgz package files
	PackageURLs          []string            // URLs to remote .tgz package files
	PackageData          [][]byte            // In-memory .tgz package bytes
	Packages             []*loader.Package   // Already loaded packages
	ConformanceResources [][]byte            // Loose StructureDefinition / SearchParameter JSON
	ProfileResolvers     []profile.Resolver  // Consulted after the registry
	ProfileCacheSize     int                 // Resolved extension profiles kept in memory
	Verify               bool                // Check syntax with the reference FHIRPath engine
	Workers              int                 // Batch parallelism, runtime.NumCPU() when <= 0
	MaxCompositeDepth    int                 // Nested composite search parameter bound
	Logger               *logger.Logger      // Defaults to the package logger
}

// Option is a functional option for configuring the checker.
type Option func(*Config)

// WithVersion sets the FHIR version.
func WithVersion(version string) Option {
	return func(c *Config) {
		c.FHIRVersion = version
	}
}

// WithPackagePath sets the FHIR package cache path.
func WithPackagePath(path string) Option {
	return func(c *Config) {
		c.PackagePath = path
	}
}

// WithoutCorePackages skips the default packages of the FHIR version. The
// definitions must then come from other options.
func WithoutCorePackages() Option {
	return func(c *Config) {
		c.SkipCorePackages = true
	}
}

// WithPackage adds a package from the cache (e.g., US Core, IPS).
func WithPackage(name, version string) Option {
	return func(c *Config) {
		c.AdditionalPackages = append(c.AdditionalPackages, loader.PackageRef{Name: name, Version: version})
	}
}

// WithPackageTgz adds a local .tgz package file.
func WithPackageTgz(path string) Option {
	return func(c *Config) {
		c.PackageTgzPaths = append(c.PackageTgzPaths, path)
	}
}

// WithPackageURL adds a remote .tgz package URL.
func WithPackageURL(url string) Option {
	return func(c *Config) {
		c.PackageURLs = append(c.PackageURLs, url)
	}
}

// WithPackageData adds a package from .tgz bytes in memory, e.g. embedded
// with go:embed.
func WithPackageData(data []byte) Option {
	return func(c *Config) {
		c.PackageData = append(c.PackageData, data)
	}
}

// WithPackages adds packages that are already loaded.
func WithPackages(pkgs ...*loader.Package) Option {
	return func(c *Config) {
		c.Packages = append(c.Packages, pkgs...)
	}
}

// WithConformanceResources adds loose conformance resources (JSON bytes).
func WithConformanceResources(resources [][]byte) Option {
	return func(c *Config) {
		c.ConformanceResources = append(c.ConformanceResources, resources...)
	}
}

// WithProfileResolver adds an extension profile resolver consulted when the
// loaded packages do not define a profile, e.g. a profile.R4Resolver fed
// from a database.
func WithProfileResolver(r profile.Resolver) Option {
	return func(c *Config) {
		c.ProfileResolvers = append(c.ProfileResolvers, r)
	}
}

// WithProfileCacheSize sets how many resolved profiles are cached.
func WithProfileCacheSize(n int) Option {
	return func(c *Config) {
		c.ProfileCacheSize = n
	}
}

// WithVerification enables syntax verification with github.com/gofhir/fhirpath.
func WithVerification(enabled bool) Option {
	return func(c *Config) {
		c.Verify = enabled
	}
}

// WithWorkers sets batch parallelism.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithMaxCompositeDepth bounds nested composite search parameters.
func WithMaxCompositeDepth(depth int) Option {
	return func(c *Config) {
		c.MaxCompositeDepth = depth
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// New creates a Checker with the given options.
func New(ctx context.Context, opts ...Option) (*Checker, error) {
	startTime := time.Now()
	startMem := getMemUsage()

	config := &Config{
		FHIRVersion:      "4.0.1",
		ProfileCacheSize: 1000,
	}
	for _, opt := range opts {
		opt(config)
	}
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}

	log.Info("Initializing FHIRPath checker (FHIR %s)", config.FHIRVersion)
	packages, err := loadPackages(ctx, config, log)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	if err := reg.LoadFromPackages(packages); err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	log.Info("  Indexed %d StructureDefinitions, %d types, %d search parameters",
		reg.Count(), reg.TypeCount(), len(reg.SearchParameters()))

	cat, err := schema.FromRegistry(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}

	chain := profile.NewChain(profile.NewRegistryResolver(reg))
	for _, r := range config.ProfileResolvers {
		chain.Add(r)
	}
	profiles := profile.NewCached(chain, config.ProfileCacheSize)
	hook := extprofile.New(extprofile.WithResolver(profiles), extprofile.WithLogger(log.Named("extprofile")))

	c := &Checker{
		registry: reg,
		catalog:  cat,
		profiles: profiles,
		hook:     hook,
		config:   config,
		log:      log,
	}
	if config.Verify {
		c.verifier = expr.NewVerifier(config.ProfileCacheSize)
	}

	c.search = searchparam.NewValidator(cat,
		searchparam.WithLookup(searchparam.FromRegistry(reg)),
		searchparam.WithHooks(hook),
		searchparam.WithVerifier(c.verifier),
		searchparam.WithMaxCompositeDepth(config.MaxCompositeDepth),
		searchparam.WithWorkers(config.Workers),
		searchparam.WithLogger(log.Named("searchparam")),
	)
	c.inv = invariant.New(cat,
		invariant.WithHooks(hook),
		invariant.WithVerifier(c.verifier),
		invariant.WithWorkers(config.Workers),
		invariant.WithLogger(log.Named("invariant")),
	)

	log.Info("Checker ready in %v (memory: %s)", time.Since(startTime).Round(time.Millisecond), formatBytes(getMemUsage()-startMem))
	return c, nil
}

func loadPackages(ctx context.Context, config *Config, log *logger.Logger) ([]*loader.Package, error) {
	l := loader.NewLoader(config.PackagePath)
	log.Debug("Package cache: %s", l.BasePath())

	var packages []*loader.Package
	if !config.SkipCorePackages {
		core, err := l.LoadVersion(config.FHIRVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to load FHIR packages: %w", err)
		}
		packages = append(packages, core...)
	}

	for _, ref := range config.AdditionalPackages {
		pkg, err := l.LoadPackageRef(ref)
		if err != nil {
			log.Warn("Could not load additional package %s: %v", ref, err)
			continue
		}
		packages = append(packages, pkg)
	}
	for _, path := range config.PackageTgzPaths {
		pkg, err := l.LoadFromTgz(path)
		if err != nil {
			log.Warn("Could not load package from tgz %s: %v", path, err)
			continue
		}
		packages = append(packages, pkg)
	}
	for _, url := range config.PackageURLs {
		pkg, err := l.LoadFromURL(ctx, url)
		if err != nil {
			log.Warn("Could not load package from URL %s: %v", url, err)
			continue
		}
		packages = append(packages, pkg)
	}
	for i, data := range config.PackageData {
		pkg, err := loader.LoadFromTgzData(data, fmt.Sprintf("memory[%d]", i))
		if err != nil {
			log.Warn("Could not load package from memory data[%d]: %v", i, err)
			continue
		}
		packages = append(packages, pkg)
	}
	packages = append(packages, config.Packages...)
	if len(config.ConformanceResources) > 0 {
		pkg, err := loader.LoadFromResources("conformance-resources", config.ConformanceResources...)
		if err != nil {
			return nil, fmt.Errorf("failed to load conformance resources: %w", err)
		}
		packages = append(packages, pkg)
	}

	if len(packages) == 0 {
		return nil, errors.New("no FHIR packages to load")
	}
	for _, pkg := range packages {
		log.Info("  Loaded %s#%s (%d resources)", pkg.Name, pkg.Version, len(pkg.Resources))
	}
	return packages, nil
}

// Outcome is the result of checking one expression.
type Outcome struct {
	Expression string
	RootTypes  []string
	Types      typeset.TypeSet
	Result     *issue.Result
	Trace      string
}

// checkConfig holds per-call options.
type checkConfig struct {
	trace     bool
	variables []engine.Binding
}

// CheckOption configures a single Check call.
type CheckOption func(*checkConfig)

// CheckWithTrace records the traversal trace in the outcome.
func CheckWithTrace() CheckOption {
	return func(c *checkConfig) {
		c.trace = true
	}
}

// CheckWithVariable binds %name to a type for this call.
func CheckWithVariable(name, typeName string) CheckOption {
	return func(c *checkConfig) {
		c.variables = append(c.variables, engine.Binding{Name: name, Type: typeName})
	}
}

// Check infers the type of text evaluated on rootTypes. Type problems are
// diagnostics in the outcome; the error is set for unparsable expressions,
// unknown root types and cancellation.
func (c *Checker) Check(ctx context.Context, text string, rootTypes []string, opts ...CheckOption) (*Outcome, error) {
	var cc checkConfig
	for _, opt := range opts {
		opt(&cc)
	}

	node, err := expr.ParseAndVerify(text, c.verifier)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}

	engineOpts := []engine.Option{
		engine.WithRootTypes(rootTypes...),
		engine.WithHooks(c.hook),
		engine.WithTrace(cc.trace),
		engine.WithSource(text),
		engine.WithLogger(c.log.Named("engine")),
	}
	for _, b := range cc.variables {
		engineOpts = append(engineOpts, engine.WithVariable(b.Name, b.Type))
	}
	e, err := engine.New(c.catalog, engineOpts...)
	if err != nil {
		return nil, err
	}
	ts, err := e.Evaluate(ctx, node)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Expression: text,
		RootTypes:  rootTypes,
		Types:      ts,
		Result:     e.Issues(),
		Trace:      e.Trace(),
	}, nil
}

// ValidateSearchParameters validates defs, or every loaded search
// parameter when defs is empty.
func (c *Checker) ValidateSearchParameters(ctx context.Context, defs []*searchparam.Definition) *searchparam.Summary {
	if len(defs) == 0 {
		defs = c.registry.SearchParameters()
	}
	return c.search.ValidateAll(ctx, defs)
}

// CheckInvariants checks the constraints of the named types, or of every
// resource type when none is given.
func (c *Checker) CheckInvariants(ctx context.Context, types ...string) ([]*invariant.Report, error) {
	if len(types) == 0 {
		types = c.registry.ResourceTypes()
	}
	sds := make([]*registry.StructureDefinition, 0, len(types))
	for _, t := range types {
		sd := c.registry.GetByType(t)
		if sd == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
		}
		sds = append(sds, sd)
	}

	reports, errs := c.inv.CheckAll(ctx, sds)
	if err := errors.Join(errs...); err != nil {
		return reports, err
	}
	return reports, nil
}

// Registry returns the definition registry.
func (c *Checker) Registry() *registry.Registry {
	return c.registry
}

// Catalog returns the schema catalog.
func (c *Checker) Catalog() schema.Catalog {
	return c.catalog
}

// ProfileStats returns the extension profile cache statistics.
func (c *Checker) ProfileStats() cache.Stats {
	return c.profiles.Stats()
}

// getMemUsage returns the current memory allocation in bytes.
func getMemUsage() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
