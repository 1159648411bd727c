// Package main implements the fhirpath-check CLI tool.
// It infers the result types of FHIRPath expressions and validates the
// expressions of SearchParameter definitions and StructureDefinition
// invariants.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"sigs.k8s.io/yaml"

	"github.com/gofhir/pathcheck/pkg/checker"
	"github.com/gofhir/pathcheck/pkg/invariant"
	"github.com/gofhir/pathcheck/pkg/issue"
	"github.com/gofhir/pathcheck/pkg/loader"
	"github.com/gofhir/pathcheck/pkg/location"
	"github.com/gofhir/pathcheck/pkg/logger"
	"github.com/gofhir/pathcheck/pkg/profile"
	"github.com/gofhir/pathcheck/pkg/searchparam"
)

const (
	version = "0.1.0"
	usage   = `fhirpath-check - FHIRPath static type checker

Usage:
  fhirpath-check [options] -type <Type> <expression>...
  fhirpath-check [options] -type <Type> -      (expressions from stdin, one per line)
  fhirpath-check [options] -searchparams <file|loaded>
  fhirpath-check [options] -invariants <Type,...|all>

Examples:
  fhirpath-check -type Patient "name.given"
  fhirpath-check -type Patient,Practitioner -trace "telecom.where(system = 'phone').value"
  fhirpath-check -var pat=Patient "%pat.name.family"
  fhirpath-check -type Patient -profiles extensions.json "extension('http://example.org/ext').value"
  fhirpath-check -searchparams search-parameters.json
  fhirpath-check -searchparams loaded -package hl7.fhir.us.core#6.1.0
  fhirpath-check -invariants Observation -output json
  fhirpath-check -config pathcheck.yaml -searchparams loaded

Options:
`
)

// OutputFormat specifies the output format.
type OutputFormat string

// Output format constants.
const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// Config holds CLI configuration
type Config struct {
	FHIRVersion       string
	PackagePath       string
	Packages          []string
	PackageFiles      []string
	PackageURLs       []string
	ProfileFiles      []string
	RootTypes         []string
	Variables         map[string]string
	Expressions       []string
	SearchParams      []string
	Invariants        []string
	Output            OutputFormat
	Trace             bool
	Verify            bool
	Strict            bool
	Workers           int
	MaxCompositeDepth int
	LogLevel          string
	Color             bool
	Quiet             bool
	Verbose           bool
	ShowVersion       bool
	Help              bool
}

// FileConfig is the YAML (or JSON) configuration file accepted by -config.
// Command line flags take precedence over its values.
type FileConfig struct {
	FHIRVersion       string            `json:"fhirVersion,omitempty"`
	PackagePath       string            `json:"packagePath,omitempty"`
	Packages          []string          `json:"packages,omitempty"`
	PackageFiles      []string          `json:"packageFiles,omitempty"`
	PackageURLs       []string          `json:"packageUrls,omitempty"`
	Profiles          []string          `json:"profiles,omitempty"`
	Types             []string          `json:"types,omitempty"`
	Variables         map[string]string `json:"variables,omitempty"`
	Verify            bool              `json:"verify,omitempty"`
	Strict            bool              `json:"strict,omitempty"`
	Workers           int               `json:"workers,omitempty"`
	MaxCompositeDepth int               `json:"maxCompositeDepth,omitempty"`
	LogLevel          string            `json:"logLevel,omitempty"`
}

// Output is the JSON output structure.
type Output struct {
	Expressions      []ExpressionOutput  `json:"expressions,omitempty"`
	SearchParameters []SearchParamOutput `json:"searchParameters,omitempty"`
	Invariants       []InvariantOutput   `json:"invariants,omitempty"`
}

// ExpressionOutput is the outcome of one expression.
type ExpressionOutput struct {
	Expression string        `json:"expression"`
	RootTypes  []string      `json:"rootTypes,omitempty"`
	Types      []string      `json:"types"`
	Display    string        `json:"display"`
	Collection bool          `json:"collection"`
	Valid      bool          `json:"valid"`
	Issues     []IssueOutput `json:"issues,omitempty"`
	Trace      []string      `json:"trace,omitempty"`
}

// SearchParamOutput is the outcome of one search parameter.
type SearchParamOutput struct {
	Name     string        `json:"name"`
	URL      string        `json:"url,omitempty"`
	Type     string        `json:"type"`
	File     string        `json:"file,omitempty"`
	Valid    bool          `json:"valid"`
	Issues   []IssueOutput `json:"issues,omitempty"`
	Duration string        `json:"duration"`
}

// InvariantOutput is the outcome of the invariants of one type.
type InvariantOutput struct {
	Type     string          `json:"type"`
	Valid    bool            `json:"valid"`
	Findings []FindingOutput `json:"findings,omitempty"`
	Issues   []IssueOutput   `json:"issues,omitempty"`
}

// FindingOutput is one checked invariant.
type FindingOutput struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Types string `json:"types"`
}

// IssueOutput represents a single issue in JSON output
type IssueOutput struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics"`
	Expression  []string `json:"expression,omitempty"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
	MessageID   string   `json:"messageId,omitempty"`
}

func main() {
	config, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if config.ShowVersion {
		fmt.Printf("fhirpath-check v%s\n", version)
		os.Exit(0)
	}

	if config.Help || !config.hasWork() {
		io.WriteString(os.Stderr, usage)
		os.Exit(0)
	}

	config.Color = config.Output == OutputText &&
		(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	exitCode := run(ctx, config, nil, os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}

func (c *Config) hasWork() bool {
	return len(c.Expressions) > 0 || len(c.SearchParams) > 0 || len(c.Invariants) > 0
}

func parseArgs(args []string, stderr io.Writer) (*Config, error) {
	config := &Config{
		FHIRVersion: "4.0.1",
		Output:      OutputText,
		Variables:   map[string]string{},
	}

	fs := flag.NewFlagSet("fhirpath-check", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var packages, packageFiles, packageURLs, profiles, types, vars, searchParams, invariants string
	var output, configPath string

	fs.StringVar(&config.FHIRVersion, "version", "4.0.1", "FHIR version (4.0.1, 4.3.0, 5.0.0)")
	fs.StringVar(&config.PackagePath, "package-path", "", "FHIR package cache (default ~/.fhir/packages)")
	fs.StringVar(&packages, "package", "", "Additional FHIR package(s) to load (e.g., hl7.fhir.us.core#6.1.0)")
	fs.StringVar(&packageFiles, "package-file", "", "Local .tgz package file(s) to load (comma-separated)")
	fs.StringVar(&packageURLs, "package-url", "", "Remote .tgz package URL(s) to load (comma-separated)")
	fs.StringVar(&profiles, "profiles", "", "Extension StructureDefinition or Bundle JSON file(s) (comma-separated)")
	fs.StringVar(&types, "type", "", "Possible root type(s) of the expressions (comma-separated)")
	fs.StringVar(&vars, "var", "", "External variables as name=Type (comma-separated)")
	fs.StringVar(&searchParams, "searchparams", "", "SearchParameter file(s) to validate, or 'loaded' (comma-separated)")
	fs.StringVar(&invariants, "invariants", "", "Type(s) whose invariants to check, or 'all' (comma-separated)")
	fs.StringVar(&output, "output", "text", "Output format: text, json")
	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.StringVar(&config.LogLevel, "log-level", "", "Log level: debug, info, warn, error, none")
	fs.IntVar(&config.Workers, "workers", 0, "Parallel workers (default: number of CPUs)")
	fs.IntVar(&config.MaxCompositeDepth, "max-composite-depth", 0, "Nesting bound for composite search parameters")
	fs.BoolVar(&config.Trace, "trace", false, "Print the typed traversal of each expression")
	fs.BoolVar(&config.Verify, "verify", false, "Also check syntax with the reference FHIRPath engine")
	fs.BoolVar(&config.Strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&config.Quiet, "quiet", false, "Only show errors and warnings")
	fs.BoolVar(&config.Verbose, "verbose", false, "Show detailed output")
	fs.BoolVar(&config.ShowVersion, "v", false, "Show version")
	fs.BoolVar(&config.Help, "help", false, "Show help")

	fs.Usage = func() {
		io.WriteString(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	config.Packages = splitList(packages)
	config.PackageFiles = splitList(packageFiles)
	config.PackageURLs = splitList(packageURLs)
	config.ProfileFiles = splitList(profiles)
	config.RootTypes = splitList(types)
	config.SearchParams = splitList(searchParams)
	config.Invariants = splitList(invariants)
	if err := parseVariables(vars, config.Variables); err != nil {
		return nil, err
	}

	switch strings.ToLower(output) {
	case "json":
		config.Output = OutputJSON
	case "text", "":
		config.Output = OutputText
	default:
		return nil, fmt.Errorf("unknown output format %q", output)
	}

	// Remaining arguments are expressions
	config.Expressions = fs.Args()

	if configPath != "" {
		set := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := applyConfigFile(config, configPath, set); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseVariables(s string, into map[string]string) error {
	for _, pair := range splitList(s) {
		name, typeName, ok := strings.Cut(pair, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "%")
		if !ok || name == "" || strings.TrimSpace(typeName) == "" {
			return fmt.Errorf("invalid variable %q, want name=Type", pair)
		}
		into[name] = strings.TrimSpace(typeName)
	}
	return nil
}

// applyConfigFile fills the fields whose flags were not set from the file
// at path.
func applyConfigFile(config *Config, path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if !set["version"] && fc.FHIRVersion != "" {
		config.FHIRVersion = fc.FHIRVersion
	}
	if !set["package-path"] && fc.PackagePath != "" {
		config.PackagePath = fc.PackagePath
	}
	if !set["package"] {
		config.Packages = fc.Packages
	}
	if !set["package-file"] {
		config.PackageFiles = fc.PackageFiles
	}
	if !set["package-url"] {
		config.PackageURLs = fc.PackageURLs
	}
	if !set["profiles"] {
		config.ProfileFiles = fc.Profiles
	}
	if !set["type"] {
		config.RootTypes = fc.Types
	}
	for name, typeName := range fc.Variables {
		if _, ok := config.Variables[name]; !ok {
			config.Variables[name] = typeName
		}
	}
	if !set["verify"] {
		config.Verify = fc.Verify
	}
	if !set["strict"] {
		config.Strict = fc.Strict
	}
	if !set["workers"] {
		config.Workers = fc.Workers
	}
	if !set["max-composite-depth"] {
		config.MaxCompositeDepth = fc.MaxCompositeDepth
	}
	if !set["log-level"] {
		config.LogLevel = fc.LogLevel
	}
	return nil
}

// run executes config and returns the process exit code. extra options are
// appended to the checker options built from config.
func run(ctx context.Context, config *Config, extra []checker.Option, stdin io.Reader, stdout, stderr io.Writer) int {
	log, err := newLogger(config, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	opts := []checker.Option{
		checker.WithVersion(config.FHIRVersion),
		checker.WithPackagePath(config.PackagePath),
		checker.WithVerification(config.Verify),
		checker.WithWorkers(config.Workers),
		checker.WithMaxCompositeDepth(config.MaxCompositeDepth),
		checker.WithLogger(log),
	}
	for _, pkg := range config.Packages {
		// Parse package format: name#version
		name, ver := loader.ParsePackageSpec(pkg)
		if ver == "" {
			fmt.Fprintf(stderr, "Warning: ignoring package %q without version\n", pkg)
			continue
		}
		opts = append(opts, checker.WithPackage(name, ver))
	}
	for _, path := range config.PackageFiles {
		opts = append(opts, checker.WithPackageTgz(path))
	}
	for _, url := range config.PackageURLs {
		opts = append(opts, checker.WithPackageURL(url))
	}
	if len(config.ProfileFiles) > 0 {
		resolver, err := loadProfiles(config.ProfileFiles)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		log.Info("Loaded %d extension profiles from %d files", resolver.Len(), len(config.ProfileFiles))
		opts = append(opts, checker.WithProfileResolver(resolver))
	}
	opts = append(opts, extra...)

	c, err := checker.New(ctx, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: Failed to initialize checker: %v\n", err)
		return 1
	}

	p := &printer{w: stdout, config: config}
	out := Output{}
	failed := false

	expressions, err := readExpressions(config.Expressions, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading stdin: %v\n", err)
		return 1
	}
	for _, text := range expressions {
		eo, bad := checkExpression(ctx, c, text, config)
		out.Expressions = append(out.Expressions, eo)
		p.expression(eo)
		failed = failed || bad
	}

	if len(config.SearchParams) > 0 {
		reports, bad, err := validateSearchParams(ctx, c, config)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		out.SearchParameters = reports
		for _, r := range reports {
			p.searchParam(r)
		}
		failed = failed || bad
	}

	if len(config.Invariants) > 0 {
		reports, bad, err := checkInvariants(ctx, c, config)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		out.Invariants = reports
		for _, r := range reports {
			p.invariant(r)
		}
		failed = failed || bad
	}

	if config.Output == OutputJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if failed {
		return 1
	}
	return 0
}

func newLogger(config *Config, stderr io.Writer) (*logger.Logger, error) {
	level := logger.LevelWarn
	switch {
	case config.LogLevel != "":
		l, err := logger.ParseLevel(config.LogLevel)
		if err != nil {
			return nil, err
		}
		level = l
	case config.Verbose:
		level = logger.LevelInfo
	case config.Quiet:
		level = logger.LevelError
	}
	return logger.New(stderr, level), nil
}

// readExpressions expands "-" into the non-blank lines of stdin.
func readExpressions(args []string, stdin io.Reader) ([]string, error) {
	var out []string
	for _, arg := range args {
		if arg != "-" {
			out = append(out, arg)
			continue
		}
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "//") {
				out = append(out, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func checkExpression(ctx context.Context, c *checker.Checker, text string, config *Config) (ExpressionOutput, bool) {
	eo := ExpressionOutput{Expression: text, RootTypes: config.RootTypes, Types: []string{}}

	opts := []checker.CheckOption{}
	if config.Trace {
		opts = append(opts, checker.CheckWithTrace())
	}
	for name, typeName := range config.Variables {
		opts = append(opts, checker.CheckWithVariable(name, typeName))
	}

	outcome, err := c.Check(ctx, text, config.RootTypes, opts...)
	if err != nil {
		eo.Issues = []IssueOutput{{
			Severity:    string(issue.SeverityError),
			Code:        string(issue.CodeInvalid),
			Diagnostics: err.Error(),
			Expression:  []string{text},
		}}
		return eo, true
	}

	eo.Display = outcome.Types.String()
	if names := outcome.Types.TypeNames(); len(names) > 0 {
		eo.Types = names
	}
	eo.Collection = outcome.Types.IsCollection()
	eo.Issues = convertIssues(outcome.Result)
	if outcome.Trace != "" {
		eo.Trace = strings.Split(outcome.Trace, "\n")
	}
	bad := hasFailures(outcome.Result, config.Strict)
	eo.Valid = !bad
	return eo, bad
}

// origin records where a search parameter was read from, for relocating
// issue positions into the file.
type origin struct {
	file   string
	data   []byte
	source searchparam.Source
}

func loadSearchParams(c *checker.Checker, sources []string) ([]*searchparam.Definition, []origin, error) {
	var defs []*searchparam.Definition
	var origins []origin
	for _, src := range sources {
		if src == "loaded" {
			for _, def := range c.Registry().SearchParameters() {
				defs = append(defs, def)
				origins = append(origins, origin{})
			}
			continue
		}

		if ext := strings.ToLower(filepath.Ext(src)); ext == ".yaml" || ext == ".yml" {
			loaded, err := searchparam.LoadFile(src)
			if err != nil {
				return nil, nil, err
			}
			for _, def := range loaded {
				defs = append(defs, def)
				origins = append(origins, origin{file: src})
			}
			continue
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return nil, nil, err
		}
		loaded, err := searchparam.LoadJSONSources(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", src, err)
		}
		for _, s := range loaded {
			defs = append(defs, s.Definition)
			origins = append(origins, origin{file: src, data: data, source: s})
		}
	}
	return defs, origins, nil
}

// relocate moves the positions of issues about the expressions of o's
// definition into o's file.
func (o origin) relocate(result *issue.Result) {
	if o.data == nil {
		return
	}
	def := o.source.Definition
	done := map[string]bool{}
	relocate := func(path, text string) {
		if text == "" || done[text] {
			return
		}
		done[text] = true
		location.Relocate(o.data, path, text, result.Issues)
	}
	relocate(o.source.ExpressionPath(), def.Expression)
	for i, comp := range def.Component {
		relocate(o.source.ComponentPath(i), comp.Expression)
	}
}

func validateSearchParams(ctx context.Context, c *checker.Checker, config *Config) ([]SearchParamOutput, bool, error) {
	defs, origins, err := loadSearchParams(c, config.SearchParams)
	if err != nil {
		return nil, false, err
	}
	if len(defs) == 0 {
		return nil, false, nil
	}

	summary := c.ValidateSearchParameters(ctx, defs)
	out := make([]SearchParamOutput, 0, len(summary.Reports))
	failed := false
	for i, r := range summary.Reports {
		origins[i].relocate(r.Result)
		so := SearchParamOutput{
			Name:     searchparam.DisplayName(r.Definition),
			URL:      r.Definition.URL,
			Type:     r.Definition.Type,
			File:     origins[i].file,
			Issues:   convertIssues(r.Result),
			Duration: r.Duration.Round(time.Microsecond).String(),
		}
		bad := r.Err != nil || hasFailures(r.Result, config.Strict)
		so.Valid = !bad
		failed = failed || bad
		out = append(out, so)
	}
	return out, failed, nil
}

func checkInvariants(ctx context.Context, c *checker.Checker, config *Config) ([]InvariantOutput, bool, error) {
	var types []string
	for _, t := range config.Invariants {
		if t == "all" {
			types = nil
			break
		}
		types = append(types, t)
	}

	reports, err := c.CheckInvariants(ctx, types...)
	if err != nil && reports == nil {
		return nil, false, err
	}

	out := make([]InvariantOutput, 0, len(reports))
	failed := err != nil
	for _, r := range reports {
		if r == nil {
			continue
		}
		inv := invariantOutput(r)
		bad := hasFailures(r.Result, config.Strict)
		inv.Valid = !bad
		failed = failed || bad
		out = append(out, inv)
	}
	return out, failed, nil
}

func invariantOutput(r *invariant.Report) InvariantOutput {
	out := InvariantOutput{Type: r.Type, Issues: convertIssues(r.Result)}
	for _, f := range r.Findings {
		out.Findings = append(out.Findings, FindingOutput{Key: f.Key, Path: f.Path, Types: f.Types.String()})
	}
	return out
}

func hasFailures(result *issue.Result, strict bool) bool {
	return result.HasErrors() || (strict && result.WarningCount() > 0)
}

// loadProfiles reads extension StructureDefinitions, single or in Bundles,
// into a resolver consulted after the loaded packages.
func loadProfiles(paths []string) (*profile.R4Resolver, error) {
	resolver := profile.NewR4Resolver()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read profiles: %w", err)
		}
		if _, err := resolver.LoadFromJSON(data); err != nil {
			return nil, fmt.Errorf("failed to load profiles from %s: %w", path, err)
		}
	}
	return resolver, nil
}

func convertIssues(result *issue.Result) []IssueOutput {
	var out []IssueOutput
	for _, iss := range result.Issues {
		o := IssueOutput{
			Severity:    string(iss.Severity),
			Code:        string(iss.Code),
			Diagnostics: iss.Diagnostics,
			Expression:  iss.Expression,
			MessageID:   iss.MessageID,
		}
		if iss.Location != nil {
			o.Line = iss.Location.Line
			o.Column = iss.Location.Column
		}
		out = append(out, o)
	}
	return out
}
