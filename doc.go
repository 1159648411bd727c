// Package pathcheck provides static type inference for FHIRPath expressions
// over FHIR StructureDefinitions.
//
// Given an expression and the possible types of its root, the checker
// computes the set of types the expression can produce, with collection
// cardinality, without evaluating it against data. Problems found on the way
// (unknown fields, impossible type tests, functions called on the wrong
// input) are reported as OperationOutcome-style issues.
//
// # Quick Start
//
//	import "github.com/gofhir/pathcheck/pkg/checker"
//
//	c, err := checker.New(ctx, checker.WithVersion("4.0.1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := c.Check(ctx, "telecom.where(system = 'phone').value", []string{"Patient"})
//	if err != nil {
//	    log.Fatal(err) // unparsable expression or unknown root type
//	}
//	fmt.Println(out.Types) // string[]
//	for _, iss := range out.Result.Issues {
//	    fmt.Println(iss)
//	}
//
// # Functional Options
//
//	c, err := checker.New(ctx,
//	    checker.WithVersion("4.0.1"),
//	    checker.WithPackage("hl7.fhir.us.core", "6.1.0"),
//	    checker.WithProfileResolver(resolver),
//	    checker.WithVerification(true),
//	    checker.WithWorkers(runtime.NumCPU()),
//	)
//
// # Search Parameters and Invariants
//
// The same engine checks the expressions of SearchParameter definitions
// against the FHIR search type taxonomy (a token parameter must return
// codes, Codings, identifiers ...), including the components of composite
// parameters, and the constraints declared in StructureDefinition
// snapshots:
//
//	summary := c.ValidateSearchParameters(ctx, nil) // every loaded definition
//	reports, err := c.CheckInvariants(ctx, "Observation")
//
// # Packages
//
//   - pkg/expr: FHIRPath lexer, parser and syntax tree
//   - pkg/schema: type catalog built from StructureDefinitions
//   - pkg/typeset: sets of possible types with cardinality
//   - pkg/rules: declarative function typing table
//   - pkg/engine: the inference traversal and its hook interface
//   - pkg/profile, pkg/extprofile: extension profile resolution and narrowing
//   - pkg/searchparam: search parameter validation
//   - pkg/invariant: constraint checking
//   - pkg/checker: the facade wiring everything together
//   - cmd/fhirpath-check: command line tool
package pathcheck
