package expr

import (
	"fmt"

	"github.com/gofhir/fhirpath"

	"github.com/gofhir/pathcheck/pkg/cache"
)

// Verifier checks expressions against the reference FHIRPath grammar of
// github.com/gofhir/fhirpath. The type checker's own parser is lenient; a
// Verifier catches constructs it accepts but the evaluator would reject.
// Results are cached by expression text. A Verifier is safe for concurrent
// use.
type Verifier struct {
	results *cache.Cache[string, error]
}

// NewVerifier creates a Verifier caching up to size results.
func NewVerifier(size int) *Verifier {
	return &Verifier{results: cache.New[string, error](size)}
}

// Verify compiles text with the reference implementation. The compiled
// expression is discarded; only syntax errors are reported.
func (v *Verifier) Verify(text string) error {
	if err, ok := v.results.Get(text); ok {
		return err
	}
	_, err := fhirpath.Compile(text)
	if err != nil {
		err = fmt.Errorf("fhirpath: %w", err)
	}
	v.results.Set(text, err)
	return err
}

// Stats returns the verification cache statistics.
func (v *Verifier) Stats() cache.Stats {
	return v.results.Stats()
}

// ParseAndVerify parses text and, when v is not nil, verifies it.
func ParseAndVerify(text string, v *Verifier) (Node, error) {
	n, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := v.Verify(text); err != nil {
			return nil, err
		}
	}
	return n, nil
}
