package expr

import "testing"

func TestVerifierCachesResults(t *testing.T) {
	v := NewVerifier(8)

	if err := v.Verify("Patient.name.given.first()"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := v.Verify("Patient.name.given.first()"); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if s := v.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("cache hits/misses = %d/%d, want 1/1", s.Hits, s.Misses)
	}
}

func TestVerifierRejectsMalformed(t *testing.T) {
	v := NewVerifier(8)
	if err := v.Verify("Patient.name.where("); err == nil {
		t.Error("Verify() should reject an unbalanced call")
	}
}

func TestParseAndVerify(t *testing.T) {
	if _, err := ParseAndVerify("name.family", nil); err != nil {
		t.Errorf("ParseAndVerify(nil verifier) error = %v", err)
	}
	if _, err := ParseAndVerify("name.", NewVerifier(1)); err == nil {
		t.Error("ParseAndVerify should surface parse errors")
	}
}
