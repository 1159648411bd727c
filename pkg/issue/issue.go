// Package issue defines diagnostics aligned with FHIR OperationOutcome.
package issue

import "strconv"

// Severity represents the severity of a diagnostic.
type Severity string

// Severity constants aligned with FHIR IssueSeverity.
const (
	SeverityFatal       Severity = "fatal"
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
)

// Code is the taxonomy key of a diagnostic.
type Code string

// Code constants aligned with FHIR IssueType.
const (
	CodeInvalid       Code = "invalid"
	CodeValue         Code = "value"
	CodeInvariant     Code = "invariant"
	CodeProcessing    Code = "processing"
	CodeNotSupported  Code = "not-supported"
	CodeNotFound      Code = "not-found"
	CodeIncomplete    Code = "incomplete"
	CodeInformational Code = "informational"
)

// Codes specific to search parameter validation. They have no IssueType
// counterpart and are reported as-is.
const (
	CodeSearchTypeMismatch     Code = "search-type-mismatch"
	CodeUnknownReturnType      Code = "unknown-return-type"
	CodeCannotResolveCanonical Code = "cannot-resolve-canonical"
)

// Issue represents a single diagnostic.
type Issue struct {
	// Severity indicates the severity level (error, warning, etc.)
	Severity Severity `json:"severity"`

	// Code indicates the type of issue
	Code Code `json:"code"`

	// Diagnostics is the human-readable description of the issue
	Diagnostics string `json:"diagnostics"`

	// Expression holds the FHIRPath expression (or search parameter / constraint
	// reference) the issue belongs to
	Expression []string `json:"expression,omitempty"`

	// Location is the position inside the expression text
	Location *Location `json:"location,omitempty"`

	// MessageID is the identifier from the diagnostic catalog
	MessageID string `json:"messageId,omitempty"`
}

// Location represents a position in the expression source.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// String returns "line:column".
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	return strconv.Itoa(l.Line) + ":" + strconv.Itoa(l.Column)
}

// IsError returns true for error and fatal issues.
func (i Issue) IsError() bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	s := string(i.Severity) + " [" + string(i.Code) + "] " + i.Diagnostics
	if i.Location != nil {
		s += " @" + i.Location.String()
	}
	if len(i.Expression) > 0 {
		s += " (" + i.Expression[0] + ")"
	}
	return s
}

// Result is the append-only list of issues produced by one traversal or one
// validation run. Issues are never removed.
type Result struct {
	Issues []Issue
}

// defaultIssueCapacity is the pre-allocated capacity for Issues slice.
const defaultIssueCapacity = 8

// NewResult creates a new empty Result with pre-allocated capacity.
func NewResult() *Result {
	return &Result{
		Issues: make([]Issue, 0, defaultIssueCapacity),
	}
}

// AddIssue adds an issue to the result.
func (r *Result) AddIssue(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// AddError adds an error-level issue.
func (r *Result) AddError(code Code, diagnostics string, expression ...string) {
	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityError,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// AddWarning adds a warning-level issue.
func (r *Result) AddWarning(code Code, diagnostics string, expression ...string) {
	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityWarning,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// AddInfo adds an information-level issue.
func (r *Result) AddInfo(code Code, diagnostics string, expression ...string) {
	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityInformation,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  expression,
	})
}

// HasErrors returns true if there are any error-level issues.
func (r *Result) HasErrors() bool {
	for _, issue := range r.Issues {
		if issue.IsError() {
			return true
		}
	}
	return false
}

// Success reports whether the result holds no error-level issue.
// Warnings and information never affect success.
func (r *Result) Success() bool {
	return !r.HasErrors()
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.IsError() {
			count++
		}
	}
	return count
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityWarning {
			count++
		}
	}
	return count
}

// InfoCount returns the number of information-level issues.
func (r *Result) InfoCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityInformation {
			count++
		}
	}
	return count
}

// Merge appends the issues of another result, preserving order.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Filter returns a new Result with only issues matching the given severity.
func (r *Result) Filter(severity Severity) *Result {
	filtered := NewResult()
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			filtered.Issues = append(filtered.Issues, issue)
		}
	}
	return filtered
}

// WithCode returns the issues carrying the given code.
func (r *Result) WithCode(code Code) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Code == code {
			out = append(out, issue)
		}
	}
	return out
}
