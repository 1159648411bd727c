package issue

import (
	"fmt"
	"strings"
)

// DiagnosticID identifies a specific diagnostic message.
type DiagnosticID string

// Diagnostic IDs produced while typing an expression.
const (
	DiagPropertyNotFound     DiagnosticID = "PATH_PROPERTY_NOT_FOUND"
	DiagPropertyChoiceSuffix DiagnosticID = "PATH_PROPERTY_CHOICE_SUFFIX"
	DiagVariableNotFound     DiagnosticID = "PATH_VARIABLE_NOT_FOUND"
)

// Diagnostic IDs produced by function rules.
const (
	DiagFunctionUnknown         DiagnosticID = "FUNCTION_UNKNOWN"
	DiagFunctionArity           DiagnosticID = "FUNCTION_ARITY"
	DiagFunctionCollectionFocus DiagnosticID = "FUNCTION_COLLECTION_FOCUS"
	DiagFunctionNoFocus         DiagnosticID = "FUNCTION_NO_FOCUS"
	DiagFunctionContext         DiagnosticID = "FUNCTION_CONTEXT"
	DiagTypeTestImpossible      DiagnosticID = "TYPE_TEST_IMPOSSIBLE"
	DiagTypeArgument            DiagnosticID = "TYPE_ARGUMENT"
	DiagTypeUnknown             DiagnosticID = "TYPE_UNKNOWN"
	DiagTypeReflection          DiagnosticID = "TYPE_REFLECTION"
)

// Diagnostic IDs for extension profile narrowing.
const (
	DiagExtensionUnresolved    DiagnosticID = "EXTENSION_PROFILE_UNRESOLVED"
	DiagExtensionChildNotFound DiagnosticID = "EXTENSION_CHILD_NOT_FOUND"
)

// Diagnostic IDs for search parameter validation.
const (
	DiagSearchTypeMismatch     DiagnosticID = "SEARCH_TYPE_MISMATCH"
	DiagSearchUnknownReturn    DiagnosticID = "SEARCH_UNKNOWN_RETURN_TYPE"
	DiagSearchCannotResolve    DiagnosticID = "SEARCH_CANNOT_RESOLVE_CANONICAL"
	DiagSearchParseError       DiagnosticID = "SEARCH_PARSE_ERROR"
	DiagSearchCompositeDepth   DiagnosticID = "SEARCH_COMPOSITE_DEPTH"
	DiagSearchNoExpression     DiagnosticID = "SEARCH_NO_EXPRESSION"
	DiagSearchUnknownResource  DiagnosticID = "SEARCH_UNKNOWN_RESOURCE"
	DiagSearchUnknownParamType DiagnosticID = "SEARCH_UNKNOWN_PARAM_TYPE"
)

// Diagnostic IDs for invariant checking.
const (
	DiagInvariantNotBoolean DiagnosticID = "INVARIANT_NOT_BOOLEAN"
	DiagInvariantParseError DiagnosticID = "INVARIANT_PARSE_ERROR"
)

// DiagnosticTemplate defines the structure for a diagnostic message.
type DiagnosticTemplate struct {
	ID       DiagnosticID
	Severity Severity
	Code     Code
	Template string
}

// diagnosticTemplates maps diagnostic IDs to their templates.
// Templates use {placeholder} syntax for variable substitution.
var diagnosticTemplates = map[DiagnosticID]DiagnosticTemplate{
	// Navigation
	DiagPropertyNotFound: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "prop '{name}' not found on {types}",
	},
	DiagPropertyChoiceSuffix: {
		Severity: SeverityError,
		Code:     CodeValue,
		Template: "prop '{name}' is the choice type '{choice}', remove the type suffix",
	},
	DiagVariableNotFound: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "variable '%{name}' not found",
	},

	// Functions
	DiagFunctionUnknown: {
		Severity: SeverityWarning,
		Code:     CodeNotSupported,
		Template: "function '{name}' is not supported",
	},
	DiagFunctionArity: {
		Severity: SeverityError,
		Code:     CodeInvalid,
		Template: "function '{name}' expects {expected} argument(s), got {count}",
	},
	DiagFunctionCollectionFocus: {
		Severity: SeverityWarning,
		Code:     CodeInvalid,
		Template: "function '{name}' expects a single value, but the focus {types} may be a collection",
	},
	DiagFunctionNoFocus: {
		Severity: SeverityError,
		Code:     CodeInvalid,
		Template: "function '{name}' requires a focus and no input type is known at the root",
	},
	DiagFunctionContext: {
		Severity: SeverityWarning,
		Code:     CodeNotSupported,
		Template: "function '{name}' is not supported on {types}",
	},
	DiagTypeTestImpossible: {
		Severity: SeverityError,
		Code:     CodeNotSupported,
		Template: "test for {type} where possible types are {types}",
	},
	DiagTypeArgument: {
		Severity: SeverityError,
		Code:     CodeInvalid,
		Template: "'{name}' requires a type name argument",
	},
	DiagTypeUnknown: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "unknown type '{type}'",
	},
	DiagTypeReflection: {
		Severity: SeverityInformation,
		Code:     CodeInformational,
		Template: "type() reflection results are not statically typed",
	},

	// Extensions
	DiagExtensionUnresolved: {
		Severity: SeverityInformation,
		Code:     CodeInformational,
		Template: "unable to resolve extension profile '{url}'",
	},
	DiagExtensionChildNotFound: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "property '{url}' does not exist in complex extension '{parent}'",
	},

	// Search parameters
	DiagSearchTypeMismatch: {
		Severity: SeverityError,
		Code:     CodeSearchTypeMismatch,
		Template: "search parameter '{name}' of type {searchType} returns {type}, which is not allowed (expected one of {allowed})",
	},
	DiagSearchUnknownReturn: {
		Severity: SeverityError,
		Code:     CodeUnknownReturnType,
		Template: "unable to determine the return type of search parameter '{name}' expression '{expression}'",
	},
	DiagSearchCannotResolve: {
		Severity: SeverityError,
		Code:     CodeCannotResolveCanonical,
		Template: "unable to resolve component definition '{url}' of composite search parameter '{name}'",
	},
	DiagSearchParseError: {
		Severity: SeverityError,
		Code:     CodeInvalid,
		Template: "search parameter '{name}' expression cannot be parsed: {error}",
	},
	DiagSearchCompositeDepth: {
		Severity: SeverityError,
		Code:     CodeInvalid,
		Template: "composite search parameter '{name}' is nested too deep or is cyclic at '{url}'",
	},
	DiagSearchNoExpression: {
		Severity: SeverityWarning,
		Code:     CodeIncomplete,
		Template: "search parameter '{name}' of type {searchType} has no expression",
	},
	DiagSearchUnknownResource: {
		Severity: SeverityError,
		Code:     CodeNotFound,
		Template: "search parameter '{name}' is declared on unknown resource type '{resource}'",
	},
	DiagSearchUnknownParamType: {
		Severity: SeverityError,
		Code:     CodeInvalid,
		Template: "search parameter '{name}' has unknown type '{searchType}'",
	},

	// Invariants
	DiagInvariantNotBoolean: {
		Severity: SeverityWarning,
		Code:     CodeInvariant,
		Template: "constraint '{key}' on {path} returns {types}, expected boolean",
	},
	DiagInvariantParseError: {
		Severity: SeverityError,
		Code:     CodeInvariant,
		Template: "constraint '{key}' on {path} cannot be parsed: {error}",
	},
}

// FormatDiagnostic formats a diagnostic message with the given parameters.
func FormatDiagnostic(id DiagnosticID, params map[string]any) string {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		return string(id)
	}
	return formatTemplate(tmpl.Template, params)
}

// GetDiagnosticTemplate returns the template for a diagnostic ID.
func GetDiagnosticTemplate(id DiagnosticID) (DiagnosticTemplate, bool) {
	tmpl, ok := diagnosticTemplates[id]
	if ok {
		tmpl.ID = id
	}
	return tmpl, ok
}

// formatTemplate replaces {placeholder} with values from params.
func formatTemplate(template string, params map[string]any) string {
	result := template
	for key, value := range params {
		placeholder := "{" + key + "}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(value))
	}
	return result
}

// AddWithID adds an issue using a diagnostic template, keeping the template's
// severity. loc may be nil.
func (r *Result) AddWithID(id DiagnosticID, params map[string]any, loc *Location, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.Issues = append(r.Issues, Issue{
			Severity:    SeverityError,
			Code:        CodeProcessing,
			Diagnostics: string(id),
			Expression:  expression,
			Location:    loc,
		})
		return
	}

	r.Issues = append(r.Issues, Issue{
		Severity:    tmpl.Severity,
		Code:        tmpl.Code,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		Location:    loc,
		MessageID:   string(id),
	})
}

// AddErrorWithID adds an error using a diagnostic template.
func (r *Result) AddErrorWithID(id DiagnosticID, params map[string]any, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.AddError(CodeProcessing, string(id), expression...)
		return
	}

	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityError,
		Code:        tmpl.Code,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		MessageID:   string(id),
	})
}

// AddWarningWithID adds a warning using a diagnostic template.
func (r *Result) AddWarningWithID(id DiagnosticID, params map[string]any, expression ...string) {
	tmpl, ok := diagnosticTemplates[id]
	if !ok {
		r.AddWarning(CodeProcessing, string(id), expression...)
		return
	}

	r.Issues = append(r.Issues, Issue{
		Severity:    SeverityWarning, // Override to warning
		Code:        tmpl.Code,
		Diagnostics: formatTemplate(tmpl.Template, params),
		Expression:  expression,
		MessageID:   string(id),
	})
}
