package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/gofhir/pathcheck/pkg/issue"
)

// ANSI colours, used only when stdout is a terminal.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorBold   = "\033[1m"
)

// printer writes the text output. It is a no-op for JSON output.
type printer struct {
	w      io.Writer
	config *Config
}

func (p *printer) enabled() bool {
	return p.config.Output == OutputText
}

func (p *printer) paint(color, s string) string {
	if !p.config.Color {
		return s
	}
	return color + s + colorReset
}

func (p *printer) status(valid bool) string {
	if valid {
		return p.paint(colorGreen, "VALID")
	}
	return p.paint(colorRed, "INVALID")
}

func (p *printer) expression(eo ExpressionOutput) {
	if !p.enabled() {
		return
	}
	fmt.Fprintf(p.w, "== %s ==\n", p.paint(colorBold, eo.Expression))
	if len(eo.RootTypes) > 0 {
		fmt.Fprintf(p.w, "Root: %s\n", strings.Join(eo.RootTypes, ", "))
	}
	display := eo.Display
	if display == "" {
		display = "(empty)"
	}
	fmt.Fprintf(p.w, "Type: %s\n", display)
	fmt.Fprintf(p.w, "Status: %s\n", p.status(eo.Valid))

	if len(eo.Trace) > 0 {
		fmt.Fprintln(p.w, "\nTrace:")
		for _, line := range eo.Trace {
			fmt.Fprintf(p.w, "  %s\n", line)
		}
	}
	p.issues(eo.Issues)
	fmt.Fprintln(p.w)
}

func (p *printer) searchParam(so SearchParamOutput) {
	if !p.enabled() {
		return
	}
	if p.config.Quiet && so.Valid && len(so.Issues) == 0 {
		return
	}
	fmt.Fprintf(p.w, "== SearchParameter %s (%s) ==\n", p.paint(colorBold, so.Name), so.Type)
	if so.File != "" {
		fmt.Fprintf(p.w, "File: %s\n", so.File)
	}
	fmt.Fprintf(p.w, "Status: %s\n", p.status(so.Valid))
	if p.config.Verbose {
		fmt.Fprintf(p.w, "Duration: %s\n", so.Duration)
	}
	p.issues(so.Issues)
	fmt.Fprintln(p.w)
}

func (p *printer) invariant(inv InvariantOutput) {
	if !p.enabled() {
		return
	}
	if p.config.Quiet && inv.Valid && len(inv.Issues) == 0 {
		return
	}
	fmt.Fprintf(p.w, "== Invariants of %s ==\n", p.paint(colorBold, inv.Type))
	fmt.Fprintf(p.w, "Status: %s\n", p.status(inv.Valid))
	if p.config.Verbose {
		for _, f := range inv.Findings {
			fmt.Fprintf(p.w, "  %-10s %s : %s\n", f.Key, f.Path, f.Types)
		}
	}
	p.issues(inv.Issues)
	fmt.Fprintln(p.w)
}

func (p *printer) issues(issues []IssueOutput) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintln(p.w, "\nIssues:")
	for _, iss := range issues {
		// Skip info in quiet mode
		if p.config.Quiet && iss.Severity == string(issue.SeverityInformation) {
			continue
		}

		location := ""
		if iss.Line > 0 {
			location = fmt.Sprintf(" (%d:%d)", iss.Line, iss.Column)
		}
		if len(iss.Expression) > 0 {
			location += fmt.Sprintf(" @ %s", strings.Join(iss.Expression, ", "))
		}
		fmt.Fprintf(p.w, "  %s [%s] %s%s\n", p.severityIcon(iss.Severity), iss.Code, iss.Diagnostics, location)
	}
}

func (p *printer) severityIcon(severity string) string {
	switch issue.Severity(severity) {
	case issue.SeverityFatal, issue.SeverityError:
		return p.paint(colorRed, "ERROR")
	case issue.SeverityWarning:
		return p.paint(colorYellow, "WARN ")
	case issue.SeverityInformation:
		return p.paint(colorCyan, "INFO ")
	default:
		return "     "
	}
}
