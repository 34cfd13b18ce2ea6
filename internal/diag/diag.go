// Package diag holds the diagnostic model shared by every compilation stage and
// the aggregator that turns per-crate diagnostics into one deterministic report.
package diag

import (
	"fmt"
	"strings"
)

// Severity orders diagnostics by how much they affect resolution.
// Only SeverityError blocks a crate.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText keeps severities readable in cached entries and run records.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "error":
		*s = SeverityError
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// Span is a byte range within a source file. Line and Col are 1-based and
// describe Start; they are informational and do not take part in ordering.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Line  int `json:"line,omitempty"`
	Col   int `json:"col,omitempty"`
}

// Stable diagnostic codes.
const (
	CodeSyntax             = "Syntax"
	CodeUnresolvedImport   = "UnresolvedImport"
	CodeDuplicateItem      = "DuplicateItem"
	CodeUnknownAttribute   = "UnknownAttribute"
	CodeUnsupportedVersion = "UnsupportedVersion"
	CodePluginConflict     = "PluginConflict"
	CodePlugin             = "Plugin"
	CodeCodegen            = "Codegen"
	CodeQuery              = "QueryFailed"
)

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code,omitempty"`
	Crate    string   `json:"crate"`
	File     string   `json:"file,omitempty"`
	Span     Span     `json:"span"`
	Message  string   `json:"message"`
}

func (d Diagnostic) IsError() bool { return d.Severity == SeverityError }

// String renders the diagnostic as crate/file:line:col: severity: message.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Crate)
	if d.File != "" {
		b.WriteByte('/')
		b.WriteString(d.File)
	}
	if d.Span.Line > 0 {
		fmt.Fprintf(&b, ":%d:%d", d.Span.Line, d.Span.Col)
	}
	fmt.Fprintf(&b, ": %s", d.Severity)
	if d.Code != "" {
		fmt.Fprintf(&b, "[%s]", d.Code)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

func Errorf(crate, file string, span Span, code, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Code: code, Crate: crate, File: file, Span: span, Message: fmt.Sprintf(format, args...)}
}

func Warningf(crate, file string, span Span, code, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Code: code, Crate: crate, File: file, Span: span, Message: fmt.Sprintf(format, args...)}
}

// HasErrors reports whether any diagnostic in ds blocks.
func HasErrors(ds []Diagnostic) bool {
	for _, d := range ds {
		if d.IsError() {
			return true
		}
	}
	return false
}

// NonBlocking returns the diagnostics of ds that are not errors, preserving
// order.
func NonBlocking(ds []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds {
		if !d.IsError() {
			out = append(out, d)
		}
	}
	return out
}

// Errors returns the blocking subset of ds, preserving order.
func Errors(ds []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range ds {
		if d.IsError() {
			out = append(out, d)
		}
	}
	return out
}
