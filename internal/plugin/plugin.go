// Package plugin holds the registry of compiler plugins (macros). A plugin
// inspects syntax nodes and may generate new items next to them; plugins that
// claim a node assert exclusive ownership of its expansion.
package plugin

import (
	"fmt"
	"strings"

	"voyager/internal/compiler"
	"voyager/internal/diag"
)

// Expansion is the output of one plugin for one node.
type Expansion struct {
	// Claims marks the expansion as authoritative for the node. Two claiming
	// expansions of the same node conflict.
	Claims      bool
	Items       []*compiler.Node
	Diagnostics []diag.Diagnostic
}

// Plugin is a syntax-level code generator. Implementations must be pure.
type Plugin interface {
	// Tag is the stable identity of the plugin. Tags are unique in a registry.
	Tag() string
	Applies(n *compiler.Node) bool
	Expand(n *compiler.Node) Expansion
}

// AttributeProvider is implemented by plugins that introduce attributes the
// compiler should accept.
type AttributeProvider interface {
	Attributes() []string
}

// Fingerprinter is implemented by plugins whose output depends on more than
// their tag. The fingerprint changes whenever the expansion of some node can.
type Fingerprinter interface {
	Fingerprint() string
}

func fingerprintOf(p Plugin) string {
	if f, ok := p.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return p.Tag()
}

// ConflictError describes two or more plugins claiming the same node.
type ConflictError struct {
	Tags []string
	Kind compiler.NodeKind
	Node string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("plugin conflict on %s %s: %s all claim the expansion", e.Kind, e.Node, strings.Join(e.Tags, ", "))
}

// Diagnostic converts the conflict into a diagnostic of the given severity.
func (e *ConflictError) Diagnostic(crate, file string, span diag.Span, sev diag.Severity) diag.Diagnostic {
	return diag.Diagnostic{Severity: sev, Code: diag.CodePluginConflict, Crate: crate, File: file, Span: span, Message: e.Error()}
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '_' && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// deriveArgs returns the trait list of "derive(A, b::B)".
func deriveArgs(attr string) []string {
	open := strings.IndexByte(attr, '(')
	if open < 0 || !strings.HasSuffix(attr, ")") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(attr[open+1:len(attr)-1], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		return path[i+2:]
	}
	return path
}
