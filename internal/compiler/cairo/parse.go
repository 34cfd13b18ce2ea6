package cairo

import (
	"bytes"
	"strings"
	"unicode"

	"voyager/internal/compiler"
	"voyager/internal/diag"
)

// frame is an open brace-delimited item.
type frame struct {
	node      *compiler.Node
	container bool
	openDepth int
}

type parser struct {
	crate string
	file  string

	items   []*compiler.Node
	stack   []frame
	depth   int
	attrs   []string
	attrPos diag.Span
	pending *compiler.Node
	diags   []diag.Diagnostic
}

// Parse scans item declarations. Function bodies and struct fields are
// skipped; only the item structure, attributes and use paths are kept.
func (b *Backend) Parse(crate, file string, src []byte) (*compiler.SyntaxTree, []diag.Diagnostic) {
	p := &parser{crate: crate, file: file}
	offset := 0
	for i, raw := range bytes.Split(src, []byte("\n")) {
		line := string(raw)
		p.line(line, i+1, offset)
		offset += len(raw) + 1
	}
	p.finish(offset)
	return &compiler.SyntaxTree{Crate: crate, File: file, Items: p.items}, p.diags
}

func (p *parser) errorf(span diag.Span, format string, args ...any) {
	p.diags = append(p.diags, diag.Errorf(p.crate, p.file, span, diag.CodeSyntax, format, args...))
}

func (p *parser) inContainer() bool {
	return len(p.stack) == 0 || p.stack[len(p.stack)-1].container
}

func (p *parser) attach(n *compiler.Node) {
	if len(p.stack) == 0 {
		p.items = append(p.items, n)
		return
	}
	top := p.stack[len(p.stack)-1].node
	top.Children = append(top.Children, n)
}

func (p *parser) line(line string, lineNo, offset int) {
	code := stripComment(line)
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return
	}
	col := strings.Index(code, trimmed) + 1
	span := func(c, width int) diag.Span {
		return diag.Span{Start: offset + c - 1, End: offset + c - 1 + width, Line: lineNo, Col: c}
	}

	if p.inContainer() {
		for strings.HasPrefix(trimmed, "#[") {
			end := matchingBracket(trimmed)
			if end < 0 {
				p.errorf(span(col, len(trimmed)), "unterminated attribute")
				return
			}
			if len(p.attrs) == 0 {
				p.attrPos = span(col, end+1)
			}
			p.attrs = append(p.attrs, strings.TrimSpace(trimmed[2:end]))
			rest := trimmed[end+1:]
			col += end + 1 + len(rest) - len(strings.TrimLeft(rest, " \t"))
			trimmed = strings.TrimSpace(rest)
			if trimmed == "" {
				return
			}
		}
	}

	header := false
	if p.inContainer() {
		if kind, rest, ok := itemHeader(trimmed); ok {
			if kind == compiler.KindUse {
				// Use groups carry braces that are not blocks.
				p.useItems(rest, span(col, len(trimmed)))
				return
			}
			header = true
			p.header(kind, rest, trimmed, span(col, len(trimmed)))
		} else {
			// Attributes on items this parser does not model (consts, type aliases).
			p.attrs = nil
		}
	}
	if !header && p.pending != nil {
		switch {
		case strings.Contains(trimmed, "{"):
			p.push(p.pending, p.depth)
		case strings.HasSuffix(trimmed, ";"):
			p.pending = nil
		}
	}
	opens, closes := countBraces(trimmed)
	p.depth += opens - closes
	if p.depth < 0 {
		p.errorf(span(col, len(trimmed)), "unexpected closing delimiter")
		p.depth = 0
	}
	for len(p.stack) > 0 && p.depth <= p.stack[len(p.stack)-1].openDepth {
		p.stack = p.stack[:len(p.stack)-1]
	}
}

func (p *parser) header(kind compiler.NodeKind, rest, trimmed string, span diag.Span) {
	name := ident(rest)
	if name == "" {
		p.errorf(span, "expected identifier after %s", kind)
		p.attrs = nil
		return
	}
	n := &compiler.Node{Kind: kind, Name: name, Attributes: p.attrs, Span: span}
	p.attrs = nil
	p.attach(n)
	switch {
	case strings.Contains(trimmed, "{"):
		p.push(n, p.depth)
	case kind == compiler.KindModule && strings.HasSuffix(trimmed, ";"):
		n.External = true
	case !strings.HasSuffix(trimmed, ";"):
		p.pending = n
	}
}

func (p *parser) push(n *compiler.Node, depth int) {
	switch n.Kind {
	case compiler.KindModule, compiler.KindImpl, compiler.KindTrait:
		p.stack = append(p.stack, frame{node: n, container: true, openDepth: depth})
	default:
		p.stack = append(p.stack, frame{node: n, openDepth: depth})
	}
	if n == p.pending {
		p.pending = nil
	}
}

func (p *parser) useItems(rest string, span diag.Span) {
	attrs := p.attrs
	p.attrs = nil
	path := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ";"))
	if path == "" {
		p.errorf(span, "expected path after use")
		return
	}
	for _, full := range expandUse(path) {
		segs := strings.Split(full, "::")
		p.attach(&compiler.Node{Kind: compiler.KindUse, Name: segs[len(segs)-1], Path: full, Attributes: attrs, Span: span})
	}
}

func (p *parser) finish(offset int) {
	if len(p.attrs) > 0 {
		p.errorf(p.attrPos, "expected item after attribute")
	}
	if p.depth > 0 && len(p.stack) > 0 {
		n := p.stack[0].node
		p.errorf(n.Span, "unclosed delimiter in %s %q", n.Kind, n.Name)
	} else if p.depth > 0 {
		p.errorf(diag.Span{Start: offset, End: offset}, "unclosed delimiter")
	}
}

var headerKinds = []struct {
	keyword string
	kind    compiler.NodeKind
}{
	{"mod ", compiler.KindModule},
	{"fn ", compiler.KindFunction},
	{"struct ", compiler.KindStruct},
	{"enum ", compiler.KindEnum},
	{"trait ", compiler.KindTrait},
	{"impl ", compiler.KindImpl},
	{"use ", compiler.KindUse},
}

// itemHeader recognizes an item declaration and returns the text after its keyword.
func itemHeader(line string) (compiler.NodeKind, string, bool) {
	line = strings.TrimPrefix(line, "pub(crate) ")
	line = strings.TrimPrefix(line, "pub ")
	for _, h := range headerKinds {
		if strings.HasPrefix(line, h.keyword) {
			return h.kind, strings.TrimSpace(line[len(h.keyword):]), true
		}
	}
	return "", "", false
}

func ident(s string) string {
	end := 0
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			end = i + len(string(r))
			continue
		}
		break
	}
	return s[:end]
}

// expandUse flattens a single-level brace group: a::{b, c} becomes a::b and a::c.
func expandUse(path string) []string {
	open := strings.IndexByte(path, '{')
	if open < 0 || !strings.HasSuffix(path, "}") {
		return []string{path}
	}
	prefix := path[:open]
	var out []string
	for _, part := range strings.Split(path[open+1:len(path)-1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, prefix+part)
	}
	return out
}

func matchingBracket(s string) int {
	depth := 0
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '"':
			inString = !inString
		case !inString && line[i] == '/' && i+1 < len(line) && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func countBraces(line string) (opens, closes int) {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			opens++
		case c == '}':
			closes++
		}
	}
	return opens, closes
}
