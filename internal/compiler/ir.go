// Package compiler defines the boundary between the resolver and a compiler
// backend: the syntax nodes plugins operate on, the per-crate semantic model,
// the lowered form the contract extractor inspects, and the Backend interface.
package compiler

import (
	"strings"

	"voyager/internal/diag"
)

type NodeKind string

const (
	KindModule   NodeKind = "module"
	KindFunction NodeKind = "function"
	KindStruct   NodeKind = "struct"
	KindEnum     NodeKind = "enum"
	KindTrait    NodeKind = "trait"
	KindImpl     NodeKind = "impl"
	KindUse      NodeKind = "use"
)

// Node is a declaration in a syntax tree.
type Node struct {
	Kind       NodeKind  `json:"kind"`
	Name       string    `json:"name"`
	Attributes []string  `json:"attributes,omitempty"`
	// Path is the imported path of a use item.
	Path string    `json:"path,omitempty"`
	Span diag.Span `json:"span"`
	// External marks a `mod name;` declaration whose body lives in another file.
	External bool    `json:"external,omitempty"`
	Children []*Node `json:"children,omitempty"`
	// GeneratedBy is the tag of the plugin that produced the node.
	GeneratedBy string `json:"generatedBy,omitempty"`
}

// HasAttribute reports whether the node carries attr. Arguments are ignored,
// so "derive" matches "derive(Drop)".
func (n *Node) HasAttribute(attr string) bool {
	for _, a := range n.Attributes {
		if AttributeName(a) == attr || a == attr {
			return true
		}
	}
	return false
}

// AttributeName strips the argument list: "external(v0)" becomes "external".
func AttributeName(attr string) string {
	if i := strings.IndexByte(attr, '('); i >= 0 {
		return strings.TrimSpace(attr[:i])
	}
	return strings.TrimSpace(attr)
}

func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Attributes = append([]string(nil), n.Attributes...)
	cp.Children = cloneNodes(n.Children)
	return &cp
}

func cloneNodes(ns []*Node) []*Node {
	if ns == nil {
		return nil
	}
	out := make([]*Node, len(ns))
	for i, n := range ns {
		out[i] = n.Clone()
	}
	return out
}

// SyntaxTree is the parsed form of one file.
type SyntaxTree struct {
	Crate string  `json:"crate"`
	File  string  `json:"file"`
	Items []*Node `json:"items"`
}

func (t *SyntaxTree) Clone() *SyntaxTree {
	if t == nil {
		return nil
	}
	return &SyntaxTree{Crate: t.Crate, File: t.File, Items: cloneNodes(t.Items)}
}

// Item is a declaration placed in the crate module tree.
type Item struct {
	Node *Node  `json:"node"`
	File string `json:"file"`
	// Path is the fully qualified path, crate name first.
	Path     string  `json:"path"`
	Children []*Item `json:"children,omitempty"`
}

// Import is a resolved use item.
type Import struct {
	Path   string    `json:"path"`
	Crate  string    `json:"crate"`
	Target string    `json:"target"`
	File   string    `json:"file"`
	Span   diag.Span `json:"span"`
}

// SemanticModel is the analyzed form of a crate.
type SemanticModel struct {
	Crate   string   `json:"crate"`
	Items   []*Item  `json:"items"`
	Imports []Import `json:"imports,omitempty"`
}

// Lookup resolves a path relative to the crate root, such as "math::add".
func (m *SemanticModel) Lookup(path string) (*Item, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	items := m.Items
	var found *Item
	for _, seg := range strings.Split(path, "::") {
		found = nil
		for _, it := range items {
			if it.Node.Name == seg {
				found = it
				break
			}
		}
		if found == nil {
			return nil, false
		}
		items = found.Children
	}
	return found, true
}

// Markers are structural flags set during lowering.
type Markers struct {
	Contract bool `json:"contract,omitempty"`
}

// LoweredItem is a module-level unit ready for code generation.
type LoweredItem struct {
	Path       string   `json:"path"`
	Name       string   `json:"name"`
	Kind       NodeKind `json:"kind"`
	File       string   `json:"file"`
	Attributes []string `json:"attributes,omitempty"`
	Markers    Markers  `json:"markers"`
	// Entrypoints lists externally callable functions, prefixed by role
	// ("function:", "constructor:", "l1_handler:").
	Entrypoints []string `json:"entrypoints,omitempty"`
	Events      []string `json:"events,omitempty"`
	Storage     []string `json:"storage,omitempty"`
}

// LoweredCrate is the output of lowering one crate.
type LoweredCrate struct {
	Crate string        `json:"crate"`
	Items []LoweredItem `json:"items"`
}

// Contracts returns the items carrying the contract marker, in item order.
func (l *LoweredCrate) Contracts() []LoweredItem {
	if l == nil {
		return nil
	}
	var out []LoweredItem
	for _, it := range l.Items {
		if it.Markers.Contract {
			out = append(out, it)
		}
	}
	return out
}

// Output is the generated code of one lowered item.
type Output struct {
	ABI     []string `json:"abi"`
	Payload []byte   `json:"payload"`
}
