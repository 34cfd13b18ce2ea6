package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"voyager/internal/compiler"
	"voyager/internal/diag"
)

// ConflictPolicy decides the severity of plugin conflicts.
type ConflictPolicy int

const (
	// ConflictWarn reports conflicts without blocking the crate.
	ConflictWarn ConflictPolicy = iota
	// ConflictEscalate escalates conflicts to blocking diagnostics.
	ConflictEscalate
)

// Registry is an ordered set of plugins. Registration order is the merge order
// of expansions.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	tags    map[string]struct{}
	policy  ConflictPolicy
}

type Option func(*Registry)

func WithConflictPolicy(p ConflictPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{tags: make(map[string]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends p. Tags must be non-empty and unique.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("nil plugin")
	}
	tag := p.Tag()
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("plugin tag is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tags[tag]; dup {
		return fmt.Errorf("plugin %q already registered", tag)
	}
	r.tags[tag] = struct{}{}
	r.plugins = append(r.plugins, p)
	return nil
}

func (r *Registry) MustRegister(p Plugin) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Tags returns plugin tags in registration order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		out[i] = p.Tag()
	}
	return out
}

// Attributes returns every attribute introduced by registered plugins, sorted.
func (r *Registry) Attributes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, p := range r.plugins {
		if ap, ok := p.(AttributeProvider); ok {
			for _, a := range ap.Attributes() {
				set[a] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Identity describes the registry configuration for cache keys: every plugin
// fingerprint in registration order, which is also the merge order, and the
// conflict policy.
func (r *Registry) Identity() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fps := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		fps[i] = fingerprintOf(p)
	}
	return fmt.Sprintf("%s;policy=%d", strings.Join(fps, ","), r.policy)
}

// Expand applies the registered plugins to every node of tree, descending into
// module, impl and trait bodies. Generated items are inserted directly after
// the node that produced them, in registration order, and are not expanded
// again. The input tree is not modified.
//
// When more than one applicable plugin claims a node, exactly one
// PluginConflict diagnostic naming all claiming tags is emitted and none of the
// claiming expansions are applied. Non-claiming expansions still apply.
func (r *Registry) Expand(tree *compiler.SyntaxTree) (*compiler.SyntaxTree, []diag.Diagnostic) {
	r.mu.RLock()
	plugins := append([]Plugin(nil), r.plugins...)
	policy := r.policy
	r.mu.RUnlock()

	out := tree.Clone()
	if len(plugins) == 0 {
		return out, nil
	}
	e := &expander{crate: tree.Crate, file: tree.File, plugins: plugins, policy: policy}
	out.Items = e.expandList(out.Items)
	return out, e.diags
}

type expander struct {
	crate   string
	file    string
	plugins []Plugin
	policy  ConflictPolicy
	diags   []diag.Diagnostic
}

func (e *expander) expandList(nodes []*compiler.Node) []*compiler.Node {
	if len(nodes) == 0 {
		return nodes
	}
	out := make([]*compiler.Node, 0, len(nodes))
	for _, n := range nodes {
		if len(n.Children) > 0 {
			n.Children = e.expandList(n.Children)
		}
		out = append(out, n)
		out = append(out, e.expandNode(n)...)
	}
	return out
}

func (e *expander) expandNode(n *compiler.Node) []*compiler.Node {
	if n.GeneratedBy != "" {
		return nil
	}
	type applied struct {
		tag string
		exp Expansion
	}
	var results []applied
	var claimants []string
	for _, p := range e.plugins {
		if !p.Applies(n) {
			continue
		}
		exp := p.Expand(n.Clone())
		results = append(results, applied{tag: p.Tag(), exp: exp})
		if exp.Claims {
			claimants = append(claimants, p.Tag())
		}
	}

	conflict := len(claimants) > 1
	if conflict {
		sev := diag.SeverityWarning
		if e.policy == ConflictEscalate {
			sev = diag.SeverityError
		}
		ce := &ConflictError{Tags: claimants, Kind: n.Kind, Node: n.Name}
		e.diags = append(e.diags, ce.Diagnostic(e.crate, e.file, n.Span, sev))
	}

	var generated []*compiler.Node
	for _, a := range results {
		if conflict && a.exp.Claims {
			continue
		}
		for _, d := range a.exp.Diagnostics {
			if d.Crate == "" {
				d.Crate = e.crate
			}
			if d.File == "" {
				d.File = e.file
				d.Span = n.Span
			}
			e.diags = append(e.diags, d)
		}
		for _, item := range a.exp.Items {
			if item == nil {
				continue
			}
			g := item.Clone()
			markGenerated(g, a.tag, n.Span)
			generated = append(generated, g)
		}
	}
	return generated
}

func markGenerated(n *compiler.Node, tag string, span diag.Span) {
	n.GeneratedBy = tag
	if n.Span == (diag.Span{}) {
		n.Span = span
	}
	for _, c := range n.Children {
		markGenerated(c, tag, span)
	}
}
