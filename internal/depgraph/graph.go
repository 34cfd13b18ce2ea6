// Package depgraph builds the validated crate dependency graph of a workspace.
//
// Crates live in an arena indexed by declaration order; edges are index
// adjacency lists. Every ordering the graph exposes is a pure function of the
// declared crates and edges.
package depgraph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voyager/internal/workspace"
)

var tracer = otel.Tracer("voyager.depgraph")

// Node is one crate in the graph.
type Node struct {
	Name  string
	Crate *workspace.Crate
	// Index is the crate's declaration index.
	Index int
}

// Edge is a resolved dependency edge: Dependent depends on Dependency.
type Edge struct {
	Dependent  string             `json:"dependent"`
	Dependency string             `json:"dependency"`
	Kind       workspace.EdgeKind `json:"kind"`
}

type edgeIndex struct {
	dependent  int
	dependency int
}

// Graph is an immutable, validated crate DAG. It is safe for concurrent reads.
type Graph struct {
	nodes  []*Node
	byName map[string]int

	// dependencies[i] lists what crate i depends on, in declaration order.
	dependencies [][]int
	// dependents[i] lists the crates depending on i, ascending by index.
	dependents [][]int
	kinds      map[edgeIndex]workspace.EdgeKind

	order    []int
	position []int
	depth    []int

	hash string
}

type buildOptions struct {
	includeDev bool
}

// Option configures Build.
type Option func(*buildOptions)

// WithDevDependencies controls whether dev edges take part in the graph.
// They do by default.
func WithDevDependencies(include bool) Option {
	return func(o *buildOptions) { o.includeDev = include }
}

// Build validates crates and their declared dependencies.
//
// Validation runs in this order and stops at the first failing step:
//   - empty or duplicate crate names (GraphError, ErrInvalidGraph)
//   - dependencies naming unknown crates (UnresolvedDependencyError)
//   - cycles, including a crate depending on itself (CycleError)
func Build(crates []*workspace.Crate, opts ...Option) (*Graph, error) {
	return BuildContext(context.Background(), crates, opts...)
}

// BuildContext is Build with a span recorded under ctx.
func BuildContext(ctx context.Context, crates []*workspace.Crate, opts ...Option) (*Graph, error) {
	_, span := tracer.Start(ctx, "depgraph.Build", trace.WithAttributes(attribute.Int("crates", len(crates))))
	defer span.End()

	g, err := build(crates, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("graph.hash", g.hash))
	return g, nil
}

func build(crates []*workspace.Crate, opts ...Option) (*Graph, error) {
	o := buildOptions{includeDev: true}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Graph{
		nodes:  make([]*Node, 0, len(crates)),
		byName: make(map[string]int, len(crates)),
		kinds:  make(map[edgeIndex]workspace.EdgeKind),
	}
	for i, c := range crates {
		if c == nil || c.Name == "" {
			return nil, invalidf("crate %d has no name", i)
		}
		if _, exists := g.byName[c.Name]; exists {
			return nil, invalidf("duplicate crate name: %q", c.Name)
		}
		g.byName[c.Name] = i
		g.nodes = append(g.nodes, &Node{Name: c.Name, Crate: c, Index: i})
	}

	g.dependencies = make([][]int, len(g.nodes))
	g.dependents = make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		for _, d := range n.Crate.Dependencies {
			if d.Kind == workspace.EdgeDev && !o.includeDev {
				continue
			}
			j, ok := g.byName[d.Name]
			if !ok {
				return nil, &UnresolvedDependencyError{Crate: n.Name, Dependency: d.Name}
			}
			e := edgeIndex{dependent: i, dependency: j}
			if _, dup := g.kinds[e]; dup {
				return nil, invalidf("duplicate dependency: %q -> %q", n.Name, d.Name)
			}
			g.kinds[e] = d.Kind
			g.dependencies[i] = append(g.dependencies[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	for i := range g.dependents {
		sort.Ints(g.dependents[i])
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}

	g.order = g.topoOrderIndices()
	g.position = make([]int, len(g.nodes))
	for pos, idx := range g.order {
		g.position[idx] = pos
	}
	g.depth = g.computeDepth()
	g.hash = g.computeHash()
	return g, nil
}

// Len returns the number of crates.
func (g *Graph) Len() int { return len(g.nodes) }

// Hash is the structural identity of the graph: crate names, declaration
// order and kinded edges.
func (g *Graph) Hash() string { return g.hash }

func (g *Graph) Node(name string) (*Node, bool) {
	i, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[i], true
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Order returns crate names in topological order: every crate appears after
// all of its dependencies, ties broken by declaration order.
func (g *Graph) Order() []string {
	return g.names(g.order)
}

// Position returns the index of name in Order, or Len() when unknown.
func (g *Graph) Position(name string) int {
	i, ok := g.byName[name]
	if !ok {
		return len(g.nodes)
	}
	return g.position[i]
}

// Dependencies returns the direct dependencies of name in declaration order.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.names(g.dependencies[i])
}

// Dependents returns the crates directly depending on name, by declaration order.
func (g *Graph) Dependents(name string) []string {
	i, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.names(g.dependents[i])
}

// TransitiveDependents returns every crate that depends on name directly or
// indirectly, in topological order.
func (g *Graph) TransitiveDependents(name string) []string {
	i, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.names(g.reach(i, g.dependents))
}

// TransitiveDependencies returns every crate name depends on, in topological order.
func (g *Graph) TransitiveDependencies(name string) []string {
	i, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.names(g.reach(i, g.dependencies))
}

func (g *Graph) reach(start int, adj [][]int) []int {
	seen := make([]bool, len(g.nodes))
	stack := append([]int(nil), adj[start]...)
	var out []int
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, adj[n]...)
	}
	sort.Slice(out, func(a, b int) bool { return g.position[out[a]] < g.position[out[b]] })
	return out
}

// EdgeKind returns the kind of the edge dependent -> dependency.
func (g *Graph) EdgeKind(dependent, dependency string) (workspace.EdgeKind, bool) {
	i, ok1 := g.byName[dependent]
	j, ok2 := g.byName[dependency]
	if !ok1 || !ok2 {
		return "", false
	}
	k, ok := g.kinds[edgeIndex{dependent: i, dependency: j}]
	return k, ok
}

// Edges returns all edges ordered by dependent declaration index, then by the
// dependent's declaration order of its dependencies.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for i, deps := range g.dependencies {
		for _, j := range deps {
			out = append(out, Edge{
				Dependent:  g.nodes[i].Name,
				Dependency: g.nodes[j].Name,
				Kind:       g.kinds[edgeIndex{dependent: i, dependency: j}],
			})
		}
	}
	return out
}

// Depth is the length of the longest dependency chain below name. Crates
// without dependencies have depth 0.
func (g *Graph) Depth(name string) (int, bool) {
	i, ok := g.byName[name]
	if !ok {
		return 0, false
	}
	return g.depth[i], true
}

// Levels groups crates by depth. Each level is in topological order and only
// depends on earlier levels.
func (g *Graph) Levels() [][]string {
	if len(g.nodes) == 0 {
		return nil
	}
	maxDepth := 0
	for _, d := range g.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]string, maxDepth+1)
	for _, idx := range g.order {
		d := g.depth[idx]
		levels[d] = append(levels[d], g.nodes[idx].Name)
	}
	return levels
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.order {
		max := 0
		for _, d := range g.dependencies[u] {
			if cand := depth[d] + 1; cand > max {
				max = cand
			}
		}
		depth[u] = max
	}
	return depth
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.nodes[i].Name)
	}
	return out
}

func (g *Graph) computeHash() string {
	h := sha256.New()
	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		h.Write(length[:])
		h.Write(data)
	}
	writeInt := func(v int) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v))
		writeField(b[:])
	}

	writeInt(len(g.nodes))
	for _, n := range g.nodes {
		writeField([]byte(n.Name))
	}
	edges := g.Edges()
	writeInt(len(edges))
	for _, e := range edges {
		writeField([]byte(e.Dependent))
		writeField([]byte(e.Dependency))
		writeField([]byte(e.Kind))
	}
	return hex.EncodeToString(h.Sum(nil))
}
