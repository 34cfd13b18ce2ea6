package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml"
)

// ManifestName is the per-package manifest file.
const ManifestName = "Scarb.toml"

// RootModule is the root module of every crate, relative to the crate directory.
const RootModule = "src/lib.cairo"

// ErrManifest marks manifest parsing and validation failures.
var ErrManifest = errors.New("invalid manifest")

type tomlManifest struct {
	Package   *tomlPackage   `toml:"package"`
	Workspace *tomlWorkspace `toml:"workspace"`
}

type tomlPackage struct {
	Name         string `toml:"name"`
	Version      string `toml:"version"`
	CairoVersion string `toml:"cairo-version"`
}

type tomlWorkspace struct {
	Members []string `toml:"members"`
}

type loader struct {
	builtins map[string]struct{}
	sources  *SourceResolver
}

// Option configures Load.
type Option func(*loader)

// WithBuiltinCrates names dependencies provided by the toolchain (for example
// core and starknet). They are dropped from crate dependency lists.
func WithBuiltinCrates(names ...string) Option {
	return func(l *loader) {
		for _, n := range names {
			l.builtins[n] = struct{}{}
		}
	}
}

// WithSourceResolver replaces the default src/ discovery.
func WithSourceResolver(r *SourceResolver) Option {
	return func(l *loader) {
		if r != nil {
			l.sources = r
		}
	}
}

// Load reads the workspace rooted at root.
//
// The root manifest may declare a [package], a [workspace] with member
// patterns, or both. Packages are declared in this order: the root package
// first, then members sorted by directory.
func Load(root string, opts ...Option) (*Workspace, error) {
	l := &loader{
		builtins: map[string]struct{}{"core": {}, "starknet": {}},
		sources:  NewSourceResolver(),
	}
	for _, opt := range opts {
		opt(l)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	rootTree, rootManifest, err := readManifest(abs)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{Root: abs}
	if rootManifest.Package != nil {
		p, err := l.loadPackage(abs, rootTree, rootManifest.Package)
		if err != nil {
			return nil, err
		}
		ws.Packages = append(ws.Packages, p)
	}
	if rootManifest.Workspace != nil {
		dirs, err := expandMembers(abs, rootManifest.Workspace.Members)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifest, err)
		}
		for _, dir := range dirs {
			if dir == abs {
				continue
			}
			tree, m, err := readManifest(dir)
			if err != nil {
				return nil, err
			}
			if m.Package == nil {
				return nil, fmt.Errorf("%w: member %s has no [package] table", ErrManifest, dir)
			}
			p, err := l.loadPackage(dir, tree, m.Package)
			if err != nil {
				return nil, err
			}
			ws.Packages = append(ws.Packages, p)
		}
	}
	if len(ws.Packages) == 0 {
		return nil, fmt.Errorf("%w: %s declares neither [package] nor [workspace]", ErrManifest, filepath.Join(abs, ManifestName))
	}

	markMacroEdges(ws)
	if err := ws.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	return ws, nil
}

func readManifest(dir string) (*toml.Tree, *tomlManifest, error) {
	path := filepath.Join(dir, ManifestName)
	buff, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading %s: %w", ErrManifest, path, err)
	}
	tree, err := toml.LoadBytes(buff)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrManifest, path, err)
	}
	m := &tomlManifest{}
	if err := tree.Unmarshal(m); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrManifest, path, err)
	}
	return tree, m, nil
}

func (l *loader) loadPackage(dir string, tree *toml.Tree, tp *tomlPackage) (*Package, error) {
	if strings.TrimSpace(tp.Name) == "" {
		return nil, fmt.Errorf("%w: %s: package name is required", ErrManifest, dir)
	}
	files, err := l.sources.Resolve(dir)
	if err != nil {
		return nil, fmt.Errorf("package %q: %w", tp.Name, err)
	}

	var deps []Dependency
	for _, table := range []struct {
		key  string
		kind EdgeKind
	}{
		{"dependencies", EdgeNormal},
		{"dev-dependencies", EdgeDev},
	} {
		names, err := tableKeys(tree, table.key)
		if err != nil {
			return nil, fmt.Errorf("%w: package %q: %v", ErrManifest, tp.Name, err)
		}
		for _, n := range names {
			if _, builtin := l.builtins[n]; builtin {
				continue
			}
			deps = append(deps, Dependency{Name: n, Kind: table.kind})
		}
	}

	crate := &Crate{
		Name:         tp.Name,
		Package:      tp.Name,
		Dir:          dir,
		Files:        files,
		Dependencies: deps,
	}
	if _, ok := crate.File(RootModule); ok {
		crate.Root = RootModule
	}
	return &Package{
		Name:         tp.Name,
		Version:      tp.Version,
		CairoVersion: tp.CairoVersion,
		Plugin:       tree.Has("cairo-plugin"),
		Dir:          dir,
		Crates:       []*Crate{crate},
	}, nil
}

// tableKeys returns the keys of a top-level table in declaration order.
func tableKeys(tree *toml.Tree, key string) ([]string, error) {
	if !tree.Has(key) {
		return nil, nil
	}
	sub, ok := tree.Get(key).(*toml.Tree)
	if !ok {
		return nil, fmt.Errorf("[%s] must be a table", key)
	}
	keys := sub.Keys()
	sort.Slice(keys, func(i, j int) bool {
		pi, pj := sub.GetPosition(keys[i]), sub.GetPosition(keys[j])
		if pi.Line != pj.Line {
			return pi.Line < pj.Line
		}
		if pi.Col != pj.Col {
			return pi.Col < pj.Col
		}
		return keys[i] < keys[j]
	})
	return keys, nil
}

// markMacroEdges turns normal dependencies on plugin packages into macro edges.
func markMacroEdges(ws *Workspace) {
	plugins := make(map[string]struct{})
	for _, p := range ws.Packages {
		if !p.Plugin {
			continue
		}
		for _, c := range p.Crates {
			plugins[c.Name] = struct{}{}
		}
	}
	for _, c := range ws.Crates() {
		for i := range c.Dependencies {
			if _, ok := plugins[c.Dependencies[i].Name]; ok && c.Dependencies[i].Kind == EdgeNormal {
				c.Dependencies[i].Kind = EdgeMacro
			}
		}
	}
}
