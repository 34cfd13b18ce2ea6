// Package workspace models a multi-crate Cairo workspace: its packages, the
// crates they own and the declared dependency edges between crates.
//
// A Workspace is an immutable snapshot. Declaration order is significant: it is
// the tie-break used for every ordering decision downstream.
package workspace

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// EdgeKind classifies a declared dependency.
type EdgeKind string

const (
	EdgeNormal EdgeKind = "normal"
	EdgeDev    EdgeKind = "dev"
	EdgeMacro  EdgeKind = "macro"
)

func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeNormal, EdgeDev, EdgeMacro:
		return true
	default:
		return false
	}
}

type Dependency struct {
	Name string
	Kind EdgeKind
}

// File is one source file of a crate. Path is slash-separated and relative to
// the crate directory.
type File struct {
	Path    string
	Content []byte
}

// Crate is a compilation unit. Its name is unique across the workspace.
type Crate struct {
	Name    string
	Package string
	// Dir is the absolute crate directory. Empty for in-memory workspaces.
	Dir string
	// Root is the root module path, one of Files.
	Root         string
	Files        []File
	Dependencies []Dependency
}

// File returns the file with the given path.
func (c *Crate) File(path string) (File, bool) {
	for _, f := range c.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

// FilePaths returns the crate's file paths in declaration order.
func (c *Crate) FilePaths() []string {
	out := make([]string, len(c.Files))
	for i, f := range c.Files {
		out[i] = f.Path
	}
	return out
}

type Package struct {
	Name         string
	Version      string
	CairoVersion string
	// Plugin marks a package declaring a [cairo-plugin] table. Dependencies on it
	// are macro edges.
	Plugin bool
	Dir    string
	Crates []*Crate
}

type Workspace struct {
	Root     string
	Packages []*Package
}

// Crates returns every crate in declaration order (package order, then crate order).
func (w *Workspace) Crates() []*Crate {
	if w == nil {
		return nil
	}
	var out []*Crate
	for _, p := range w.Packages {
		out = append(out, p.Crates...)
	}
	return out
}

// Crate looks up a crate by name.
func (w *Workspace) Crate(name string) (*Crate, bool) {
	for _, c := range w.Crates() {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Package looks up a package by name.
func (w *Workspace) Package(name string) (*Package, bool) {
	if w == nil {
		return nil, false
	}
	for _, p := range w.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Validate checks structural invariants that do not need the dependency graph:
// names are present and unique, versions are semver, edge kinds are known and a
// crate never lists the same dependency twice. Dependency targets are resolved
// by the graph builder.
func (w *Workspace) Validate() error {
	if w == nil {
		return errors.New("workspace is nil")
	}
	var errs []error
	pkgs := make(map[string]struct{}, len(w.Packages))
	crates := make(map[string]struct{})
	for i, p := range w.Packages {
		if p == nil {
			errs = append(errs, fmt.Errorf("packages[%d] is nil", i))
			continue
		}
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("packages[%d].name is required", i))
		}
		if _, dup := pkgs[p.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate package name %q", p.Name))
		}
		pkgs[p.Name] = struct{}{}
		if p.Version != "" && !semver.IsValid(canonicalVersion(p.Version)) {
			errs = append(errs, fmt.Errorf("package %q: invalid version %q", p.Name, p.Version))
		}
		if p.CairoVersion != "" && !semver.IsValid(canonicalVersion(p.CairoVersion)) {
			errs = append(errs, fmt.Errorf("package %q: invalid cairo-version %q", p.Name, p.CairoVersion))
		}
		for j, c := range p.Crates {
			if c == nil {
				errs = append(errs, fmt.Errorf("package %q: crates[%d] is nil", p.Name, j))
				continue
			}
			errs = append(errs, validateCrate(c, crates)...)
		}
	}
	return errors.Join(errs...)
}

func validateCrate(c *Crate, seen map[string]struct{}) []error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		return append(errs, errors.New("crate name is required"))
	}
	if _, dup := seen[c.Name]; dup {
		errs = append(errs, fmt.Errorf("duplicate crate name %q", c.Name))
	}
	seen[c.Name] = struct{}{}

	deps := make(map[string]struct{}, len(c.Dependencies))
	for _, d := range c.Dependencies {
		if strings.TrimSpace(d.Name) == "" {
			errs = append(errs, fmt.Errorf("crate %q: dependency name is required", c.Name))
			continue
		}
		if !d.Kind.Valid() {
			errs = append(errs, fmt.Errorf("crate %q: dependency %q has unknown kind %q", c.Name, d.Name, d.Kind))
		}
		if _, dup := deps[d.Name]; dup {
			errs = append(errs, fmt.Errorf("crate %q: dependency %q declared twice", c.Name, d.Name))
		}
		deps[d.Name] = struct{}{}
	}

	if c.Root != "" {
		if _, ok := c.File(c.Root); !ok {
			errs = append(errs, fmt.Errorf("crate %q: root module %q is not a crate file", c.Name, c.Root))
		}
	}
	files := make(map[string]struct{}, len(c.Files))
	for _, f := range c.Files {
		if _, dup := files[f.Path]; dup {
			errs = append(errs, fmt.Errorf("crate %q: file %q listed twice", c.Name, f.Path))
		}
		files[f.Path] = struct{}{}
	}
	return errs
}

// canonicalVersion adapts a bare "2.5.0" to the "v2.5.0" form semver expects.
func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// CompareVersions compares two bare or v-prefixed semantic versions.
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}
