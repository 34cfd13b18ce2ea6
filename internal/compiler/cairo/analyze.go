package cairo

import (
	"path"
	"strings"

	"voyager/internal/compiler"
	"voyager/internal/diag"
)

type analyzer struct {
	b     *Backend
	crate string
	files map[string]*compiler.SyntaxTree
	used  map[string]bool
	deps  map[string]*compiler.SemanticModel
	model *compiler.SemanticModel
	diags []diag.Diagnostic
}

// Analyze assembles the crate module tree starting at root, then checks item
// names, attributes and imports.
func (b *Backend) Analyze(crate, root string, files []*compiler.SyntaxTree, deps map[string]*compiler.SemanticModel) (*compiler.SemanticModel, []diag.Diagnostic) {
	a := &analyzer{
		b:     b,
		crate: crate,
		files: make(map[string]*compiler.SyntaxTree, len(files)),
		used:  make(map[string]bool, len(files)),
		deps:  deps,
		model: &compiler.SemanticModel{Crate: crate},
	}
	for _, f := range files {
		if f != nil {
			a.files[f.File] = f
		}
	}
	if root == "" {
		if len(files) > 0 {
			a.diags = append(a.diags, diag.Errorf(crate, "", diag.Span{}, diag.CodeSyntax, "crate has sources but no root module"))
		}
		return a.model, a.diags
	}
	rootTree, ok := a.files[root]
	if !ok {
		a.diags = append(a.diags, diag.Errorf(crate, root, diag.Span{}, diag.CodeSyntax, "root module %s not found", root))
		return a.model, a.diags
	}

	a.used[root] = true
	a.model.Items = a.place(rootTree.Items, root, crate, path.Dir(root))
	for _, f := range files {
		if f != nil && !a.used[f.File] {
			a.diags = append(a.diags, diag.Warningf(crate, f.File, diag.Span{}, diag.CodeSyntax, "file is not part of the module tree"))
		}
	}
	a.checkScope(a.model.Items)
	a.resolveImports(a.model.Items)
	return a.model, a.diags
}

// place turns nodes of file into items under prefix. dir is where external
// child modules of this scope live.
func (a *analyzer) place(nodes []*compiler.Node, file, prefix, dir string) []*compiler.Item {
	items := make([]*compiler.Item, 0, len(nodes))
	for _, n := range nodes {
		it := &compiler.Item{Node: n, File: file, Path: prefix + "::" + n.Name}
		switch {
		case n.Kind == compiler.KindModule && n.External:
			childFile := path.Join(dir, n.Name+".cairo")
			tree, ok := a.files[childFile]
			if !ok {
				a.diags = append(a.diags, diag.Errorf(a.crate, file, n.Span, diag.CodeSyntax, "file not found for module %s (expected %s)", n.Name, childFile))
				break
			}
			a.used[childFile] = true
			it.Children = a.place(tree.Items, childFile, it.Path, path.Join(dir, n.Name))
		case len(n.Children) > 0:
			it.Children = a.place(n.Children, file, it.Path, path.Join(dir, n.Name))
		}
		items = append(items, it)
	}
	return items
}

func (a *analyzer) checkScope(items []*compiler.Item) {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		n := it.Node
		for _, attr := range n.Attributes {
			if _, ok := a.b.attributes[compiler.AttributeName(attr)]; !ok {
				a.diags = append(a.diags, diag.Warningf(a.crate, it.File, n.Span, diag.CodeUnknownAttribute, "unknown attribute #[%s] on %s %s", attr, n.Kind, n.Name))
			}
		}
		if n.Kind != compiler.KindUse && n.Kind != compiler.KindImpl {
			if seen[n.Name] {
				a.diags = append(a.diags, diag.Errorf(a.crate, it.File, n.Span, diag.CodeDuplicateItem, "%s %s is defined more than once in %s", n.Kind, n.Name, parentPath(it.Path)))
			}
			seen[n.Name] = true
		}
		a.checkScope(it.Children)
	}
}

func (a *analyzer) resolveImports(items []*compiler.Item) {
	for _, it := range items {
		if it.Node.Kind == compiler.KindUse {
			a.resolveImport(it)
		}
		a.resolveImports(it.Children)
	}
}

func (a *analyzer) resolveImport(it *compiler.Item) {
	p := it.Node.Path
	segs := strings.Split(p, "::")
	head, rest := segs[0], strings.Join(segs[1:], "::")
	imp := compiler.Import{Path: p, Crate: head, Target: rest, File: it.File, Span: it.Node.Span}

	switch {
	case head == "super" || head == "self":
		imp.Crate = a.crate
	case head == a.crate || head == "crate":
		imp.Crate = a.crate
		if rest != "" {
			if _, ok := a.model.Lookup(rest); !ok {
				a.unresolved(it, "cannot resolve %s in crate %s", rest, a.crate)
				return
			}
		}
	case a.isBuiltin(head):
	default:
		dep, ok := a.deps[head]
		if !ok {
			a.unresolved(it, "crate %s is not a dependency of %s", head, a.crate)
			return
		}
		if rest == "" || rest == "*" {
			break
		}
		if _, ok := dep.Lookup(strings.TrimSuffix(rest, "::*")); !ok {
			a.unresolved(it, "cannot resolve %s in crate %s", rest, head)
			return
		}
	}
	a.model.Imports = append(a.model.Imports, imp)
}

func (a *analyzer) unresolved(it *compiler.Item, format string, args ...any) {
	a.diags = append(a.diags, diag.Errorf(a.crate, it.File, it.Node.Span, diag.CodeUnresolvedImport, format, args...))
}

func (a *analyzer) isBuiltin(name string) bool {
	_, ok := a.b.builtins[name]
	return ok
}

func parentPath(p string) string {
	if i := strings.LastIndex(p, "::"); i >= 0 {
		return p[:i]
	}
	return p
}
