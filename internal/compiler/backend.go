package compiler

import (
	"fmt"

	"voyager/internal/diag"
	"voyager/internal/workspace"
)

// Backend is a compiler used by the resolver. Every method must be pure: the
// same inputs yield the same outputs and diagnostics.
type Backend interface {
	// Name and Version identify the backend in cache fingerprints.
	Name() string
	Version() string
	// SupportedVersions lists the language versions the backend compiles.
	SupportedVersions() []string

	Parse(crate, file string, src []byte) (*SyntaxTree, []diag.Diagnostic)
	// Analyze builds the semantic model of crate from its expanded files.
	// deps holds the models of the crate's direct dependencies by crate name.
	Analyze(crate, root string, files []*SyntaxTree, deps map[string]*SemanticModel) (*SemanticModel, []diag.Diagnostic)
	Lower(model *SemanticModel) (*LoweredCrate, []diag.Diagnostic)
	Codegen(crate string, item LoweredItem) (*Output, []diag.Diagnostic)
}

// Supported compiler and package manager versions.
var (
	SupportedCairoVersions = []string{"2.5.0"}
	SupportedScarbVersions = []string{"2.5.0"}
)

// CheckVersion reports an error diagnostic when a package pins a language
// version the backend does not support. An empty version is accepted.
func CheckVersion(b Backend, crate string, pkg *workspace.Package) []diag.Diagnostic {
	if pkg == nil || pkg.CairoVersion == "" {
		return nil
	}
	for _, v := range b.SupportedVersions() {
		if workspace.CompareVersions(v, pkg.CairoVersion) == 0 {
			return nil
		}
	}
	return []diag.Diagnostic{diag.Errorf(crate, "", diag.Span{}, diag.CodeUnsupportedVersion,
		"package %q requires cairo %s; %s supports %v", pkg.Name, pkg.CairoVersion, b.Name(), b.SupportedVersions())}
}

// Identity is the cache identity of a backend.
func Identity(b Backend) string {
	return fmt.Sprintf("%s@%s", b.Name(), b.Version())
}
