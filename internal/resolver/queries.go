package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"

	"voyager/internal/compiler"
	"voyager/internal/contract"
	"voyager/internal/diag"
	"voyager/internal/querydb"
	"voyager/internal/workspace"
)

// Inputs.
const (
	QueryCrateConfig querydb.QueryID = "crate_config"
	QuerySource      querydb.QueryID = "source"
)

// Derived queries. parse and expand are keyed by file (see FileKey); the
// others by crate name.
const (
	QueryParse       querydb.QueryID = "parse"
	QueryExpand      querydb.QueryID = "expand"
	QuerySemantic    querydb.QueryID = "semantic"
	QueryDiagnostics querydb.QueryID = "diagnostics"
	QueryLowered     querydb.QueryID = "lowered"
	QueryArtifacts   querydb.QueryID = "artifacts"
	QueryFingerprint querydb.QueryID = "fingerprint"
)

// CrateConfig is the crate_config input. Dependencies are the graph edges in
// declaration order, after dev filtering.
type CrateConfig struct {
	Name         string   `json:"name"`
	Package      string   `json:"package"`
	Version      string   `json:"version,omitempty"`
	CairoVersion string   `json:"cairoVersion,omitempty"`
	Root         string   `json:"root"`
	Files        []string `json:"files"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// FileKey names a file-level query: "<crate>/<path>".
func FileKey(crate, path string) string { return crate + "/" + path }

func splitFileKey(key string) (crate, path string) {
	crate, path, _ = strings.Cut(key, "/")
	return crate, path
}

type ParsedFile struct {
	Tree        *compiler.SyntaxTree `json:"tree"`
	Diagnostics []diag.Diagnostic    `json:"diagnostics,omitempty"`
}

type ExpandedFile struct {
	Tree        *compiler.SyntaxTree `json:"tree"`
	Diagnostics []diag.Diagnostic    `json:"diagnostics,omitempty"`
}

type SemanticResult struct {
	Model       *compiler.SemanticModel `json:"model"`
	Diagnostics []diag.Diagnostic       `json:"diagnostics,omitempty"`
}

type LoweredResult struct {
	Crate       *compiler.LoweredCrate `json:"crate"`
	Diagnostics []diag.Diagnostic      `json:"diagnostics,omitempty"`
}

// ArtifactSet is the successful value of the artifacts query.
type ArtifactSet struct {
	Artifacts []contract.Artifact `json:"artifacts"`
	// Diagnostics are the non-blocking lowering and codegen diagnostics.
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// CrateFingerprint identifies everything a crate's outputs depend on. Own
// covers the crate's config and sources; Full adds the toolchain identity and
// the Full fingerprint of every dependency.
type CrateFingerprint struct {
	Own  string `json:"own"`
	Full string `json:"full"`
}

func (r *Resolver) registerQueries() {
	r.db.MustRegister(QueryParse, r.parseQuery)
	r.db.MustRegister(QueryExpand, r.expandQuery)
	r.db.MustRegister(QuerySemantic, r.semanticQuery)
	r.db.MustRegister(QueryDiagnostics, r.diagnosticsQuery)
	r.db.MustRegister(QueryLowered, r.loweredQuery)
	r.db.MustRegister(QueryArtifacts, r.artifactsQuery)
	r.db.MustRegister(QueryFingerprint, r.fingerprintQuery)
}

func crateConfig(qc *querydb.QueryContext, crate string) (CrateConfig, error) {
	cfg, ok := querydb.InputValue[CrateConfig](qc, QueryCrateConfig, crate)
	if !ok {
		return CrateConfig{}, fmt.Errorf("unknown crate %q", crate)
	}
	return cfg, nil
}

func (r *Resolver) parseQuery(qc *querydb.QueryContext, key string) (any, error) {
	crate, path := splitFileKey(key)
	src, ok := querydb.InputValue[string](qc, QuerySource, key)
	if !ok {
		return &ParsedFile{
			Tree:        &compiler.SyntaxTree{Crate: crate, File: path},
			Diagnostics: []diag.Diagnostic{diag.Errorf(crate, path, diag.Span{}, diag.CodeSyntax, "source file is missing")},
		}, nil
	}
	tree, ds := r.backend.Parse(crate, path, []byte(src))
	return &ParsedFile{Tree: tree, Diagnostics: ds}, nil
}

func (r *Resolver) expandQuery(qc *querydb.QueryContext, key string) (any, error) {
	parsed, err := querydb.Fetch[*ParsedFile](qc, QueryParse, key)
	if err != nil {
		return nil, err
	}
	tree, ds := r.plugins.Expand(parsed.Tree)
	return &ExpandedFile{Tree: tree, Diagnostics: ds}, nil
}

func (r *Resolver) semanticQuery(qc *querydb.QueryContext, crate string) (any, error) {
	cfg, err := crateConfig(qc, crate)
	if err != nil {
		return nil, err
	}
	trees := make([]*compiler.SyntaxTree, 0, len(cfg.Files))
	for _, f := range cfg.Files {
		exp, err := querydb.Fetch[*ExpandedFile](qc, QueryExpand, FileKey(crate, f))
		if err != nil {
			return nil, err
		}
		trees = append(trees, exp.Tree)
	}
	deps := make(map[string]*compiler.SemanticModel, len(cfg.Dependencies))
	for _, d := range cfg.Dependencies {
		sem, err := querydb.Fetch[*SemanticResult](qc, QuerySemantic, d)
		if err != nil {
			return nil, err
		}
		deps[d] = sem.Model
	}

	ds := compiler.CheckVersion(r.backend, crate, &workspace.Package{Name: cfg.Package, Version: cfg.Version, CairoVersion: cfg.CairoVersion})
	model, analyzeDiags := r.backend.Analyze(crate, cfg.Root, trees, deps)
	return &SemanticResult{Model: model, Diagnostics: append(ds, analyzeDiags...)}, nil
}

// diagnosticsQuery collects the front-end diagnostics of a crate: parse and
// expansion per file, then semantic analysis.
func (r *Resolver) diagnosticsQuery(qc *querydb.QueryContext, crate string) (any, error) {
	cfg, err := crateConfig(qc, crate)
	if err != nil {
		return nil, err
	}
	var out []diag.Diagnostic
	for _, f := range cfg.Files {
		parsed, err := querydb.Fetch[*ParsedFile](qc, QueryParse, FileKey(crate, f))
		if err != nil {
			return nil, err
		}
		out = append(out, parsed.Diagnostics...)
		exp, err := querydb.Fetch[*ExpandedFile](qc, QueryExpand, FileKey(crate, f))
		if err != nil {
			return nil, err
		}
		out = append(out, exp.Diagnostics...)
	}
	sem, err := querydb.Fetch[*SemanticResult](qc, QuerySemantic, crate)
	if err != nil {
		return nil, err
	}
	return append(out, sem.Diagnostics...), nil
}

func (r *Resolver) loweredQuery(qc *querydb.QueryContext, crate string) (any, error) {
	front, err := querydb.Fetch[[]diag.Diagnostic](qc, QueryDiagnostics, crate)
	if err != nil {
		return nil, err
	}
	if diag.HasErrors(front) {
		return &LoweredResult{}, nil
	}
	sem, err := querydb.Fetch[*SemanticResult](qc, QuerySemantic, crate)
	if err != nil {
		return nil, err
	}
	lowered, ds := r.backend.Lower(sem.Model)
	return &LoweredResult{Crate: lowered, Diagnostics: ds}, nil
}

// artifactsQuery fails with a *QueryComputationError when any stage of the
// crate reported an error. The failure is memoized like any other result.
func (r *Resolver) artifactsQuery(qc *querydb.QueryContext, crate string) (any, error) {
	cfg, err := crateConfig(qc, crate)
	if err != nil {
		return nil, err
	}
	front, err := querydb.Fetch[[]diag.Diagnostic](qc, QueryDiagnostics, crate)
	if err != nil {
		return nil, err
	}
	if diag.HasErrors(front) {
		return nil, &QueryComputationError{Crate: crate, Diagnostics: diag.Errors(front)}
	}
	lowered, err := querydb.Fetch[*LoweredResult](qc, QueryLowered, crate)
	if err != nil {
		return nil, err
	}
	if diag.HasErrors(lowered.Diagnostics) {
		return nil, &QueryComputationError{
			Crate:       crate,
			Diagnostics: diag.Errors(lowered.Diagnostics),
			Warnings:    diag.NonBlocking(lowered.Diagnostics),
		}
	}

	arts, codegen := r.extractor.Extract(cfg.Package, lowered.Crate)
	if diag.HasErrors(codegen) {
		return nil, &QueryComputationError{
			Crate:       crate,
			Diagnostics: diag.Errors(codegen),
			Warnings:    append(diag.NonBlocking(lowered.Diagnostics), diag.NonBlocking(codegen)...),
		}
	}
	ds := append(append([]diag.Diagnostic(nil), lowered.Diagnostics...), codegen...)
	return &ArtifactSet{Artifacts: arts, Diagnostics: ds}, nil
}

func (r *Resolver) fingerprintQuery(qc *querydb.QueryContext, crate string) (any, error) {
	cfg, err := crateConfig(qc, crate)
	if err != nil {
		return nil, err
	}
	own := sha256.New()
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	writeField(own, cfgJSON)
	for _, f := range cfg.Files {
		src, _ := querydb.InputValue[string](qc, QuerySource, FileKey(crate, f))
		writeField(own, []byte(f))
		writeField(own, []byte(src))
	}
	ownHex := hex.EncodeToString(own.Sum(nil))

	full := sha256.New()
	writeField(full, []byte(ownHex))
	writeField(full, []byte(r.toolchain))
	for _, d := range cfg.Dependencies {
		dep, err := querydb.Fetch[*CrateFingerprint](qc, QueryFingerprint, d)
		if err != nil {
			return nil, err
		}
		writeField(full, []byte(d))
		writeField(full, []byte(dep.Full))
	}
	return &CrateFingerprint{Own: ownHex, Full: hex.EncodeToString(full.Sum(nil))}, nil
}

// writeField length-prefixes b so adjacent fields cannot run together.
func writeField(h hash.Hash, b []byte) {
	fmt.Fprintf(h, "%d:", len(b))
	_, _ = h.Write(b)
}
