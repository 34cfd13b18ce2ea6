// Package contract extracts deployable contract artifacts from lowered crates
// and tracks the per-crate resolution state machine.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"voyager/internal/compiler"
	"voyager/internal/diag"
)

// Artifact is a compiled contract found in a crate.
type Artifact struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Crate   string `json:"crate"`
	Package string `json:"package"`
	// SourceFile is the crate-relative file declaring the contract.
	SourceFile string   `json:"sourceFile"`
	ABI        []string `json:"abi"`
	Payload    []byte   `json:"payload"`
	// Hash is the hex sha256 of Payload.
	Hash        string            `json:"hash"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// Extractor turns contract-marked lowered items into artifacts.
type Extractor struct {
	backend compiler.Backend
}

func NewExtractor(backend compiler.Backend) *Extractor {
	return &Extractor{backend: backend}
}

// Extract generates an artifact for every item carrying the contract marker.
// Artifacts are ordered by name, then path. Items whose code generation
// reports errors produce no artifact.
func (e *Extractor) Extract(pkg string, lowered *compiler.LoweredCrate) ([]Artifact, []diag.Diagnostic) {
	if lowered == nil {
		return nil, nil
	}
	var (
		out   []Artifact
		diags []diag.Diagnostic
	)
	for _, item := range lowered.Contracts() {
		gen, ds := e.backend.Codegen(lowered.Crate, item)
		diags = append(diags, ds...)
		if gen == nil || diag.HasErrors(ds) {
			continue
		}
		sum := sha256.Sum256(gen.Payload)
		out = append(out, Artifact{
			Name:        item.Name,
			Path:        item.Path,
			Crate:       lowered.Crate,
			Package:     pkg,
			SourceFile:  item.File,
			ABI:         append([]string(nil), gen.ABI...),
			Payload:     gen.Payload,
			Hash:        hex.EncodeToString(sum[:]),
			Diagnostics: ds,
		})
	}
	SortArtifacts(out, nil)
	return out, diags
}

// SortArtifacts orders artifacts by crate rank (nil keeps crates by name),
// then name, then path.
func SortArtifacts(as []Artifact, rank func(string) int) {
	sort.SliceStable(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.Crate != b.Crate {
			if rank != nil {
				if ra, rb := rank(a.Crate), rank(b.Crate); ra != rb {
					return ra < rb
				}
			}
			return a.Crate < b.Crate
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Path < b.Path
	})
}
