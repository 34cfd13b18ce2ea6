package runstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"voyager/internal/contract"
)

// artifactManifest is the <name>.contract.json sidecar of a written artifact.
type artifactManifest struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Crate      string   `json:"crate"`
	Package    string   `json:"package"`
	SourceFile string   `json:"source_file"`
	ABI        []string `json:"abi"`
	Hash       string   `json:"hash"`
}

// WriteArtifacts writes each artifact to <dir>/<crate>/<name>.ll with a
// .contract.json manifest beside it. It returns the written paths in order.
func WriteArtifacts(dir string, artifacts []contract.Artifact) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output dir is required")
	}
	var written []string
	for _, a := range artifacts {
		if err := checkPathElem(a.Crate); err != nil {
			return written, fmt.Errorf("artifact %s: crate: %w", a.Path, err)
		}
		if err := checkPathElem(a.Name); err != nil {
			return written, fmt.Errorf("artifact %s: name: %w", a.Path, err)
		}
		crateDir := filepath.Join(dir, a.Crate)
		if err := ensureDirDurable(crateDir, 0o755); err != nil {
			return written, err
		}

		ir := filepath.Join(crateDir, a.Name+".ll")
		if err := writeFileAtomicDurable(ir, a.Payload, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", ir, err)
		}
		written = append(written, ir)

		abi := a.ABI
		if abi == nil {
			abi = []string{}
		}
		data, err := jsonMarshalStable(artifactManifest{
			Name:       a.Name,
			Path:       a.Path,
			Crate:      a.Crate,
			Package:    a.Package,
			SourceFile: a.SourceFile,
			ABI:        abi,
			Hash:       a.Hash,
		})
		if err != nil {
			return written, err
		}
		manifest := filepath.Join(crateDir, a.Name+".contract.json")
		if err := writeFileAtomicDurable(manifest, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", manifest, err)
		}
		written = append(written, manifest)
	}
	return written, nil
}

func checkPathElem(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("empty")
	}
	if s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%q is not a valid file name", s)
	}
	return nil
}
