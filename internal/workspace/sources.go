package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceExt is the extension of crate source files.
const SourceExt = ".cairo"

// SourceResolver discovers and reads the source files of a crate directory.
//
// Determinism:
//   - Paths are slash-normalized and relative to the crate directory.
//   - The file list is strictly sorted; filesystem iteration order never leaks.
//   - Files are identified by content only. Metadata is ignored.
type SourceResolver struct {
	// SourceDir is the directory under the crate root that holds modules.
	SourceDir string
}

func NewSourceResolver() *SourceResolver {
	return &SourceResolver{SourceDir: "src"}
}

// Resolve returns every source file below dir/SourceDir, sorted by path.
func (r *SourceResolver) Resolve(dir string) ([]File, error) {
	root := filepath.Join(dir, r.SourceDir)
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), SourceExt) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", root, err)
	}
	// WalkDir is lexical per directory, not across the whole tree.
	sort.Strings(paths)

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil {
			return nil, fmt.Errorf("reading source %q: %w", p, err)
		}
		files = append(files, File{Path: p, Content: content})
	}
	return files, nil
}

// expandMembers expands workspace member patterns relative to root into a
// sorted, de-duplicated list of directories containing a manifest.
func expandMembers(root string, patterns []string) ([]string, error) {
	set := make(map[string]struct{})
	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(pattern) {
			full = filepath.Join(root, filepath.FromSlash(pattern))
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("invalid member pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !containsGlobChar(pattern) {
			return nil, fmt.Errorf("workspace member %q does not exist", pattern)
		}
		for _, m := range matches {
			if _, err := os.Stat(filepath.Join(m, ManifestName)); err != nil {
				continue
			}
			set[filepath.Clean(m)] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func containsGlobChar(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}
