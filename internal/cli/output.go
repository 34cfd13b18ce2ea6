package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"voyager/internal/trace"
)

// prepareOutputDir creates dir or empties it so no stale artifact survives.
func prepareOutputDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output dir is empty")
	}
	clean := filepath.Clean(dir)
	if clean == "/" {
		return fmt.Errorf("refusing to operate on output dir '/'")
	}
	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(clean, 0o755)
		}
		return fmt.Errorf("stat output dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output dir is not a directory: %s", clean)
	}
	entries, err := os.ReadDir(clean)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(clean, e.Name())); err != nil {
			return fmt.Errorf("clear output dir: %w", err)
		}
	}
	return nil
}

// writeTraceFile writes the canonical trace bytes to path.
func writeTraceFile(path string, t trace.ResolutionTrace) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	return writeFileAtomic(path, b, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
