package runstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voyager/internal/trace"
)

// Store persists run records under:
//   <baseDir>/.voyager/runs/<run-id>/
//
// Every write is atomic and durable (file sync + rename + dir sync).
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

// Root is the directory holding one subdirectory per run.
func (s *Store) Root() string {
	return filepath.Join(s.baseDir, ".voyager", "runs")
}

func (s *Store) runDir(runID string) string    { return filepath.Join(s.Root(), runID) }
func (s *Store) runPath(runID string) string   { return filepath.Join(s.runDir(runID), "run.json") }
func (s *Store) tracePath(runID string) string { return filepath.Join(s.runDir(runID), "trace.json") }
func (s *Store) failurePath(runID string) string {
	return filepath.Join(s.runDir(runID), "failure.json")
}

// ListRunIDs returns the run directories present on disk, sorted lexicographically.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.TrimSpace(e.Name()) == "" {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// ListRuns loads every run record, oldest first. Directories without a
// readable run.json are skipped.
func (s *Store) ListRuns() ([]Run, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.LoadRun(id)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].StartTime.Equal(runs[j].StartTime) {
			return runs[i].StartTime.Before(runs[j].StartTime)
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

// LatestRun returns the most recently started run, or ok=false when none exist.
func (s *Store) LatestRun() (run Run, ok bool, err error) {
	runs, err := s.ListRuns()
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[len(runs)-1], true, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.write(run.RunID, s.runPath(run.RunID), "run", run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if strings.TrimSpace(runID) == "" {
		return Run{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.runPath(runID), &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

// SaveTrace writes the canonical form of t.
func (s *Store) SaveTrace(runID string, t trace.ResolutionTrace) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	data, err := t.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("canonicalize trace: %w", err)
	}
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	if err := writeFileAtomicDurable(s.tracePath(runID), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

func (s *Store) LoadTrace(runID string) (trace.ResolutionTrace, error) {
	var t trace.ResolutionTrace
	if strings.TrimSpace(runID) == "" {
		return t, errors.New("runID is required")
	}
	if err := readJSONStrict(s.tracePath(runID), &t); err != nil {
		return trace.ResolutionTrace{}, err
	}
	return t, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.write(runID, s.failurePath(runID), "failure", failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if strings.TrimSpace(runID) == "" {
		return Failure{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.failurePath(runID), &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

func (s *Store) write(runID, path, what string, v any) error {
	if err := ensureDirDurable(s.runDir(runID), 0o755); err != nil {
		return fmt.Errorf("ensure run dir: %w", err)
	}
	data, err := jsonMarshalStable(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	if err := writeFileAtomicDurable(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", what, err)
	}
	return nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	if parent := filepath.Dir(dir); parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
