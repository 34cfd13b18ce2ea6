package runstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voyager/internal/contract"
	"voyager/internal/trace"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, base
}

func TestStore_SaveAndLoadRun_NullablePreviousRunID(t *testing.T) {
	store, base := newStore(t)

	run := Run{
		RunID:     "run-1",
		GraphHash: "gh",
		StartTime: time.Unix(1, 0).UTC(),
		Mode:      ModeIncremental,
		Workers:   4,
		Status:    StatusRunning,
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, ".voyager", "runs", "run-1", "run.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"previous_run_id": null`) {
		t.Fatalf("expected previous_run_id null; got: %s", data)
	}
	if strings.Contains(string(data), "end_time") {
		t.Fatalf("running record should omit end_time; got: %s", data)
	}

	loaded, err := store.LoadRun("run-1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.RunID != "run-1" || loaded.Workers != 4 || loaded.PreviousRunID != nil {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
}

func TestStore_RejectsInvalidRecords(t *testing.T) {
	store, base := newStore(t)

	if err := store.SaveRun(Run{RunID: "x", Mode: "weird", Status: StatusRunning}); err == nil {
		t.Fatalf("expected invalid run to be rejected")
	}
	if err := store.SaveFailure("x", Failure{Class: "nope"}); err == nil {
		t.Fatalf("expected invalid failure to be rejected")
	}

	dir := filepath.Join(base, ".voyager", "runs", "junk")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(`{"run_id":"junk","extra":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadRun("junk"); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(`{"run_id":"junk","start_time":"2024-01-01T00:00:00Z","mode":"clean","workers":1,"status":"running","previous_run_id":null} {}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadRun("junk"); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("expected trailing content error, got %v", err)
	}
}

func TestStore_ListRunsOrdersByStartTime(t *testing.T) {
	store, _ := newStore(t)

	if runs, err := store.ListRuns(); err != nil || len(runs) != 0 {
		t.Fatalf("expected no runs, got %v %v", runs, err)
	}

	for i, id := range []string{"c", "a", "b"} {
		run := Run{RunID: id, StartTime: time.Unix(int64(10-i), 0).UTC(), Mode: ModeClean, Status: StatusSucceeded}
		if err := store.SaveRun(run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	// A directory without run.json is ignored.
	if err := os.MkdirAll(filepath.Join(store.Root(), "partial"), 0o755); err != nil {
		t.Fatal(err)
	}

	ids, err := store.ListRunIDs()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "a,b,c,partial" {
		t.Fatalf("ListRunIDs = %v", ids)
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range runs {
		got = append(got, r.RunID)
	}
	if strings.Join(got, ",") != "b,a,c" {
		t.Fatalf("ListRuns order = %v", got)
	}

	latest, ok, err := store.LatestRun()
	if err != nil || !ok || latest.RunID != "c" {
		t.Fatalf("LatestRun = %v %v %v", latest.RunID, ok, err)
	}
}

func TestStore_TraceRoundTripIsCanonical(t *testing.T) {
	store, _ := newStore(t)
	tr := trace.ResolutionTrace{GraphHash: "g", Events: []trace.Event{
		{Kind: trace.EventCrateResolved, Crate: "b"},
		{Kind: trace.EventCrateInvalidated, Crate: "a", Reason: trace.ReasonNotCached},
	}}
	if err := store.SaveTrace("r", tr); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	loaded, err := store.LoadTrace("r")
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if len(loaded.Events) != 2 || loaded.Events[0].Crate != "a" {
		t.Fatalf("expected canonical order, got %+v", loaded.Events)
	}
	want, _ := tr.Hash()
	got, _ := loaded.Hash()
	if want != got {
		t.Fatalf("hash changed across round trip: %s != %s", want, got)
	}
}

func TestWriteArtifacts(t *testing.T) {
	out := t.TempDir()
	arts := []contract.Artifact{{
		Name:    "ERC20",
		Path:    "token::erc20::ERC20",
		Crate:   "token",
		Package: "token",
		Payload: []byte("define i64 @f() {\n}\n"),
		Hash:    "abc",
	}}
	paths, err := WriteArtifacts(out, arts)
	if err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
	ir, err := os.ReadFile(filepath.Join(out, "token", "ERC20.ll"))
	if err != nil || string(ir) != string(arts[0].Payload) {
		t.Fatalf("ir mismatch: %q %v", ir, err)
	}
	manifest, err := os.ReadFile(filepath.Join(out, "token", "ERC20.contract.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(manifest), `"abi": []`) || !strings.Contains(string(manifest), `"hash": "abc"`) {
		t.Fatalf("unexpected manifest: %s", manifest)
	}

	bad := []contract.Artifact{{Name: "../x", Crate: "token", Path: "p"}}
	if _, err := WriteArtifacts(out, bad); err == nil {
		t.Fatalf("expected path traversal to be rejected")
	}
}
