package runstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"voyager/internal/contract"
	"voyager/internal/depgraph"
	"voyager/internal/querydb"
	"voyager/internal/resolver"
	"voyager/internal/trace"
	"voyager/internal/workspace"
)

func TestFailureFromError_Classification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		class     FailureClass
		code      string
		crates    string
		retryable bool
	}{
		{"cycle", fmt.Errorf("%w: %w", resolver.ErrInvalidWorkspace, &depgraph.CycleError{Path: []string{"A", "B", "A"}}), FailureClassGraph, "GraphCycle", "A,B", false},
		{"unresolved", &depgraph.UnresolvedDependencyError{Crate: "app", Dependency: "ghost"}, FailureClassGraph, "UnresolvedDependency", "app", false},
		{"manifest", fmt.Errorf("%w: bad toml", workspace.ErrManifest), FailureClassWorkspace, "InvalidWorkspace", "", false},
		{"resolution", &resolver.ResolutionError{Blocked: []resolver.BlockedCrate{
			{Crate: "bad", State: contract.StateFailed},
			{Crate: "app", State: contract.StateBlocked, Cause: "bad"},
		}}, FailureClassResolution, "CratesBlocked", "bad", false},
		{"cancelled", fmt.Errorf("crate x: %w", querydb.ErrCancelled), FailureClassSystem, "Cancelled", "", true},
		{"context", context.Canceled, FailureClassSystem, "Cancelled", "", true},
		{"unknown", errors.New("disk on fire"), FailureClassSystem, "UnknownError", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := FailureFromError(tc.err)
			if err != nil {
				t.Fatalf("FailureFromError: %v", err)
			}
			if f.Class != tc.class || f.Code != tc.code || f.Retryable != tc.retryable {
				t.Fatalf("got %+v", f)
			}
			if strings.Join(f.Crates, ",") != tc.crates {
				t.Fatalf("crates = %v, want %s", f.Crates, tc.crates)
			}
			if err := f.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}

	if _, err := FailureFromError(nil); err == nil {
		t.Fatalf("expected error for nil")
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	store, _ := newStore(t)
	clock := time.Unix(100, 0).UTC()
	rec := NewRecorder(store)
	rec.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, err := rec.Start(ModeClean, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.PreviousRunID != nil || first.Status != StatusRunning {
		t.Fatalf("unexpected first run: %+v", first)
	}

	rep := &resolver.Report{
		Order: []string{"bad", "app", "lib"},
		States: contract.States{
			"bad": contract.StateFailed,
			"app": contract.StateBlocked,
			"lib": contract.StateReady,
		},
		Blocked: []resolver.BlockedCrate{
			{Crate: "bad", State: contract.StateFailed},
			{Crate: "app", State: contract.StateBlocked, Cause: "bad"},
		},
		Errors:    1,
		Warnings:  2,
		GraphHash: "gh",
		Revision:  3,
		Trace: trace.ResolutionTrace{Events: []trace.Event{
			{Kind: trace.EventCrateFailed, Crate: "bad", Reason: "Syntax"},
			{Kind: trace.EventCrateBlocked, Crate: "app", Reason: trace.ReasonDependencyFailed, Cause: "bad"},
		}},
	}
	done, err := rec.Finish(first, rep)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != StatusFailed || done.TraceHash == "" || done.EndTime == nil {
		t.Fatalf("unexpected finished run: %+v", done)
	}
	s := done.Summary
	if strings.Join(s.Ready, ",") != "lib" || strings.Join(s.Failed, ",") != "bad" || strings.Join(s.Blocked, ",") != "app" || s.Revision != 3 || s.Errors != 1 || s.Warnings != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	f, err := store.LoadFailure(first.RunID)
	if err != nil || f.Class != FailureClassResolution {
		t.Fatalf("LoadFailure = %+v %v", f, err)
	}

	second, err := rec.Start(ModeIncremental, 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if second.PreviousRunID == nil || *second.PreviousRunID != first.RunID {
		t.Fatalf("expected link to %s, got %v", first.RunID, second.PreviousRunID)
	}
	aborted, err := rec.Abort(second, context.Canceled)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if aborted.Status != StatusErrored {
		t.Fatalf("status = %s", aborted.Status)
	}
	loaded, err := store.LoadRun(second.RunID)
	if err != nil || loaded.Status != StatusErrored {
		t.Fatalf("LoadRun = %+v %v", loaded, err)
	}
}
