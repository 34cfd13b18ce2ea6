package contract

import (
	"reflect"
	"strings"
	"testing"

	"voyager/internal/depgraph"
	"voyager/internal/workspace"
)

func crate(name string, deps ...string) *workspace.Crate {
	c := &workspace.Crate{Name: name}
	for _, d := range deps {
		c.Dependencies = append(c.Dependencies, workspace.Dependency{Name: d, Kind: workspace.EdgeNormal})
	}
	return c
}

func diamond(t *testing.T) *depgraph.Graph {
	t.Helper()
	// app -> left, right; left, right -> base; tool is independent.
	g, err := depgraph.Build([]*workspace.Crate{
		crate("app", "left", "right"),
		crate("left", "base"),
		crate("right", "base"),
		crate("base"),
		crate("tool"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return g
}

func TestTransition_AllowedAndRejected(t *testing.T) {
	states := States{"a": StatePending}
	if err := Transition(states, "a", StatePending, StateResolving); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := Transition(states, "a", StatePending, StateReady); err == nil {
		t.Fatalf("expected stale-from error")
	}
	if err := Transition(states, "a", StateResolving, StateBlocked); err == nil {
		t.Fatalf("expected disallowed transition error")
	}
	if err := Transition(states, "a", StateResolving, StateFailed); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := Transition(states, "a", StateFailed, StateReady); err == nil {
		t.Fatalf("expected terminal state to reject transitions")
	}
	if err := Transition(states, "missing", StatePending, StateResolving); err == nil {
		t.Fatalf("expected unknown crate error")
	}
	if states["a"] != StateFailed {
		t.Fatalf("expected FAILED, got %s", states["a"])
	}
}

func TestBlockDependents_BlocksTransitiveDependentsOnly(t *testing.T) {
	g := diamond(t)
	states := NewStates(g)
	states["base"] = StateFailed

	blocked, err := BlockDependents(g, states, "base")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if want := []string{"left", "right", "app"}; !reflect.DeepEqual(blocked, want) {
		t.Fatalf("expected blocked %v, got %v", want, blocked)
	}
	if states["tool"] != StatePending {
		t.Fatalf("independent crate must stay PENDING, got %s", states["tool"])
	}
}

func TestBlockDependents_SkipsTerminalDependents(t *testing.T) {
	g := diamond(t)
	states := NewStates(g)
	states["base"] = StateReady
	states["left"] = StateFailed
	states["right"] = StateReady

	blocked, err := BlockDependents(g, states, "left")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if want := []string{"app"}; !reflect.DeepEqual(blocked, want) {
		t.Fatalf("expected blocked %v, got %v", want, blocked)
	}
	if states["right"] != StateReady {
		t.Fatalf("sibling must keep READY, got %s", states["right"])
	}
}

func TestBlockDependents_ResolvingDependentIsInvariantViolation(t *testing.T) {
	g := diamond(t)
	states := NewStates(g)
	states["base"] = StateFailed
	states["left"] = StateResolving

	_, err := BlockDependents(g, states, "base")
	if err == nil || !strings.Contains(err.Error(), "invariant violation") {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestBlockDependents_RequiresFailedSource(t *testing.T) {
	g := diamond(t)
	states := NewStates(g)
	if _, err := BlockDependents(g, states, "base"); err == nil {
		t.Fatalf("expected error for PENDING source")
	}
	if _, err := BlockDependents(g, states, "nope"); err == nil {
		t.Fatalf("expected error for unknown crate")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []CrateState{StateReady, StateFailed, StateBlocked} {
		if !IsTerminal(s) {
			t.Fatalf("expected %s terminal", s)
		}
	}
	for _, s := range []CrateState{StatePending, StateResolving} {
		if IsTerminal(s) {
			t.Fatalf("expected %s non-terminal", s)
		}
	}
}
