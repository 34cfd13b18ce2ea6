package contract

import (
	"fmt"

	"voyager/internal/depgraph"
)

// CrateState is the resolution state of one crate.
//
//	Pending -> Resolving -> Ready | Failed
//	Pending -> Ready (restored from cache)
//	Pending -> Blocked (a dependency failed)
type CrateState string

const (
	StatePending   CrateState = "PENDING"
	StateResolving CrateState = "RESOLVING"
	StateReady     CrateState = "READY"
	StateFailed    CrateState = "FAILED"
	StateBlocked   CrateState = "BLOCKED"
)

// States maps crate names to their state for one resolution pass.
type States map[string]CrateState

// NewStates returns every crate of g in StatePending.
func NewStates(g *depgraph.Graph) States {
	s := make(States, g.Len())
	for _, n := range g.Nodes() {
		s[n.Name] = StatePending
	}
	return s
}

func IsTerminal(s CrateState) bool {
	switch s {
	case StateReady, StateFailed, StateBlocked:
		return true
	default:
		return false
	}
}

// Transition performs a validated transition. The caller supplies the expected
// prior state so races are observable; states is only mutated on success.
func Transition(states States, crate string, from, to CrateState) error {
	cur, ok := states[crate]
	if !ok {
		return fmt.Errorf("unknown crate in state: %q", crate)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", crate, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", crate, from, to)
	}
	states[crate] = to
	return nil
}

func isAllowedTransition(from, to CrateState) bool {
	switch from {
	case StatePending:
		return to == StateResolving || to == StateReady || to == StateBlocked
	case StateResolving:
		return to == StateReady || to == StateFailed
	default:
		return false
	}
}

// BlockDependents marks every pending transitive dependent of crate as Blocked
// and returns them in topological order. crate must be Failed or Blocked.
//
// A dependent that is already Resolving means a dependent was scheduled before
// its dependency finished, which is reported as an invariant violation.
func BlockDependents(g *depgraph.Graph, states States, crate string) ([]string, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if _, ok := g.Node(crate); !ok {
		return nil, fmt.Errorf("unknown crate: %q", crate)
	}
	cur, ok := states[crate]
	if !ok {
		return nil, fmt.Errorf("unknown crate in state: %q", crate)
	}
	if cur != StateFailed && cur != StateBlocked {
		return nil, fmt.Errorf("cannot block dependents of %q from state %s", crate, cur)
	}

	var blocked []string
	for _, name := range g.TransitiveDependents(crate) {
		st, ok := states[name]
		if !ok {
			return nil, fmt.Errorf("missing state for %q", name)
		}
		switch st {
		case StatePending:
			states[name] = StateBlocked
			blocked = append(blocked, name)
		case StateResolving:
			return nil, fmt.Errorf("invariant violation: dependent %q is RESOLVING while %q failed", name, crate)
		}
	}
	return blocked, nil
}
