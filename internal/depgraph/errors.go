package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph         = errors.New("invalid crate graph")
	ErrCycle                = errors.New("dependency cycle")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
)

// GraphError wraps deterministic graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

// CycleError reports one closed dependency path, first crate repeated last:
// [A, B, C, A] means A depends on B, B on C and C on A.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// UnresolvedDependencyError reports a dependency naming a crate absent from the workspace.
type UnresolvedDependencyError struct {
	Crate      string
	Dependency string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("%s: crate %q depends on unknown crate %q", ErrUnresolvedDependency.Error(), e.Crate, e.Dependency)
}

func (e *UnresolvedDependencyError) Unwrap() error { return ErrUnresolvedDependency }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}
