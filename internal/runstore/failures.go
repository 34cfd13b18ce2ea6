package runstore

import (
	"context"
	"errors"

	"voyager/internal/contract"
	"voyager/internal/depgraph"
	"voyager/internal/querydb"
	"voyager/internal/resolver"
	"voyager/internal/workspace"
)

// FailureFromError classifies err into a Failure record. Structural errors
// are never retryable; cancellations and unknown errors are.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var cycle *depgraph.CycleError
	if errors.As(err, &cycle) {
		return Failure{Class: FailureClassGraph, Crates: uniq(cycle.Path), Code: "GraphCycle", Message: err.Error()}, nil
	}
	var unresolved *depgraph.UnresolvedDependencyError
	if errors.As(err, &unresolved) {
		return Failure{Class: FailureClassGraph, Crates: []string{unresolved.Crate}, Code: "UnresolvedDependency", Message: err.Error()}, nil
	}
	if errors.Is(err, depgraph.ErrInvalidGraph) {
		return Failure{Class: FailureClassGraph, Code: "InvalidGraph", Message: err.Error()}, nil
	}
	if errors.Is(err, workspace.ErrManifest) || errors.Is(err, resolver.ErrInvalidWorkspace) {
		return Failure{Class: FailureClassWorkspace, Code: "InvalidWorkspace", Message: err.Error()}, nil
	}

	var re *resolver.ResolutionError
	if errors.As(err, &re) {
		f := Failure{Class: FailureClassResolution, Code: "CratesBlocked", Message: err.Error()}
		for _, b := range re.Blocked {
			if b.State == contract.StateFailed {
				f.Crates = append(f.Crates, b.Crate)
			}
		}
		return f, nil
	}

	if errors.Is(err, querydb.ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failure{Class: FailureClassSystem, Code: "Cancelled", Message: err.Error(), Retryable: true}, nil
	}
	return Failure{Class: FailureClassSystem, Code: "UnknownError", Message: err.Error(), Retryable: true}, nil
}

// uniq drops the closing repeat of a cycle path.
func uniq(path []string) []string {
	seen := make(map[string]struct{}, len(path))
	out := make([]string, 0, len(path))
	for _, p := range path {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
