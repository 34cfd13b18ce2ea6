package resolver

import (
	"errors"
	"fmt"
	"strings"

	"voyager/internal/contract"
	"voyager/internal/diag"
	"voyager/internal/querydb"
	"voyager/internal/trace"
)

// QueryComputationError is the memoized failure of a crate whose own queries
// reported blocking diagnostics.
type QueryComputationError struct {
	Crate       string
	Diagnostics []diag.Diagnostic
	// Warnings are the non-blocking diagnostics of the back-end stages that
	// ran before the failure.
	Warnings []diag.Diagnostic
}

func (e *QueryComputationError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("crate %s failed", e.Crate)
	}
	return fmt.Sprintf("crate %s: %d blocking diagnostic(s), first: %s", e.Crate, len(e.Diagnostics), e.Diagnostics[0])
}

var ErrResolutionFailed = errors.New("resolution failed")

// BlockedCrate is a crate that produced no artifacts. Failed crates carry
// their blocking diagnostics; Blocked crates name the failed upstream crate.
type BlockedCrate struct {
	Crate       string              `json:"crate"`
	State       contract.CrateState `json:"state"`
	Cause       string              `json:"cause,omitempty"`
	Diagnostics []diag.Diagnostic   `json:"diagnostics,omitempty"`
}

// ResolutionError lists every crate that failed or was blocked.
type ResolutionError struct {
	Blocked []BlockedCrate
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Blocked))
	for _, b := range e.Blocked {
		switch {
		case b.State == contract.StateFailed && len(b.Diagnostics) > 0:
			parts = append(parts, fmt.Sprintf("%s failed (%s)", b.Crate, b.Diagnostics[0]))
		case b.State == contract.StateFailed:
			parts = append(parts, b.Crate+" failed")
		default:
			parts = append(parts, fmt.Sprintf("%s blocked by %s", b.Crate, b.Cause))
		}
	}
	return fmt.Sprintf("%s: %s", ErrResolutionFailed, strings.Join(parts, "; "))
}

func (e *ResolutionError) Unwrap() error { return ErrResolutionFailed }

// Report is the outcome of one resolution pass.
type Report struct {
	// Order is the topological crate order.
	Order  []string        `json:"order"`
	States contract.States `json:"states"`
	// Artifacts are ordered by crate position, then contract name.
	Artifacts   []contract.Artifact   `json:"artifacts"`
	Blocked     []BlockedCrate        `json:"blocked,omitempty"`
	Diagnostics []diag.Diagnostic     `json:"diagnostics,omitempty"`
	Errors      int                   `json:"errors"`
	Warnings    int                   `json:"warnings"`
	Revision    querydb.Revision      `json:"revision"`
	GraphHash   string                `json:"graphHash"`
	Trace       trace.ResolutionTrace `json:"-"`
}

// Ready returns the crates that reached Ready, in topological order.
func (r *Report) Ready() []string {
	var out []string
	for _, name := range r.Order {
		if r.States[name] == contract.StateReady {
			out = append(out, name)
		}
	}
	return out
}

// Err returns a *ResolutionError when any crate failed or was blocked.
func (r *Report) Err() error {
	if len(r.Blocked) == 0 {
		return nil
	}
	return &ResolutionError{Blocked: append([]BlockedCrate(nil), r.Blocked...)}
}
