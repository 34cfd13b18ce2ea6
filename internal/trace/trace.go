// Package trace records the logical outcome of a resolution pass as a
// canonical, hashable document.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ResolutionTrace is the canonical record of one resolution pass.
//
// It holds logical decisions only: no timestamps, durations, error strings or
// host paths. Two passes over the same workspace state produce identical bytes
// regardless of worker count.
type ResolutionTrace struct {
	GraphHash string  `json:"graphHash"`
	Events    []Event `json:"events"`
}

// EventKind values are part of the canonical bytes; do not rename.
type EventKind string

const (
	EventCrateInvalidated EventKind = "CrateInvalidated"
	EventCrateRestored    EventKind = "CrateRestored"
	EventCrateResolved    EventKind = "CrateResolved"
	EventCrateFailed      EventKind = "CrateFailed"
	EventCrateBlocked     EventKind = "CrateBlocked"
)

// Reason codes.
const (
	ReasonNotCached         = "NotCached"
	ReasonSourceChanged     = "SourceChanged"
	ReasonDependencyChanged = "DependencyChanged"
	ReasonDependencyFailed  = "DependencyFailed"
)

// Event is a single crate-level transition.
type Event struct {
	Kind  EventKind `json:"kind"`
	Crate string    `json:"crate"`
	// Reason is a stable reason code, or a diagnostic code for failures.
	Reason string `json:"reason,omitempty"`
	// Cause names the upstream crate responsible for a block.
	Cause string `json:"cause,omitempty"`
	// Artifacts lists contract paths produced or restored.
	Artifacts []string `json:"artifacts,omitempty"`
}

func (t *ResolutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		if kindOrder(e.Kind) < 0 {
			return fmt.Errorf("events[%d]: unknown kind %q", i, e.Kind)
		}
		if e.Crate == "" {
			return fmt.Errorf("events[%d].crate is required", i)
		}
		if e.Kind == EventCrateBlocked && e.Cause == "" {
			return fmt.Errorf("events[%d].cause is required for %s", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize sorts artifacts within events and events by
// (crate, kind, reason, cause, artifacts).
func (t *ResolutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := append([]string(nil), t.Events[i].Artifacts...)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Crate != b.Crate {
			return a.Crate < b.Crate
		}
		if ka, kb := kindOrder(a.Kind), kindOrder(b.Kind); ka != kb {
			return ka < kb
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		return strings.Join(a.Artifacts, "\x00") < strings.Join(b.Artifacts, "\x00")
	})
}

// kindOrder follows the order events happen to a single crate.
func kindOrder(k EventKind) int {
	switch k {
	case EventCrateInvalidated:
		return 10
	case EventCrateRestored:
		return 20
	case EventCrateResolved:
		return 30
	case EventCrateFailed:
		return 40
	case EventCrateBlocked:
		return 50
	default:
		return -1
	}
}

// CanonicalJSON encodes a canonicalized copy; the receiver is not mutated.
func (t ResolutionTrace) CanonicalJSON() ([]byte, error) {
	c := ResolutionTrace{GraphHash: t.GraphHash, Events: append([]Event(nil), t.Events...)}
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Events == nil {
		c.Events = []Event{}
	}
	return json.Marshal(c)
}

// Hash returns the sha256 hex of the canonical JSON.
func (t ResolutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}
