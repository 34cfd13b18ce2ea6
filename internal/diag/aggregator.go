package diag

import (
	"sort"
	"sync"
)

// RankFunc maps a crate name to its position in the crate topological order.
// Unknown crates must rank after every known crate.
type RankFunc func(crate string) int

type dedupeKey struct {
	crate   string
	file    string
	span    Span
	message string
}

// Aggregator collects diagnostics from all crates.
//
// Invariants:
//   - Diagnostics with equal (crate, file, span, message) are reported once; the
//     first severity seen wins unless a later duplicate is more severe.
//   - Report order is (crate topological position, file path, span start), with
//     severity, code and message as tie-breakers so the order is total.
//
// Aggregator is safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	rank  RankFunc
	index map[dedupeKey]int
	items []Diagnostic
}

func NewAggregator(rank RankFunc) *Aggregator {
	if rank == nil {
		rank = func(string) int { return 0 }
	}
	return &Aggregator{rank: rank, index: make(map[dedupeKey]int)}
}

func (a *Aggregator) Add(ds ...Diagnostic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range ds {
		k := dedupeKey{crate: d.Crate, file: d.File, span: Span{Start: d.Span.Start, End: d.Span.End}, message: d.Message}
		if i, ok := a.index[k]; ok {
			if d.Severity > a.items[i].Severity {
				a.items[i].Severity = d.Severity
			}
			continue
		}
		a.index[k] = len(a.items)
		a.items = append(a.items, d)
	}
}

// Report returns the deduplicated diagnostics in canonical order.
func (a *Aggregator) Report() []Diagnostic {
	a.mu.Lock()
	out := make([]Diagnostic, len(a.items))
	copy(out, a.items)
	a.mu.Unlock()

	Sort(out, a.rank)
	return out
}

// Counts returns the number of diagnostics per severity.
func (a *Aggregator) Counts() map[Severity]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[Severity]int, 3)
	for _, d := range a.items {
		out[d.Severity]++
	}
	return out
}

// Sort orders ds in place using the aggregator ordering.
func Sort(ds []Diagnostic, rank RankFunc) {
	if rank == nil {
		rank = func(string) int { return 0 }
	}
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Crate != b.Crate {
			ra, rb := rank(a.Crate), rank(b.Crate)
			if ra != rb {
				return ra < rb
			}
			return a.Crate < b.Crate
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.Message < b.Message
	})
}
