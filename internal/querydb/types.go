package querydb

import (
	"errors"
	"fmt"
)

// Revision is the global logical clock. Every input change advances it by one.
type Revision uint64

// QueryID names a derived query or an input kind.
type QueryID string

// Key addresses one input value or one derived result.
type Key struct {
	Query QueryID
	Name  string
}

func (k Key) String() string { return fmt.Sprintf("%s(%s)", k.Query, k.Name) }

// ComputeFunc computes the value of query qc.Key() for name. It must be
// deterministic in what it reads through qc.
type ComputeFunc func(qc *QueryContext, name string) (any, error)

// QueryResult is an immutable memoized result.
type QueryResult struct {
	Key   Key
	Value any
	// Err is a memoized failure of the query function.
	Err  error
	Deps []Key
	// ComputedAt is the revision of the last recomputation.
	ComputedAt Revision
	// ChangedAt is the revision at which the value last changed.
	ChangedAt Revision
	// VerifiedAt is the last revision at which the result was known current.
	VerifiedAt Revision
	// Fingerprint identifies Value and Err.
	Fingerprint uint64
}

func (r *QueryResult) clone() *QueryResult {
	cp := *r
	cp.Deps = append([]Key(nil), r.Deps...)
	return &cp
}

var (
	ErrCancelled     = errors.New("query cancelled: revision changed during computation")
	ErrQueryCycle    = errors.New("query cycle")
	ErrUnknownQuery  = errors.New("unknown query")
	ErrClosed        = errors.New("database closed")
	ErrDerivedInput  = errors.New("cannot set input for a derived query")
	ErrAlreadyExists = errors.New("query already registered")
)

// CycleError lists the active query chain that re-entered a key.
type CycleError struct {
	Chain []Key
}

func (e *CycleError) Error() string {
	msg := ErrQueryCycle.Error() + ":"
	for i, k := range e.Chain {
		if i > 0 {
			msg += " ->"
		}
		msg += " " + k.String()
	}
	return msg
}

func (e *CycleError) Unwrap() error { return ErrQueryCycle }

// Stats are cumulative counters of a Database.
type Stats struct {
	Hits          uint64
	Verifications uint64
	Recomputes    uint64
	Cancellations uint64
}
