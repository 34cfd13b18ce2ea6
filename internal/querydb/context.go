package querydb

import (
	"context"
	"sync"
)

// QueryContext is the recording scope of one query computation. Every read
// made through it becomes a dependency of the result being computed. A
// QueryContext must not be retained after its ComputeFunc returns.
type QueryContext struct {
	ctx    context.Context
	db     *Database
	key    Key
	chain  []Key
	flight string

	mu   sync.Mutex
	deps []Key
	seen map[Key]struct{}
}

// Context returns the context of the outermost Query call.
func (qc *QueryContext) Context() context.Context { return qc.ctx }

// Key returns the key being computed.
func (qc *QueryContext) Key() Key { return qc.key }

func (qc *QueryContext) record(k Key) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if _, ok := qc.seen[k]; ok {
		return
	}
	qc.seen[k] = struct{}{}
	qc.deps = append(qc.deps, k)
}

// Input reads an input and records it. Absent inputs are recorded too, so
// adding them later invalidates the result.
func (qc *QueryContext) Input(id QueryID, name string) (any, bool) {
	qc.record(Key{Query: id, Name: name})
	return qc.db.Input(id, name)
}

// Query reads another query and records it.
func (qc *QueryContext) Query(id QueryID, name string) (*QueryResult, error) {
	k := Key{Query: id, Name: name}
	qc.record(k)
	return qc.db.fetch(qc.ctx, k, qc.chain, qc.flight)
}

// Fetch reads a query through qc and converts its value to T.
func Fetch[T any](qc *QueryContext, id QueryID, name string) (T, error) {
	var zero T
	r, err := qc.Query(id, name)
	if err != nil {
		return zero, err
	}
	return valueAs[T](r)
}

// InputValue reads an input through qc and converts it to T.
func InputValue[T any](qc *QueryContext, id QueryID, name string) (T, bool) {
	var zero T
	v, ok := qc.Input(id, name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
