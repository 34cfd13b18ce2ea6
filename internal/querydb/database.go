package querydb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("voyager.querydb")

type input struct {
	value       any
	present     bool
	changedAt   Revision
	fingerprint uint64
}

// Database holds inputs, registered queries and memoized results.
//
// All state is guarded by one mutex that is never held while a query function
// runs. Concurrent requests for the same key at the same revision share a
// single computation. A computation that would wait, through other
// goroutines' computations, on itself fails with a *CycleError.
type Database struct {
	mu         sync.Mutex
	revision   Revision
	inputs     map[Key]*input
	memos      map[Key]*QueryResult
	queries    map[QueryID]ComputeFunc
	recomputes map[Key]int
	stats      Stats
	closed     bool

	group singleflight.Group
	// waits maps an executing flight to the flight it is blocked on.
	waits map[string]string

	logger      *slog.Logger
	fingerprint func(any) (uint64, error)
}

// Option configures a Database.
type Option func(*Database)

func WithLogger(logger *slog.Logger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithFingerprint replaces the value fingerprint function.
func WithFingerprint(fn func(any) (uint64, error)) Option {
	return func(db *Database) {
		if fn != nil {
			db.fingerprint = fn
		}
	}
}

func New(opts ...Option) *Database {
	db := &Database{
		inputs:      make(map[Key]*input),
		memos:       make(map[Key]*QueryResult),
		queries:     make(map[QueryID]ComputeFunc),
		recomputes:  make(map[Key]int),
		waits:       make(map[string]string),
		logger:      slog.Default(),
		fingerprint: Fingerprint,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Register adds a derived query. Registering after results exist is allowed;
// registering the same ID twice is not.
func (db *Database) Register(id QueryID, fn ComputeFunc) error {
	if fn == nil {
		return fmt.Errorf("query %q: nil compute function", id)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.queries[id]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, id)
	}
	db.queries[id] = fn
	return nil
}

// MustRegister is Register that panics on error.
func (db *Database) MustRegister(id QueryID, fn ComputeFunc) {
	if err := db.Register(id, fn); err != nil {
		panic(err)
	}
}

// Revision returns the current revision.
func (db *Database) Revision() Revision {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.revision
}

// SetInput overwrites an input, bumps the revision and stamps the input with it.
func (db *Database) SetInput(id QueryID, name string, value any) (Revision, error) {
	fp, err := db.fingerprint(value)
	if err != nil {
		return 0, fmt.Errorf("fingerprinting input %s: %w", Key{id, name}, err)
	}
	return db.writeInput(Key{Query: id, Name: name}, &input{value: value, present: true, fingerprint: fp})
}

// RemoveInput deletes an input. Readers observe it as absent.
func (db *Database) RemoveInput(id QueryID, name string) (Revision, error) {
	return db.writeInput(Key{Query: id, Name: name}, &input{})
}

func (db *Database) writeInput(key Key, in *input) (Revision, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}
	if _, derived := db.queries[key.Query]; derived {
		return 0, fmt.Errorf("%w: %s", ErrDerivedInput, key)
	}
	db.revision++
	in.changedAt = db.revision
	db.inputs[key] = in
	revisionGauge.Set(float64(db.revision))
	return db.revision, nil
}

// Input reads an input without recording a dependency.
func (db *Database) Input(id QueryID, name string) (any, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	in, ok := db.inputs[Key{Query: id, Name: name}]
	if !ok || !in.present {
		return nil, false
	}
	return in.value, true
}

// Query returns the result of id(name) at the current revision. The returned
// error covers infrastructure failures only (cancellation, cycles, unknown
// queries, closed database, context); query failures live in QueryResult.Err.
func (db *Database) Query(ctx context.Context, id QueryID, name string) (*QueryResult, error) {
	return db.fetch(ctx, Key{Query: id, Name: name}, nil, "")
}

// Recomputations returns how many times id(name) was recomputed.
func (db *Database) Recomputations(id QueryID, name string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.recomputes[Key{Query: id, Name: name}]
}

func (db *Database) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.stats
}

// Close drops all memoized results and inputs. Later calls fail with ErrClosed.
func (db *Database) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.inputs = make(map[Key]*input)
	db.memos = make(map[Key]*QueryResult)
}

// fetch returns key at the current revision. active is the chain of keys
// being computed by the calling goroutine and owner the flight executing the
// innermost of them ("" for a top-level call).
func (db *Database) fetch(ctx context.Context, key Key, active []Key, owner string) (*QueryResult, error) {
	for i, k := range active {
		if k == key {
			chain := append(append([]Key(nil), active[i:]...), key)
			return nil, &CycleError{Chain: chain}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := db.queries[key.Query]; !ok {
		db.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownQuery, key.Query)
	}
	rev := db.revision
	if m, ok := db.memos[key]; ok && m.VerifiedAt == rev {
		db.stats.Hits++
		db.mu.Unlock()
		cacheHits.WithLabelValues(string(key.Query)).Inc()
		return m, nil
	}
	db.mu.Unlock()

	flightKey := key.String() + "@" + strconv.FormatUint(uint64(rev), 10)
	if owner != "" {
		if err := db.await(owner, flightKey, append(append([]Key(nil), active...), key)); err != nil {
			return nil, err
		}
		defer db.release(owner)
	}
	v, err, _ := db.group.Do(flightKey, func() (any, error) {
		return db.refresh(ctx, key, active, rev, flightKey)
	})
	if err != nil {
		return nil, err
	}
	return v.(*QueryResult), nil
}

// await records that owner is about to block on flight. Following the wait
// edges from flight back to owner means the two would wait on each other
// forever, which is reported as a cycle.
func (db *Database) await(owner, flight string, chain []Key) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	f := flight
	for hops := 0; hops <= len(db.waits); hops++ {
		if f == owner {
			return &CycleError{Chain: chain}
		}
		next, ok := db.waits[f]
		if !ok {
			break
		}
		f = next
	}
	db.waits[owner] = flight
	return nil
}

func (db *Database) release(owner string) {
	db.mu.Lock()
	delete(db.waits, owner)
	db.mu.Unlock()
}

// refresh brings key up to date for rev, either by verifying its recorded
// dependencies or by recomputing it. flight names this computation.
func (db *Database) refresh(ctx context.Context, key Key, active []Key, rev Revision, flight string) (*QueryResult, error) {
	db.mu.Lock()
	prev := db.memos[key]
	if prev != nil && prev.VerifiedAt == rev && db.revision == rev {
		db.mu.Unlock()
		return prev, nil
	}
	db.mu.Unlock()

	chain := append(append([]Key(nil), active...), key)
	if prev != nil {
		unchanged, err := db.depsUnchanged(ctx, prev, chain, flight)
		if err != nil {
			return nil, err
		}
		if unchanged {
			db.mu.Lock()
			defer db.mu.Unlock()
			if db.revision != rev {
				db.stats.Cancellations++
				return nil, ErrCancelled
			}
			verified := prev.clone()
			verified.VerifiedAt = rev
			db.memos[key] = verified
			db.stats.Verifications++
			cacheHits.WithLabelValues(string(key.Query)).Inc()
			return verified, nil
		}
	}
	return db.compute(ctx, key, chain, rev, prev, flight)
}

func (db *Database) depsUnchanged(ctx context.Context, prev *QueryResult, chain []Key, flight string) (bool, error) {
	for _, dep := range prev.Deps {
		changedAt, err := db.changedAt(ctx, dep, chain, flight)
		if err != nil {
			return false, err
		}
		if changedAt > prev.VerifiedAt {
			return false, nil
		}
	}
	return true, nil
}

func (db *Database) changedAt(ctx context.Context, dep Key, chain []Key, flight string) (Revision, error) {
	db.mu.Lock()
	_, derived := db.queries[dep.Query]
	if !derived {
		defer db.mu.Unlock()
		if in, ok := db.inputs[dep]; ok {
			return in.changedAt, nil
		}
		return 0, nil
	}
	db.mu.Unlock()

	r, err := db.fetch(ctx, dep, chain, flight)
	if err != nil {
		return 0, err
	}
	return r.ChangedAt, nil
}

func (db *Database) compute(ctx context.Context, key Key, chain []Key, rev Revision, prev *QueryResult, flight string) (*QueryResult, error) {
	db.mu.Lock()
	fn := db.queries[key.Query]
	db.mu.Unlock()

	ctx, span := tracer.Start(ctx, "querydb.compute", trace.WithAttributes(
		attribute.String("query.id", string(key.Query)),
		attribute.String("query.name", key.Name),
		attribute.Int64("query.revision", int64(rev)),
	))
	defer span.End()

	qc := &QueryContext{ctx: ctx, db: db, key: key, chain: chain, flight: flight, seen: make(map[Key]struct{})}
	value, err := invoke(fn, qc, key.Name)
	if err != nil && (errors.Is(err, ErrCancelled) || errors.Is(err, ErrQueryCycle) || ctx.Err() != nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fp, fpErr := db.resultFingerprint(value, err)
	if fpErr != nil {
		err = errors.Join(err, fmt.Errorf("fingerprinting %s: %w", key, fpErr))
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.revision != rev {
		db.stats.Cancellations++
		span.SetStatus(codes.Error, ErrCancelled.Error())
		return nil, ErrCancelled
	}

	changedAt := rev
	if prev != nil && fpErr == nil && prev.Fingerprint == fp {
		changedAt = prev.ChangedAt
	}
	res := &QueryResult{
		Key:         key,
		Value:       value,
		Err:         err,
		Deps:        qc.deps,
		ComputedAt:  rev,
		ChangedAt:   changedAt,
		VerifiedAt:  rev,
		Fingerprint: fp,
	}
	db.memos[key] = res
	db.recomputes[key]++
	db.stats.Recomputes++
	recomputations.WithLabelValues(string(key.Query)).Inc()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("query.backdated", changedAt != rev), attribute.Int("query.deps", len(qc.deps)))
	db.logger.Debug("query recomputed",
		slog.String("query", key.String()),
		slog.Uint64("revision", uint64(rev)),
		slog.Bool("failed", err != nil),
		slog.Bool("backdated", changedAt != rev),
	)
	return res, nil
}

func invoke(fn ComputeFunc, qc *QueryContext, name string) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("query %s panicked: %v", qc.key, r)
		}
	}()
	return fn(qc, name)
}

func (db *Database) resultFingerprint(value any, err error) (uint64, error) {
	fp, fpErr := db.fingerprint(value)
	if fpErr != nil {
		return 0, fpErr
	}
	if err == nil {
		return fp, nil
	}
	return combine(fp, hashString(err.Error())), nil
}

// Get runs a query and converts its value to T. A memoized failure is
// returned as the error.
func Get[T any](ctx context.Context, db *Database, id QueryID, name string) (T, error) {
	var zero T
	r, err := db.Query(ctx, id, name)
	if err != nil {
		return zero, err
	}
	return valueAs[T](r)
}

func valueAs[T any](r *QueryResult) (T, error) {
	var zero T
	if r.Err != nil {
		return zero, r.Err
	}
	if r.Value == nil {
		return zero, nil
	}
	v, ok := r.Value.(T)
	if !ok {
		return zero, fmt.Errorf("query %s: value has type %T, want %T", r.Key, r.Value, zero)
	}
	return v, nil
}
