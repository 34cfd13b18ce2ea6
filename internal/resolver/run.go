package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"voyager/internal/artifactcache"
	"voyager/internal/contract"
	"voyager/internal/diag"
	"voyager/internal/querydb"
	"voyager/internal/telemetry"
	"voyager/internal/trace"
)

// pass is the mutable state of one Resolve call.
type pass struct {
	r        *Resolver
	agg      *diag.Aggregator
	recorder *trace.Recorder

	mu        sync.Mutex
	states    contract.States
	artifacts map[string][]contract.Artifact
	failures  map[string][]diag.Diagnostic
	causes    map[string]string
}

// Resolve runs every crate through the query pipeline. Crates whose own
// queries report errors become Failed and every transitive dependent becomes
// Blocked without running a query; unrelated crates still produce artifacts.
//
// The returned error covers infrastructure failures only: cancellation by a
// concurrent input change (querydb.ErrCancelled), context errors and a closed
// database. Crate failures are reported through Report.Err.
func (r *Resolver) Resolve(ctx context.Context) (*Report, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	ctx, span := tracer.Start(ctx, "resolver.resolve", oteltrace.WithAttributes(
		attribute.Int("resolver.crates", r.graph.Len()),
		attribute.Int("resolver.workers", r.workers),
	))
	defer span.End()
	start := time.Now()

	p := &pass{
		r:         r,
		agg:       diag.NewAggregator(r.graph.Position),
		recorder:  trace.NewRecorder(),
		states:    contract.NewStates(r.graph),
		artifacts: make(map[string][]contract.Artifact),
		failures:  make(map[string][]diag.Diagnostic),
		causes:    make(map[string]string),
	}

	var err error
	if r.workers > 1 {
		err = p.runLevels(ctx)
	} else {
		err = p.runSerial(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rep := p.report()
	passDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("resolver.ready", len(rep.Ready())),
		attribute.Int("resolver.blocked", len(rep.Blocked)),
	)
	telemetry.LoggerWithTrace(ctx, r.logger).Info("resolution finished",
		slog.Int("ready", len(rep.Ready())),
		slog.Int("blocked", len(rep.Blocked)),
		slog.Int("artifacts", len(rep.Artifacts)),
		slog.Uint64("revision", uint64(rep.Revision)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

func (p *pass) runSerial(ctx context.Context) error {
	for _, name := range p.r.graph.Order() {
		if err := p.resolveCrate(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// runLevels resolves one depth level at a time. Crates of a level only depend
// on earlier levels, so they never wait on each other.
func (p *pass) runLevels(ctx context.Context) error {
	for _, level := range p.r.graph.Levels() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.r.workers)
		for _, name := range level {
			g.Go(func() error {
				return p.resolveCrate(gctx, name)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) state(name string) contract.CrateState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[name]
}

func (p *pass) transition(name string, from, to contract.CrateState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return contract.Transition(p.states, name, from, to)
}

func (p *pass) record(e trace.Event) {
	p.recorder.Record(e)
	trace.SafeRecord(p.r.sink, e)
}

func (p *pass) resolveCrate(ctx context.Context, name string) error {
	if p.state(name) == contract.StateBlocked {
		return nil
	}
	r := p.r
	ctx, span := tracer.Start(ctx, "resolver.crate", oteltrace.WithAttributes(attribute.String("crate", name)))
	defer span.End()
	logger := telemetry.LoggerWithCrate(ctx, r.logger, name)

	fp, err := querydb.Get[*CrateFingerprint](ctx, r.db, QueryFingerprint, name)
	if err != nil {
		return fmt.Errorf("fingerprinting crate %s: %w", name, err)
	}

	if r.cache != nil {
		entry, err := r.cache.Get(fp.Full)
		if err != nil {
			logger.Warn("artifact cache read failed", slog.Any("error", err))
		} else if entry != nil {
			return p.restore(name, fp, entry, logger)
		}
	}

	if err := p.transition(name, contract.StatePending, contract.StateResolving); err != nil {
		return err
	}
	logger.Debug("crate resolving", slog.String("fingerprint", fp.Full))
	if reason := r.invalidation(name, fp); reason != "" {
		p.record(trace.Event{Kind: trace.EventCrateInvalidated, Crate: name, Reason: reason})
	}

	front, err := querydb.Get[[]diag.Diagnostic](ctx, r.db, QueryDiagnostics, name)
	if err != nil {
		return fmt.Errorf("resolving crate %s: %w", name, err)
	}
	p.agg.Add(front...)

	res, err := r.db.Query(ctx, QueryArtifacts, name)
	if err != nil {
		return fmt.Errorf("resolving crate %s: %w", name, err)
	}
	r.remember(name, fp)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
		return p.fail(name, res.Err, logger)
	}
	set, ok := res.Value.(*ArtifactSet)
	if !ok {
		return fmt.Errorf("crate %s: artifacts query returned %T", name, res.Value)
	}
	p.agg.Add(set.Diagnostics...)

	if err := p.transition(name, contract.StateResolving, contract.StateReady); err != nil {
		return err
	}
	p.mu.Lock()
	p.artifacts[name] = set.Artifacts
	p.mu.Unlock()
	p.record(trace.Event{Kind: trace.EventCrateResolved, Crate: name, Artifacts: artifactPaths(set.Artifacts)})
	crateOutcomes.WithLabelValues(string(contract.StateReady), "query").Inc()

	if r.cache != nil {
		entry := &artifactcache.Entry{
			Fingerprint: fp.Full,
			Crate:       name,
			Artifacts:   set.Artifacts,
			Diagnostics: append(append([]diag.Diagnostic(nil), front...), set.Diagnostics...),
		}
		if err := r.cache.Put(entry); err != nil {
			logger.Warn("artifact cache write failed", slog.Any("error", err))
		}
	}
	logger.Info("crate resolved", slog.Int("artifacts", len(set.Artifacts)))
	return nil
}

func (p *pass) restore(name string, fp *CrateFingerprint, entry *artifactcache.Entry, logger *slog.Logger) error {
	if err := p.transition(name, contract.StatePending, contract.StateReady); err != nil {
		return err
	}
	p.r.remember(name, fp)
	p.agg.Add(entry.Diagnostics...)
	p.mu.Lock()
	p.artifacts[name] = entry.Artifacts
	p.mu.Unlock()
	p.record(trace.Event{Kind: trace.EventCrateRestored, Crate: name, Artifacts: artifactPaths(entry.Artifacts)})
	crateOutcomes.WithLabelValues(string(contract.StateReady), "cache").Inc()
	logger.Info("crate restored from cache", slog.Int("artifacts", len(entry.Artifacts)))
	return nil
}

// fail marks name Failed and blocks its transitive dependents.
func (p *pass) fail(name string, cause error, logger *slog.Logger) error {
	var qce *QueryComputationError
	if !errors.As(cause, &qce) {
		qce = &QueryComputationError{Crate: name, Diagnostics: []diag.Diagnostic{
			diag.Errorf(name, "", diag.Span{}, diag.CodeQuery, "%v", cause),
		}}
	}
	p.agg.Add(qce.Diagnostics...)
	p.agg.Add(qce.Warnings...)

	p.mu.Lock()
	if err := contract.Transition(p.states, name, contract.StateResolving, contract.StateFailed); err != nil {
		p.mu.Unlock()
		return err
	}
	p.failures[name] = qce.Diagnostics
	blocked, err := contract.BlockDependents(p.r.graph, p.states, name)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	for _, b := range blocked {
		p.causes[b] = name
	}
	p.mu.Unlock()

	reason := diag.CodeQuery
	if len(qce.Diagnostics) > 0 {
		reason = qce.Diagnostics[0].Code
	}
	p.record(trace.Event{Kind: trace.EventCrateFailed, Crate: name, Reason: reason})
	crateOutcomes.WithLabelValues(string(contract.StateFailed), "query").Inc()
	for _, b := range blocked {
		p.record(trace.Event{Kind: trace.EventCrateBlocked, Crate: b, Reason: trace.ReasonDependencyFailed, Cause: name})
		crateOutcomes.WithLabelValues(string(contract.StateBlocked), "query").Inc()
	}
	logger.Warn("crate failed",
		slog.Int("errors", len(qce.Diagnostics)),
		slog.Any("blocked", blocked),
	)
	return nil
}

func (p *pass) report() *Report {
	r := p.r
	p.mu.Lock()
	defer p.mu.Unlock()

	rep := &Report{
		Order:       r.graph.Order(),
		States:      make(contract.States, len(p.states)),
		Diagnostics: p.agg.Report(),
		Revision:    r.db.Revision(),
		GraphHash:   r.graph.Hash(),
		Trace:       p.recorder.Trace(r.graph.Hash()),
	}
	counts := p.agg.Counts()
	rep.Errors, rep.Warnings = counts[diag.SeverityError], counts[diag.SeverityWarning]
	for k, v := range p.states {
		rep.States[k] = v
	}
	for _, name := range rep.Order {
		switch p.states[name] {
		case contract.StateReady:
			rep.Artifacts = append(rep.Artifacts, p.artifacts[name]...)
		case contract.StateFailed:
			rep.Blocked = append(rep.Blocked, BlockedCrate{Crate: name, State: contract.StateFailed, Diagnostics: p.failures[name]})
		case contract.StateBlocked:
			rep.Blocked = append(rep.Blocked, BlockedCrate{Crate: name, State: contract.StateBlocked, Cause: p.causes[name]})
		}
	}
	contract.SortArtifacts(rep.Artifacts, r.graph.Position)
	return rep
}

func (r *Resolver) invalidation(name string, fp *CrateFingerprint) string {
	r.mu.Lock()
	prev, ok := r.last[name]
	r.mu.Unlock()
	switch {
	case !ok:
		return trace.ReasonNotCached
	case prev.Full == fp.Full:
		return ""
	case prev.Own != fp.Own:
		return trace.ReasonSourceChanged
	default:
		return trace.ReasonDependencyChanged
	}
}

func (r *Resolver) remember(name string, fp *CrateFingerprint) {
	r.mu.Lock()
	r.last[name] = *fp
	r.mu.Unlock()
}

func artifactPaths(as []contract.Artifact) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Path)
	}
	return out
}
