package trace

import "sync"

// Sink receives events from the resolver. Record must not panic or block.
type Sink interface {
	Record(event Event)
}

type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord records an event, swallowing panics from a buggy sink.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory Sink. Ordering is computed after
// collection, so parallel resolution does not affect the trace.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Reset drops collected events, used between watch passes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Trace builds a canonical trace from the recorded events.
func (r *Recorder) Trace(graphHash string) ResolutionTrace {
	tr := ResolutionTrace{GraphHash: graphHash, Events: r.Snapshot()}
	tr.Canonicalize()
	return tr
}
