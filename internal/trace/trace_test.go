package trace

import (
	"bytes"
	"sync"
	"testing"
)

func TestCanonicalJSON_StableAcrossInsertionOrder(t *testing.T) {
	tr1 := ResolutionTrace{
		GraphHash: "graph-abc",
		Events: []Event{
			{Kind: EventCrateResolved, Crate: "b", Artifacts: []string{"b::K"}},
			{Kind: EventCrateRestored, Crate: "a"},
			{Kind: EventCrateBlocked, Crate: "c", Reason: ReasonDependencyFailed, Cause: "b"},
		},
	}
	tr2 := ResolutionTrace{
		GraphHash: "graph-abc",
		Events: []Event{
			{Kind: EventCrateBlocked, Crate: "c", Cause: "b", Reason: ReasonDependencyFailed},
			{Kind: EventCrateRestored, Crate: "a"},
			{Kind: EventCrateResolved, Crate: "b", Artifacts: []string{"b::K"}},
		},
	}

	b1, err := tr1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := tr2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", b1, b2)
	}
}

func TestCanonicalJSON_ExactBytes(t *testing.T) {
	tr := ResolutionTrace{
		GraphHash: "g",
		Events: []Event{
			{Kind: EventCrateResolved, Crate: "a", Artifacts: []string{"z", "a"}},
			{Kind: EventCrateInvalidated, Crate: "a", Reason: ReasonSourceChanged},
			{Kind: EventCrateRestored, Crate: "b", Artifacts: []string{}},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[` +
		`{"kind":"CrateInvalidated","crate":"a","reason":"SourceChanged"},` +
		`{"kind":"CrateResolved","crate":"a","artifacts":["a","z"]},` +
		`{"kind":"CrateRestored","crate":"b"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, b)
	}
	if tr.Events[0].Artifacts[0] != "z" {
		t.Fatalf("CanonicalJSON must not mutate the receiver")
	}
}

func TestCanonicalJSON_EmptyEvents(t *testing.T) {
	b, err := ResolutionTrace{GraphHash: "g"}.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if string(b) != `{"graphHash":"g","events":[]}` {
		t.Fatalf("unexpected bytes %s", b)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]ResolutionTrace{
		"no graph hash":  {Events: []Event{{Kind: EventCrateResolved, Crate: "a"}}},
		"unknown kind":   {GraphHash: "g", Events: []Event{{Kind: "Bogus", Crate: "a"}}},
		"no crate":       {GraphHash: "g", Events: []Event{{Kind: EventCrateResolved}}},
		"block cause":    {GraphHash: "g", Events: []Event{{Kind: EventCrateBlocked, Crate: "a"}}},
		"empty artifact": {GraphHash: "g", Events: []Event{{Kind: EventCrateResolved, Crate: "a", Artifacts: []string{""}}}},
	}
	for name, tr := range cases {
		if err := tr.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	tr := ResolutionTrace{GraphHash: "g", Events: []Event{{Kind: EventCrateRestored, Crate: "a"}}}
	h1, err := tr.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := tr.Hash()
	if h1 != h2 || len(h1) != 64 {
		t.Fatalf("expected stable 64-char hash, got %q and %q", h1, h2)
	}
	if ComputeTraceHash(nil) != "" {
		t.Fatalf("expected empty hash for empty input")
	}
}

func TestRecorder_ConcurrentRecordsCanonicalize(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for _, c := range []string{"d", "b", "a", "c"} {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			SafeRecord(r, Event{Kind: EventCrateResolved, Crate: c})
		}(c)
	}
	wg.Wait()

	tr := r.Trace("g")
	var got []string
	for _, e := range tr.Events {
		got = append(got, e.Crate)
	}
	if want := "abcd"; joined(got) != want {
		t.Fatalf("expected order %s, got %v", want, got)
	}

	r.Reset()
	if len(r.Snapshot()) != 0 {
		t.Fatalf("expected empty recorder after Reset")
	}
}

type panicSink struct{}

func (panicSink) Record(Event) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panicSink{}, Event{Kind: EventCrateResolved, Crate: "a"})
	SafeRecord(nil, Event{})
	NopSink{}.Record(Event{})
}

func joined(ss []string) string {
	var b bytes.Buffer
	for _, s := range ss {
		b.WriteString(s)
	}
	return b.String()
}
