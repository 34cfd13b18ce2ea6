package diag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankOf(order ...string) RankFunc {
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	return func(c string) int {
		if p, ok := pos[c]; ok {
			return p
		}
		return len(order)
	}
}

func TestAggregator_DeduplicatesIdenticalDiagnostics(t *testing.T) {
	a := NewAggregator(nil)
	d := Errorf("core", "src/lib.cairo", Span{Start: 4, End: 9}, CodeSyntax, "unexpected token")
	a.Add(d, d)
	a.Add(d)

	got := a.Report()
	require.Len(t, got, 1)
	assert.Equal(t, d, got[0])
}

func TestAggregator_DuplicateKeepsHighestSeverity(t *testing.T) {
	a := NewAggregator(nil)
	w := Warningf("core", "src/lib.cairo", Span{Start: 1, End: 2}, CodeUnknownAttribute, "same")
	e := w
	e.Severity = SeverityError
	a.Add(w, e)

	got := a.Report()
	require.Len(t, got, 1)
	assert.Equal(t, SeverityError, got[0].Severity)
	assert.Equal(t, 1, a.Counts()[SeverityError])
}

func TestAggregator_OrdersByTopoPositionThenFileThenSpan(t *testing.T) {
	a := NewAggregator(rankOf("c", "b", "a"))
	a.Add(
		Errorf("a", "src/lib.cairo", Span{Start: 1}, CodeSyntax, "a1"),
		Warningf("c", "src/z.cairo", Span{Start: 0}, CodeSyntax, "c-z"),
		Warningf("c", "src/a.cairo", Span{Start: 30}, CodeSyntax, "c-a-30"),
		Warningf("c", "src/a.cairo", Span{Start: 3}, CodeSyntax, "c-a-3"),
		Errorf("b", "src/lib.cairo", Span{Start: 0}, CodeSyntax, "b"),
	)

	var msgs []string
	for _, d := range a.Report() {
		msgs = append(msgs, d.Message)
	}
	assert.Equal(t, []string{"c-a-3", "c-a-30", "c-z", "b", "a1"}, msgs)
}

func TestAggregator_ReportIsIndependentOfInsertionOrder(t *testing.T) {
	ds := []Diagnostic{
		Errorf("x", "f.cairo", Span{Start: 2}, CodeSyntax, "two"),
		Warningf("x", "f.cairo", Span{Start: 2}, CodeUnknownAttribute, "two-w"),
		Errorf("y", "f.cairo", Span{Start: 0}, CodeSyntax, "zero"),
	}
	rank := rankOf("x", "y")

	forward := NewAggregator(rank)
	forward.Add(ds...)
	backward := NewAggregator(rank)
	for i := len(ds) - 1; i >= 0; i-- {
		backward.Add(ds[i])
	}
	assert.Equal(t, forward.Report(), backward.Report())
}

func TestAggregator_WarningsDoNotCountAsErrors(t *testing.T) {
	a := NewAggregator(nil)
	a.Add(Warningf("core", "", Span{}, CodeUnknownAttribute, "unknown attribute"))
	assert.Zero(t, a.Counts()[SeverityError])
	assert.Equal(t, 1, a.Counts()[SeverityWarning])
}

func TestAggregator_ConcurrentAdd(t *testing.T) {
	a := NewAggregator(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Add(Errorf("core", "src/lib.cairo", Span{Start: 1}, CodeSyntax, "shared"))
		}()
	}
	wg.Wait()
	assert.Len(t, a.Report(), 1)
}

func TestDiagnostic_String(t *testing.T) {
	d := Errorf("core", "src/lib.cairo", Span{Start: 10, End: 12, Line: 2, Col: 3}, CodeUnresolvedImport, "cannot resolve %q", "math::add")
	assert.Equal(t, `core/src/lib.cairo:2:3: error[UnresolvedImport]: cannot resolve "math::add"`, d.String())
}
