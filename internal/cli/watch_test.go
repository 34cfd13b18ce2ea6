package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voyager/internal/compiler/cairo"
	"voyager/internal/contract"
	"voyager/internal/resolver"
	"voyager/internal/workspace"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWatchLoop(t *testing.T) (*watchLoop, string, *[]*resolver.Report) {
	t.Helper()
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "Scarb.toml"), "[workspace]\nmembers = [\"math\", \"app\"]\n")
	writeTestFile(t, filepath.Join(root, "math", "Scarb.toml"), "[package]\nname = \"math\"\nversion = \"0.1.0\"\n")
	writeTestFile(t, filepath.Join(root, "math", "src", "lib.cairo"), "fn add() {}\n")
	writeTestFile(t, filepath.Join(root, "app", "Scarb.toml"),
		"[package]\nname = \"app\"\nversion = \"0.1.0\"\n\n[dependencies]\nmath = { path = \"../math\" }\n")
	writeTestFile(t, filepath.Join(root, "app", "src", "lib.cairo"), "use math::add;\n")

	ws, err := workspace.Load(root)
	require.NoError(t, err)
	r, err := resolver.New(context.Background(), ws, cairo.New())
	require.NoError(t, err)
	t.Cleanup(r.Close)

	rep, err := r.Resolve(context.Background())
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	var reports []*resolver.Report
	l := &watchLoop{
		r:         r,
		debounce:  10 * time.Millisecond,
		maxPasses: 1,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		onReport: func(rep *resolver.Report) error {
			reports = append(reports, rep)
			return nil
		},
	}
	return l, root, &reports
}

func TestWatchLoop_ReresolvesAfterSourceChange(t *testing.T) {
	l, root, reports := newWatchLoop(t)

	lib := filepath.Join(root, "math", "src", "lib.cairo")
	writeTestFile(t, lib, "fn add() {\n")

	events := make(chan fsnotify.Event, 4)
	events <- fsnotify.Event{Name: filepath.Join(root, "math", "notes.txt"), Op: fsnotify.Write}
	events <- fsnotify.Event{Name: lib, Op: fsnotify.Write}
	events <- fsnotify.Event{Name: lib, Op: fsnotify.Write}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, l.run(ctx, events, make(chan error)))

	require.Len(t, *reports, 1)
	rep := (*reports)[0]
	assert.Equal(t, contract.StateFailed, rep.States["math"])
	assert.Equal(t, contract.StateBlocked, rep.States["app"])
}

func TestWatchLoop_RemovedFileInvalidatesCrate(t *testing.T) {
	l, root, reports := newWatchLoop(t)

	events := make(chan fsnotify.Event, 1)
	events <- fsnotify.Event{Name: filepath.Join(root, "app", "src", "lib.cairo"), Op: fsnotify.Remove}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, l.run(ctx, events, make(chan error)))

	require.Len(t, *reports, 1)
	assert.Equal(t, contract.StateReady, (*reports)[0].States["math"])
	assert.Equal(t, contract.StateFailed, (*reports)[0].States["app"])
}

func TestWatchLoop_IgnoresUnrelatedEvents(t *testing.T) {
	l, root, _ := newWatchLoop(t)

	assert.False(t, l.apply(fsnotify.Event{Name: filepath.Join(root, "math", "Scarb.toml"), Op: fsnotify.Write}))
	assert.False(t, l.apply(fsnotify.Event{Name: filepath.Join(root, "math", "tests", "t.cairo"), Op: fsnotify.Write}))
	assert.False(t, l.apply(fsnotify.Event{Name: filepath.Join(t.TempDir(), "x.cairo"), Op: fsnotify.Write}))
	assert.False(t, l.apply(fsnotify.Event{Name: filepath.Join(root, "math", "src", "lib.cairo"), Op: fsnotify.Chmod}))

	var added []string
	l.addDir = func(dir string) { added = append(added, dir) }
	sub := filepath.Join(root, "math", "src", "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	assert.False(t, l.apply(fsnotify.Event{Name: sub, Op: fsnotify.Create}))
	assert.Equal(t, []string{sub}, added)
}

func TestWatchLoop_StopsOnContextCancel(t *testing.T) {
	l, _, reports := newWatchLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.run(ctx, make(chan fsnotify.Event), make(chan error)))
	assert.Empty(t, *reports)
}
