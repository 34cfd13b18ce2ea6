package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"voyager/internal/querydb"
	"voyager/internal/resolver"
	"voyager/internal/workspace"
)

type watchOptions struct {
	workers   int
	noCache   bool
	debounce  time.Duration
	maxPasses int
}

func (a *App) newWatchCommand() *cobra.Command {
	var o watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-resolve the workspace whenever a source file changes",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.workers, "workers", -1, "crates resolved concurrently per depth level (default from config)")
	f.BoolVar(&o.noCache, "no-cache", false, "do not read or write the artifact cache")
	f.DurationVar(&o.debounce, "debounce", 150*time.Millisecond, "quiet period before re-resolving")
	f.IntVar(&o.maxPasses, "max-passes", 0, "stop after this many re-resolutions (0 runs until interrupted)")
	_ = f.MarkHidden("max-passes")
	return cmd
}

func (a *App) runWatch(ctx context.Context, o watchOptions) error {
	s, err := a.openSession(ctx, sessionOptions{workers: o.workers, noCache: o.noCache})
	if err != nil {
		return err
	}
	defer s.close()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	l := &watchLoop{
		r:         s.resolver,
		debounce:  o.debounce,
		maxPasses: o.maxPasses,
		logger:    a.log(),
		addDir: func(dir string) {
			if err := addTree(w, dir); err != nil {
				a.log().Warn("watching directory", slog.String("dir", dir), slog.String("error", err.Error()))
			}
		},
		onReport: func(rep *resolver.Report) error { return renderReport(a.Stdout, rep) },
	}
	for _, c := range s.ws.Crates() {
		if c.Dir != "" {
			l.addDir(filepath.Join(c.Dir, "src"))
		}
	}

	rep, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	if err := l.onReport(rep); err != nil {
		return err
	}
	return l.run(ctx, w.Events, w.Errors)
}

// addTree watches dir and every directory below it.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// watchLoop turns file events into source updates and debounced passes.
type watchLoop struct {
	r         *resolver.Resolver
	debounce  time.Duration
	maxPasses int
	logger    *slog.Logger
	addDir    func(string)
	onReport  func(*resolver.Report) error
}

func (l *watchLoop) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	pending := false
	passes := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if l.apply(ev) {
				pending = true
				timer.Reset(l.debounce)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			l.logger.Warn("watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			rep, err := l.r.Resolve(ctx)
			switch {
			case errors.Is(err, querydb.ErrCancelled):
				pending = true
				timer.Reset(l.debounce)
				continue
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				return err
			}
			if err := l.onReport(rep); err != nil {
				return err
			}
			passes++
			if l.maxPasses > 0 && passes >= l.maxPasses {
				return nil
			}
		}
	}
}

// apply feeds one event into the resolver and reports whether a source
// input changed.
func (l *watchLoop) apply(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if l.addDir != nil {
				l.addDir(ev.Name)
			}
			return false
		}
	}
	if !strings.HasSuffix(ev.Name, workspace.SourceExt) {
		return false
	}
	crate, rel, ok := l.r.CrateForPath(ev.Name)
	if !ok || !strings.HasPrefix(rel, "src/") {
		return false
	}
	logger := l.logger.With(slog.String("crate", crate), slog.String("file", rel))

	var err error
	switch {
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
		data, rerr := os.ReadFile(ev.Name)
		if rerr != nil {
			_, err = l.r.RemoveSource(crate, rel)
		} else {
			_, err = l.r.UpdateSource(crate, rel, data)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		_, err = l.r.RemoveSource(crate, rel)
	default:
		return false
	}
	if err != nil {
		logger.Warn("applying change", slog.String("error", err.Error()))
		return false
	}
	logger.Debug("source changed", slog.String("op", ev.Op.String()))
	return true
}
