package cli

import (
	"context"
	"fmt"

	"voyager/internal/artifactcache"
	"voyager/internal/compiler/cairo"
	"voyager/internal/plugin"
	"voyager/internal/resolver"
	"voyager/internal/trace"
	"voyager/internal/workspace"
)

type sessionOptions struct {
	workers int
	noCache bool
	sink    trace.Sink
}

// session is a loaded workspace with its resolver and artifact cache.
type session struct {
	ws       *workspace.Workspace
	registry *plugin.Registry
	backend  *cairo.Backend
	cache    artifactcache.Cache
	resolver *resolver.Resolver
}

func (a *App) loadWorkspace() (*workspace.Workspace, error) {
	return workspace.Load(a.workDir, workspace.WithBuiltinCrates(a.cfg.BuiltinCrates...))
}

func (a *App) openSession(ctx context.Context, so sessionOptions) (*session, error) {
	reg, err := a.cfg.Registry()
	if err != nil {
		return nil, err
	}
	ws, err := a.loadWorkspace()
	if err != nil {
		return nil, err
	}
	s := &session{
		ws:       ws,
		registry: reg,
		backend: cairo.New(
			cairo.WithAttributes(reg.Attributes()...),
			cairo.WithBuiltinCrates(a.cfg.BuiltinCrates...),
		),
	}

	if !so.noCache && !a.cfg.Cache.Disabled {
		if a.cfg.Cache.InMemory {
			s.cache = artifactcache.WithMetrics(artifactcache.NewMemoryCache(), "memory")
		} else {
			bc, err := artifactcache.OpenBadger(artifactcache.BadgerConfig{
				Dir:    a.cfg.CacheDir(a.workDir),
				Logger: a.log(),
			})
			if err != nil {
				return nil, fmt.Errorf("open artifact cache: %w", err)
			}
			s.cache = artifactcache.WithMetrics(bc, "badger")
		}
	}

	workers := so.workers
	if workers < 0 {
		workers = a.cfg.Workers
	}
	opts := []resolver.Option{
		resolver.WithPlugins(reg),
		resolver.WithLogger(a.log()),
		resolver.WithWorkers(workers),
		resolver.WithDevDependencies(a.cfg.Graph.IncludeDev),
	}
	if s.cache != nil {
		opts = append(opts, resolver.WithCache(s.cache))
	}
	if so.sink != nil {
		opts = append(opts, resolver.WithTraceSink(so.sink))
	}
	r, err := resolver.New(ctx, ws, s.backend, opts...)
	if err != nil {
		s.close()
		return nil, err
	}
	s.resolver = r
	return s, nil
}

func (s *session) close() {
	if s.resolver != nil {
		s.resolver.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
}
