// Package resolver drives a workspace through the incremental compilation
// database: it orders crates with the dependency graph, resolves each crate
// through memoized queries and assembles the artifacts and diagnostics of the
// whole workspace into a Report.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"voyager/internal/artifactcache"
	"voyager/internal/compiler"
	"voyager/internal/contract"
	"voyager/internal/depgraph"
	"voyager/internal/plugin"
	"voyager/internal/querydb"
	"voyager/internal/trace"
	"voyager/internal/workspace"
)

var tracer = otel.Tracer("voyager.resolver")

var (
	ErrInvalidWorkspace = errors.New("invalid workspace")
	ErrUnknownCrate     = errors.New("unknown crate")
)

type options struct {
	plugins    *plugin.Registry
	cache      artifactcache.Cache
	logger     *slog.Logger
	workers    int
	sink       trace.Sink
	includeDev bool
}

type Option func(*options)

func WithPlugins(reg *plugin.Registry) Option {
	return func(o *options) { o.plugins = reg }
}

// WithCache enables the cross-invocation artifact cache.
func WithCache(c artifactcache.Cache) Option {
	return func(o *options) { o.cache = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithWorkers sets the number of crates resolved concurrently within one
// depth level. Values below 2 select serial resolution in topological order.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithTraceSink forwards trace events as they happen, in addition to the
// canonical trace attached to each Report.
func WithTraceSink(s trace.Sink) Option {
	return func(o *options) { o.sink = s }
}

func WithDevDependencies(include bool) Option {
	return func(o *options) { o.includeDev = include }
}

// Resolver owns one query database for the lifetime of a workspace snapshot.
// Source edits go through UpdateSource and RemoveSource; every other input is
// fixed at construction.
type Resolver struct {
	ws        *workspace.Workspace
	graph     *depgraph.Graph
	db        *querydb.Database
	backend   compiler.Backend
	plugins   *plugin.Registry
	extractor *contract.Extractor
	cache     artifactcache.Cache
	logger    *slog.Logger
	workers   int
	sink      trace.Sink
	toolchain string

	// passMu serializes Resolve calls. mu guards configs and last.
	passMu  sync.Mutex
	mu      sync.Mutex
	configs map[string]CrateConfig
	last    map[string]CrateFingerprint
}

// New validates ws and builds its dependency graph. Structural failures
// (invalid workspace, unresolved dependency, cycle) are returned before any
// database exists.
func New(ctx context.Context, ws *workspace.Workspace, backend compiler.Backend, opts ...Option) (*Resolver, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	o := options{workers: 1, includeDev: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.plugins == nil {
		o.plugins = plugin.NewRegistry()
	}

	if err := ws.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkspace, err)
	}
	g, err := depgraph.BuildContext(ctx, ws.Crates(), depgraph.WithDevDependencies(o.includeDev))
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		ws:        ws,
		graph:     g,
		db:        querydb.New(querydb.WithLogger(o.logger)),
		backend:   backend,
		plugins:   o.plugins,
		extractor: contract.NewExtractor(backend),
		cache:     o.cache,
		logger:    o.logger,
		workers:   o.workers,
		sink:      o.sink,
		toolchain: compiler.Identity(backend) + ";" + o.plugins.Identity(),
		configs:   make(map[string]CrateConfig),
		last:      make(map[string]CrateFingerprint),
	}
	r.registerQueries()

	for _, c := range ws.Crates() {
		cfg := CrateConfig{
			Name:         c.Name,
			Package:      c.Package,
			Root:         c.Root,
			Files:        c.FilePaths(),
			Dependencies: g.Dependencies(c.Name),
		}
		if pkg, ok := ws.Package(c.Package); ok {
			cfg.Version = pkg.Version
			cfg.CairoVersion = pkg.CairoVersion
		}
		r.configs[c.Name] = cfg
		if _, err := r.db.SetInput(QueryCrateConfig, c.Name, cfg); err != nil {
			return nil, err
		}
		for _, f := range c.Files {
			if _, err := r.db.SetInput(QuerySource, FileKey(c.Name, f.Path), string(f.Content)); err != nil {
				return nil, err
			}
		}
	}
	r.logger.Debug("resolver ready",
		slog.Int("crates", g.Len()),
		slog.String("graph_hash", g.Hash()),
		slog.String("toolchain", r.toolchain),
	)
	return r, nil
}

func (r *Resolver) Graph() *depgraph.Graph          { return r.graph }
func (r *Resolver) Database() *querydb.Database     { return r.db }
func (r *Resolver) Workspace() *workspace.Workspace { return r.ws }

// UpdateSource sets the content of a crate file, adding the file to the crate
// when it is new. It only bumps the revision; nothing is recomputed until the
// next Resolve.
func (r *Resolver) UpdateSource(crate, path string, content []byte) (querydb.Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[crate]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCrate, crate)
	}
	if !containsString(cfg.Files, path) {
		cfg.Files = append(append([]string(nil), cfg.Files...), path)
		sort.Strings(cfg.Files)
		if _, err := r.db.SetInput(QueryCrateConfig, crate, cfg); err != nil {
			return 0, err
		}
		r.configs[crate] = cfg
	}
	return r.db.SetInput(QuerySource, FileKey(crate, path), string(content))
}

// RemoveSource drops a file from a crate.
func (r *Resolver) RemoveSource(crate, path string) (querydb.Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[crate]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCrate, crate)
	}
	if containsString(cfg.Files, path) {
		files := make([]string, 0, len(cfg.Files)-1)
		for _, f := range cfg.Files {
			if f != path {
				files = append(files, f)
			}
		}
		cfg.Files = files
		if _, err := r.db.SetInput(QueryCrateConfig, crate, cfg); err != nil {
			return 0, err
		}
		r.configs[crate] = cfg
	}
	return r.db.RemoveInput(QuerySource, FileKey(crate, path))
}

// CrateForPath maps an absolute file path to the crate whose directory holds
// it, returning the slash-separated path relative to that directory.
func (r *Resolver) CrateForPath(abs string) (crate, rel string, ok bool) {
	best := -1
	for _, c := range r.ws.Crates() {
		if c.Dir == "" {
			continue
		}
		p, err := filepath.Rel(c.Dir, abs)
		if err != nil || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
			continue
		}
		if len(c.Dir) > best {
			best = len(c.Dir)
			crate, rel, ok = c.Name, filepath.ToSlash(p), true
		}
	}
	return crate, rel, ok
}

// Close discards the database. The artifact cache is owned by the caller.
func (r *Resolver) Close() {
	r.db.Close()
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
