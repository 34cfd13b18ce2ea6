package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"voyager/internal/resolver"
	"voyager/internal/runstore"
	"voyager/internal/telemetry"
)

type resolveOptions struct {
	workers     int
	tracePath   string
	outputDir   string
	noCache     bool
	metricsAddr string
	traceSpans  bool
	jsonOut     bool
}

func (a *App) newResolveCommand() *cobra.Command {
	var o resolveOptions
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve every crate of the workspace and extract contract artifacts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runResolve(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.workers, "workers", -1, "crates resolved concurrently per depth level (default from config)")
	f.StringVar(&o.tracePath, "trace", "", "write the canonical resolution trace to this path")
	f.StringVar(&o.outputDir, "output-dir", "", "write contract artifacts to this directory (emptied first)")
	f.BoolVar(&o.noCache, "no-cache", false, "do not read or write the artifact cache")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&o.traceSpans, "trace-spans", false, "print OpenTelemetry spans to stderr")
	f.BoolVar(&o.jsonOut, "json", false, "print the report as JSON")
	return cmd
}

func (a *App) startTelemetry(ctx context.Context, spans bool, metricsAddr string) (func(), error) {
	var closers []func()
	stop := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if spans {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "voyager",
			ServiceVersion: Version,
			TraceExporter:  telemetry.ExporterStdout,
			Writer:         a.Stderr,
		})
		if err != nil {
			return stop, err
		}
		closers = append(closers, func() { _ = shutdown(context.Background()) })
	}
	if metricsAddr != "" {
		ln, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			stop()
			return func() {}, invalidInvocationf("--metrics-addr: %v", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log().Warn("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
		a.log().Info("serving metrics", slog.String("addr", ln.Addr().String()))
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	return stop, nil
}

func (a *App) runResolve(ctx context.Context, o resolveOptions) (err error) {
	stop, err := a.startTelemetry(ctx, o.traceSpans, o.metricsAddr)
	defer stop()
	if err != nil {
		return err
	}

	var outDir, tracePath string
	if o.outputDir != "" {
		if outDir, err = resolveUnderWorkDir(a.workDir, o.outputDir); err != nil {
			return err
		}
	}
	if o.tracePath != "" {
		if tracePath, err = resolveUnderWorkDir(a.workDir, o.tracePath); err != nil {
			return err
		}
	}

	mode := runstore.ModeIncremental
	if o.noCache || a.cfg.Cache.Disabled {
		mode = runstore.ModeClean
	}
	workers := o.workers
	if workers < 0 {
		workers = a.cfg.Workers
	}

	// Run records are best effort: a read-only workspace still resolves.
	var rec *runstore.Recorder
	var run runstore.Run
	if st, serr := runstore.NewStore(a.workDir); serr == nil {
		rec = runstore.NewRecorder(st)
		if run, serr = rec.Start(mode, workers); serr != nil {
			a.log().Warn("run record unavailable", slog.String("error", serr.Error()))
			rec = nil
		}
	}
	abort := func(cause error) {
		if rec == nil {
			return
		}
		if _, rerr := rec.Abort(run, cause); rerr != nil {
			a.log().Warn("recording failure", slog.String("error", rerr.Error()))
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &InvocationError{ExitCode: ExitInternalError, Message: fmt.Sprintf("panic: %v", r)}
			abort(err)
		}
	}()

	s, err := a.openSession(ctx, sessionOptions{workers: workers, noCache: o.noCache})
	if err != nil {
		abort(err)
		return err
	}
	defer s.close()

	rep, err := s.resolver.Resolve(ctx)
	if err != nil {
		abort(err)
		return err
	}
	if rec != nil {
		if run, err = rec.Finish(run, rep); err != nil {
			a.log().Warn("recording run", slog.String("error", err.Error()))
		} else {
			a.log().Debug("run recorded", slog.String("run_id", run.RunID), slog.String("trace_hash", run.TraceHash))
		}
	}

	if tracePath != "" {
		if err := writeTraceFile(tracePath, rep.Trace); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
	}
	if outDir != "" {
		if err := prepareOutputDir(outDir); err != nil {
			return &InvocationError{ExitCode: ExitConfigError, Err: err}
		}
		if _, err := runstore.WriteArtifacts(outDir, rep.Artifacts); err != nil {
			return fmt.Errorf("write artifacts: %w", err)
		}
	}

	if err := a.printReport(rep, o.jsonOut); err != nil {
		return err
	}
	return rep.Err()
}

func (a *App) printReport(rep *resolver.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(a.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return renderReport(a.Stdout, rep)
}
