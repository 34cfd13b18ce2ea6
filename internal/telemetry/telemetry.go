// Package telemetry wires OpenTelemetry tracing and Prometheus exposition and
// correlates slog records with the active span.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

var ErrUnknownExporter = errors.New("unknown trace exporter")

type Config struct {
	ServiceName    string
	ServiceVersion string
	// TraceExporter is "none" or "stdout".
	TraceExporter string
	// Writer receives stdout spans; defaults to os.Stderr so spans never mix
	// with command output.
	Writer io.Writer
}

// Init installs a global tracer provider. The returned shutdown flushes
// pending spans. With ExporterNone the global no-op provider stays in place.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch cfg.TraceExporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// LoggerWithTrace adds trace_id and span_id of the span in ctx, if any.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

func LoggerWithCrate(ctx context.Context, logger *slog.Logger, crate string) *slog.Logger {
	return LoggerWithTrace(ctx, logger).With(slog.String("crate", crate))
}
