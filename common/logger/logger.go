package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// Env mirrors the handful of settings logger.Setup needs from
// internal/config, so this package does not import it.
type Env struct {
	Development bool
	OTelEnabled bool
	ServiceName string
}

// Setup installs the process-wide slog default handler. Development runs
// get a human-readable handler that tees to stdout and a dated log file;
// production runs emit JSON, routed through OTel when OTel is enabled.
func Setup(env Env) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if env.Development {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch {
	case !env.Development && env.OTelEnabled:
		handler = otelslog.NewHandler(env.ServiceName, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	case !env.Development:
		handler = newTraceHandler(slog.NewJSONHandler(os.Stdout, opts))
	default:
		handler = newTraceHandler(slog.NewTextHandler(devWriter(), opts))
	}

	slog.SetDefault(slog.New(handler))
}

func devWriter() io.Writer {
	dir := "logs"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "logger: could not create log dir: %v\n", err)
		return os.Stdout
	}
	name := filepath.Join(dir, fmt.Sprintf("docweaver-%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: could not open log file: %v\n", err)
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, f)
}

// traceHandler decorates records with the active span's trace/span id and
// any structured Fields carried on the context.
type traceHandler struct {
	slog.Handler
}

func newTraceHandler(h slog.Handler) *traceHandler {
	return &traceHandler{Handler: h}
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	f := From(ctx)
	if f.RunID != "" {
		r.AddAttrs(slog.String("run_id", f.RunID))
	}
	if f.ModuleID != "" {
		r.AddAttrs(slog.String("module_id", f.ModuleID))
	}
	if f.SccID != "" {
		r.AddAttrs(slog.String("scc_id", f.SccID))
	}
	if f.SectionID != "" {
		r.AddAttrs(slog.String("section_id", f.SectionID))
	}
	if f.Component != "" {
		r.AddAttrs(slog.String("component", f.Component))
	}
	if f.Phase != "" {
		r.AddAttrs(slog.String("phase", f.Phase))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}
