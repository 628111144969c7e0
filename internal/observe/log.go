package observe

import (
	"context"
	"io"
	"log/slog"

	"github.com/cwbudde/algo-binaural/fault"
)

// NewLogger returns a text logger at level, or a JSON logger when json is
// set.
func NewLogger(w io.Writer, level slog.Level, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// LogReporter logs faults. Audio faults repeat every block while a source
// starves, so they go to Debug; sensor faults are rare and go to Warn.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements fault.Reporter.
func (r LogReporter) Report(ctx context.Context, f fault.Fault) {
	l := r.Logger
	if l == nil {
		l = slog.Default()
	}

	level := slog.LevelDebug
	if f.Kind == fault.KindSensor {
		level = slog.LevelWarn
	}

	attrs := []any{"kind", f.Kind.String(), "reason", f.Reason}
	if f.Source != "" {
		attrs = append(attrs, "source", f.Source)
	}
	if f.Err != nil {
		attrs = append(attrs, "error", f.Err)
	}
	l.Log(ctx, level, "fault", attrs...)
}
