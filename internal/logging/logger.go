// internal/logging/logger.go
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/colebrumley/cardmask/internal/mask"
)

// NewLogger creates a new structured logger. Everything it writes passes
// through MaskingWriter first.
func NewLogger(format string, level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	w = MaskingWriter(w)

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type maskingWriter struct {
	w io.Writer
}

// MaskingWriter returns a writer that masks card numbers in each Write call
// on its own. slog handlers emit one complete record per Write, so a number
// never spans two calls.
func MaskingWriter(w io.Writer) io.Writer {
	return &maskingWriter{w: w}
}

func (m *maskingWriter) Write(p []byte) (int, error) {
	if _, err := m.w.Write(mask.Bytes(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WithJob returns a logger with the job name attached
func WithJob(logger *slog.Logger, jobName string) *slog.Logger {
	return logger.With("job", jobName)
}
