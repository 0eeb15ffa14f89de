package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config describes one process's logger.
type Config struct {
	// Level is debug, info, warn or error.
	Level string
	// FilePath receives JSON records. Empty logs to stderr only.
	FilePath string
	// MaxSizeMB and MaxFiles bound the rotated file set (defaults 10 and 5).
	MaxSizeMB int
	MaxFiles  int
	// Compress gzips rotated files.
	Compress bool
	// WriteToStderr copies records to stderr when logging to a file.
	WriteToStderr bool
	// Component is attached to every record, e.g. "server" or "build".
	Component string
}

// Setup returns a JSON logger for cfg and a cleanup that syncs and closes
// the log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var (
		out     io.Writer = os.Stderr
		cleanup           = func() {}
	)
	if cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		w.SetCompress(cfg.Compress)
		out = w
		if cfg.WriteToStderr {
			out = io.MultiWriter(w, os.Stderr)
		}
		cleanup = func() {
			_ = w.Sync()
			_ = w.Close()
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       LevelFromString(cfg.Level),
		ReplaceAttr: replaceAttr,
	}))
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}
	return logger, cleanup, nil
}

// replaceAttr writes UTC timestamps and lower case levels.
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
		}
	case slog.LevelKey:
		if l, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(strings.ToLower(l.String()))
		}
	}
	return a
}

// Install makes the logger for cfg the process default.
func Install(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// LevelFromString maps a level name to a slog.Level. Unknown names map to
// info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
