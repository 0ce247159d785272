package cmd

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// ErrInvalidLogLevel is returned for a log level other than none, error,
// warn, info or debug.
var ErrInvalidLogLevel = errors.New("invalid log level")

// ConfigureLogger installs the default slog logger at the given level.
// An empty logFile logs text to w; otherwise JSON lines go to the file,
// which the caller closes.
func ConfigureLogger(w io.Writer, level, logFile string) (*os.File, error) {
	var opts slog.HandlerOptions
	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info", "":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, ErrInvalidLogLevel
	}

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(w, &opts)))
		return nil, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &opts)))
	return f, nil
}
