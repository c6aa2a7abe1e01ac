// Package logging configures the process-wide structured logger.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// Configure sets up the default slog logger for the given level and
// destination.
//
// Valid levels are "none", "error", "warn", "info", "debug"; any other
// value is an error. An empty logFile logs text to stdout; otherwise logs
// are JSON-encoded to that file (created if absent, appended to on each
// run).
//
// Returns the opened log file, if any, so the caller can close it on
// shutdown:
//
//	f, err := logging.Configure("info", "insanity.log", slog.HandlerOptions{})
//	if f != nil {
//		defer f.Close()
//	}
func Configure(level string, logFile string, opts slog.HandlerOptions) (*os.File, error) {
	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("logging: unexpected log level " + level)
	}

	var f *os.File
	var handler slog.Handler
	if logFile == "" {
		handler = slog.NewTextHandler(os.Stdout, &opts)
	} else {
		var err error
		f, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		handler = slog.NewJSONHandler(f, &opts)
	}

	slog.SetDefault(slog.New(handler))
	return f, nil
}
