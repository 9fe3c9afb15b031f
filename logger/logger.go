//go:build linux

package logger

import (
	"log/slog"
	"os"
)

/**
 * Represents a log format.
 */
type LogFormat int

/**
 * Supported log formats.
 */
const (
	LogText LogFormat = iota
	LogJSON
)

/**
 * Logger options.
 */
type LoggerOpts struct {
	LogLevel  slog.Level
	LogFormat LogFormat
}

/**
 * The global logger instance. Defaults to a text logger at Info level so
 * library packages can log before a front end calls CreateLogger.
 */
var Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
	slog.Int("pid", os.Getpid()),
)

/**
 * Creates a global structured logger, replacing the default. Safe to call
 * at most once per process; a second call is a no-op returning the
 * existing logger.
 * @param opts the logger options.
 * @return the created logger instance.
 */
var configured bool

func CreateLogger(opts *LoggerOpts) *slog.Logger {
	var logHandler slog.Handler

	if configured {
		return Log
	}

	handlerOpts := &slog.HandlerOptions{
		Level: opts.LogLevel,
	}

	// Choose the log format.
	if opts.LogFormat == LogText {
		logHandler = slog.NewTextHandler(os.Stdout, handlerOpts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	}

	// Create a new structured logger.
	logger := slog.New(logHandler)

	// Add context fields.
	Log = logger.With(
		slog.Int("pid", os.Getpid()),
	)
	configured = true

	// Set as the default logger.
	slog.SetDefault(Log)

	return Log
}
