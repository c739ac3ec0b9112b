// Package logging builds the process logger: a console sink, rotating
// files through lumberjack and an errors-only file, optionally behind an
// async writer and a dedup stage.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syntrixbase/fanout/internal/config"
)

const (
	MainLogFile  = "fanout.log"
	ErrorLogFile = "errors.log"
)

var (
	closersMu sync.Mutex
	closers   []io.Closer
)

// Initialize builds a logger from cfg and installs it as the slog default.
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	slog.Info("Logging initialized",
		"level", cfg.Level,
		"dir", cfg.Dir,
		"console", cfg.Console.Enabled,
		"file", cfg.File.Enabled,
		"async", cfg.Async,
		"dedup", cfg.Dedup.Enabled,
	)
	return nil
}

// NewLogger creates a logger for cfg. Files, async writers and the dedup
// stage are released by Shutdown.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, createHandler(os.Stdout, cfg.Console.Format, ParseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		mainOut := openFile(cfg, MainLogFile)
		handlers = append(handlers, createHandler(mainOut, cfg.File.Format, ParseLevel(cfg.File.Level)))

		errOut := openFile(cfg, ErrorLogFile)
		handlers = append(handlers, NewLevelFilter(createHandler(errOut, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, nil)
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	if cfg.Dedup.Enabled {
		dedup := NewDedupHandler(handler, cfg.Dedup.Window)
		// Closed first so its summaries reach the files.
		register(dedup, true)
		handler = dedup
	}
	return slog.New(handler), nil
}

// openFile returns the rotating file for name, wrapped in an AsyncWriter
// when cfg.Async is set.
func openFile(cfg config.LoggingConfig, name string) io.Writer {
	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	if !cfg.Async {
		register(file, false)
		return file
	}
	w := NewAsyncWriter(file, DefaultAsyncWriterConfig())
	register(w, false)
	return w
}

func register(c io.Closer, front bool) {
	closersMu.Lock()
	defer closersMu.Unlock()
	if front {
		closers = append([]io.Closer{c}, closers...)
		return
	}
	closers = append(closers, c)
}

// Shutdown flushes pending output and closes every file opened by
// NewLogger.
func Shutdown() error {
	closersMu.Lock()
	pending := closers
	closers = nil
	closersMu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log output: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a config level name to a slog level. Unknown names map to
// info.
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

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return NewTextHandler(w, opts)
}
