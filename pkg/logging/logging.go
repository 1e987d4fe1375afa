package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"uigen/pkg/config"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 5
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// isTerminal is swapped in tests.
var isTerminal = func(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Init configures slog. Logs go to stderr unless a log file is configured,
// in which case they are rotated with lumberjack.
func Init(cfg config.Config) (*slog.Logger, error) {
	level := parseLogLevel(cfg.LogLevel)
	handlerOptions := &slog.HandlerOptions{Level: level}

	logPath := strings.TrimSpace(cfg.LogFile)
	if logPath == "" {
		format := resolveFormat(cfg.LogFormat, isTerminal(os.Stderr))
		logger := slog.New(newHandler(format, os.Stderr, handlerOptions))
		slog.SetDefault(logger)
		return logger, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		logger := slog.New(newHandler(resolveFormat(cfg.LogFormat, isTerminal(os.Stderr)), os.Stderr, handlerOptions))
		slog.SetDefault(logger)
		return logger, err
	}

	writer := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}

	// Files are read by machines; "auto" means JSON here.
	logger := slog.New(newHandler(resolveFormat(cfg.LogFormat, false), writer, handlerOptions))
	slog.SetDefault(logger)
	return logger, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func resolveFormat(format string, tty bool) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "auto" || format == "" {
		if tty {
			return "text"
		}
		return "json"
	}
	return format
}

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return slog.NewTextHandler(out, opts)
	default:
		return slog.NewJSONHandler(out, opts)
	}
}
