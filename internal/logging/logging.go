package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Level represents log verbosity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects the slog handler used for output.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatPretty
)

// ParseLevel converts a string level name to Level
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// ParseFormat converts a string format name to Format.
// "pretty" renders colorized terminal output, "json" structured JSON,
// anything else falls back to the plain text handler.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	case "pretty":
		return FormatPretty
	default:
		return FormatText
	}
}

// ToSlogLevel converts our Level to slog.Level
func (l Level) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Setup initializes the global slog logger with the specified level and format.
func Setup(level Level, format Format) *slog.Logger {
	return SetupWithWriter(level, format, os.Stderr)
}

// SetupWithWriter initializes slog with a custom writer (useful for testing)
func SetupWithWriter(level Level, format Format, w io.Writer) *slog.Logger {
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.ToSlogLevel()})
	case FormatPretty:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level.ToSlogLevel(),
			TimeFormat: time.Kitchen,
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.ToSlogLevel()})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
