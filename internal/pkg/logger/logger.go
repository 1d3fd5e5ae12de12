package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Level         slog.Level
	LogFile       string
	LogToStderr   bool
	AlsoLogStderr bool
	Format        string // "json" or "text"
}

// SetupLogger creates a configured slog logger
func SetupLogger(cfg Config) (*slog.Logger, error) {
	var writers []io.Writer

	if cfg.LogFile != "" {
		dir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}

	if cfg.LogToStderr || cfg.AlsoLogStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var handler slog.Handler
	writer := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: true,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), nil
}

// Setup builds a logger from string settings and installs it as the slog default.
// An empty file means stderr only.
func Setup(level, format, file string, alsoStderr bool) error {
	l, err := SetupLogger(Config{
		Level:         ParseLevel(level),
		LogFile:       file,
		LogToStderr:   file == "",
		AlsoLogStderr: alsoStderr,
		Format:        format,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

// ParseLevel converts a string to slog.Level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithLogin tags logger with the canonical login a step acts on
func WithLogin(logger *slog.Logger, login string) *slog.Logger {
	return logger.With(slog.String("login", login))
}

func WithChat(logger *slog.Logger, chatID int64) *slog.Logger {
	return logger.With(slog.Int64("chat_id", chatID))
}

func WithHTTPRequest(logger *slog.Logger, method, path string) *slog.Logger {
	return logger.With(slog.String("method", method), slog.String("path", path))
}

func WithDuration(logger *slog.Logger, duration time.Duration) *slog.Logger {
	return logger.With(slog.Int64("duration_ms", duration.Milliseconds()))
}

// GetDefaultLogFile returns the default log file path for a component
func GetDefaultLogFile(component string) string {
	configDir, _ := os.UserConfigDir()
	if configDir == "" {
		configDir = "."
	}
	logDir := filepath.Join(configDir, "passgate")
	return filepath.Join(logDir, component+".log")
}
