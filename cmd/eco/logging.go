package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/TemporalDynamics/verifysign-sub002/core/projectconfig"
)

// newLogger writes structured records to w. Stdout stays reserved for
// command output.
func newLogger(w io.Writer, level string, format string) (*slog.Logger, error) {
	var slogLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "warn":
		slogLevel = slog.LevelWarn
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", level)
	}
	options := &slog.HandlerOptions{Level: slogLevel}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// loadConfig reads the project config. The default path may be absent; an
// explicitly named file must exist.
func loadConfig(path string) (projectconfig.Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return projectconfig.Load(projectconfig.DefaultPath, true)
	}
	return projectconfig.Load(trimmed, trimmed == projectconfig.DefaultPath)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// commandSetup loads config and builds the stderr logger. A non-empty
// logLevel flag overrides log.level from config.
func commandSetup(configPath string, logLevel string) (projectconfig.Config, *slog.Logger, error) {
	configuration, err := loadConfig(configPath)
	if err != nil {
		return projectconfig.Config{}, nil, err
	}
	logger, err := newLogger(os.Stderr, firstNonEmpty(logLevel, configuration.Log.Level), configuration.Log.Format)
	if err != nil {
		return projectconfig.Config{}, nil, err
	}
	return configuration, logger, nil
}
