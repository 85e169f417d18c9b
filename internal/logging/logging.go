// Package logging sets up the process-wide structured logger for the
// daemon. Records go to stderr as text; the level comes from the config
// file and accepts anything slog.Level parses, including offsets like
// "info+2".
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Configure installs the default slog logger. An empty level means info.
func Configure(level string) error {
	return configure(os.Stderr, level)
}

func configure(w io.Writer, level string) error {
	parsed, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parsed})))
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return slog.LevelInfo, nil
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return parsed, nil
}
