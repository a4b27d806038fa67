// Package logger configures the process-wide slog handler and records crash reports.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format names accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New builds a logger writing to w. Debug records are kept only when verbose.
func New(w io.Writer, verbose bool, format string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Setup installs a stderr logger as the slog default and returns it.
func Setup(verbose bool, format string) *slog.Logger {
	l := New(os.Stderr, verbose, format)
	slog.SetDefault(l)
	return l
}
