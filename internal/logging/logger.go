// Package logging builds the slog loggers the engine and its commands
// share.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger on stderr, keeping stdout free for chat
// output and JSON-RPC transports. The "error" attribute key is folded
// to "err" so log lines stay uniform across packages.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// NewNop returns a logger that discards everything. Components take it
// as the default so a missing WithLogger never panics.
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
