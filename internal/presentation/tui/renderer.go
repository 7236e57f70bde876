package tui

import (
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
	)
	if err != nil {
		// Fall back to plain text when the terminal profile cannot be
		// detected (pipes, CI).
		return func(markdown string) (string, error) { return markdown + "\n", nil }
	}
	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}
