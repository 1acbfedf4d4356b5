// Package overlay implements the small set of modal dialogs the thin UI
// shell shows on top of the main view: a text input (naming a session,
// entering a Boss-mode prompt), a yes/no confirmation, a mode
// selector, a loading spinner, and a file browser for picking a workspace
// directory.
package overlay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// whitespace controls how PlaceOverlay fills the space a dialog doesn't
// cover.
type whitespace struct {
	style lipgloss.Style
	char  string
}

// WhitespaceOption configures the fill appearance PlaceOverlay uses.
type WhitespaceOption func(*whitespace)

// WithWhitespaceChars sets the rune(s) repeated to fill blank space.
func WithWhitespaceChars(s string) WhitespaceOption {
	return func(w *whitespace) { w.char = s }
}

// WithWhitespaceForeground sets the fill color.
func WithWhitespaceForeground(c lipgloss.TerminalColor) WhitespaceOption {
	return func(w *whitespace) { w.style = w.style.Foreground(c) }
}

func newWhitespace(opts ...WhitespaceOption) whitespace {
	w := whitespace{char: " "}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

func (w whitespace) render(width int) string {
	if width <= 0 {
		return ""
	}
	line := strings.Repeat(w.char, width/max(1, len(w.char))+1)[:width]
	return w.style.Render(line)
}

// PlaceOverlay centers fg over a canvas the size of bg. x and y nudge the
// centered position; shadow and flushBottom are accepted for call-site
// symmetry with other overlay placement helpers, but this shell only ever
// centers dialogs, so both are currently no-ops.
//
// bg's own styled content is intentionally not spliced around fg: doing so
// byte-for-byte would risk cutting mid-escape-sequence through bg's ANSI
// styling. Blanking the canvas behind the dialog instead is simpler and,
// for a modal dialog, visually indistinguishable once the dialog covers
// the area a user is looking at.
func PlaceOverlay(x, y int, fg, bg string, shadow, flushBottom bool, opts ...WhitespaceOption) string {
	_ = shadow
	_ = flushBottom

	bgWidth := lipgloss.Width(bg)
	bgHeight := lipgloss.Height(bg)
	if bgWidth == 0 {
		bgWidth = lipgloss.Width(fg)
	}
	if bgHeight == 0 {
		bgHeight = lipgloss.Height(fg)
	}

	ws := newWhitespace(opts...)
	canvas := lipgloss.NewStyle().
		Width(bgWidth).
		Height(bgHeight).
		Render(ws.render(bgWidth))

	row := (bgHeight-lipgloss.Height(fg))/2 + y
	col := (bgWidth-lipgloss.Width(fg))/2 + x
	if row < 0 {
		row = 0
	}
	if col < 0 {
		col = 0
	}

	lines := strings.Split(canvas, "\n")
	fgLines := strings.Split(fg, "\n")
	for i, fl := range fgLines {
		idx := row + i
		if idx < 0 || idx >= len(lines) {
			continue
		}
		pad := strings.Repeat(" ", col)
		lines[idx] = pad + fl
	}
	return strings.Join(lines, "\n")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
