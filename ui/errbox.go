package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/inspect"
)

var errBoxStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#de613e", Dark: "#de613e"})

// ErrBox displays the most recent error or transient notification below the
// menu as a single line.
type ErrBox struct {
	message       string
	width, height int
}

// NewErrBox returns an empty ErrBox.
func NewErrBox() *ErrBox { return &ErrBox{} }

// SetSize sets the box's rendered width and height.
func (e *ErrBox) SetSize(width, height int) {
	e.width = width
	e.height = height
}

// SetError displays err's message. A nil err clears the box.
func (e *ErrBox) SetError(err error) {
	if err == nil {
		e.message = ""
		return
	}
	e.message = err.Error()
}

// Clear removes the currently displayed message.
func (e *ErrBox) Clear() { e.message = "" }

// InspectNode reports the box's current state for CIAB_INSPECT snapshots.
func (e *ErrBox) InspectNode() *inspect.Node {
	return inspect.NewNode("ErrBox").
		WithID("errbox").
		WithBounds(0, 0, e.width, e.height).
		WithContent(e.message)
}

// String renders the box.
func (e *ErrBox) String() string {
	if e.message == "" {
		return lipgloss.Place(e.width, e.height, lipgloss.Center, lipgloss.Center, "")
	}
	return lipgloss.Place(e.width, e.height, lipgloss.Center, lipgloss.Center, errBoxStyle.Render(e.message))
}
