package overlay

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TextInputOverlay collects a single line of free-form text: a session
// name or a Boss-mode prompt.
type TextInputOverlay struct {
	title     string
	input     textinput.Model
	submitted bool
	canceled  bool
	width     int
	height    int
}

// NewTextInputOverlay returns a focused text input pre-filled with initial.
func NewTextInputOverlay(title, initial string) *TextInputOverlay {
	ti := textinput.New()
	ti.SetValue(initial)
	ti.CursorEnd()
	ti.Focus()
	ti.CharLimit = 256
	return &TextInputOverlay{title: title, input: ti, width: 50}
}

// SetSize constrains the overlay's rendered box.
func (o *TextInputOverlay) SetSize(width, height int) {
	o.width = width
	o.height = height
	o.input.Width = width - 4
}

// HandleKeyPress feeds msg to the input and reports whether the overlay
// should now close (Enter submits, Esc cancels).
func (o *TextInputOverlay) HandleKeyPress(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyEnter:
		o.submitted = true
		return true
	case tea.KeyEsc:
		o.canceled = true
		return true
	default:
		var cmd tea.Cmd
		o.input, cmd = o.input.Update(msg)
		_ = cmd
		return false
	}
}

// IsSubmitted reports whether the overlay closed via Enter rather than Esc.
func (o *TextInputOverlay) IsSubmitted() bool { return o.submitted }

// GetValue returns the current input text.
func (o *TextInputOverlay) GetValue() string { return o.input.Value() }

// Render draws the overlay's bordered box.
func (o *TextInputOverlay) Render(opts ...WhitespaceOption) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(o.width)

	content := titleStyle.Render(o.title) + "\n\n" + o.input.View()
	return boxStyle.Render(content)
}
