package overlay

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConfirmationOverlay is a yes/no modal guarding destructive actions (stop,
// delete) before they reach the action queue.
type ConfirmationOverlay struct {
	message string
	width   int

	// OnConfirm and OnCancel run when the user picks y or n/esc. Exactly one
	// fires, from HandleKeyPress, before it reports the overlay should close.
	OnConfirm func()
	OnCancel  func()
}

// NewConfirmationOverlay returns a confirmation dialog showing message.
func NewConfirmationOverlay(message string) *ConfirmationOverlay {
	return &ConfirmationOverlay{message: message, width: 50}
}

// SetWidth sets the dialog's rendered width.
func (c *ConfirmationOverlay) SetWidth(width int) { c.width = width }

// HandleKeyPress processes a key press, firing OnConfirm/OnCancel and
// reporting whether the overlay should close.
func (c *ConfirmationOverlay) HandleKeyPress(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "y", "Y", "enter":
		if c.OnConfirm != nil {
			c.OnConfirm()
		}
		return true
	case "n", "N", "esc":
		if c.OnCancel != nil {
			c.OnCancel()
		}
		return true
	default:
		return false
	}
}

// Render draws the dialog.
func (c *ConfirmationOverlay) Render(opts ...WhitespaceOption) string {
	messageStyle := lipgloss.NewStyle().Bold(true)
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("203")).
		Padding(1, 2).
		Width(c.width)

	content := messageStyle.Render(c.message) + "\n\n" + hintStyle.Render("[y] Confirm  [n/esc] Cancel")
	return boxStyle.Render(content)
}
