package overlay

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

// ModeOption is one selectable session.Mode in the dialog.
type ModeOption struct {
	Mode        session.Mode
	Name        string
	Description string
}

// ModeSelectorOverlay lets the user pick Interactive vs. Boss mode when
// creating a session.
type ModeSelectorOverlay struct {
	Dismissed bool
	Selected  session.Mode
	options   []ModeOption
	cursor    int
	width     int
}

// NewModeSelectorOverlay returns a selector defaulted to Interactive.
func NewModeSelectorOverlay() *ModeSelectorOverlay {
	return &ModeSelectorOverlay{
		options: []ModeOption{
			{
				Mode:        session.Interactive,
				Name:        "Interactive",
				Description: "Attach and drive the agent yourself.\nBest for: exploratory work, reviewing as you go.",
			},
			{
				Mode:        session.Boss,
				Name:        "Boss",
				Description: "Run the agent against a fixed prompt, unattended.\nBest for: a well-scoped task you'll check on later.",
			},
		},
		width: 60,
	}
}

// HandleKeyPress processes a key press and reports whether the dialog
// should close.
func (m *ModeSelectorOverlay) HandleKeyPress(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "up", "k":
		m.moveCursor(-1)
		return false
	case "down", "j":
		m.moveCursor(1)
		return false
	case "enter":
		m.Selected = m.options[m.cursor].Mode
		m.Dismissed = true
		return true
	case "esc":
		m.Dismissed = true
		return true
	default:
		return false
	}
}

func (m *ModeSelectorOverlay) moveCursor(delta int) {
	n := len(m.options)
	m.cursor = ((m.cursor+delta)%n + n) % n
}

// Render draws the dialog.
func (m *ModeSelectorOverlay) Render(opts ...WhitespaceOption) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7")).Bold(true)
	normalStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).PaddingLeft(4)

	var content strings.Builder
	content.WriteString(titleStyle.Render("Select Session Mode"))
	content.WriteString("\n\n")

	for i, opt := range m.options {
		prefix := "  "
		nameStyle := normalStyle
		if i == m.cursor {
			prefix = "> "
			nameStyle = selectedStyle
		}
		content.WriteString(prefix)
		content.WriteString(nameStyle.Render(opt.Name))
		content.WriteString("\n")
		for _, line := range strings.Split(opt.Description, "\n") {
			content.WriteString(descStyle.Render(line))
			content.WriteString("\n")
		}
		content.WriteString("\n")
	}

	content.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Render(
		"[Enter] Select  [Esc] Cancel  [↑/↓] Navigate"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7aa2f7")).
		Padding(1, 2).
		Width(m.width)

	return boxStyle.Render(content.String())
}

// SetWidth sets the dialog's rendered width.
func (m *ModeSelectorOverlay) SetWidth(width int) { m.width = width }

// GetSelected returns the chosen mode.
func (m *ModeSelectorOverlay) GetSelected() session.Mode { return m.Selected }
