package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/inspect"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/keys"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/ui/layout"
)

var keyStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#655F5F",
	Dark:  "#7F7A7A",
})

var descStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#7A7474",
	Dark:  "#9C9494",
})

var sepStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
	Light: "#DDDADA",
	Dark:  "#3C3C3C",
})

var actionGroupStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

var separator = " • "
var verticalSeparator = " │ "

var menuStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("205"))

// MenuState represents different states the menu can be in.
type MenuState int

const (
	StateDefault MenuState = iota
	StateEmpty
	StateNewSession
	StateBossPrompt
)

// Menu renders the bottom key-hint bar, showing the actions available for
// the current session's status.
type Menu struct {
	options       []keys.KeyName
	height, width int
	state         MenuState
	session       *session.Session

	// keyDown is the key which is pressed. The default is -1.
	keyDown keys.KeyName

	degradation layout.Degradation
}

var defaultMenuOptions = []keys.KeyName{keys.KeyNew, keys.KeyRefresh, keys.KeyHelp, keys.KeyQuit}
var newSessionMenuOptions = []keys.KeyName{keys.KeyBrowse, keys.KeySubmitName}
var bossPromptMenuOptions = []keys.KeyName{keys.KeySubmitName}

// NewMenu returns a menu in the empty state.
func NewMenu() *Menu {
	return &Menu{
		options: defaultMenuOptions,
		state:   StateEmpty,
		keyDown: -1,
	}
}

// Keydown highlights name until ClearKeydown is called.
func (m *Menu) Keydown(name keys.KeyName) {
	m.keyDown = name
}

// ClearKeydown removes the highlight set by Keydown.
func (m *Menu) ClearKeydown() {
	m.keyDown = -1
}

// SetState updates the menu state and options accordingly.
func (m *Menu) SetState(state MenuState) {
	m.state = state
	m.updateOptions()
}

// SetSession updates the selected session and refreshes menu options.
func (m *Menu) SetSession(s *session.Session) {
	m.session = s
	if m.state != StateNewSession && m.state != StateBossPrompt {
		if m.session != nil {
			m.state = StateDefault
		} else {
			m.state = StateEmpty
		}
	}
	m.updateOptions()
}

func (m *Menu) updateOptions() {
	switch m.state {
	case StateEmpty:
		m.options = defaultMenuOptions
	case StateDefault:
		if m.session != nil {
			m.addSessionOptions()
		} else {
			m.options = defaultMenuOptions
		}
	case StateNewSession:
		m.options = newSessionMenuOptions
	case StateBossPrompt:
		m.options = bossPromptMenuOptions
	}
}

func (m *Menu) addSessionOptions() {
	management := []keys.KeyName{keys.KeyNew, keys.KeyDelete}

	actionGroup := []keys.KeyName{keys.KeyEnter, keys.KeyStop, keys.KeyRestart}
	if m.session.Status == session.Stopped {
		actionGroup = []keys.KeyName{keys.KeyRestart}
	} else if m.session.Status == session.Attached {
		actionGroup = []keys.KeyName{keys.KeyDetach, keys.KeyStop, keys.KeyRestart}
	}
	actionGroup = append(actionGroup, keys.KeyReauth)

	system := []keys.KeyName{keys.KeyRefresh, keys.KeyHelp, keys.KeyQuit}

	options := append([]keys.KeyName{}, management...)
	options = append(options, actionGroup...)
	options = append(options, system...)
	m.options = options
}

// SetSize sets the width of the window. The menu will be centered horizontally within this width.
func (m *Menu) SetSize(width, height int) {
	m.width = width
	m.height = height
}

// SetDegradation applies the responsive degradation flags computed for the
// current terminal size, collapsing the group separators into a single
// tighter separator once SingleLineMenu is set.
func (m *Menu) SetDegradation(d layout.Degradation) {
	m.degradation = d
}

// InspectNode reports the menu's current state for CIAB_INSPECT snapshots.
func (m *Menu) InspectNode() *inspect.Node {
	n := inspect.NewNode("Menu").
		WithID("menu").
		WithBounds(0, 0, m.width, m.height).
		WithState("state", int(m.state)).
		WithState("numOptions", len(m.options)).
		WithState("singleLine", m.degradation.SingleLineMenu)
	return n
}

func (m *Menu) String() string {
	var s strings.Builder

	groups := m.groupBoundaries()

	for i, k := range m.options {
		binding := keys.GlobalkeyBindings[k]

		localActionStyle := actionGroupStyle
		localKeyStyle := keyStyle
		localDescStyle := descStyle
		if m.keyDown == k {
			localActionStyle = localActionStyle.Underline(true)
			localKeyStyle = localKeyStyle.Underline(true)
			localDescStyle = localDescStyle.Underline(true)
		}

		inActionGroup := len(groups) > 1 && i >= groups[1].start && i < groups[1].end

		if inActionGroup {
			s.WriteString(localActionStyle.Render(binding.Help().Key))
			s.WriteString(" ")
			s.WriteString(localActionStyle.Render(binding.Help().Desc))
		} else {
			s.WriteString(localKeyStyle.Render(binding.Help().Key))
			s.WriteString(" ")
			s.WriteString(localDescStyle.Render(binding.Help().Desc))
		}

		if i != len(m.options)-1 {
			if m.degradation.SingleLineMenu {
				s.WriteString(sepStyle.Render(" "))
				continue
			}
			isGroupEnd := false
			for _, group := range groups {
				if i == group.end-1 {
					s.WriteString(sepStyle.Render(verticalSeparator))
					isGroupEnd = true
					break
				}
			}
			if !isGroupEnd {
				s.WriteString(sepStyle.Render(separator))
			}
		}
	}

	centeredMenuText := menuStyle.Render(s.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, centeredMenuText)
}

type menuGroup struct {
	start, end int
}

func (m *Menu) groupBoundaries() []menuGroup {
	switch m.state {
	case StateEmpty:
		return []menuGroup{{0, 1}, {1, len(m.options)}}
	case StateDefault:
		if m.session == nil {
			return []menuGroup{{0, 1}, {1, len(m.options)}}
		}
		managementLen := 2
		actionLen := len(m.options) - managementLen - 3
		return []menuGroup{
			{0, managementLen},
			{managementLen, managementLen + actionLen},
			{managementLen + actionLen, len(m.options)},
		}
	default:
		return []menuGroup{{0, len(m.options)}}
	}
}
