package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/inspect"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/ui/layout"
)

const readyIcon = "● "
const pausedIcon = "⏸ "

var readyStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#51bd73", Dark: "#51bd73"})

var pausedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#888888", Dark: "#888888"})

var errorIconStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#de613e", Dark: "#de613e"})

var titleStyle = lipgloss.NewStyle().
	Padding(1, 1, 0, 1).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#dddddd"})

var listDescStyle = lipgloss.NewStyle().
	Padding(0, 1, 1, 1).
	Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"})

var selectedTitleStyle = lipgloss.NewStyle().
	Padding(1, 1, 0, 1).
	Background(lipgloss.Color("#dde4f0")).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#1a1a1a"})

var selectedDescStyle = lipgloss.NewStyle().
	Padding(0, 1, 1, 1).
	Background(lipgloss.Color("#dde4f0")).
	Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#1a1a1a"})

var mainTitle = lipgloss.NewStyle().
	Background(lipgloss.Color("62")).
	Foreground(lipgloss.Color("230"))

var muxTagStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#888888", Dark: "#666666"}).
	Italic(true)

var bossPromptStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).
	Italic(true)

var selectedBossPromptStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#444444", Dark: "#444444"}).
	Italic(true)

// List renders the registry's session snapshot as a selectable, scrollable
// list.
type List struct {
	items         []session.Session
	selectedIdx   int
	height, width int
	renderer      *sessionRenderer

	// workspaces counts sessions per workspace path, so the workspace name is
	// only shown in the branch line when more than one is in play.
	workspaces map[string]int
}

// NewList returns an empty List driven by the given spinner for Running rows.
func NewList(spin *spinner.Model) *List {
	return &List{
		renderer:   &sessionRenderer{spinner: spin},
		workspaces: make(map[string]int),
	}
}

// SetSize sets the height and width of the list.
func (l *List) SetSize(width, height int) {
	l.width = width
	l.height = height
	l.renderer.width = width
}

// SetDegradation applies the responsive degradation flags computed for the
// current terminal size, hiding the branch/Boss-prompt lines on short
// terminals rather than letting them get clipped mid-render.
func (l *List) SetDegradation(d layout.Degradation) {
	l.renderer.degradation = d
}

// InspectNode reports the list's current state for CIAB_INSPECT snapshots.
func (l *List) InspectNode() *inspect.Node {
	n := inspect.NewNode("List").
		WithID("list").
		WithBounds(0, 0, l.width, l.height).
		WithState("numSessions", len(l.items)).
		WithState("selectedIdx", l.selectedIdx)
	for i, it := range l.items {
		item := inspect.NewNode("ListItem").
			WithID(it.ID).
			WithState("name", it.Name).
			WithState("status", it.Status.String()).
			WithState("selected", i == l.selectedIdx)
		n.AddChild(item)
	}
	return n
}

// NumSessions returns the number of sessions currently rendered.
func (l *List) NumSessions() int {
	return len(l.items)
}

// SetSessions replaces the rendered sessions with a fresh snapshot from the
// registry, preserving the current selection by ID where possible.
func (l *List) SetSessions(items []session.Session) {
	var selectedID string
	if sel := l.GetSelectedSession(); sel != nil {
		selectedID = sel.ID
	}

	l.items = items
	l.workspaces = make(map[string]int)
	for _, it := range items {
		l.workspaces[it.WorkspacePath]++
	}

	l.selectedIdx = 0
	if selectedID != "" {
		for i, it := range items {
			if it.ID == selectedID {
				l.selectedIdx = i
				break
			}
		}
	}
	if l.selectedIdx >= len(l.items) {
		l.selectedIdx = max(0, len(l.items)-1)
	}
}

// sessionRenderer handles rendering of individual session rows.
type sessionRenderer struct {
	spinner     *spinner.Model
	width       int
	degradation layout.Degradation
}

const branchIcon = "Ꮧ"

func (r *sessionRenderer) Render(s session.Session, idx int, selected bool, hasMultipleWorkspaces bool) string {
	prefix := fmt.Sprintf(" %d. ", idx)
	if idx >= 10 {
		prefix = prefix[:len(prefix)-1]
	}
	titleS := selectedTitleStyle
	descS := selectedDescStyle
	if !selected {
		titleS = titleStyle
		descS = listDescStyle
	}

	var join string
	switch s.Status {
	case session.Running:
		if r.spinner != nil {
			join = fmt.Sprintf("%s ", r.spinner.View())
		}
	case session.Attached, session.Detached:
		join = readyStyle.Render(readyIcon)
	case session.Stopped, session.Created:
		join = pausedStyle.Render(pausedIcon)
	case session.StatusError:
		join = errorIconStyle.Render("× ")
	}

	modeTag := fmt.Sprintf(" [%s]", s.Mode)

	titleText := s.Name
	widthAvail := r.width - 3 - len(prefix) - 1 - len(modeTag)
	if widthAvail > 0 && widthAvail < len(titleText) && len(titleText) >= widthAvail-3 {
		titleText = titleText[:widthAvail-3] + "..."
	}

	titleWithTag := titleText + muxTagStyle.Render(modeTag)

	title := titleS.Render(lipgloss.JoinHorizontal(
		lipgloss.Left,
		lipgloss.Place(r.width-3, 1, lipgloss.Left, lipgloss.Center, fmt.Sprintf("%s %s", prefix, titleWithTag)),
		" ",
		join,
	))

	if r.degradation.HideListDescriptions {
		return title
	}

	branch := s.BranchName
	if hasMultipleWorkspaces {
		branch += fmt.Sprintf(" (%s)", filepath.Base(s.WorkspacePath))
	}

	remainingWidth := r.width - len(prefix) - len(branchIcon)
	if remainingWidth < 0 {
		branch = ""
	} else if remainingWidth < len(branch) {
		if remainingWidth < 3 {
			branch = ""
		} else {
			branch = branch[:remainingWidth-3] + "..."
		}
	}

	branchLine := fmt.Sprintf("%s %s-%s", strings.Repeat(" ", len(prefix)), branchIcon, branch)

	var bossLine string
	if !r.degradation.HideListSummaries && s.Mode == session.Boss && s.BossPrompt != "" {
		promptText := s.BossPrompt
		maxWidth := r.width - len(prefix) - 2
		if maxWidth > 0 && len(promptText) > maxWidth {
			if maxWidth > 3 {
				promptText = promptText[:maxWidth-3] + "..."
			} else {
				promptText = ""
			}
		}
		if promptText != "" {
			style := bossPromptStyle
			if selected {
				style = selectedBossPromptStyle.Background(descS.GetBackground())
			}
			bossLine = fmt.Sprintf("%s %s", strings.Repeat(" ", len(prefix)), style.Render(promptText))
		}
	}

	if bossLine != "" {
		return lipgloss.JoinVertical(lipgloss.Left, title, descS.Render(branchLine), descS.Render(bossLine))
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, descS.Render(branchLine))
}

func (l *List) String() string {
	const titleText = " Sessions "

	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(lipgloss.Place(l.width, 1, lipgloss.Left, lipgloss.Bottom, mainTitle.Render(titleText)))
	b.WriteString("\n\n")

	for i, item := range l.items {
		b.WriteString(l.renderer.Render(item, i+1, i == l.selectedIdx, len(l.workspaces) > 1))
		if i != len(l.items)-1 {
			b.WriteString("\n\n")
		}
	}
	return lipgloss.Place(l.width, l.height, lipgloss.Left, lipgloss.Top, b.String())
}

// Down selects the next item in the list.
func (l *List) Down() {
	if len(l.items) == 0 {
		return
	}
	if l.selectedIdx < len(l.items)-1 {
		l.selectedIdx++
	}
}

// Up selects the prev item in the list.
func (l *List) Up() {
	if len(l.items) == 0 {
		return
	}
	if l.selectedIdx > 0 {
		l.selectedIdx--
	}
}

// GetSelectedSession returns the currently selected session, or nil if the
// list is empty.
func (l *List) GetSelectedSession() *session.Session {
	if len(l.items) == 0 || l.selectedIdx >= len(l.items) {
		return nil
	}
	return &l.items[l.selectedIdx]
}

// SetSelectedIndex sets the selected index. Noop if out of bounds.
func (l *List) SetSelectedIndex(idx int) {
	if idx < 0 || idx >= len(l.items) {
		return
	}
	l.selectedIdx = idx
}
