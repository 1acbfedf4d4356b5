package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/inspect"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

var previewBorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.AdaptiveColor{Light: "#D1D5DB", Dark: "#3C3C3C"})

var previewEmptyStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}).
	Italic(true)

// PreviewPane renders the Preview Service's latest captured pane content for
// the selected session. ANSI escapes in Preview.Content are passed through
// as-is; the multiplexer already produced a rendered frame.
type PreviewPane struct {
	width, height int
	scroll        int
	content       string
	hasSession    bool
}

// NewPreviewPane returns an empty PreviewPane.
func NewPreviewPane() *PreviewPane { return &PreviewPane{} }

// SetSize sets the pane's rendered width and height.
func (p *PreviewPane) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetSession updates the pane's content from sess, or clears it if sess is
// nil (no selection).
func (p *PreviewPane) SetSession(sess *session.Session) {
	if sess == nil {
		p.hasSession = false
		p.content = ""
		return
	}
	p.hasSession = true
	p.content = sess.Preview.Content
	p.scroll = 0
}

// ScrollUp scrolls the preview content up by one line.
func (p *PreviewPane) ScrollUp() {
	if p.scroll > 0 {
		p.scroll--
	}
}

// ScrollDown scrolls the preview content down by one line.
func (p *PreviewPane) ScrollDown() {
	lines := strings.Split(p.content, "\n")
	if p.scroll < len(lines)-1 {
		p.scroll++
	}
}

// InspectNode reports the pane's current state for CIAB_INSPECT snapshots.
func (p *PreviewPane) InspectNode() *inspect.Node {
	return inspect.NewNode("Preview").
		WithID("preview").
		WithBounds(0, 0, p.width, p.height).
		WithState("hasSession", p.hasSession).
		WithState("scroll", p.scroll)
}

// String renders the pane.
func (p *PreviewPane) String() string {
	innerWidth := p.width - 2
	innerHeight := p.height - 2
	if innerWidth < 1 {
		innerWidth = 1
	}
	if innerHeight < 1 {
		innerHeight = 1
	}

	var body string
	if !p.hasSession {
		body = lipgloss.Place(innerWidth, innerHeight, lipgloss.Center, lipgloss.Center,
			previewEmptyStyle.Render("no session selected"))
	} else if p.content == "" {
		body = lipgloss.Place(innerWidth, innerHeight, lipgloss.Center, lipgloss.Center,
			previewEmptyStyle.Render("waiting for preview..."))
	} else {
		lines := strings.Split(p.content, "\n")
		if p.scroll < len(lines) {
			lines = lines[p.scroll:]
		}
		if len(lines) > innerHeight {
			lines = lines[:innerHeight]
		}
		body = strings.Join(lines, "\n")
	}

	return previewBorderStyle.Width(innerWidth).Height(innerHeight).Render(body)
}
