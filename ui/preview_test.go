package ui

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

func TestPreviewPane_NoSelection(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 10)
	require.Contains(t, p.String(), "no session selected")
}

func TestPreviewPane_EmptyContent(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 10)
	p.SetSession(&session.Session{ID: "s1"})
	require.Contains(t, p.String(), "waiting for preview")
}

func TestPreviewPane_RendersContent(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 10)
	p.SetSession(&session.Session{ID: "s1", Preview: session.Preview{Content: "line one\nline two"}})
	out := p.String()
	require.Contains(t, out, "line one")
	require.Contains(t, out, "line two")
}

func TestPreviewPane_ClearOnNilSession(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 10)
	p.SetSession(&session.Session{ID: "s1", Preview: session.Preview{Content: "hello"}})
	require.Contains(t, p.String(), "hello")

	p.SetSession(nil)
	require.Contains(t, p.String(), "no session selected")
}

func TestPreviewPane_ScrollClampsAtBounds(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 10)
	p.SetSession(&session.Session{ID: "s1", Preview: session.Preview{Content: "a\nb\nc"}})

	p.ScrollUp()
	require.Equal(t, 0, p.scroll)
	require.NotPanics(t, func() { p.String() })

	for i := 0; i < 10; i++ {
		p.ScrollDown()
	}
	require.Equal(t, 2, p.scroll)
	require.NotPanics(t, func() { p.String() })
}

func TestPreviewPane_TruncatesToHeight(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 5)

	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, "line")
	}
	p.SetSession(&session.Session{ID: "s1", Preview: session.Preview{Content: strings.Join(lines, "\n")}})

	out := p.String()
	require.LessOrEqual(t, strings.Count(out, "\n")+1, 10)
}

func TestPreviewPane_ResetsScrollOnNewSession(t *testing.T) {
	p := NewPreviewPane()
	p.SetSize(40, 10)
	p.SetSession(&session.Session{ID: "s1", Preview: session.Preview{Content: "a\nb\nc\nd\ne"}})
	p.ScrollDown()
	p.ScrollDown()

	p.SetSession(&session.Session{ID: "s2", Preview: session.Preview{Content: "x\ny"}})
	require.Equal(t, 0, p.scroll)
	require.Contains(t, p.String(), "x")
}
