package logstream

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

// nopCloser adapts a strings.Reader to io.ReadCloser for tests.
type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

func TestParseBossLineValidEvent(t *testing.T) {
	entry := ParseBossLine("s1", `{"type":"assistant","content":"hello there"}`)
	require.Equal(t, "info", entry.Level)
	require.Equal(t, "hello there", entry.Message)
	require.Equal(t, "s1", entry.SessionID)
}

func TestParseBossLineErrorEvent(t *testing.T) {
	entry := ParseBossLine("s1", `{"type":"error","message":"boom"}`)
	require.Equal(t, "error", entry.Level)
	require.Equal(t, "boom", entry.Message)
}

func TestParseBossLineMalformedForwardsAsError(t *testing.T) {
	entry := ParseBossLine("s1", `not json at all`)
	require.Equal(t, "error", entry.Level)
	require.Contains(t, entry.Message, "malformed boss event")
}

func TestCoordinatorTailsBossMode(t *testing.T) {
	c := New()
	source := nopCloser{strings.NewReader("{\"type\":\"assistant\",\"content\":\"one\"}\n{\"type\":\"assistant\",\"content\":\"two\"}\n")}

	c.Start("sess-1", source, session.Boss)
	defer c.StopAll()

	var got []LogEntry
	for len(got) < 2 {
		select {
		case e := <-c.Entries():
			got = append(got, e)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for log entries")
		}
	}
	require.Equal(t, "one", got[0].Message)
	require.Equal(t, "two", got[1].Message)
}

func TestCoordinatorTailsInteractiveModeAsRawLines(t *testing.T) {
	c := New()
	source := nopCloser{strings.NewReader("plain output line\n")}

	c.Start("sess-2", source, session.Interactive)
	defer c.StopAll()

	select {
	case e := <-c.Entries():
		require.Equal(t, "plain output line", e.Message)
		require.Equal(t, "sess-2", e.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for log entry")
	}
}

func TestStartTwiceReplacesFirstTailer(t *testing.T) {
	c := New()
	first := nopCloser{strings.NewReader("first\n")}
	c.Start("sess-3", first, session.Interactive)

	// Drain the first entry so we know the first tailer is live, then
	// immediately replace it before it can emit anything else.
	select {
	case <-c.Entries():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first tailer's entry")
	}

	second := nopCloser{strings.NewReader("second\n")}
	c.Start("sess-3", second, session.Interactive)
	defer c.StopAll()

	select {
	case e := <-c.Entries():
		require.Equal(t, "second", e.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second tailer's entry")
	}

	// No further entries should arrive from the replaced first tailer.
	select {
	case e := <-c.Entries():
		t.Fatalf("unexpected extra entry from replaced tailer: %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopAllAbortsEveryTailer(t *testing.T) {
	c := New()
	c.Start("a", nopCloser{strings.NewReader("")}, session.Interactive)
	c.Start("b", nopCloser{strings.NewReader("")}, session.Interactive)
	c.StopAll()
	// A second StopAll must be a safe no-op.
	c.StopAll()
}
