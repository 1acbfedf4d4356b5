package tmux

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/internal/cmdexec"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

func init() {
	log.Initialize(false)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"test", Tag + "test"},
		{"test session", Tag + "test_session"},
		{"test.session", Tag + "test_session"},
		{"a/b\\c:d;e|f&g<h>i\"j'k(l)", Tag + "a_b_c_d_e_f_g_h_i_j_k_l_"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			require.Equal(t, tt.expected, SanitizeName(tt.input))
		})
	}
}

func TestList(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("ciab_one\nother_session\nciab_two\n")}, "tmux", "list-sessions", "-F", "#{session_name}")

	a := NewAdapter(fake)
	names, err := a.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ciab_one", "ciab_two"}, names)
}

func TestListNoServerRunning(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Err: errors.New("exit status 1: no server running on /tmp/tmux-0/default")}, "tmux", "list-sessions", "-F", "#{session_name}")

	a := NewAdapter(fake)
	names, err := a.List()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestCreateAlreadyExists(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("ciab_dup\n")}, "tmux", "list-sessions", "-F", "#{session_name}")

	a := NewAdapter(fake)
	err := a.Create("ciab_dup", "/tmp/work", "claude", nil)
	require.ErrorIs(t, err, session.ErrSessionExists)
}

func TestCapturePaneVisibleDefaultOptions(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("hello\x1b[0m world")}, "tmux", "capture-pane", "-p", "-t", "ciab_x", "-e", "-J")

	a := NewAdapter(fake)
	out, err := a.CapturePane("ciab_x", DefaultCaptureOptions())
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestCapturePaneFullHistory(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("scrollback")}, "tmux", "capture-pane", "-p", "-t", "ciab_x", "-e", "-J", "-S", "-")

	a := NewAdapter(fake)
	out, err := a.CapturePane("ciab_x", CaptureOptions{Range: FullHistory, PreserveEscapes: true, JoinWrapped: true})
	require.NoError(t, err)
	require.Equal(t, "scrollback", out)
}

func TestKillNotFoundIsSuccess(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("can't find session: ciab_gone"), Err: errors.New("exit status 1")}, "tmux", "kill-session", "-t", "ciab_gone")

	a := NewAdapter(fake)
	require.NoError(t, a.Kill("ciab_gone"))
}

func TestKillCommandFailure(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("some other failure"), Err: errors.New("exit status 1")}, "tmux", "kill-session", "-t", "ciab_x")

	a := NewAdapter(fake)
	err := a.Kill("ciab_x")
	require.ErrorIs(t, err, session.ErrCommandFailed)
}

func TestAttachHandleWriteRewritesDetachKeystroke(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	handle := &AttachHandle{name: "ciab_x", ptmx: w, detached: make(chan struct{})}

	n, err := handle.Write([]byte{0x11})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	buf := make([]byte, 2)
	_, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x02, 'd'}, buf)
}

func TestAttachHandleWriteForwardsOtherBytesVerbatim(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	handle := &AttachHandle{name: "ciab_x", ptmx: w, detached: make(chan struct{})}

	_, err = handle.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestCapturePaneCachedReusesWithinTTL(t *testing.T) {
	fake := cmdexec.NewFake()
	fake.On(cmdexec.Result{Stdout: []byte("frame-1")}, "tmux", "capture-pane", "-p", "-t", "ciab_x", "-e", "-J")

	a := NewAdapter(fake)
	out1, err := a.CapturePaneCached("ciab_x", DefaultCaptureOptions())
	require.NoError(t, err)
	require.Equal(t, "frame-1", out1)

	// Change the fake's canned response; the cached call should still
	// return the first capture since the TTL has not elapsed.
	fake.On(cmdexec.Result{Stdout: []byte("frame-2")}, "tmux", "capture-pane", "-p", "-t", "ciab_x", "-e", "-J")
	out2, err := a.CapturePaneCached("ciab_x", DefaultCaptureOptions())
	require.NoError(t, err)
	require.Equal(t, "frame-1", out2)
}
