// Package tmux implements the Multiplexer Adapter on top of the real tmux
// binary. It is the only component that invokes tmux; every other
// component goes through the Adapter methods here.
//
// tmux's new-session, capture-pane, attach-session, send-keys,
// kill-session, list-sessions, and resize-window subcommands drive session
// lifecycle, with the detach convention (Ctrl+Q rewritten to tmux's
// Ctrl+B d) implemented at the Attach handle's Write boundary. The adapter
// wraps a sanitized-name session wrapper, a cmdexec.Executor seam, a
// PTY-backed Attach/Detach pair, and a TTL content cache for capture-pane.
package tmux

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/config"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/internal/cmdexec"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

// Tag prefixes every session name this adapter creates; List filters to
// names with this prefix so third-party tmux sessions are ignored.
const Tag = config.MultiplexerTag

// HistoryLimit is the minimum tmux history-limit set on every created
// session.
const HistoryLimit = 10000

// detachDiscardWindow is how long client input is discarded after attach to
// skip terminal setup noise.
const detachDiscardWindow = 50 * time.Millisecond

var disallowedNameChars = regexp.MustCompile(`[ ./\\:;|&<>"'()]`)

// SanitizeName replaces characters tmux session names can't safely carry
// (space, ., /, \, :, ;, |, &, <, >, ", ', parentheses) with underscores and
// applies Tag and §6's naming convention.
func SanitizeName(name string) string {
	sanitized := disallowedNameChars.ReplaceAllString(name, "_")
	return Tag + sanitized
}

// CaptureRange selects how much of a pane's scrollback CapturePane returns.
type CaptureRange int

const (
	// Visible captures only the on-screen portion of the pane.
	Visible CaptureRange = iota
	// FullHistory captures the pane's entire scrollback buffer.
	FullHistory
)

// CaptureOptions controls CapturePane. The zero value captures the Visible
// range without preserving escapes or joining wrapped lines;
// DefaultCaptureOptions enables both.
type CaptureOptions struct {
	Range           CaptureRange
	PreserveEscapes bool
	JoinWrapped     bool
}

// DefaultCaptureOptions is the adapter's default.
func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{Range: Visible, PreserveEscapes: true, JoinWrapped: true}
}

// AttachHandle is returned by Attach: bidirectional byte streams bound to
// the pseudo-terminal, plus a channel that closes when the attach command
// exits.
type AttachHandle struct {
	// Callers send input through Write; bytes are forwarded to the pty,
	// except for the single-byte Ctrl+Q detach sequence, which Write
	// intercepts.
	name       string
	ptmx       *os.File
	cmd        *exec.Cmd
	attachedAt time.Time

	detached chan struct{}
	once     sync.Once
}

// Output is the pane's output stream; read from it to display the session.
func (h *AttachHandle) Output() io.Reader { return h.ptmx }

// Write forwards b to the pty, intercepting the single-byte Ctrl+Q (0x11)
// detach sequence and rewriting it to tmux's own detach keystroke (Ctrl+B,
// then 'd') and §6's keyboard contract. Input arriving within
// detachDiscardWindow of attach is dropped to skip terminal setup noise.
func (h *AttachHandle) Write(b []byte) (int, error) {
	if time.Since(h.attachedAt) < detachDiscardWindow {
		return len(b), nil
	}
	if len(b) == 1 && b[0] == 0x11 {
		_, err := h.ptmx.Write([]byte{0x02, 'd'})
		return len(b), err
	}
	return h.ptmx.Write(b)
}

// Done closes when the attach command exits, whether from a user-initiated
// detach or the session being killed out from under it, or when Detach is
// called.
func (h *AttachHandle) Done() <-chan struct{} { return h.detached }

func (h *AttachHandle) signalDone() {
	h.once.Do(func() { close(h.detached) })
}

// Adapter is the Multiplexer Adapter (C3). It holds its executor seam and a
// per-session capture cache; construct one per process and share it.
type Adapter struct {
	exec cmdexec.Executor

	mu     sync.Mutex
	caches map[string]*contentCache
}

// NewAdapter returns an Adapter. A nil executor uses the real tmux/os/exec
// path; tests pass a cmdexec.Fake.
func NewAdapter(executor cmdexec.Executor) *Adapter {
	if executor == nil {
		executor = cmdexec.New()
	}
	return &Adapter{exec: executor, caches: make(map[string]*contentCache)}
}

// Create opens a detached tmux session named name (already sanitized by the
// caller via SanitizeName) running program in cwd with env, sets its history
// limit, and enables mouse mode.
func (a *Adapter) Create(name, cwd, program string, env map[string]string) error {
	if _, err := exec.LookPath("tmux"); err != nil {
		return fmt.Errorf("tmux create %s: %w", name, session.ErrNotInstalled)
	}

	exists, err := a.hasSession(name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("tmux create %s: %w", name, session.ErrSessionExists)
	}

	cmd := exec.Command("tmux", "new-session", "-d", "-s", name, "-c", cwd, program)
	cmd.Env = mergedEnv(env)
	if out, err := a.exec.CombinedOutput(cmd); err != nil {
		return fmt.Errorf("tmux create %s: %w: %s", name, session.ErrCommandFailed, strings.TrimSpace(string(out)))
	}

	if err := a.run("set-option", "-t", name, "history-limit", strconv.Itoa(HistoryLimit)); err != nil {
		log.WarningLog.Printf("tmux adapter: failed to set history-limit for %s: %v", name, err)
	}
	if err := a.run("set-option", "-t", name, "mouse", "on"); err != nil {
		log.WarningLog.Printf("tmux adapter: failed to enable mouse mode for %s: %v", name, err)
	}

	a.mu.Lock()
	a.caches[name] = newContentCache(200 * time.Millisecond)
	a.mu.Unlock()

	return nil
}

// List returns the names of live tmux sessions carrying Tag.
func (a *Adapter) List() ([]string, error) {
	cmd := exec.Command("tmux", "list-sessions", "-F", "#{session_name}")
	out, err := a.exec.Output(cmd)
	if err != nil {
		// tmux exits non-zero (with "no server running" on stderr) when
		// there are no sessions at all; that is an empty list, not an error.
		if isNoServerError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list: %w", err)
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, Tag) {
			names = append(names, line)
		}
	}
	return names, nil
}

// CapturePane returns the pane content for name per opts.
func (a *Adapter) CapturePane(name string, opts CaptureOptions) (string, error) {
	args := []string{"capture-pane", "-p", "-t", name}
	if opts.PreserveEscapes {
		args = append(args, "-e")
	}
	if opts.JoinWrapped {
		args = append(args, "-J")
	}
	if opts.Range == FullHistory {
		args = append(args, "-S", "-")
	}

	cmd := exec.Command("tmux", args...)
	out, err := a.exec.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w", name, err)
	}
	return string(out), nil
}

// Attach allocates a pseudo-terminal, spawns `tmux attach-session -t name`
// bound to it, and returns a handle exposing bidirectional byte streams and
// a detach signal.
func (a *Adapter) Attach(name string) (*AttachHandle, error) {
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("tmux attach %s: %w", name, err)
	}

	if cols, rows, sizeErr := term.GetSize(int(os.Stdin.Fd())); sizeErr == nil {
		_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}

	handle := &AttachHandle{name: name, ptmx: ptmx, cmd: cmd, attachedAt: time.Now(), detached: make(chan struct{})}

	go func() {
		_ = cmd.Wait()
		handle.signalDone()
	}()

	return handle, nil
}

// Detach cancels the attach I/O by closing the pseudo-terminal; the tmux
// session itself keeps running.
func (a *Adapter) Detach(handle *AttachHandle) error {
	if handle == nil {
		return nil
	}
	err := handle.ptmx.Close()
	handle.signalDone()
	return err
}

// OpenMonitor attaches to name in read-only mode (tmux's `-r` attach flag),
// returning a stream the Log Stream Coordinator (C7) can tail continuously
// without contending with a real user Attach: a second, non-interactive
// PTY attach dedicated to passive capture, distinct from the interactive
// Attach/Detach pair above.
func (a *Adapter) OpenMonitor(name string) (io.ReadCloser, error) {
	cmd := exec.Command("tmux", "attach-session", "-t", name, "-r")
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("tmux monitor %s: %w", name, err)
	}
	return ptmx, nil
}

// Resize propagates a window size change to name.
func (a *Adapter) Resize(name string, cols, rows int) error {
	return a.run("resize-window", "-t", name, "-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
}

// Kill terminates name. "Not found" is treated as success.
func (a *Adapter) Kill(name string) error {
	cmd := exec.Command("tmux", "kill-session", "-t", name)
	out, err := a.exec.CombinedOutput(cmd)
	if err != nil && !strings.Contains(string(out), "can't find session") && !isNoServerError(err) {
		return fmt.Errorf("tmux kill %s: %w: %s", name, session.ErrCommandFailed, strings.TrimSpace(string(out)))
	}

	a.mu.Lock()
	delete(a.caches, name)
	a.mu.Unlock()
	return nil
}

// SendKeys types keys into name followed by Enter, used by higher layers
// (e.g. Orchestrator.Reauth) without needing a full Attach.
func (a *Adapter) SendKeys(name string, keys string) error {
	return a.run("send-keys", "-t", name, keys, "Enter")
}

func (a *Adapter) hasSession(name string) (bool, error) {
	names, err := a.List()
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) run(args ...string) error {
	cmd := exec.Command("tmux", args...)
	out, err := a.exec.CombinedOutput(cmd)
	if err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func isNoServerError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no server running")
}

func mergedEnv(env map[string]string) []string {
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}

// contentCache is a TTL cache for CapturePane results: a preview tick
// happening faster than the TTL reuses the last capture instead of
// re-shelling to tmux.
type contentCache struct {
	mu         sync.RWMutex
	content    string
	lastUpdate time.Time
	ttl        time.Duration
}

func newContentCache(ttl time.Duration) *contentCache {
	return &contentCache{ttl: ttl}
}

func (c *contentCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastUpdate.IsZero() || time.Since(c.lastUpdate) > c.ttl {
		return "", false
	}
	return c.content, true
}

func (c *contentCache) Set(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = content
	c.lastUpdate = time.Now()
}

// CapturePaneCached is CapturePane backed by the per-session TTL cache, used
// by the Preview Service (C8) to avoid redundant shell-outs on a fast tick.
func (a *Adapter) CapturePaneCached(name string, opts CaptureOptions) (string, error) {
	a.mu.Lock()
	c, ok := a.caches[name]
	if !ok {
		c = newContentCache(200 * time.Millisecond)
		a.caches[name] = c
	}
	a.mu.Unlock()

	if content, valid := c.Get(); valid {
		return content, nil
	}

	content, err := a.CapturePane(name, opts)
	if err != nil {
		return "", err
	}
	c.Set(content)
	return content, nil
}
