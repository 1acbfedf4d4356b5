package preview

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/registry"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/tmux"
)

type fakeCapturer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{fail: make(map[string]bool)}
}

func (f *fakeCapturer) CapturePaneCached(name string, _ tmux.CaptureOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail[name] {
		return "", fmt.Errorf("capture failed for %s", name)
	}
	return "frame-for-" + name, nil
}

func (f *fakeCapturer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestServiceCapturesRunningAndDetachedOnly(t *testing.T) {
	reg := registry.New()
	running := session.Session{ID: "r", MultiplexerSessionName: "ciab_r", Status: session.Running}
	detached := session.Session{ID: "d", MultiplexerSessionName: "ciab_d", Status: session.Detached}
	attached := session.Session{ID: "a", MultiplexerSessionName: "ciab_a", Status: session.Attached}
	stopped := session.Session{ID: "s", MultiplexerSessionName: "ciab_s", Status: session.Stopped}
	require.NoError(t, reg.Insert(running))
	require.NoError(t, reg.Insert(detached))
	require.NoError(t, reg.Insert(attached))
	require.NoError(t, reg.Insert(stopped))

	capturer := newFakeCapturer()
	svc := New(reg, capturer, 10*time.Millisecond)
	svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		r, _ := reg.Get("r")
		d, _ := reg.Get("d")
		return r.Preview.Content != "" && d.Preview.Content != ""
	}, time.Second, 5*time.Millisecond)

	a, _ := reg.Get("a")
	require.Empty(t, a.Preview.Content, "attached sessions must not be captured while attached")
	s, _ := reg.Get("s")
	require.Empty(t, s.Preview.Content, "stopped sessions must not be captured")
}

func TestServiceRetriesAfterCaptureFailure(t *testing.T) {
	reg := registry.New()
	sess := session.Session{ID: "flaky", MultiplexerSessionName: "ciab_flaky", Status: session.Running}
	require.NoError(t, reg.Insert(sess))

	capturer := newFakeCapturer()
	capturer.fail["ciab_flaky"] = true

	svc := New(reg, capturer, 10*time.Millisecond)
	svc.Start()

	require.Eventually(t, func() bool { return capturer.callCount() >= 2 }, time.Second, 5*time.Millisecond)

	got, _ := reg.Get("flaky")
	require.Empty(t, got.Preview.Content, "a failing capture must not poison the preview field")

	capturer.mu.Lock()
	capturer.fail["ciab_flaky"] = false
	capturer.mu.Unlock()

	require.Eventually(t, func() bool {
		got, _ := reg.Get("flaky")
		return got.Preview.Content == "frame-for-ciab_flaky"
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
}

func TestStartIsIdempotentWithoutStop(t *testing.T) {
	reg := registry.New()
	capturer := newFakeCapturer()
	svc := New(reg, capturer, 10*time.Millisecond)
	svc.Start()
	svc.Start() // must not spawn a second ticker goroutine
	svc.Stop()
}
