package actionqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/dispatcher"
)

type call struct {
	kind      Kind
	sessionID string
}

type fakeOrchestrator struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool // sessionID -> force error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{fail: make(map[string]bool)}
}

func (f *fakeOrchestrator) record(k Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{k, id})
	if f.fail[id] {
		return fmt.Errorf("forced failure for %s", id)
	}
	return nil
}

func (f *fakeOrchestrator) Create(ctx context.Context, p CreateParams) (session.Session, error) {
	return session.Session{Name: p.Name}, f.record(Create, "")
}
func (f *fakeOrchestrator) Attach(ctx context.Context, id string) error  { return f.record(Attach, id) }
func (f *fakeOrchestrator) Detach(ctx context.Context, id string) error  { return f.record(Detach, id) }
func (f *fakeOrchestrator) Stop(ctx context.Context, id string) error    { return f.record(Stop, id) }
func (f *fakeOrchestrator) Restart(ctx context.Context, id string) error { return f.record(Restart, id) }
func (f *fakeOrchestrator) Delete(ctx context.Context, id string) error  { return f.record(Delete, id) }
func (f *fakeOrchestrator) RefreshWorkspaces(ctx context.Context) error {
	return f.record(RefreshWorkspaces, "")
}
func (f *fakeOrchestrator) Reauth(ctx context.Context, id string) error { return f.record(Reauth, id) }

func (f *fakeOrchestrator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSubmitDispatchesAndPublishesResult(t *testing.T) {
	orch := newFakeOrchestrator()
	disp := dispatcher.New()
	q := New(orch, disp)
	q.Start()
	defer q.Stop()

	require.True(t, q.Submit(Action{Kind: Attach, SessionID: "s1"}))

	select {
	case r := <-q.Results():
		require.Equal(t, Attach, r.Action.Kind)
		require.NoError(t, r.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestSubmitReportsOrchestratorError(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.fail["s1"] = true
	disp := dispatcher.New()
	q := New(orch, disp)
	q.Start()
	defer q.Stop()

	require.True(t, q.Submit(Action{Kind: Stop, SessionID: "s1"}))

	select {
	case r := <-q.Results():
		require.Error(t, r.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestActionsForSameSessionSerialize(t *testing.T) {
	orch := newFakeOrchestrator()
	disp := dispatcher.New()
	q := New(orch, disp)
	q.Start()
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, q.Submit(Action{Kind: Attach, SessionID: "s1"}))
	}

	require.Eventually(t, func() bool { return orch.callCount() == 5 }, 2*time.Second, 5*time.Millisecond)
}

func TestActionsForDifferentSessionsRunConcurrently(t *testing.T) {
	orch := newFakeOrchestrator()
	disp := dispatcher.New()
	// Block every call on a gate so we can observe overlap.
	gate := make(chan struct{})
	blocking := &blockingOrchestrator{fakeOrchestrator: orch, gate: gate}
	q := New(blocking, disp)
	q.Start()
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.Submit(Action{Kind: Stop, SessionID: id}))
	}

	require.Eventually(t, func() bool {
		blocking.mu.Lock()
		defer blocking.mu.Unlock()
		return blocking.inFlight == 3
	}, 2*time.Second, 5*time.Millisecond, "distinct sessions did not run concurrently through the queue")

	close(gate)
}

type blockingOrchestrator struct {
	*fakeOrchestrator
	gate     chan struct{}
	mu       sync.Mutex
	inFlight int
}

func (b *blockingOrchestrator) Stop(ctx context.Context, id string) error {
	b.mu.Lock()
	b.inFlight++
	b.mu.Unlock()
	<-b.gate
	return b.fakeOrchestrator.Stop(ctx, id)
}

func TestRefreshWorkspacesRunsWithoutSessionID(t *testing.T) {
	orch := newFakeOrchestrator()
	disp := dispatcher.New()
	q := New(orch, disp)
	q.Start()
	defer q.Stop()

	require.True(t, q.Submit(Action{Kind: RefreshWorkspaces}))

	select {
	case r := <-q.Results():
		require.Equal(t, RefreshWorkspaces, r.Action.Kind)
		require.NoError(t, r.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestSubmitBeforeStartDoesNotBlockCaller(t *testing.T) {
	orch := newFakeOrchestrator()
	disp := dispatcher.New()
	q := New(orch, disp)
	// No Start() call: Submit must still return immediately because the
	// channel is buffered.
	require.True(t, q.Submit(Action{Kind: RefreshWorkspaces}))
}

func TestStopIsIdempotentWithoutStart(t *testing.T) {
	orch := newFakeOrchestrator()
	disp := dispatcher.New()
	q := New(orch, disp)
	q.Stop() // must not panic or block
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Create", Create.String())
	require.Equal(t, "Reauth", Reauth.String())
	require.Equal(t, "Unknown", Kind(99).String())
}
