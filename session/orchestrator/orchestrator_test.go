package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/config"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/actionqueue"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/registry"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/tmux"
)

func init() { log.Initialize(false) }

// fakeWorktrees is an in-memory double for WorktreeStore.
type fakeWorktrees struct {
	mu   sync.Mutex
	byID map[string]session.WorktreeInfo

	createErr error
	removed   []string
}

func newFakeWorktrees() *fakeWorktrees {
	return &fakeWorktrees{byID: make(map[string]session.WorktreeInfo)}
}

func (f *fakeWorktrees) Create(sessionID, repoPath, branch, baseBranch string) (session.WorktreeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return session.WorktreeInfo{}, f.createErr
	}
	info := session.WorktreeInfo{
		SessionID:        sessionID,
		PrimaryPath:      "/worktrees/" + sessionID,
		BranchName:       branch,
		SourceRepository: repoPath,
	}
	f.byID[sessionID] = info
	return info, nil
}

func (f *fakeWorktrees) Remove(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, sessionID)
	f.removed = append(f.removed, sessionID)
	return nil
}

func (f *fakeWorktrees) ListAll() (map[string]session.WorktreeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]session.WorktreeInfo, len(f.byID))
	for k, v := range f.byID {
		out[k] = v
	}
	return out, nil
}

func (f *fakeWorktrees) FindForWorkspace(repoPath string) ([]session.WorktreeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.WorktreeInfo
	for _, info := range f.byID {
		if info.SourceRepository == repoPath {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeWorktrees) wasRemoved(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.removed {
		if r == id {
			return true
		}
	}
	return false
}

// fakeMux is an in-memory double for Multiplexer.
type fakeMux struct {
	mu       sync.Mutex
	sessions map[string]bool
	sendKeys []string

	createErr error
}

func newFakeMux() *fakeMux {
	return &fakeMux{sessions: make(map[string]bool)}
}

func (f *fakeMux) Create(name, cwd, program string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.sessions[name] {
		return fmt.Errorf("already exists: %w", session.ErrSessionExists)
	}
	f.sessions[name] = true
	return nil
}

func (f *fakeMux) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, alive := range f.sessions {
		if alive {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeMux) Attach(name string) (*tmux.AttachHandle, error) {
	return nil, fmt.Errorf("attach not exercised by this fake")
}

func (f *fakeMux) Detach(handle *tmux.AttachHandle) error { return nil }

func (f *fakeMux) Kill(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, name)
	return nil
}

func (f *fakeMux) SendKeys(name, keys string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendKeys = append(f.sendKeys, name+":"+keys)
	return nil
}

func (f *fakeMux) OpenMonitor(name string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *fakeMux) isAlive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[name]
}

// fakePersist is an in-memory double for PersistStore.
type fakePersist struct {
	mu         sync.Mutex
	byID       map[string]session.Session
	reverseMap map[string]string
	deleted    []string
}

func newFakePersist() *fakePersist {
	return &fakePersist{byID: make(map[string]session.Session), reverseMap: make(map[string]string)}
}

func (f *fakePersist) Save(sess session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[sess.ID] = sess
	if sess.MultiplexerSessionName != "" {
		f.reverseMap[sess.MultiplexerSessionName] = sess.WorkspacePath
	}
	return nil
}

func (f *fakePersist) LoadAll() ([]session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Session
	for _, s := range f.byID {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakePersist) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePersist) ReverseMap() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.reverseMap))
	for k, v := range f.reverseMap {
		out[k] = v
	}
	return out
}

// fakeLogs is a no-op double for LogTailer.
type fakeLogs struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func newFakeLogs() *fakeLogs { return &fakeLogs{} }

func (f *fakeLogs) Start(sessionID string, source io.ReadCloser, mode session.Mode) {
	f.mu.Lock()
	f.started = append(f.started, sessionID)
	f.mu.Unlock()
	_ = source.Close()
}

func (f *fakeLogs) Stop(sessionID string) {
	f.mu.Lock()
	f.stopped = append(f.stopped, sessionID)
	f.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DefaultProgram = "a-program-that-certainly-does-not-exist-on-PATH"
	return cfg
}

func newTestOrchestrator() (*Orchestrator, *fakeWorktrees, *fakeMux, *registry.Registry, *fakePersist, *fakeLogs) {
	wt := newFakeWorktrees()
	mux := newFakeMux()
	reg := registry.New()
	store := newFakePersist()
	logs := newFakeLogs()
	o := New(testConfig(), wt, mux, reg, store, logs, nil)
	return o, wt, mux, reg, store, logs
}

func TestCreateRejectsInvalidBranchName(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	_, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "has space"})
	require.ErrorIs(t, err, session.ErrInvalidBranchName)
}

func TestCreateRejectsEmptyBossPrompt(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	_, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/x", Mode: session.Boss, BossPrompt: "",
	})
	require.Error(t, err)
}

func TestCreateSucceedsAndPersists(t *testing.T) {
	o, wt, mux, reg, store, logs := newTestOrchestrator()

	sess, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", Name: "my-session", BranchName: "claude/x",
	})
	require.NoError(t, err)
	require.Equal(t, session.Running, sess.Status)
	require.NotEmpty(t, sess.MultiplexerSessionName)
	require.Equal(t, sess.WorktreePath, wt.byID[sess.ID].PrimaryPath)
	require.True(t, mux.isAlive(sess.MultiplexerSessionName))

	got, ok := reg.Get(sess.ID)
	require.True(t, ok)
	require.Equal(t, sess.ID, got.ID)

	_, saved := store.byID[sess.ID]
	require.True(t, saved)

	require.Contains(t, logs.started, sess.ID)
}

func TestCreateRejectsDuplicateNameInWorkspace(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()

	_, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", Name: "my-session", BranchName: "claude/x",
	})
	require.NoError(t, err)

	_, err = o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", Name: "my-session", BranchName: "claude/y",
	})
	require.ErrorIs(t, err, session.ErrAlreadyExists)

	_, err = o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/other-repo", Name: "my-session", BranchName: "claude/z",
	})
	require.NoError(t, err, "the same name in a different workspace is not a duplicate")
}

func TestCreateInjectsCIABEnvVars(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/y",
	})
	require.NoError(t, err)
	require.Equal(t, sess.ID, sess.Env["CIAB_SESSION"])
	require.Equal(t, sess.WorktreePath, sess.Env["CIAB_WORKTREE"])
}

func TestCreateCompensatesWorktreeWhenMuxCreateFails(t *testing.T) {
	o, wt, mux, reg, _, _ := newTestOrchestrator()
	mux.createErr = fmt.Errorf("boom")

	_, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/z",
	})
	require.Error(t, err)
	require.Equal(t, 0, reg.Len())
	require.Empty(t, wt.byID, "worktree should have been removed by compensation")
}

func TestCreateReuseSucceedsWhenWorktreeNotInUse(t *testing.T) {
	o, wt, _, _, _, _ := newTestOrchestrator()

	first, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/shared",
	})
	require.NoError(t, err)

	require.NoError(t, o.Stop(context.Background(), first.ID))

	second, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/shared",
	})
	require.NoError(t, err)
	require.Equal(t, first.WorktreePath, second.WorktreePath, "the stopped session's worktree should be reused")
	require.Len(t, wt.byID, 1, "reuse must not create a second worktree")
}

func TestCreateReuseFailsWhenWorktreeInUse(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()

	_, err := o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/busy",
	})
	require.NoError(t, err)

	_, err = o.Create(context.Background(), actionqueue.CreateParams{
		WorkspacePath: "/repo", BranchName: "claude/busy",
	})
	require.ErrorIs(t, err, session.ErrAlreadyInUse)
}

func TestStopKillsSessionAndPersists(t *testing.T) {
	o, _, mux, reg, store, logs := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "claude/a"})
	require.NoError(t, err)

	require.NoError(t, o.Stop(context.Background(), sess.ID))

	require.False(t, mux.isAlive(sess.MultiplexerSessionName))
	got, _ := reg.Get(sess.ID)
	require.Equal(t, session.Stopped, got.Status)
	require.Equal(t, session.Stopped, store.byID[sess.ID].Status)
	require.Contains(t, logs.stopped, sess.ID)
}

func TestRestartRequiresStopped(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "claude/b"})
	require.NoError(t, err)

	err = o.Restart(context.Background(), sess.ID)
	require.Error(t, err, "restarting a Running session must be rejected")
}

func TestRestartBringsSessionBackToRunning(t *testing.T) {
	o, _, mux, reg, _, _ := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "claude/c"})
	require.NoError(t, err)
	require.NoError(t, o.Stop(context.Background(), sess.ID))

	require.NoError(t, o.Restart(context.Background(), sess.ID))

	got, _ := reg.Get(sess.ID)
	require.Equal(t, session.Running, got.Status)
	require.True(t, mux.isAlive(sess.MultiplexerSessionName))
}

func TestDeleteRemovesEverything(t *testing.T) {
	o, wt, mux, reg, store, _ := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "claude/d"})
	require.NoError(t, err)

	require.NoError(t, o.Delete(context.Background(), sess.ID))

	_, ok := reg.Get(sess.ID)
	require.False(t, ok)
	require.False(t, mux.isAlive(sess.MultiplexerSessionName))
	require.True(t, wt.wasRemoved(sess.ID))
	_, saved := store.byID[sess.ID]
	require.False(t, saved)
}

func TestDeleteIsIdempotent(t *testing.T) {
	o, _, _, _, _, _ := newTestOrchestrator()
	require.NoError(t, o.Delete(context.Background(), "never-existed"))
}

func TestReauthSendsAuthKeystrokes(t *testing.T) {
	o, _, mux, _, _, _ := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "claude/e"})
	require.NoError(t, err)

	require.NoError(t, o.Reauth(context.Background(), sess.ID))
	require.Contains(t, mux.sendKeys, sess.MultiplexerSessionName+":"+o.cfg.DefaultProgram+" auth")
}

func TestReconcileMarksPersistedSessionWithLiveMuxAsDetached(t *testing.T) {
	o, _, mux, reg, store, _ := newTestOrchestrator()
	sess := session.Session{ID: "s1", MultiplexerSessionName: "ciab_s1", WorkspacePath: "/repo"}
	require.NoError(t, store.Save(sess))
	mux.sessions["ciab_s1"] = true

	require.NoError(t, o.Reconcile(context.Background()))

	got, ok := reg.Get("s1")
	require.True(t, ok)
	require.Equal(t, session.Detached, got.Status)
}

func TestReconcileMarksPersistedSessionWithDeadMuxAsStopped(t *testing.T) {
	o, _, _, reg, store, _ := newTestOrchestrator()
	sess := session.Session{ID: "s2", MultiplexerSessionName: "ciab_s2", WorkspacePath: "/repo"}
	require.NoError(t, store.Save(sess))

	require.NoError(t, o.Reconcile(context.Background()))

	got, ok := reg.Get("s2")
	require.True(t, ok)
	require.Equal(t, session.Stopped, got.Status)
}

func TestReconcileSynthesizesOrphanSessionForUntrackedLiveMux(t *testing.T) {
	o, _, mux, reg, _, _ := newTestOrchestrator()
	mux.sessions["ciab_orphan"] = true

	require.NoError(t, o.Reconcile(context.Background()))

	got, ok := reg.Get("orphan-ciab_orphan")
	require.True(t, ok)
	require.Equal(t, session.Running, got.Status)
}

func TestReconcileSynthesizesStoppedPlaceholderForOrphanWorktree(t *testing.T) {
	o, wt, _, reg, _, _ := newTestOrchestrator()
	wt.byID["orphan-wt"] = session.WorktreeInfo{SessionID: "orphan-wt", PrimaryPath: "/worktrees/orphan-wt", BranchName: "claude/orphan", SourceRepository: "/repo"}

	require.NoError(t, o.Reconcile(context.Background()))

	got, ok := reg.Get("orphan-wt")
	require.True(t, ok)
	require.Equal(t, session.Stopped, got.Status)
}

func TestReconcileIsIdempotent(t *testing.T) {
	o, _, mux, reg, store, _ := newTestOrchestrator()
	sess := session.Session{ID: "s3", MultiplexerSessionName: "ciab_s3", WorkspacePath: "/repo"}
	require.NoError(t, store.Save(sess))
	mux.sessions["ciab_s3"] = true
	mux.sessions["ciab_untracked"] = true

	require.NoError(t, o.Reconcile(context.Background()))
	first := reg.Snapshot()
	require.NoError(t, o.Reconcile(context.Background()))
	second := reg.Snapshot()

	require.Equal(t, len(first), len(second), "re-running Reconcile must not duplicate entries")
	sortByID := func(ss []session.Session) {
		sort.Slice(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })
	}
	sortByID(first)
	sortByID(second)
	require.Equal(t, first, second, "re-running Reconcile twice must yield a byte-identical registry snapshot")
}

func TestAttachRejectsDeletedSession(t *testing.T) {
	o, _, _, reg, _, _ := newTestOrchestrator()
	sess, err := o.Create(context.Background(), actionqueue.CreateParams{WorkspacePath: "/repo", BranchName: "claude/f"})
	require.NoError(t, err)
	require.NoError(t, o.Delete(context.Background(), sess.ID))

	_, ok := reg.Get(sess.ID)
	require.False(t, ok)
	err = o.Attach(context.Background(), sess.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
}
