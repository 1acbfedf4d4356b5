// Package orchestrator implements the Lifecycle Orchestrator, the heart of
// the system: the creation transaction and its compensation table, the
// worktree-reuse path, the other state transitions
// (attach/detach/stop/restart/delete), and startup reconciliation.
//
// The creation transaction follows "create worktree, set up the program,
// start the multiplexer session, undo both on any failure" behind one
// deferred-cleanup flow, turned into an explicit per-step
// savepoint/compensation table, and generalizes orphan recovery into a
// deterministic reconciliation algorithm run at startup.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/config"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/actionqueue"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/registry"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/tmux"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/wordgen"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/workspace"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/worktree"
)

// WorktreeStore is the narrow surface the orchestrator needs from the
// Worktree Store (C2). *worktree.Store satisfies it.
type WorktreeStore interface {
	Create(sessionID, repoPath, branch, baseBranch string) (session.WorktreeInfo, error)
	Remove(sessionID string) error
	ListAll() (map[string]session.WorktreeInfo, error)
	FindForWorkspace(repoPath string) ([]session.WorktreeInfo, error)
}

// Multiplexer is the narrow surface the orchestrator needs from the
// Multiplexer Adapter (C3). *tmux.Adapter satisfies it.
type Multiplexer interface {
	Create(name, cwd, program string, env map[string]string) error
	List() ([]string, error)
	Attach(name string) (*tmux.AttachHandle, error)
	Detach(handle *tmux.AttachHandle) error
	Kill(name string) error
	SendKeys(name, keys string) error
	OpenMonitor(name string) (io.ReadCloser, error)
}

// PersistStore is the narrow surface the orchestrator needs from the
// Persistence Store (C5). *persist.Store satisfies it.
type PersistStore interface {
	Save(sess session.Session) error
	LoadAll() ([]session.Session, error)
	Delete(id string) error
	ReverseMap() map[string]string
}

// LogTailer is the narrow surface the orchestrator needs from the Log
// Stream Coordinator (C7). *logstream.Coordinator satisfies it.
type LogTailer interface {
	Start(sessionID string, source io.ReadCloser, mode session.Mode)
	Stop(sessionID string)
}

// Orchestrator is the Lifecycle Orchestrator (C6). It satisfies
// actionqueue.Orchestrator; construct one and hand it to actionqueue.New.
type Orchestrator struct {
	cfg *config.Config

	worktrees WorktreeStore
	mux       Multiplexer
	reg       *registry.Registry
	store     PersistStore
	logs      LogTailer

	roots []string // workspace scan roots, for RefreshWorkspaces/reconciliation

	mu         sync.Mutex
	workspaces []string // last RefreshWorkspaces result

	handlesMu sync.Mutex
	handles   map[string]*tmux.AttachHandle
}

// New returns an Orchestrator wiring the given components together. roots
// are the directories the Workspace Scanner walks on RefreshWorkspaces;
// reconciliation's orphan-workspace inference uses the workspaces found by
// the last RefreshWorkspaces.
func New(cfg *config.Config, worktrees WorktreeStore, mux Multiplexer, reg *registry.Registry, store PersistStore, logs LogTailer, roots []string) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		worktrees: worktrees,
		mux:       mux,
		reg:       reg,
		store:     store,
		logs:      logs,
		roots:     roots,
		handles:   make(map[string]*tmux.AttachHandle),
	}
}

// Create runs the 7-step creation transaction, or the
// worktree-reuse path (§4.6.2) when a worktree for (workspace_path, branch)
// already exists and is not in use by a live session.
func (o *Orchestrator) Create(ctx context.Context, p actionqueue.CreateParams) (session.Session, error) {
	if err := validateCreate(p); err != nil {
		return session.Session{}, err
	}

	name := p.Name
	if name == "" {
		name = wordgen.Generate()
	}
	if _, dup := o.reg.FindByName(p.WorkspacePath, name); dup {
		return session.Session{}, session.NewError("orchestrator.Create", "a session named "+name+" already exists in this workspace", session.ErrAlreadyExists)
	}

	// S1: generate session_id and derive multiplexer_session_name (pure, no
	// compensation needed).
	id := uuid.NewString()
	muxName := tmux.SanitizeName(fmt.Sprintf("%s_%s", name, id[:8]))

	info, reused, err := o.resolveWorktree(p, id)
	if err != nil {
		return session.Session{}, err
	}

	// S3: construct env and choose a program.
	env := o.buildEnv(p.Env, id, info.PrimaryPath)
	program := o.chooseProgram()

	// S4.
	if err := o.mux.Create(muxName, info.PrimaryPath, program, env); err != nil {
		o.undoWorktree(id, reused)
		return session.Session{}, session.NewError("orchestrator.Create", "failed to start multiplexer session", err)
	}

	now := time.Now()
	sess := session.Session{
		ID:                     id,
		Name:                   name,
		WorkspacePath:          p.WorkspacePath,
		WorktreePath:           info.PrimaryPath,
		BranchName:             info.BranchName,
		MultiplexerSessionName: muxName,
		Status:                 session.Running,
		Mode:                   p.Mode,
		BossPrompt:             p.BossPrompt,
		SkipPermissions:        p.SkipPermissions,
		Env:                    env,
		CreatedAt:              now,
		LastAccessedAt:         now,
	}

	// S5.
	if err := o.reg.Insert(sess); err != nil {
		_ = o.mux.Kill(muxName)
		o.undoWorktree(id, reused)
		return session.Session{}, session.NewError("orchestrator.Create", "failed to register session", err)
	}

	// S6.
	if err := o.store.Save(sess); err != nil {
		o.reg.Remove(id)
		_ = o.mux.Kill(muxName)
		o.undoWorktree(id, reused)
		return session.Session{}, session.NewError("orchestrator.Create", "failed to persist session", err)
	}

	// S7: best-effort.
	o.startTailer(id, muxName, p.Mode)

	return sess, nil
}

func validateCreate(p actionqueue.CreateParams) error {
	if err := worktree.ValidateBranchName(p.BranchName); err != nil {
		return session.NewError("orchestrator.Create", "invalid branch name", fmt.Errorf("%w: %v", session.ErrInvalidBranchName, err))
	}
	if p.Mode == session.Boss && strings.TrimSpace(p.BossPrompt) == "" {
		return session.NewError("orchestrator.Create", "boss mode requires a non-empty prompt", nil)
	}
	return nil
}

// resolveWorktree implements S2 plus the worktree-reuse path: if a worktree
// already exists for (workspace_path, branch), it is reused unless a live
// session already references it.
func (o *Orchestrator) resolveWorktree(p actionqueue.CreateParams, id string) (session.WorktreeInfo, bool, error) {
	existing, err := o.worktrees.FindForWorkspace(p.WorkspacePath)
	if err != nil {
		return session.WorktreeInfo{}, false, session.NewError("orchestrator.Create", "failed to inspect existing worktrees", err)
	}
	for _, info := range existing {
		if info.BranchName != p.BranchName {
			continue
		}
		if _, live := o.reg.FindByWorktreePath(info.PrimaryPath); live {
			return session.WorktreeInfo{}, false, session.NewError("orchestrator.Create", "worktree already in use", session.ErrAlreadyInUse)
		}
		return info, true, nil
	}

	info, err := o.worktrees.Create(id, p.WorkspacePath, p.BranchName, p.BaseBranch)
	if err != nil {
		return session.WorktreeInfo{}, false, session.NewError("orchestrator.Create", "failed to create worktree", err)
	}
	return info, false, nil
}

// undoWorktree removes the worktree created for id, unless it was reused
// from a prior session.
func (o *Orchestrator) undoWorktree(id string, reused bool) {
	if reused {
		return
	}
	if err := o.worktrees.Remove(id); err != nil {
		log.WarningLog.Printf("orchestrator: compensation failed to remove worktree for %s: %v", id, err)
	}
}

func (o *Orchestrator) buildEnv(extra map[string]string, id, worktreePath string) map[string]string {
	env := make(map[string]string, len(o.cfg.PassthroughEnv)+len(extra)+2)
	for _, key := range o.cfg.PassthroughEnv {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	env["CIAB_SESSION"] = id
	env["CIAB_WORKTREE"] = worktreePath
	return env
}

// chooseProgram prefers the configured agent CLI if it is discoverable on
// PATH, falling back to the user's login shell.
func (o *Orchestrator) chooseProgram() string {
	if _, err := exec.LookPath(o.cfg.DefaultProgram); err == nil {
		return o.cfg.DefaultProgram
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

func (o *Orchestrator) startTailer(id, muxName string, mode session.Mode) {
	monitor, err := o.mux.OpenMonitor(muxName)
	if err != nil {
		log.WarningLog.Printf("orchestrator: S7 failed to open monitor stream for %s: %v", id, err)
		return
	}
	o.logs.Start(id, monitor, mode)
}

// Attach obtains a pseudo-terminal bound to the session's multiplexer
// session, marks it Attached, and stores the handle for the UI to retrieve
// via Handle. The UI drives the handle's Output/Write directly, bypassing
// the action queue, because attach is an interactive, UI-exclusive
// operation, not a fire-and-forget mutation.
func (o *Orchestrator) Attach(ctx context.Context, id string) error {
	sess, ok := o.reg.Get(id)
	if !ok {
		return session.NewError("orchestrator.Attach", "session not found", session.ErrNotFound)
	}
	if sess.Status != session.Running && sess.Status != session.Detached {
		return session.NewError("orchestrator.Attach", "session is not attachable", nil)
	}

	handle, err := o.mux.Attach(sess.MultiplexerSessionName)
	if err != nil {
		return session.NewError("orchestrator.Attach", "failed to attach", err)
	}

	o.handlesMu.Lock()
	o.handles[id] = handle
	o.handlesMu.Unlock()

	if err := o.reg.UpdateWith(id, func(working *session.Session) {
		working.Status = session.Attached
		working.LastAccessedAt = time.Now()
	}); err != nil {
		_ = o.mux.Detach(handle)
		return err
	}

	go func() {
		<-handle.Done()
		o.onHandleDone(id)
	}()

	return nil
}

// Handle returns the live AttachHandle for id, if Attach was called and the
// session has not since detached.
func (o *Orchestrator) Handle(id string) (*tmux.AttachHandle, bool) {
	o.handlesMu.Lock()
	defer o.handlesMu.Unlock()
	h, ok := o.handles[id]
	return h, ok
}

// Detach is the user-initiated counterpart to Attach's out-of-band
// handle.Done() signal: it releases the pseudo-terminal, but leaves the
// multiplexer session running.
func (o *Orchestrator) Detach(ctx context.Context, id string) error {
	o.handlesMu.Lock()
	handle, ok := o.handles[id]
	o.handlesMu.Unlock()
	if !ok {
		return nil
	}
	return o.mux.Detach(handle)
}

// onHandleDone runs when an AttachHandle's underlying attach command exits,
// whether from a user-initiated Ctrl+Q/Detach or the session being killed
// out from under it. It transitions Attached -> Detached, unless the session
// has already moved to Stopped (e.g. a concurrent Stop won the race).
func (o *Orchestrator) onHandleDone(id string) {
	o.handlesMu.Lock()
	delete(o.handles, id)
	o.handlesMu.Unlock()

	_ = o.reg.UpdateWith(id, func(working *session.Session) {
		if working.Status == session.Attached {
			working.Status = session.Detached
		}
	})
}

// Stop kills the multiplexer session and marks Stopped, preserving the
// worktree and branch.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	sess, ok := o.reg.Get(id)
	if !ok {
		return session.NewError("orchestrator.Stop", "session not found", session.ErrNotFound)
	}

	if err := o.mux.Kill(sess.MultiplexerSessionName); err != nil {
		return session.NewError("orchestrator.Stop", "failed to kill multiplexer session", err)
	}
	o.logs.Stop(id)

	if err := o.reg.UpdateWith(id, func(working *session.Session) {
		working.Status = session.Stopped
	}); err != nil {
		return err
	}

	updated, _ := o.reg.Get(id)
	if err := o.store.Save(updated); err != nil {
		log.WarningLog.Printf("orchestrator: failed to persist stop for %s: %v", id, err)
	}
	return nil
}

// Restart re-runs S3-S7 against the session's preserved worktree, reusing
// its multiplexer_session_name.
func (o *Orchestrator) Restart(ctx context.Context, id string) error {
	sess, ok := o.reg.Get(id)
	if !ok {
		return session.NewError("orchestrator.Restart", "session not found", session.ErrNotFound)
	}
	if sess.Status != session.Stopped {
		return session.NewError("orchestrator.Restart", "only a stopped session can be restarted", nil)
	}

	env := o.buildEnv(sess.Env, id, sess.WorktreePath)
	program := o.chooseProgram()

	if err := o.mux.Create(sess.MultiplexerSessionName, sess.WorktreePath, program, env); err != nil {
		return session.NewError("orchestrator.Restart", "failed to restart multiplexer session", err)
	}

	if err := o.reg.UpdateWith(id, func(working *session.Session) {
		working.Status = session.Running
		working.Env = env
		working.LastAccessedAt = time.Now()
	}); err != nil {
		return err
	}

	updated, _ := o.reg.Get(id)
	if err := o.store.Save(updated); err != nil {
		log.WarningLog.Printf("orchestrator: failed to persist restart for %s: %v", id, err)
	}

	o.startTailer(id, sess.MultiplexerSessionName, sess.Mode)
	return nil
}

// Delete stops (if running), removes the worktree, the persisted record, and
// the registry entry. Each step is idempotent, so a delete that is retried
// after a partial failure converges.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	sess, ok := o.reg.Get(id)
	if !ok {
		return nil
	}

	if sess.IsLive() {
		if err := o.mux.Kill(sess.MultiplexerSessionName); err != nil {
			return session.NewError("orchestrator.Delete", "failed to kill multiplexer session", err)
		}
	}
	o.logs.Stop(id)

	if err := o.worktrees.Remove(id); err != nil {
		return session.NewError("orchestrator.Delete", "failed to remove worktree", err)
	}
	if err := o.store.Delete(id); err != nil {
		return session.NewError("orchestrator.Delete", "failed to delete persisted record", err)
	}
	o.reg.Remove(id)

	o.handlesMu.Lock()
	delete(o.handles, id)
	o.handlesMu.Unlock()

	return nil
}

// Reauth re-triggers the agent CLI's own login flow inside the session's
// pane by sending it the program's auth subcommand. `<program> auth` is
// treated as an external collaborator the orchestrator does not implement
// itself, so this only delivers the keystrokes that invoke it.
func (o *Orchestrator) Reauth(ctx context.Context, id string) error {
	sess, ok := o.reg.Get(id)
	if !ok {
		return session.NewError("orchestrator.Reauth", "session not found", session.ErrNotFound)
	}
	if !sess.IsLive() {
		return session.NewError("orchestrator.Reauth", "session is not running", nil)
	}
	return o.mux.SendKeys(sess.MultiplexerSessionName, fmt.Sprintf("%s auth", o.cfg.DefaultProgram))
}

// RefreshWorkspaces rescans the configured roots and caches the result for
// Workspaces to return.
func (o *Orchestrator) RefreshWorkspaces(ctx context.Context) error {
	found, err := workspace.Scan(o.roots, nil)
	if err != nil {
		return session.NewError("orchestrator.RefreshWorkspaces", "scan failed", err)
	}
	o.mu.Lock()
	o.workspaces = found
	o.mu.Unlock()
	return nil
}

// Workspaces returns the most recent RefreshWorkspaces result.
func (o *Orchestrator) Workspaces() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.workspaces))
	copy(out, o.workspaces)
	return out
}

// Reconcile runs the 6-step startup reconciliation. It is
// idempotent: orphan sessions and placeholders are
// synthesized with deterministic ids derived from stable inputs (the
// multiplexer session name, the worktree's own SessionID), so re-running
// Reconcile twice updates the same registry entries instead of duplicating
// them.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	persisted, err := o.store.LoadAll()
	if err != nil {
		return session.NewError("orchestrator.Reconcile", "failed to load persisted sessions", err)
	}

	live, err := o.mux.List()
	if err != nil {
		return session.NewError("orchestrator.Reconcile", "failed to list multiplexer sessions", err)
	}
	liveSet := make(map[string]bool, len(live))
	for _, name := range live {
		liveSet[name] = true
	}

	worktrees, err := o.worktrees.ListAll()
	if err != nil {
		return session.NewError("orchestrator.Reconcile", "failed to list worktrees", err)
	}

	matchedWorktrees := make(map[string]bool, len(worktrees))
	reverseMap := o.store.ReverseMap()

	// Step 4: classify each persisted session by live-multiplexer presence.
	for _, sess := range persisted {
		if _, ok := worktrees[sess.ID]; ok {
			matchedWorktrees[sess.ID] = true
		}
		if liveSet[sess.MultiplexerSessionName] {
			sess.Status = session.Detached
			delete(liveSet, sess.MultiplexerSessionName)
		} else {
			sess.Status = session.Stopped
		}
		if err := o.reg.Insert(sess); err != nil {
			// Re-running Reconcile: the session is already registered from a
			// prior run. Update it in place instead.
			_ = o.reg.UpdateWith(sess.ID, func(working *session.Session) {
				*working = sess
			})
		}
	}

	// Step 5: every remaining live multiplexer session has no persisted
	// record — synthesize a minimal orphan. The synthetic id is derived
	// deterministically from the multiplexer name so repeated reconciliation
	// updates rather than duplicates it.
	names := make([]string, 0, len(liveSet))
	for name := range liveSet {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o.reconcileOrphanSession(name, reverseMap)
	}

	// Step 6: any worktree with neither a persisted record nor a live
	// session is an orphan worktree — emit a Stopped placeholder.
	ids := make([]string, 0, len(worktrees))
	for id := range worktrees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if matchedWorktrees[id] {
			continue
		}
		o.reconcileOrphanWorktree(worktrees[id])
	}

	return nil
}

func (o *Orchestrator) reconcileOrphanSession(muxName string, reverseMap map[string]string) {
	id := "orphan-" + muxName

	workspacePath, ok := reverseMap[muxName]
	if !ok {
		workspacePath = o.inferWorkspaceBySubstring(muxName)
	}
	if workspacePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			workspacePath = home
		}
	}

	// Timestamps are derived from the prior registry entry (or left zero on
	// first sight) rather than time.Now(), so re-running Reconcile against
	// the same live/persisted state yields a byte-identical snapshot.
	var createdAt, lastAccessedAt time.Time
	if prior, ok := o.reg.Get(id); ok {
		createdAt = prior.CreatedAt
		lastAccessedAt = prior.LastAccessedAt
	}

	sess := session.Session{
		ID:                     id,
		Name:                   muxName,
		WorkspacePath:          workspacePath,
		MultiplexerSessionName: muxName,
		Status:                 session.Running,
		CreatedAt:              createdAt,
		LastAccessedAt:         lastAccessedAt,
	}

	if err := o.reg.Insert(sess); err != nil {
		_ = o.reg.UpdateWith(id, func(working *session.Session) {
			*working = sess
		})
	}
}

// inferWorkspaceBySubstring is the fallback classifier when no reverse-map
// entry exists, built on
// orphan.go:extractBranchFromWorktreePath substring heuristic: it matches
// the multiplexer name against the base name of every workspace found by the
// last RefreshWorkspaces.
func (o *Orchestrator) inferWorkspaceBySubstring(muxName string) string {
	o.mu.Lock()
	candidates := append([]string(nil), o.workspaces...)
	o.mu.Unlock()

	for _, path := range candidates {
		slug := path[strings.LastIndex(path, "/")+1:]
		if slug != "" && strings.Contains(muxName, slug) {
			return path
		}
	}
	return ""
}

func (o *Orchestrator) reconcileOrphanWorktree(info session.WorktreeInfo) {
	var createdAt, lastAccessedAt time.Time
	if prior, ok := o.reg.Get(info.SessionID); ok {
		createdAt = prior.CreatedAt
		lastAccessedAt = prior.LastAccessedAt
	}

	sess := session.Session{
		ID:             info.SessionID,
		Name:           info.BranchName,
		WorkspacePath:  info.SourceRepository,
		WorktreePath:   info.PrimaryPath,
		BranchName:     info.BranchName,
		Status:         session.Stopped,
		CreatedAt:      createdAt,
		LastAccessedAt: lastAccessedAt,
	}

	if err := o.reg.Insert(sess); err != nil {
		_ = o.reg.UpdateWith(sess.ID, func(working *session.Session) {
			*working = sess
		})
	}
}
