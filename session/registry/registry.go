// Package registry implements the Session Registry: a
// thread-safe in-memory map from session id to Session, the single source of
// truth for session state. The Lifecycle Orchestrator writes session
// state; the Preview Service writes only each session's Preview field;
// every other component reads or takes cheap snapshots.
//
// It follows the same locking idiom as the tmux content cache (a
// sync.RWMutex guarding a small piece of shared state plus a narrow Get/Set
// surface), generalized here from a single TTL cache entry to a full CRUD
// map plus a change-notification fan-out.
package registry

import (
	"sync"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
)

// EventKind classifies a registry mutation.
type EventKind int

const (
	// Inserted fires after Insert.
	Inserted EventKind = iota
	// Updated fires after UpdateWith changes a session.
	Updated
	// Removed fires after Remove.
	Removed
)

// Event is broadcast after every registry write, in commit order.
type Event struct {
	Kind      EventKind
	SessionID string
	// Session is the post-mutation value; for Removed it is the value just
	// before removal.
	Session session.Session
}

// Registry is the Session Registry (C4). Construct with New and share one
// instance across the process.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]session.Session
	order []string // insertion order, for Iter's ordering guarantee

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID: make(map[string]session.Session),
		subs: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives every Event from this point
// forward. Registry writers never block on it: while its buffer is full, the
// subscriber misses events. Unsubscribe stops delivery and is safe to call
// once the caller is done.
func (r *Registry) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()
	return ch
}

// Unsubscribe stops delivering events to ch and closes it.
func (r *Registry) Unsubscribe(ch chan Event) {
	r.subMu.Lock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
	r.subMu.Unlock()
}

func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber does not block the registry; it misses this
			// event. The UI is expected to reconcile via Snapshot on its own
			// tick.
		}
	}
}

// Get returns the session for id and whether it was found.
func (r *Registry) Get(id string) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return session.Session{}, false
	}
	return s.Clone(), true
}

// Snapshot returns a cheap, independently-mutable copy of every session, in
// insertion order.
func (r *Registry) Snapshot() []session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Iter calls fn for every session in insertion order. fn must not mutate the
// registry; it receives a cloned value.
func (r *Registry) Iter(fn func(session.Session)) {
	for _, s := range r.Snapshot() {
		fn(s)
	}
}

// Insert adds a new session to the registry. It is an error to insert a
// session whose ID already exists; use UpdateWith to mutate.
func (r *Registry) Insert(s session.Session) error {
	r.mu.Lock()
	if _, exists := r.byID[s.ID]; exists {
		r.mu.Unlock()
		return session.NewError("registry.Insert", "session id already registered", session.ErrAlreadyExists)
	}
	clone := s.Clone()
	r.byID[s.ID] = clone
	r.order = append(r.order, s.ID)
	r.mu.Unlock()

	r.publish(Event{Kind: Inserted, SessionID: s.ID, Session: clone})
	return nil
}

// UpdateWith atomically applies fn to the session for id and stores the
// result. fn receives a pointer to a working copy; mutate it in place. It
// returns session.ErrNotFound if id is not registered.
func (r *Registry) UpdateWith(id string, fn func(*session.Session)) error {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return session.NewError("registry.UpdateWith", "session not found", session.ErrNotFound)
	}
	working := s.Clone()
	fn(&working)
	working.ID = id // fn must not reassign the identity
	r.byID[id] = working
	r.mu.Unlock()

	r.publish(Event{Kind: Updated, SessionID: id, Session: working.Clone()})
	return nil
}

// Remove deletes id from the registry. Removing an absent id is a no-op
// (idempotent), matching the idempotency the rest of the orchestrator's
// teardown path expects.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	for i, orderedID := range r.order {
		if orderedID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.publish(Event{Kind: Removed, SessionID: id, Session: s})
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// FindByMultiplexerName returns the session whose MultiplexerSessionName
// equals name, supporting invariant 3 (injectivity) checks at the call site.
func (r *Registry) FindByMultiplexerName(name string) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.MultiplexerSessionName == name {
			return s.Clone(), true
		}
	}
	return session.Session{}, false
}

// FindByName returns the first live session (Running/Attached/Detached)
// named name within workspacePath, supporting the "name unique within its
// workspace" validation at session creation.
func (r *Registry) FindByName(workspacePath, name string) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.WorkspacePath == workspacePath && s.Name == name && s.IsLive() {
			return s.Clone(), true
		}
	}
	return session.Session{}, false
}

// FindByWorktreePath returns the first live session (Running/Attached/
// Detached) bound to worktreePath, supporting the worktree-reuse path's
// AlreadyInUse check.
func (r *Registry) FindByWorktreePath(worktreePath string) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.WorktreePath == worktreePath && s.IsLive() {
			return s.Clone(), true
		}
	}
	return session.Session{}, false
}

// Workspaces recomputes the set of Workspace view objects from the current
// registry contents, grouping sessions by WorkspacePath.
func (r *Registry) Workspaces() []session.Workspace {
	byPath := make(map[string][]session.Session)
	var order []string
	r.Iter(func(s session.Session) {
		if _, ok := byPath[s.WorkspacePath]; !ok {
			order = append(order, s.WorkspacePath)
		}
		byPath[s.WorkspacePath] = append(byPath[s.WorkspacePath], s)
	})

	workspaces := make([]session.Workspace, 0, len(order))
	for _, path := range order {
		workspaces = append(workspaces, session.Workspace{Path: path, Sessions: byPath[path]})
	}
	return workspaces
}
