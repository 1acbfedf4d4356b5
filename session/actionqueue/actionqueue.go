// Package actionqueue implements the Action Queue: the UI
// never awaits the orchestrator directly. It enqueues a typed Action and
// keeps rendering; a single consumer goroutine drains the queue and
// dispatches each action to the Command Dispatcher. Completion is observed
// through registry change events (the orchestrator's job) and, for errors
// that don't have a session to attach an Error status to (RefreshWorkspaces,
// a Create that fails before a Session exists), through the Result channel
// below.
//
// Submitting an action wraps a blocking orchestrator call in a
// goroutine-backed queue decoupled from bubbletea's message type: this
// package has no UI dependency, and the app package turns Results into
// tea.Msg values itself.
package actionqueue

import (
	"context"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/dispatcher"
)

// Kind identifies an Action variant.
type Kind int

const (
	Create Kind = iota
	Attach
	Detach
	Stop
	Restart
	Delete
	RefreshWorkspaces
	Reauth
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "Create"
	case Attach:
		return "Attach"
	case Detach:
		return "Detach"
	case Stop:
		return "Stop"
	case Restart:
		return "Restart"
	case Delete:
		return "Delete"
	case RefreshWorkspaces:
		return "RefreshWorkspaces"
	case Reauth:
		return "Reauth"
	default:
		return "Unknown"
	}
}

// CreateParams carries the fields a Create action needs; the other Kinds
// only need SessionID.
type CreateParams struct {
	WorkspacePath   string
	Name            string
	BranchName      string
	BaseBranch      string
	Mode            session.Mode
	BossPrompt      string
	SkipPermissions bool
	Env             map[string]string
}

// Action is the closed tag-union the UI posts. SessionID is empty for
// RefreshWorkspaces and for Create (no session exists yet to key on).
type Action struct {
	Kind      Kind
	SessionID string
	Create    CreateParams
}

// Result is delivered on the queue's Results channel once an Action's
// dispatch completes, successfully or not. The UI uses it for transient
// toast notifications; session-scoped state changes are primarily observed
// through registry events instead.
type Result struct {
	Action Action
	Err    error
}

// Orchestrator is the narrow seam the Action Queue dispatches actions
// through. The Lifecycle Orchestrator satisfies it.
type Orchestrator interface {
	Create(ctx context.Context, p CreateParams) (session.Session, error)
	Attach(ctx context.Context, sessionID string) error
	Detach(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
	Restart(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	RefreshWorkspaces(ctx context.Context) error
	Reauth(ctx context.Context, sessionID string) error
}

// defaultCapacity bounds the queue so a runaway UI can't leak memory; Submit
// drops and reports failure rather than blocking once full.
const defaultCapacity = 256

// Queue is the Action Queue (C10).
type Queue struct {
	actions chan Action
	results chan Result

	orch Orchestrator
	disp *dispatcher.Dispatcher

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Queue that will dispatch actions to orch, serializing
// session-scoped ones through disp. Call Start to begin consuming.
func New(orch Orchestrator, disp *dispatcher.Dispatcher) *Queue {
	return &Queue{
		actions: make(chan Action, defaultCapacity),
		results: make(chan Result, defaultCapacity),
		orch:    orch,
		disp:    disp,
	}
}

// Results returns the channel Action outcomes are published on.
func (q *Queue) Results() <-chan Result { return q.results }

// Submit enqueues an action without blocking. It returns false if the queue
// is full, in which case the caller (the UI) should surface the drop as a
// toast rather than retry synchronously.
func (q *Queue) Submit(a Action) bool {
	select {
	case q.actions <- a:
		return true
	default:
		return false
	}
}

// Start begins the consumer goroutine. Calling Start twice without an
// intervening Stop is a no-op.
func (q *Queue) Start() {
	if q.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-q.actions:
				q.dispatch(ctx, a)
			}
		}
	}()
}

// Stop cancels the consumer and waits for it to exit. Actions already
// dispatched to the per-session slots continue running to completion; Stop
// does not cancel in-flight work, only the consumer's own loop.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
	q.cancel = nil
}

// dispatch routes a to the dispatcher (if session-scoped) or runs it
// directly (RefreshWorkspaces has no session to key on), always in its own
// goroutine so the consumer loop returns to draining the queue immediately.
// This is what keeps cross-session actions parallel even though the queue
// itself has a single consumer.
func (q *Queue) dispatch(ctx context.Context, a Action) {
	if a.SessionID == "" {
		go func() {
			err := q.execute(ctx, a)
			q.publish(Result{Action: a, Err: err})
		}()
		return
	}

	go func() {
		err := q.disp.Submit(a.SessionID, func() error {
			return q.execute(ctx, a)
		})
		q.publish(Result{Action: a, Err: err})
	}()
}

func (q *Queue) publish(r Result) {
	select {
	case q.results <- r:
	default:
		// A slow/absent UI consumer must not stall the dispatch goroutine;
		// dropping a toast is preferable to blocking a session's slot.
	}
}

func (q *Queue) execute(ctx context.Context, a Action) error {
	switch a.Kind {
	case Create:
		_, err := q.orch.Create(ctx, a.Create)
		return err
	case Attach:
		return q.orch.Attach(ctx, a.SessionID)
	case Detach:
		return q.orch.Detach(ctx, a.SessionID)
	case Stop:
		return q.orch.Stop(ctx, a.SessionID)
	case Restart:
		return q.orch.Restart(ctx, a.SessionID)
	case Delete:
		return q.orch.Delete(ctx, a.SessionID)
	case RefreshWorkspaces:
		return q.orch.RefreshWorkspaces(ctx)
	case Reauth:
		return q.orch.Reauth(ctx, a.SessionID)
	default:
		return nil
	}
}
