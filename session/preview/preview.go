// Package preview implements the Preview Service: on a
// configurable interval (default 1 Hz), captures each running session's
// visible pane and stores it on the Session's Preview field.
//
// It builds on the same TTL-cache idiom used for pane capture, generalized
// here from an on-demand, capture-triggered cache into a proactive ticker
// sweeping the whole registry.
package preview

import (
	"context"
	"time"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/registry"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/tmux"
)

// Capturer is the narrow surface the Preview Service needs from the
// Multiplexer Adapter. tmux.Adapter satisfies it.
type Capturer interface {
	CapturePaneCached(name string, opts tmux.CaptureOptions) (string, error)
}

// DefaultInterval is the default capture tick (1 Hz).
const DefaultInterval = time.Second

// Service is the Preview Service (C8).
type Service struct {
	reg      *registry.Registry
	capturer Capturer
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Service that will capture panes via capturer and write
// results into reg. Call Start to begin ticking.
func New(reg *registry.Registry, capturer Capturer, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{reg: reg, capturer: capturer, interval: interval}
}

// Start begins the capture ticker in a background goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (s *Service) Start() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop cancels the ticker and waits for the in-flight tick, if any, to
// finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

// tick captures every eligible session once. The service pauses a
// session's preview while it is Attached, to avoid the capture racing the
// attached client's own resize/redraw, so only Running and Detached
// sessions are captured.
func (s *Service) tick() {
	for _, sess := range s.reg.Snapshot() {
		if sess.Status != session.Running && sess.Status != session.Detached {
			continue
		}
		s.captureOne(sess)
	}
}

func (s *Service) captureOne(sess session.Session) {
	content, err := s.capturer.CapturePaneCached(sess.MultiplexerSessionName, tmux.DefaultCaptureOptions())
	if err != nil {
		// Transient failure: log and retry next tick.
		log.WarningLog.Printf("preview: capture failed for %s: %v", sess.ID, err)
		return
	}

	now := time.Now()
	_ = s.reg.UpdateWith(sess.ID, func(working *session.Session) {
		working.Preview = session.Preview{Content: content, CapturedAt: now}
	})
}
