// Package app wires the Session Orchestrator's components into a bubbletea
// shell: the registry drives what's on screen, the action queue is the only
// way the UI mutates session state, and attach is the one operation that
// bypasses both to hand the real terminal to tmux directly.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stevengonsalvez/claude-in-a-box-sub000/config"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/inspect"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/internal/cmdexec"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/keys"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/log"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/actionqueue"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/dispatcher"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/logstream"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/orchestrator"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/persist"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/preview"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/registry"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/tmux"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/session/worktree"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/ui"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/ui/layout"
	"github.com/stevengonsalvez/claude-in-a-box-sub000/ui/overlay"
)

// Run wires every Session Orchestrator component and launches the bubbletea
// program, blocking until the user quits.
func Run(ctx context.Context, cfg *config.Config, roots []string) error {
	worktreesDir, err := config.GetWorktreesDir()
	if err != nil {
		return fmt.Errorf("failed to resolve worktrees dir: %w", err)
	}
	sessionsDir, err := config.GetSessionsDir()
	if err != nil {
		return fmt.Errorf("failed to resolve sessions dir: %w", err)
	}

	executor := cmdexec.New()
	worktrees := worktree.NewStore(worktreesDir, executor)
	mux := tmux.NewAdapter(executor)
	reg := registry.New()
	store := persist.NewStore(sessionsDir)
	logs := logstream.New()
	go drainLogs(logs)

	orch := orchestrator.New(cfg, worktrees, mux, reg, store, logs, roots)
	if err := orch.RefreshWorkspaces(ctx); err != nil {
		log.WarningLog.Printf("initial workspace scan failed: %v", err)
	}
	if err := orch.Reconcile(ctx); err != nil {
		log.WarningLog.Printf("startup reconciliation failed: %v", err)
	}

	disp := dispatcher.New()
	queue := actionqueue.New(orch, disp)
	queue.Start()
	defer queue.Stop()

	previewInterval := time.Duration(cfg.PreviewIntervalMillis) * time.Millisecond
	previewSvc := preview.New(reg, mux, previewInterval)
	previewSvc.Start()
	defer previewSvc.Stop()

	h := newHome(ctx, cfg, reg, orch, queue)

	p := tea.NewProgram(h, tea.WithAltScreen(), tea.WithMouseCellMotion())
	h.program = p
	_, err = p.Run()
	return err
}

// drainLogs consumes the Log Stream Coordinator's output for the lifetime of
// the program. The log pane itself is out of scope; without a reader here a
// prolific tailer (a chatty Boss session) would block against the
// coordinator's bounded channel once C7's backpressure limit is hit.
func drainLogs(logs *logstream.Coordinator) {
	for range logs.Entries() {
	}
}

type state int

const (
	stateDefault state = iota
	stateTextInput
	stateBrowse
	stateModeSelect
	stateConfirm
	stateHelp
	stateLoading
)

// home is the bubbletea root model.
type home struct {
	ctx     context.Context
	cfg     *config.Config
	reg     *registry.Registry
	orch    *orchestrator.Orchestrator
	queue   *actionqueue.Queue
	program *tea.Program

	state state

	list    *ui.List
	menu    *ui.Menu
	preview *ui.PreviewPane
	errBox  *ui.ErrBox
	spinner spinner.Model

	textInputOverlay    *overlay.TextInputOverlay
	confirmationOverlay *overlay.ConfirmationOverlay
	modeSelector        *overlay.ModeSelectorOverlay
	fileBrowser         *overlay.FileBrowserOverlay
	loadingOverlay      *overlay.LoadingOverlay

	onTextSubmit func(value string) tea.Cmd
	onTextCancel func() tea.Cmd

	pendingWorkspace string
	pendingName      string
	pendingMode      session.Mode

	width, height int
	constraints   layout.Constraints
	degradation   layout.Degradation
}

func newHome(ctx context.Context, cfg *config.Config, reg *registry.Registry, orch *orchestrator.Orchestrator, queue *actionqueue.Queue) *home {
	spin := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	return &home{
		ctx:     ctx,
		cfg:     cfg,
		reg:     reg,
		orch:    orch,
		queue:   queue,
		state:   stateDefault,
		list:    ui.NewList(&spin),
		menu:    ui.NewMenu(),
		preview: ui.NewPreviewPane(),
		errBox:  ui.NewErrBox(),
		spinner: spin,
	}
}

func (m *home) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, registryTickCmd, actionResultTickCmd)
}

// registryTickMsg polls the registry on a short interval so the list reflects
// background status changes (preview captures, reconciliation, an Attach
// session detaching on its own).
type registryTickMsg struct{}

var registryTickCmd = func() tea.Msg {
	time.Sleep(250 * time.Millisecond)
	return registryTickMsg{}
}

// actionResultTickMsg polls the action queue's Results channel for toast
// notifications about actions that don't have a session to attach an error
// status to.
type actionResultTickMsg struct{}

var actionResultTickCmd = func() tea.Msg {
	time.Sleep(200 * time.Millisecond)
	return actionResultTickMsg{}
}

type hideErrMsg struct{}

type attachDoneMsg struct {
	err error
}

func (m *home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case hideErrMsg:
		m.errBox.Clear()
	case registryTickMsg:
		m.syncList()
		m.writeInspectSnapshot()
		return m, registryTickCmd
	case actionResultTickMsg:
		select {
		case r := <-m.queue.Results():
			if r.Err != nil {
				return m, tea.Batch(actionResultTickCmd, m.handleError(fmt.Errorf("%s: %w", r.Action.Kind, r.Err)))
			}
		default:
		}
		return m, actionResultTickCmd
	case attachDoneMsg:
		m.state = stateDefault
		m.syncList()
		if msg.err != nil {
			return m, m.handleError(msg.err)
		}
		return m, nil
	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress {
			switch msg.Button {
			case tea.MouseButtonWheelUp:
				m.preview.ScrollUp()
			case tea.MouseButtonWheelDown:
				m.preview.ScrollDown()
			}
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.handleWindowSize(msg)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *home) handleWindowSize(msg tea.WindowSizeMsg) {
	m.width = msg.Width
	m.height = msg.Height

	m.constraints = layout.ComputeConstraints(msg.Width, msg.Height)
	m.degradation = layout.ComputeDegradation(m.constraints)

	m.errBox.SetSize(m.constraints.ErrBoxWidth, m.constraints.ErrBoxHeight)
	m.list.SetSize(m.constraints.ListWidth, m.constraints.ListHeight)
	m.list.SetDegradation(m.degradation)
	m.preview.SetSize(m.constraints.PreviewWidth, m.constraints.PreviewHeight)
	m.menu.SetSize(m.constraints.MenuWidth, m.constraints.MenuHeight)
	m.menu.SetDegradation(m.degradation)

	overlayWidth, overlayHeight := layout.ComputeOverlaySize(msg.Width, msg.Height, int(float32(msg.Width)*0.6), int(float32(msg.Height)*0.3))
	if m.textInputOverlay != nil {
		m.textInputOverlay.SetSize(overlayWidth, overlayHeight)
	}
	if m.fileBrowser != nil {
		fbWidth, fbHeight := layout.ComputeOverlaySize(msg.Width, msg.Height, int(float32(msg.Width)*0.7), int(float32(msg.Height)*0.7))
		m.fileBrowser.SetSize(fbWidth, fbHeight)
	}
}

// syncList refreshes the list from the registry and the preview pane and
// menu from the current selection.
func (m *home) syncList() {
	m.list.SetSessions(m.reg.Snapshot())
	selected := m.list.GetSelectedSession()
	m.preview.SetSession(selected)
	if m.state == stateDefault {
		m.menu.SetState(ui.StateDefault)
	}
	m.menu.SetSession(selected)
}

// writeInspectSnapshot dumps the current UI state to CIAB_INSPECT's JSON
// file, letting external tooling drive the TUI without a terminal. A no-op
// unless CIAB_INSPECT=1 is set.
func (m *home) writeInspectSnapshot() {
	if !inspect.IsEnabled() {
		return
	}

	root := inspect.NewNode("App").
		WithID("app").
		WithBounds(0, 0, m.width, m.height).
		AddChild(m.list.InspectNode()).
		AddChild(m.menu.InspectNode()).
		AddChild(m.preview.InspectNode()).
		AddChild(m.errBox.InspectNode())

	snap := inspect.NewSnapshot().
		WithTerminal(m.width, m.height).
		WithLayout(m.constraints, m.degradation).
		WithComponents(root)
	snap.AppState.State = m.stateName()
	snap.AppState.InstanceCount = m.list.NumSessions()

	if err := inspect.WriteSnapshot(snap); err != nil {
		log.WarningLog.Printf("failed to write inspect snapshot: %v", err)
	}
}

func (m *home) stateName() string {
	switch m.state {
	case stateDefault:
		return "default"
	case stateTextInput:
		return "text_input"
	case stateBrowse:
		return "browse"
	case stateModeSelect:
		return "mode_select"
	case stateConfirm:
		return "confirm"
	case stateHelp:
		return "help"
	case stateLoading:
		return "loading"
	default:
		return "unknown"
	}
}

func (m *home) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	highlight := m.handleMenuHighlighting(msg)

	switch m.state {
	case stateTextInput:
		return m.handleTextInputKey(msg)
	case stateBrowse:
		return m.handleBrowseKey(msg)
	case stateModeSelect:
		return m.handleModeSelectKey(msg)
	case stateConfirm:
		if m.confirmationOverlay.HandleKeyPress(msg) {
			m.state = stateDefault
			m.confirmationOverlay = nil
			m.syncList()
		}
		return m, nil
	case stateHelp:
		m.state = stateDefault
		return m, nil
	case stateLoading:
		return m, nil
	}

	if msg.String() == "ctrl+c" || msg.String() == "q" {
		return m, tea.Quit
	}

	name, ok := keys.GlobalKeyStringsMap[msg.String()]
	if !ok {
		return m, nil
	}

	switch name {
	case keys.KeyHelp:
		m.state = stateHelp
		return m, highlight
	case keys.KeyUp:
		m.list.Up()
		m.syncList()
		return m, highlight
	case keys.KeyDown:
		m.list.Down()
		m.syncList()
		return m, highlight
	case keys.KeyNew:
		m.beginCreate()
		return m, highlight
	case keys.KeyEnter:
		return m.attachSelected(), highlight
	case keys.KeyDetach:
		if s := m.list.GetSelectedSession(); s != nil {
			m.queue.Submit(actionqueue.Action{Kind: actionqueue.Detach, SessionID: s.ID})
		}
		return m, highlight
	case keys.KeyStop:
		if s := m.list.GetSelectedSession(); s != nil {
			m.confirmDestructive(fmt.Sprintf("Stop session %q?", s.Name), actionqueue.Stop, s.ID)
		}
		return m, highlight
	case keys.KeyRestart:
		if s := m.list.GetSelectedSession(); s != nil {
			m.queue.Submit(actionqueue.Action{Kind: actionqueue.Restart, SessionID: s.ID})
		}
		return m, highlight
	case keys.KeyDelete:
		if s := m.list.GetSelectedSession(); s != nil {
			m.confirmDestructive(fmt.Sprintf("Delete session %q and its worktree?", s.Name), actionqueue.Delete, s.ID)
		}
		return m, highlight
	case keys.KeyReauth:
		if s := m.list.GetSelectedSession(); s != nil {
			m.queue.Submit(actionqueue.Action{Kind: actionqueue.Reauth, SessionID: s.ID})
		}
		return m, highlight
	case keys.KeyRefresh:
		m.queue.Submit(actionqueue.Action{Kind: actionqueue.RefreshWorkspaces})
		return m, highlight
	}
	return m, nil
}

// handleMenuHighlighting briefly underlines the pressed key's menu entry.
func (m *home) handleMenuHighlighting(msg tea.KeyMsg) tea.Cmd {
	if m.state != stateDefault {
		return nil
	}
	name, ok := keys.GlobalKeyStringsMap[msg.String()]
	if !ok {
		return nil
	}
	m.menu.Keydown(name)
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
		return keyupMsg{}
	}
}

type keyupMsg struct{}

func (m *home) confirmDestructive(message string, kind actionqueue.Kind, sessionID string) {
	m.state = stateConfirm
	m.confirmationOverlay = overlay.NewConfirmationOverlay(message)
	m.confirmationOverlay.SetWidth(50)
	m.confirmationOverlay.OnConfirm = func() {
		m.queue.Submit(actionqueue.Action{Kind: kind, SessionID: sessionID})
	}
}

// beginCreate starts the new-session wizard: workspace path, then name, then
// mode, then (for Boss mode) a prompt, then the Create action itself.
func (m *home) beginCreate() {
	start := "."
	if cwd, err := os.Getwd(); err == nil {
		start = cwd
	}
	fb, err := overlay.NewFileBrowserOverlay(start)
	if err != nil {
		m.errBox.SetError(fmt.Errorf("failed to open file browser: %w", err))
		return
	}
	m.fileBrowser = fb
	m.state = stateBrowse
	m.menu.SetState(ui.StateNewSession)
}

func (m *home) handleBrowseKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	shouldClose := m.fileBrowser.HandleKeyPress(msg)
	if !shouldClose {
		return m, nil
	}
	if m.fileBrowser.IsCanceled() {
		m.fileBrowser = nil
		m.state = stateDefault
		m.syncList()
		return m, nil
	}

	m.pendingWorkspace = m.fileBrowser.GetSelectedPath()
	m.fileBrowser = nil
	m.beginTextInput("Session name", filepath.Base(m.pendingWorkspace), func(value string) tea.Cmd {
		m.pendingName = value
		m.beginModeSelect()
		return nil
	}, func() tea.Cmd {
		m.state = stateDefault
		m.syncList()
		return nil
	})
	return m, nil
}

func (m *home) beginTextInput(title, initial string, onSubmit func(string) tea.Cmd, onCancel func() tea.Cmd) {
	m.textInputOverlay = overlay.NewTextInputOverlay(title, initial)
	m.textInputOverlay.SetSize(int(float32(m.width)*0.6), int(float32(m.height)*0.3))
	m.onTextSubmit = onSubmit
	m.onTextCancel = onCancel
	m.state = stateTextInput
}

func (m *home) handleTextInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	shouldClose := m.textInputOverlay.HandleKeyPress(msg)
	if !shouldClose {
		return m, nil
	}
	if m.textInputOverlay.IsSubmitted() {
		value := m.textInputOverlay.GetValue()
		m.textInputOverlay = nil
		cmd := m.onTextSubmit(value)
		return m, cmd
	}
	m.textInputOverlay = nil
	cmd := m.onTextCancel()
	return m, cmd
}

func (m *home) beginModeSelect() {
	m.modeSelector = overlay.NewModeSelectorOverlay()
	m.modeSelector.SetWidth(60)
	m.state = stateModeSelect
}

func (m *home) handleModeSelectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	shouldClose := m.modeSelector.HandleKeyPress(msg)
	if !shouldClose {
		return m, nil
	}
	if msg.String() == "esc" {
		m.modeSelector = nil
		m.state = stateDefault
		m.syncList()
		return m, nil
	}
	if m.modeSelector.Dismissed && m.modeSelector.GetSelected() == session.Boss {
		m.pendingMode = session.Boss
		m.modeSelector = nil
		m.beginTextInput("Boss prompt", "", func(value string) tea.Cmd {
			return m.submitCreate(value)
		}, func() tea.Cmd {
			m.state = stateDefault
			m.syncList()
			return nil
		})
		return m, nil
	}

	m.pendingMode = m.modeSelector.GetSelected()
	m.modeSelector = nil
	return m, m.submitCreate("")
}

func (m *home) submitCreate(bossPrompt string) tea.Cmd {
	m.loadingOverlay = overlay.NewLoadingOverlay("Creating session", &m.spinner)
	m.loadingOverlay.SetWidth(50)
	m.loadingOverlay.SetStatus("starting...")
	m.state = stateLoading

	params := actionqueue.CreateParams{
		WorkspacePath: m.pendingWorkspace,
		Name:          m.pendingName,
		Mode:          m.pendingMode,
		BossPrompt:    bossPrompt,
	}

	m.queue.Submit(actionqueue.Action{Kind: actionqueue.Create, Create: params})

	return func() tea.Msg {
		time.Sleep(400 * time.Millisecond)
		return registryTickMsg{}
	}
}

// attachSelected hands the real terminal to the selected session's tmux
// pane, blocking the bubbletea event loop until the client detaches.
// Uses bubbletea's ReleaseTerminal/RestoreTerminal handoff since AttachHandle
// exposes a raw pty that needs direct stdin/stdout plumbing rather than a
// channel-only wait.
func (m *home) attachSelected() tea.Model {
	selected := m.list.GetSelectedSession()
	if selected == nil || !selected.IsLive() {
		return m
	}

	if err := m.orch.Attach(m.ctx, selected.ID); err != nil {
		m.errBox.SetError(err)
		return m
	}
	handle, ok := m.orch.Handle(selected.ID)
	if !ok {
		m.errBox.SetError(fmt.Errorf("attach: no handle for session %s", selected.ID))
		return m
	}

	if err := m.program.ReleaseTerminal(); err != nil {
		m.errBox.SetError(err)
		return m
	}

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(os.Stdout, handle.Output())
		close(done)
	}()
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if _, werr := handle.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-handle.Done()
	<-done
	_ = m.program.RestoreTerminal()

	m.syncList()
	return m
}

func (m *home) handleError(err error) tea.Cmd {
	log.ErrorLog.Printf("%v", err)
	m.errBox.SetError(err)
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
		case <-time.After(3 * time.Second):
		}
		return hideErrMsg{}
	}
}

func (m *home) View() string {
	listWithPadding := lipgloss.NewStyle().PaddingTop(1).Render(m.list.String())
	previewWithPadding := lipgloss.NewStyle().PaddingTop(1).Render(m.preview.String())
	listAndPreview := lipgloss.JoinHorizontal(lipgloss.Top, listWithPadding, previewWithPadding)

	mainView := lipgloss.JoinVertical(
		lipgloss.Center,
		listAndPreview,
		m.menu.String(),
		m.errBox.String(),
	)

	switch m.state {
	case stateTextInput:
		if m.textInputOverlay != nil {
			return overlay.PlaceOverlay(0, 0, m.textInputOverlay.Render(), mainView, true, true)
		}
	case stateBrowse:
		if m.fileBrowser != nil {
			return overlay.PlaceOverlay(0, 0, m.fileBrowser.Render(), mainView, true, true)
		}
	case stateModeSelect:
		if m.modeSelector != nil {
			return overlay.PlaceOverlay(0, 0, m.modeSelector.Render(), mainView, true, true)
		}
	case stateConfirm:
		if m.confirmationOverlay != nil {
			return overlay.PlaceOverlay(0, 0, m.confirmationOverlay.Render(), mainView, true, true)
		}
	case stateLoading:
		if m.loadingOverlay != nil {
			return overlay.PlaceOverlay(0, 0, m.loadingOverlay.Render(), mainView, true, true)
		}
	case stateHelp:
		return overlay.PlaceOverlay(0, 0, helpText(), mainView, true, true)
	}

	return mainView
}

func helpText() string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(50)
	body := "n      new session\n" +
		"enter  attach\n" +
		"d      detach\n" +
		"s      stop\n" +
		"r      restart\n" +
		"D      delete\n" +
		"a      reauth\n" +
		"f      refresh workspaces\n" +
		"q      quit\n\n" +
		"press any key to close"
	return style.Render(body)
}
