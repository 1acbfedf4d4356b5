// Package cmdexec provides the seam between the orchestrator's components
// and the external git/tmux binaries they shell out to. Every component that
// runs a subprocess (the worktree store, the tmux multiplexer adapter) takes
// an Executor rather than calling os/exec directly, so tests can substitute
// a Fake and run without git or tmux installed on the test host.
package cmdexec

import "os/exec"

// Executor runs external commands. The real implementation simply delegates
// to os/exec; tests substitute Fake.
type Executor interface {
	// Run executes the command, discarding output, and returns any error.
	Run(cmd *exec.Cmd) error
	// Output executes the command and returns its standard output.
	Output(cmd *exec.Cmd) ([]byte, error)
	// CombinedOutput executes the command and returns merged stdout+stderr,
	// used where a binary's error detail only appears on stderr (e.g. git's
	// "fatal: ..." messages).
	CombinedOutput(cmd *exec.Cmd) ([]byte, error)
}

// real is the production Executor, a thin pass-through to os/exec.
type real struct{}

// New returns the production Executor.
func New() Executor {
	return real{}
}

func (real) Run(cmd *exec.Cmd) error {
	return cmd.Run()
}

func (real) Output(cmd *exec.Cmd) ([]byte, error) {
	return cmd.Output()
}

func (real) CombinedOutput(cmd *exec.Cmd) ([]byte, error) {
	return cmd.CombinedOutput()
}
