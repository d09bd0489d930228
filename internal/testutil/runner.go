// Package testutil provides shared test infrastructure.
package testutil

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/jolo-cli/jolo/internal/runner"
)

// Handler produces the outcome of a scripted command.
type Handler func(cmd runner.Command) (runner.Result, error)

// FakeRunner is a scripted runner.Runner. Commands are matched against
// registered prefixes of their rendered argv ("docker ps", "git worktree add");
// the longest matching prefix wins. Unmatched commands succeed with empty output,
// unless their program was handed to a real runner with Delegate.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []runner.Command
	paths    map[string]string
	delegate map[string]runner.Runner
}

// NewFakeRunner returns an empty fake whose LookPath finds nothing.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		handlers: make(map[string]Handler),
		paths:    make(map[string]string),
		delegate: make(map[string]runner.Runner),
	}
}

// Delegate runs every command of program name through r, for tests that
// need real git while the container tools stay scripted. Handlers registered
// with On still take precedence.
func (f *FakeRunner) Delegate(name string, r runner.Runner) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delegate[name] = r
	return f
}

// On registers a handler for commands starting with prefix.
func (f *FakeRunner) On(prefix string, h Handler) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = h
	return f
}

// Stdout registers a handler that succeeds with the given stdout.
func (f *FakeRunner) Stdout(prefix, stdout string) *FakeRunner {
	return f.On(prefix, func(runner.Command) (runner.Result, error) {
		return runner.Result{Stdout: stdout}, nil
	})
}

// Fail registers a handler that exits with code and stderr.
func (f *FakeRunner) Fail(prefix string, code int, stderr string) *FakeRunner {
	return f.On(prefix, func(cmd runner.Command) (runner.Result, error) {
		res := runner.Result{Stderr: stderr, ExitCode: code}
		return res, &runner.ExitError{Command: cmd, Result: res, Err: fmt.Errorf("exit status %d", code)}
	})
}

// Provide makes LookPath find name.
func (f *FakeRunner) Provide(names ...string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.paths[n] = "/usr/bin/" + n
	}
	return f
}

// Calls returns every command executed so far, rendered as strings.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

// Commands returns every command executed so far.
func (f *FakeRunner) Commands() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// CalledWith reports whether any executed command starts with prefix.
func (f *FakeRunner) CalledWith(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *FakeRunner) dispatch(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	line := cmd.Name + " " + strings.Join(cmd.Args, " ")

	prefixes := make([]string, 0, len(f.handlers))
	for p := range f.handlers {
		if strings.HasPrefix(line, p) {
			prefixes = append(prefixes, p)
		}
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	var h Handler
	if len(prefixes) > 0 {
		h = f.handlers[prefixes[0]]
	}
	live := f.delegate[cmd.Name]
	f.mu.Unlock()

	switch {
	case h != nil:
		return h(cmd)
	case live != nil:
		return live.Run(ctx, cmd)
	}
	return runner.Result{}, nil
}

// Run implements runner.Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	return f.dispatch(ctx, cmd)
}

// Interactive implements runner.Runner.
func (f *FakeRunner) Interactive(ctx context.Context, cmd runner.Command) error {
	_, err := f.dispatch(ctx, cmd)
	return err
}

// Start implements runner.Runner. The handler runs when Wait is called.
func (f *FakeRunner) Start(ctx context.Context, cmd runner.Command) (runner.Process, error) {
	return &fakeProcess{f: f, ctx: ctx, cmd: cmd}, nil
}

// LookPath implements runner.Runner.
func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

type fakeProcess struct {
	f   *FakeRunner
	ctx context.Context
	cmd runner.Command
}

func (p *fakeProcess) Wait() (runner.Result, error) {
	return p.f.dispatch(p.ctx, p.cmd)
}

// RequireBinary skips the test when name is not installed.
func RequireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}
