package container

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jolo-cli/jolo/internal/runner"
)

var (
	// ErrNoRuntime is returned when neither docker nor podman is installed.
	ErrNoRuntime = errors.New("no container runtime found (docker or podman required)")

	// ErrNoMatchingSession is returned when an operation needs a container
	// that is not running.
	ErrNoMatchingSession = errors.New("no matching container session")

	// ErrNoSuchContainer is returned by the runtime for unknown names.
	ErrNoSuchContainer = errors.New("no such container")
)

// RuntimeError is a failed container runtime or devcontainer CLI invocation.
type RuntimeError struct {
	Op     string
	Args   []string
	Code   int
	Stderr string
	Err    error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Op, e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// newRuntimeError converts a runner failure into *RuntimeError.
func newRuntimeError(op string, cmd runner.Command, res runner.Result, err error) error {
	return &RuntimeError{
		Op:     op,
		Args:   append([]string{cmd.Name}, cmd.Args...),
		Code:   runner.ExitCode(err),
		Stderr: res.Stderr,
		Err:    err,
	}
}

// Runtime is the docker or podman CLI.
type Runtime struct {
	r    runner.Runner
	name string
}

// DetectRuntime picks the runtime binary. A non-empty override must be on
// PATH; otherwise docker is preferred over podman.
func DetectRuntime(r runner.Runner, override string) (*Runtime, error) {
	candidates := []string{"docker", "podman"}
	if override != "" {
		candidates = []string{override}
	}
	for _, name := range candidates {
		if _, err := r.LookPath(name); err == nil {
			return &Runtime{r: r, name: name}, nil
		}
	}
	if override != "" {
		return nil, fmt.Errorf("%w: %s not on PATH", ErrNoRuntime, override)
	}
	return nil, ErrNoRuntime
}

// NewRuntime returns a runtime using the given binary without detection.
func NewRuntime(r runner.Runner, name string) *Runtime {
	return &Runtime{r: r, name: name}
}

// Name returns the runtime binary name.
func (rt *Runtime) Name() string { return rt.name }

func (rt *Runtime) run(ctx context.Context, op string, args ...string) (string, error) {
	cmd := runner.New(rt.name, args...)
	res, err := rt.r.Run(ctx, cmd)
	if err != nil {
		return "", rt.wrapError(op, cmd, res, err)
	}
	return res.Stdout, nil
}

func (rt *Runtime) wrapError(op string, cmd runner.Command, res runner.Result, err error) error {
	stderr := strings.ToLower(res.Stderr)
	if strings.Contains(stderr, "no such container") || strings.Contains(stderr, "no container with name") {
		return fmt.Errorf("%s %s: %w", rt.name, op, ErrNoSuchContainer)
	}
	return newRuntimeError(rt.name+" "+op, cmd, res, err)
}

// Stop stops a container by name.
func (rt *Runtime) Stop(ctx context.Context, name string) error {
	_, err := rt.run(ctx, "stop", "stop", name)
	return err
}

// Remove deletes a stopped container by name.
func (rt *Runtime) Remove(ctx context.Context, name string) error {
	_, err := rt.run(ctx, "rm", "rm", name)
	return err
}

// Version returns the runtime's version string.
func (rt *Runtime) Version(ctx context.Context) (string, error) {
	out, err := rt.run(ctx, "version", "--version")
	return strings.TrimSpace(out), err
}
