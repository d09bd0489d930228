// Package runner models external tool invocations (git, the container runtime,
// the devcontainer CLI, tmux, pass) as typed commands with captured exit status.
//
// Everything that shells out goes through a Runner so that callers can be tested
// against a scripted fake instead of real binaries.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Command is a single external tool invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// Stdin feeds captured commands. Interactive commands use the terminal.
	Stdin io.Reader
}

// New builds a command from a program name and its arguments.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// In returns a copy of c that runs in dir.
func (c Command) In(dir string) Command {
	c.Dir = dir
	return c
}

// WithEnv returns a copy of c with extra environment entries.
func (c Command) WithEnv(env ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that ran but exited non-zero, or failed to start.
type ExitError struct {
	Command Command
	Result  Result
	Err     error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit %d", e.Command.String(), e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + lastLines(stderr, 3)
	} else if e.Err != nil && e.Result.ExitCode < 0 {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error returned by a Runner.
// It returns 0 for nil and -1 when the error carries no exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Result.ExitCode
	}
	return -1
}

// Process is a command started in the background.
type Process interface {
	// Wait blocks until the command exits and returns its captured output.
	Wait() (Result, error)
}

// Runner executes commands.
type Runner interface {
	// Run executes cmd and captures its output. A non-zero exit yields *ExitError
	// alongside the Result.
	Run(ctx context.Context, cmd Command) (Result, error)

	// Interactive executes cmd with the terminal's stdin/stdout/stderr.
	Interactive(ctx context.Context, cmd Command) error

	// Start launches cmd without waiting, capturing its output.
	Start(ctx context.Context, cmd Command) (Process, error)

	// LookPath reports where a program lives on PATH.
	LookPath(name string) (string, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

// NewExec returns the real runner.
func NewExec() *Exec { return &Exec{} }

func (Exec) build(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// Run implements Runner.
func (e Exec) Run(ctx context.Context, c Command) (Result, error) {
	log.Debug().Str("dir", c.Dir).Msgf("$ %s", c)

	cmd := e.build(ctx, c)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = c.Stdin

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	return res, wrap(c, &res, err)
}

// Interactive implements Runner.
func (e Exec) Interactive(ctx context.Context, c Command) error {
	log.Debug().Str("dir", c.Dir).Msgf("$ %s", c)

	cmd := e.build(ctx, c)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	var res Result
	return wrap(c, &res, cmd.Run())
}

// Start implements Runner.
func (e Exec) Start(ctx context.Context, c Command) (Process, error) {
	log.Debug().Str("dir", c.Dir).Msgf("$ %s &", c)

	cmd := e.build(ctx, c)
	p := &execProcess{cmd: cmd, spec: c}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr
	cmd.Stdin = c.Stdin
	if err := cmd.Start(); err != nil {
		res := Result{}
		return nil, wrap(c, &res, err)
	}
	return p, nil
}

// LookPath implements Runner.
func (Exec) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

type execProcess struct {
	cmd            *exec.Cmd
	spec           Command
	stdout, stderr bytes.Buffer
}

func (p *execProcess) Wait() (Result, error) {
	err := p.cmd.Wait()
	res := Result{Stdout: p.stdout.String(), Stderr: p.stderr.String()}
	return res, wrap(p.spec, &res, err)
}

// wrap converts an exec error into *ExitError and records the exit code on res.
func wrap(c Command, res *Result, err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		res.ExitCode = ee.ExitCode()
	} else {
		res.ExitCode = -1
	}
	return &ExitError{Command: c, Result: *res, Err: err}
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
