// Package tmux provides a wrapper for host tmux session operations via subprocess.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jolo-cli/jolo/internal/runner"
)

// validSessionNameRe validates session and window names. Dots and colons
// are tmux target separators and make targets ambiguous.
var validSessionNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Common errors
var (
	ErrNoServer           = errors.New("no tmux server running")
	ErrSessionExists      = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidSessionName = errors.New("invalid session name")
	ErrNested             = errors.New("already inside a tmux session; nested tmux is not supported")
)

func validateSessionName(name string) error {
	if name == "" || !validSessionNameRe.MatchString(name) {
		return fmt.Errorf("%w %q: must match %s", ErrInvalidSessionName, name, validSessionNameRe.String())
	}
	return nil
}

// WindowName turns an instance name into a valid window name.
func WindowName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '.' || r == ':' || r == ' ' {
			return '-'
		}
		return r
	}, name)
	if name == "" {
		return "window"
	}
	return name
}

// Tmux wraps tmux operations.
type Tmux struct {
	r runner.Runner
}

// NewTmux creates a new Tmux wrapper.
func NewTmux(r runner.Runner) *Tmux {
	return &Tmux{r: r}
}

// run executes a tmux command and returns stdout.
// All commands include -u for UTF-8 output regardless of locale settings.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	allArgs := append([]string{"-u"}, args...)
	res, err := t.r.Run(ctx, runner.New("tmux", allArgs...))
	if err != nil {
		return "", t.wrapError(err, res.Stderr, args)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// wrapError wraps tmux errors with context.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") ||
		strings.Contains(stderr, "server exited unexpectedly") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	if stderr != "" {
		return fmt.Errorf("tmux %s: %s", args[0], stderr)
	}
	return fmt.Errorf("tmux %s: %w", args[0], err)
}

// IsInsideTmux checks if the current process is running inside a tmux session.
func IsInsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// CheckNotNested returns ErrNested when called from inside tmux. Attaching
// to a container's tmux from a host tmux pane would nest the two.
func CheckNotNested() error {
	if IsInsideTmux() {
		return ErrNested
	}
	return nil
}

// IsAvailable reports whether tmux is installed.
func (t *Tmux) IsAvailable() bool {
	_, err := t.r.LookPath("tmux")
	return err == nil
}

// NewSessionWithCommand creates a detached session whose first window is
// called window and runs command.
func (t *Tmux) NewSessionWithCommand(ctx context.Context, name, window, workDir, command string) error {
	if err := validateSessionName(name); err != nil {
		return err
	}
	if err := validateSessionName(window); err != nil {
		return err
	}
	args := []string{"new-session", "-d", "-s", name, "-n", window}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, command)
	if _, err := t.run(ctx, args...); err != nil {
		return err
	}
	// Detached sessions get window-size=manual on tmux 3.3+, which pins them
	// at 80x24 after attach. "latest" follows the attaching client.
	_, _ = t.run(ctx, "set-option", "-wt", name, "window-size", "latest")
	return nil
}

// NewWindow adds a full-screen window running command to session.
func (t *Tmux) NewWindow(ctx context.Context, session, window, workDir, command string) error {
	if err := validateSessionName(window); err != nil {
		return err
	}
	args := []string{"new-window", "-t", session + ":", "-n", window}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, command)
	_, err := t.run(ctx, args...)
	return err
}

// HasSession checks if a session exists (exact match).
// The "=" prefix prevents prefix matches ("spawn" must not match "spawn-2").
func (t *Tmux) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := t.run(ctx, "has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// KillSession terminates a session. A missing session is not an error.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	_, err := t.run(ctx, "kill-session", "-t", "="+name)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
		return nil
	}
	return err
}

// ListSessions returns all session names.
func (t *Tmux) ListSessions(ctx context.Context) ([]string, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// AttachSession attaches the terminal to session and returns when the
// client detaches.
func (t *Tmux) AttachSession(ctx context.Context, session string) error {
	if err := CheckNotNested(); err != nil {
		return err
	}
	return t.r.Interactive(ctx, runner.New("tmux", "-u", "attach-session", "-t", "="+session))
}

// Window is one window of a host session.
type Window struct {
	Name    string
	WorkDir string
	Command string
}

// ReplaceSession kills any session called name and creates it afresh with
// one window per entry.
func (t *Tmux) ReplaceSession(ctx context.Context, name string, windows []Window) error {
	if len(windows) == 0 {
		return fmt.Errorf("session %s: no windows", name)
	}
	if err := t.KillSession(ctx, name); err != nil {
		return err
	}
	first := windows[0]
	if err := t.NewSessionWithCommand(ctx, name, first.Name, first.WorkDir, first.Command); err != nil {
		return err
	}
	for _, w := range windows[1:] {
		if err := t.NewWindow(ctx, name, w.Name, w.WorkDir, w.Command); err != nil {
			return err
		}
	}
	return nil
}
