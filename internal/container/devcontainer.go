package container

import (
	"context"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/runner"
)

// Devcontainer drives the devcontainer CLI.
type Devcontainer struct {
	r runner.Runner
}

// NewDevcontainer returns a devcontainer CLI wrapper.
func NewDevcontainer(r runner.Runner) *Devcontainer {
	return &Devcontainer{r: r}
}

// UpOptions controls Up and Start.
type UpOptions struct {
	// RemoveExisting replaces an existing container for the folder.
	RemoveExisting bool

	// Env is added to the CLI's environment, so that ${localEnv:...}
	// references in devcontainer.json resolve to it.
	Env []string
}

func upCommand(folder string, opts UpOptions) runner.Command {
	args := []string{"up", "--workspace-folder", folder}
	if opts.RemoveExisting {
		args = append(args, "--remove-existing-container")
	}
	return runner.New("devcontainer", args...).In(folder).WithEnv(opts.Env...)
}

// Up creates or starts the container for folder and waits for it.
func (d *Devcontainer) Up(ctx context.Context, folder string, opts UpOptions) error {
	cmd := upCommand(folder, opts)
	res, err := d.r.Run(ctx, cmd)
	if err != nil {
		return newRuntimeError("devcontainer up", cmd, res, err)
	}
	return nil
}

// Start launches `devcontainer up` without waiting. Spawn mode uses it to run
// several launches side by side.
func (d *Devcontainer) Start(ctx context.Context, folder string, opts UpOptions) (*Launch, error) {
	cmd := upCommand(folder, opts)
	p, err := d.r.Start(ctx, cmd)
	if err != nil {
		return nil, newRuntimeError("devcontainer up", cmd, runner.Result{}, err)
	}
	return &Launch{cmd: cmd, p: p}, nil
}

// Launch is an in-flight `devcontainer up`.
type Launch struct {
	cmd runner.Command
	p   runner.Process
}

// Wait blocks until the launch finishes.
func (l *Launch) Wait() error {
	res, err := l.p.Wait()
	if err != nil {
		return newRuntimeError("devcontainer up", l.cmd, res, err)
	}
	return nil
}

func execCommand(folder string, argv []string) runner.Command {
	args := append([]string{"exec", "--workspace-folder", folder}, argv...)
	return runner.New("devcontainer", args...).In(folder)
}

// Exec runs argv inside the folder's container. Interactive commands are
// connected to the terminal; others are captured and their stdout returned.
func (d *Devcontainer) Exec(ctx context.Context, folder string, argv []string, interactive bool) (string, error) {
	cmd := execCommand(folder, argv)
	if interactive {
		if err := d.r.Interactive(ctx, cmd); err != nil {
			return "", newRuntimeError("devcontainer exec", cmd, runner.Result{}, err)
		}
		return "", nil
	}
	res, err := d.r.Run(ctx, cmd)
	if err != nil {
		return "", newRuntimeError("devcontainer exec", cmd, res, err)
	}
	return res.Stdout, nil
}

// IsRunning reports whether the folder's container accepts exec.
func (d *Devcontainer) IsRunning(ctx context.Context, folder string) bool {
	_, err := d.r.Run(ctx, execCommand(folder, []string{"true"}))
	return err == nil
}

// AttachArgs is the in-container command that attaches to (or creates) the
// shared tmux session.
func AttachArgs() []string {
	s := constants.ContainerTmuxSession
	return []string{"sh", "-c", "tmux attach-session -t " + s + " || tmux new-session -s " + s}
}

// DetachedAgentArgs starts command in a detached in-container tmux session.
func DetachedAgentArgs(command string) []string {
	return []string{"tmux", "new-session", "-d", "-s", constants.ContainerTmuxSession, command}
}

// ShellArgs runs a command line through sh -c.
func ShellArgs(command string) []string {
	return []string{"sh", "-c", command}
}
