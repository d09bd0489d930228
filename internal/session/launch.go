package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/credentials"
	"github.com/jolo-cli/jolo/internal/devcontainer"
	"github.com/jolo-cli/jolo/internal/ports"
	"github.com/jolo-cli/jolo/internal/style"
)

// identity is what a workspace's container is labelled with.
type identity struct {
	Port  int
	Agent string
	Batch string
}

func portRange(cfg *config.Config) ports.Range {
	return ports.Range{Start: cfg.BasePort, End: cfg.PortRangeEnd}
}

// identityFor returns the labels the workspace's container should carry: the
// existing container's port, agent and batch, or the lowest port no running
// container holds. A nil registry means no runtime could be found; then
// nothing is running.
//
// When the existing container is stopped and another container has taken its
// port, a new port is allocated and moved reports that the container must be
// recreated to publish it.
func (c *Controller) identityFor(ctx context.Context, reg *container.Registry, cfg *config.Config, dir string) (id identity, moved bool, err error) {
	var sessions []container.Session
	if reg != nil {
		sessions, err = reg.List(ctx, container.Filter{All: true})
		if err != nil {
			return id, false, stepError(StepPort, err)
		}
	}

	own, exists := container.ForFolder(sessions, dir)
	if exists {
		id.Agent, id.Batch = own.Agent, own.Batch
		if own.Port != 0 && !portHeldByOther(sessions, own) {
			id.Port = own.Port
			return id, false, nil
		}
		log.Debug().Int("port", own.Port).Str("container", own.Name).Msg("port of stopped container taken, allocating another")
	}

	allocated, err := portRange(cfg).Allocate(1, ports.UsedPorts(sessions))
	if err != nil {
		return id, false, stepError(StepPort, err)
	}
	id.Port = allocated[0]
	return id, exists, nil
}

func portHeldByOther(sessions []container.Session, own container.Session) bool {
	for _, s := range sessions {
		if s.Name != own.Name && s.IsRunning() && s.Port == own.Port {
			return true
		}
	}
	return false
}

// portMoved reports whether dir already has a container published on a port
// other than port. Restarting it would keep the old port, so it has to be
// recreated instead.
func portMoved(sessions []container.Session, dir string, port int) (container.Session, bool) {
	own, ok := container.ForFolder(sessions, dir)
	return own, ok && own.Port != port
}

// synthesize writes the workspace's .devcontainer config. Untouched files are
// refreshed; hand-edited ones are left alone.
func (c *Controller) synthesize(p *project, ws workspace, id identity, opts Options, sync, overwrite bool) (devcontainer.Result, error) {
	var mounts []devcontainer.Mount
	for _, spec := range opts.Mounts {
		m, err := devcontainer.ParseMount(spec, ws.name)
		if err != nil {
			return devcontainer.Result{}, stepError(StepMounts, err)
		}
		mounts = append(mounts, m)
	}

	synth, err := devcontainer.New(p.cfg.ResolveTemplateDir())
	if err != nil {
		return devcontainer.Result{}, stepError(StepSynthesize, err)
	}
	dopts := devcontainer.Options{
		Name:          ws.name,
		ContainerName: ws.containerName(p),
		ProjectRoot:   p.root,
		Port:          id.Port,
		Agent:         id.Agent,
		Batch:         id.Batch,
		Mounts:        mounts,
		BaseImage:     p.cfg.BaseImage,
		Sync:          sync,
		Overwrite:     overwrite,
	}
	if ws.worktree != "" && p.repo != nil {
		dopts.GitCommonDir = p.repo.CommonDir
	}

	res, err := synth.Synthesize(ws.dir, dopts)
	if err != nil {
		var conflict *devcontainer.SyncConflictError
		if errors.As(err, &conflict) {
			return res, err
		}
		return res, stepError(StepSynthesize, err)
	}
	if res.Created {
		fmt.Fprintf(c.Out, "%s Created %s\n", style.SuccessPrefix, res.Dir)
	}
	return res, nil
}

// provision applies --copy entries and refreshes the credential caches,
// editor config and shell history of a workspace.
func (c *Controller) provision(ws workspace, opts Options) error {
	for _, spec := range opts.Copies {
		cp, err := devcontainer.ParseCopy(spec, ws.name)
		if err != nil {
			return stepError(StepCopy, err)
		}
		dest, err := cp.Apply(ws.dir, ws.name)
		if err != nil {
			return stepError(StepCopy, err)
		}
		log.Debug().Str("src", cp.Source).Str("dest", dest).Msg("copied")
	}

	iso, err := credentials.New(c.Home)
	if err != nil {
		return stepError(StepCredentials, err)
	}
	dest := devcontainer.Dir(ws.dir)
	for _, err := range credentials.SortedErrors(iso.CopyAll(dest)) {
		if errors.Is(err, credentials.ErrMissing) {
			fmt.Fprintf(c.Out, "%s %v\n", style.WarningPrefix, err)
			continue
		}
		return stepError(StepCredentials, err)
	}
	if err := iso.CopyEditorConfig(dest); err != nil {
		return stepError(StepCredentials, err)
	}
	return stepError(StepCredentials, credentials.EnsureHistfile(dest))
}

// prepare readies a workspace for launch.
//
// The steps are:
//  1. Synthesize .devcontainer (first time, or refresh untouched files)
//  2. Apply --copy entries
//  3. Refresh credential caches, editor config and shell history
//
// A failing step aborts with a *StepError. Whatever was already written is
// left for the next run to repair.
func (c *Controller) prepare(p *project, ws workspace, id identity, opts Options) error {
	if _, err := c.synthesize(p, ws, id, opts, false, false); err != nil {
		return err
	}
	return c.provision(ws, opts)
}

// launchEnv is the environment of the devcontainer CLI: the API keys that
// devcontainer.json references through ${localEnv:...}.
func (c *Controller) launchEnv(ctx context.Context, cfg *config.Config) []string {
	return config.EnvToSlice(cfg.Secrets(ctx, c.Runner))
}

// launch brings the workspace's container up unless it is already running.
// replace recreates it.
func (c *Controller) launch(ctx context.Context, p *project, ws workspace, replace bool) error {
	dc := container.NewDevcontainer(c.Runner)
	if !replace && dc.IsRunning(ctx, ws.dir) {
		log.Debug().Str("workspace", ws.dir).Msg("container already running")
		return nil
	}

	fmt.Fprintf(c.Out, "%s Starting container %s\n", style.ArrowPrefix, style.Info.Render(ws.containerName(p)))
	err := dc.Up(ctx, ws.dir, container.UpOptions{RemoveExisting: replace, Env: c.launchEnv(ctx, p.cfg)})
	if err != nil && ctx.Err() != nil {
		c.interrupted(ws.containerName(p), ws.dir)
	}
	return err
}

// interrupted tells the user how to clean up after an interrupted launch.
func (c *Controller) interrupted(name, dir string) {
	fmt.Fprintf(c.Out, "\n%s Interrupted. Container %s may still be running.\n", style.WarningPrefix, name)
	fmt.Fprintf(c.Out, "  Stop it with: cd %s && jolo stop\n", dir)
}

// enter hands the terminal to the workspace's running container: an agent
// started in the background, a shell, a command, or the shared tmux session.
func (c *Controller) enter(ctx context.Context, cfg *config.Config, ws workspace, opts Options) error {
	dc := container.NewDevcontainer(c.Runner)

	switch {
	case opts.Prompt != "":
		agent := cfg.AgentName(0, opts.Agent)
		command := config.AgentStartCommand(cfg.AgentCommand(agent), opts.Prompt)
		if _, err := dc.Exec(ctx, ws.dir, container.DetachedAgentArgs(command), false); err != nil {
			return fmt.Errorf("starting %s: %w", agent, err)
		}
		fmt.Fprintf(c.Out, "%s Started %s in %s\n", style.SuccessPrefix, config.AgentDisplayName(agent), ws.name)
		return nil

	case opts.Detach:
		fmt.Fprintf(c.Out, "%s Container started: %s\n", style.SuccessPrefix, ws.name)
		return nil

	case opts.Shell:
		_, err := dc.Exec(ctx, ws.dir, []string{constants.DefaultShell}, true)
		return err

	case opts.Run != "":
		_, err := dc.Exec(ctx, ws.dir, container.ShellArgs(opts.Run), true)
		return err
	}

	_, err := dc.Exec(ctx, ws.dir, container.AttachArgs(), true)
	return err
}

// up is the flow shared by start, tree and sync --new: prepare, launch, enter.
func (c *Controller) up(ctx context.Context, p *project, ws workspace, opts Options) error {
	rt, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}
	log.Debug().Str("runtime", rt.Name()).Msg("using container runtime")

	id, moved, err := c.identityFor(ctx, reg, p.cfg, ws.dir)
	if err != nil {
		return err
	}
	if moved {
		fmt.Fprintf(c.Out, "%s Port of %s is taken, recreating it on port %d\n", style.WarningPrefix, ws.containerName(p), id.Port)
	}
	if err := c.prepare(p, ws, id, opts); err != nil {
		return err
	}
	if err := c.launch(ctx, p, ws, opts.New || moved); err != nil {
		return err
	}
	return c.enter(ctx, p.cfg, ws, opts)
}

// execLine renders `devcontainer exec` for ws as one shell command line, for
// use as a tmux window command.
func execLine(dir string, argv []string) string {
	parts := append([]string{"devcontainer", "exec", "--workspace-folder", dir}, argv...)
	for i, p := range parts {
		parts[i] = config.ShellQuote(p)
	}
	return strings.Join(parts, " ")
}
