package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/ports"
	"github.com/jolo-cli/jolo/internal/progress"
	"github.com/jolo-cli/jolo/internal/spawn"
	"github.com/jolo-cli/jolo/internal/style"
	"github.com/jolo-cli/jolo/internal/tmux"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// spawn runs N isolated sessions of the current project, each with its own
// worktree, container, port and agent.
//
// The steps are:
//  1. Take the host-wide spawn lock and read one registry snapshot
//  2. Allocate N ports and plan names and agents
//  3. Prepare each instance in turn (worktree, config, credentials)
//  4. Launch the containers concurrently, then release the lock
//  5. Start the agents when a prompt was given
//  6. Open a host tmux session with one window per instance and attach
//
// Instances fail independently. If any failed, the result is a
// *spawn.PartialError.
func (c *Controller) spawn(ctx context.Context, opts Options) error {
	p, _, err := c.openProject(c.Cwd)
	if err != nil {
		return err
	}
	_, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}

	lockDir := c.LockDir
	if lockDir == "" {
		if lockDir, err = config.CacheDir(); err != nil {
			return err
		}
	}
	lock, err := spawn.Lock(ctx, lockDir)
	if err != nil {
		return err
	}
	var unlock sync.Once
	release := func() {
		unlock.Do(func() {
			if err := lock.Unlock(); err != nil {
				log.Warn().Err(err).Msg("releasing spawn lock")
			}
		})
	}
	defer release()

	instances, sessions, err := c.planSpawn(ctx, p, reg, opts)
	if err != nil {
		return err
	}
	batch := uuid.NewString()
	log.Debug().Str("batch", batch).Int("instances", len(instances)).Msg("spawning")

	fmt.Fprintf(c.Out, "%s Spawning %d instances of %s\n", style.ArrowPrefix, len(instances), style.Info.Render(p.name()))
	for _, in := range instances {
		fmt.Fprintf(c.Out, "  %-24s %-10s port %d\n", in.Name, in.Agent, in.Port)
	}

	// Written by Prepare, which runs sequentially before any Launch.
	workspaces := make([]workspace, len(instances))
	replace := make([]bool, len(instances))
	dc := container.NewDevcontainer(c.Runner)
	env := c.launchEnv(ctx, p.cfg)

	stages := spawn.Stages{
		Prepare: func(ctx context.Context, in spawn.Instance) error {
			ws, err := c.ensureWorktree(ctx, p, worktree.EnsureOptions{Name: in.Name, FromRef: opts.From, Force: opts.Force})
			if err != nil {
				return err
			}
			workspaces[in.Index] = ws
			if own, moved := portMoved(sessions, ws.dir, in.Port); moved && !opts.New {
				if own.IsRunning() {
					return stepError(StepPort, fmt.Errorf("container %s is already running on port %d (stop it or use --new)", own.Name, own.Port))
				}
				replace[in.Index] = true
			}
			return c.prepareQuiet(p, ws, identity{Port: in.Port, Agent: in.Agent, Batch: batch}, opts)
		},
		Launch: func(ctx context.Context, in spawn.Instance) error {
			l, err := dc.Start(ctx, workspaces[in.Index].dir, container.UpOptions{RemoveExisting: opts.New || replace[in.Index], Env: env})
			if err != nil {
				return err
			}
			return l.Wait()
		},
		Launched: release,
	}
	if opts.Prompt != "" {
		stages.Start = func(ctx context.Context, in spawn.Instance) error {
			command := config.AgentStartCommand(p.cfg.AgentCommand(in.Agent), opts.Prompt)
			_, err := dc.Exec(ctx, workspaces[in.Index].dir, container.DetachedAgentArgs(command), false)
			return err
		}
	}

	coord := &spawn.Coordinator{MaxParallel: p.cfg.MaxParallel}
	var view *progress.View
	if c.ProgressOut != nil {
		view = progress.Start(instances, c.ProgressOut)
		coord.Observer = view.Observe
	}
	results := coord.Run(ctx, instances, stages)
	if view != nil {
		view.Stop()
	}

	if ctx.Err() != nil {
		fmt.Fprintf(c.Out, "\n%s Interrupted. Launched containers may still be running.\n", style.WarningPrefix)
		fmt.Fprintf(c.Out, "  Stop them with: cd %s && jolo stop --all\n", p.root)
		return ctx.Err()
	}
	c.reportSpawn(results)

	ok := spawn.Succeeded(results)
	if len(ok) > 0 && !opts.Detach {
		windows := make([]tmux.Window, len(ok))
		for i, in := range ok {
			ws := workspaces[in.Index]
			windows[i] = tmux.Window{
				Name:    tmux.WindowName(in.Name),
				WorkDir: ws.dir,
				Command: execLine(ws.dir, container.AttachArgs()),
			}
		}
		t := tmux.NewTmux(c.Runner)
		if err := t.ReplaceSession(ctx, constants.HostSpawnSession, windows); err != nil {
			return errors.Join(spawn.Summary(results), err)
		}
		if err := t.AttachSession(ctx, constants.HostSpawnSession); err != nil {
			return errors.Join(spawn.Summary(results), err)
		}
	}
	return spawn.Summary(results)
}

// planSpawn allocates ports from one snapshot of the containers and names the
// instances. The snapshot is returned for the launch decisions.
func (c *Controller) planSpawn(ctx context.Context, p *project, reg *container.Registry, opts Options) ([]spawn.Instance, []container.Session, error) {
	sessions, err := reg.List(ctx, container.Filter{All: true})
	if err != nil {
		return nil, nil, stepError(StepPort, err)
	}
	allocated, err := portRange(p.cfg).Allocate(opts.Spawn, ports.UsedPorts(sessions))
	if err != nil {
		return nil, nil, stepError(StepPort, err)
	}
	wts, err := p.wt.List(ctx, p.worktreeProject())
	if err != nil {
		return nil, nil, stepError(StepWorktree, err)
	}
	instances, err := spawn.Plan(spawn.PlanInput{
		N:             opts.Spawn,
		Prefix:        opts.Prefix,
		Agents:        p.cfg.Agents,
		AgentOverride: opts.Agent,
		Ports:         allocated,
		Taken:         takenNames(wts),
		Rand:          c.Rand,
	})
	return instances, sessions, err
}

// prepareQuiet is prepare for one spawned instance. Its chatter would
// interleave with the progress view, so output is discarded.
func (c *Controller) prepareQuiet(p *project, ws workspace, id identity, opts Options) error {
	quiet := *c
	quiet.Out = io.Discard
	return quiet.prepare(p, ws, id, opts)
}

func (c *Controller) reportSpawn(results []spawn.Result) {
	fmt.Fprintln(c.Out)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(c.Out, "%s %-24s %s failed: %v\n", style.ErrorPrefix, r.Instance.Name, r.Stage, r.Err)
			continue
		}
		fmt.Fprintf(c.Out, "%s %-24s %s on port %d\n", style.SuccessPrefix, r.Instance.Name, config.AgentDisplayName(r.Instance.Agent), r.Instance.Port)
	}
}
