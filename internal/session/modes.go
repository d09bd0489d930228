package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/devcontainer"
	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/prompt"
	"github.com/jolo-cli/jolo/internal/scaffold"
	"github.com/jolo-cli/jolo/internal/style"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// start runs the workspace containing the current directory.
func (c *Controller) start(ctx context.Context, opts Options) error {
	p, repo, err := c.openProject(c.Cwd)
	if err != nil {
		if errors.Is(err, git.ErrNotRepo) {
			return fmt.Errorf("%w (use jolo init to initialize one here)", err)
		}
		return err
	}
	return c.up(ctx, p, workspaceOf(p, repo), opts)
}

// tree runs a worktree of the current project, creating it when needed.
func (c *Controller) tree(ctx context.Context, opts Options) error {
	p, _, err := c.openProject(c.Cwd)
	if err != nil {
		return err
	}

	name := opts.Name
	if name == "" {
		wts, err := p.wt.List(ctx, p.worktreeProject())
		if err != nil {
			return stepError(StepWorktree, err)
		}
		name = worktree.UniqueName(c.Rand, takenNames(wts))
	}

	ws, err := c.ensureWorktree(ctx, p, worktree.EnsureOptions{
		Name:     name,
		FromRef:  opts.From,
		Recreate: opts.New && opts.Name != "",
		Force:    opts.Force,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "%s Worktree %s at %s\n", style.SuccessPrefix, style.Info.Render(ws.name), ws.dir)
	return c.up(ctx, p, ws, opts)
}

func takenNames(wts []worktree.Worktree) map[string]bool {
	taken := make(map[string]bool, len(wts))
	for _, wt := range wts {
		taken[wt.Name] = true
	}
	return taken
}

// ensureWorktree creates or repairs a worktree and gives it the project's
// devcontainer config when it has none of its own.
func (c *Controller) ensureWorktree(ctx context.Context, p *project, eo worktree.EnsureOptions) (workspace, error) {
	wt, err := p.wt.Ensure(ctx, p.worktreeProject(), eo)
	if err != nil {
		return workspace{}, stepError(StepWorktree, err)
	}
	if _, err := devcontainer.Seed(p.root, wt.Path); err != nil {
		return workspace{}, stepError(StepSynthesize, err)
	}
	return workspace{dir: wt.Path, name: wt.Name, worktree: wt.Name}, nil
}

// languages resolves --lang, asking when it was not given. ask is false for
// init, which then scaffolds no language.
func (c *Controller) languages(value string, ask bool) ([]scaffold.Language, error) {
	if value != "" {
		return scaffold.ParseLanguages(value)
	}
	if !ask {
		return []scaffold.Language{scaffold.Other}, nil
	}

	options := make([]prompt.Option, len(scaffold.Languages))
	for i, l := range scaffold.Languages {
		options[i] = prompt.Option{Label: l.DisplayName(), Value: string(l)}
	}
	chosen, err := c.Prompt.MultiSelect("Project languages (first is primary)", options)
	if err != nil {
		if errors.Is(err, prompt.ErrNotInteractive) {
			return nil, fmt.Errorf("--lang is required when stdin is not a terminal")
		}
		return nil, err
	}
	if len(chosen) == 0 {
		return nil, fmt.Errorf("no languages selected")
	}
	return scaffold.ParseLanguages(strings.Join(chosen, ","))
}

// create scaffolds a new project directory and runs it.
func (c *Controller) create(ctx context.Context, opts Options) error {
	dir, err := scaffold.ValidateCreate(c.Cwd, opts.Name)
	if err != nil {
		return err
	}
	langs, err := c.languages(opts.Languages, true)
	if err != nil {
		return err
	}
	return c.bootstrap(ctx, dir, opts.Name, langs, opts)
}

// initHere turns the current directory into a project and runs it.
func (c *Controller) initHere(ctx context.Context, opts Options) error {
	if err := scaffold.ValidateInit(c.Cwd); err != nil {
		return err
	}
	langs, err := c.languages(opts.Languages, false)
	if err != nil {
		return err
	}
	return c.bootstrap(ctx, c.Cwd, filepath.Base(c.Cwd), langs, opts)
}

// bootstrap sets up a fresh project in dir and runs it.
//
// The steps are:
//  1. Write the project files (never overwriting)
//  2. git init
//  3. Synthesize .devcontainer
//  4. Commit everything
//  5. Launch a fresh container and run the primary language's init commands
func (c *Controller) bootstrap(ctx context.Context, dir, name string, langs []scaffold.Language, opts Options) error {
	p, err := c.newProject(dir, nil)
	if err != nil {
		return err
	}
	_, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}

	written, err := scaffold.Write(scaffold.Project{Dir: dir, Name: name, Languages: langs})
	if err != nil {
		return stepError(StepScaffold, err)
	}
	log.Debug().Strs("files", written).Msg("scaffolded")

	g := git.NewCLI(c.Runner, dir)
	if err := g.Init(ctx); err != nil {
		return stepError(StepGitInit, err)
	}

	ws := workspace{dir: dir, name: name}
	id, _, err := c.identityFor(ctx, reg, p.cfg, dir)
	if err != nil {
		return err
	}
	if _, err := c.synthesize(p, ws, id, opts, false, false); err != nil {
		return err
	}
	if err := g.CommitAll(ctx, scaffold.InitialCommitMessage); err != nil {
		return stepError(StepCommit, err)
	}
	fmt.Fprintf(c.Out, "%s Initialized %s (%s)\n", style.SuccessPrefix, style.Info.Render(name), scaffold.Primary(langs).DisplayName())

	if err := c.provision(ws, opts); err != nil {
		return err
	}
	if err := c.launch(ctx, p, ws, true); err != nil {
		return err
	}

	dc := container.NewDevcontainer(c.Runner)
	for _, argv := range scaffold.InitCommands(scaffold.Primary(langs), name) {
		line := strings.Join(argv, " ")
		fmt.Fprintf(c.Out, "%s %s\n", style.ArrowPrefix, line)
		if _, err := dc.Exec(ctx, dir, container.ShellArgs(line), true); err != nil {
			fmt.Fprintf(c.Out, "%s %s failed: %v\n", style.WarningPrefix, line, err)
		}
	}
	return c.enter(ctx, p.cfg, ws, opts)
}

// sync regenerates the current workspace's config. Hand-edited files are
// only replaced after confirmation. With --new the container is rebuilt.
func (c *Controller) sync(ctx context.Context, opts Options) error {
	p, repo, err := c.openProject(c.Cwd)
	if err != nil {
		return err
	}
	ws := workspaceOf(p, repo)

	// Without a runtime nothing runs, so any port is free.
	_, reg, err := c.registry(p.cfg)
	if err != nil {
		log.Debug().Err(err).Msg("syncing without a container runtime")
		reg = nil
	}
	id, _, err := c.identityFor(ctx, reg, p.cfg, ws.dir)
	if err != nil {
		return err
	}

	res, err := c.synthesize(p, ws, id, opts, true, false)
	var conflict *devcontainer.SyncConflictError
	if errors.As(err, &conflict) {
		fmt.Fprintf(c.Out, "%s Edited by hand: %s\n", style.WarningPrefix, strings.Join(conflict.Files, ", "))
		ok, cerr := c.confirm("Overwrite the edited files?")
		if cerr != nil || !ok {
			return err
		}
		res, err = c.synthesize(p, ws, id, opts, true, true)
	}
	if err != nil {
		return err
	}

	for _, name := range res.Written {
		fmt.Fprintf(c.Out, "%s Regenerated %s\n", style.SuccessPrefix, filepath.Join(res.Dir, name))
	}
	if len(res.Written) == 0 {
		fmt.Fprintf(c.Out, "%s %s is up to date\n", style.SuccessPrefix, res.Dir)
	}

	if !opts.New {
		return nil
	}
	if reg == nil {
		return stepError(StepRuntime, container.ErrNoRuntime)
	}
	if err := c.provision(ws, opts); err != nil {
		return err
	}
	if err := c.launch(ctx, p, ws, true); err != nil {
		return err
	}
	return c.enter(ctx, p.cfg, ws, opts)
}
