// Package session drives one launcher invocation.
//
// A Controller resolves what the user asked for (start, tree, create, spawn,
// stop, prune, destroy, ...) and runs the worktree, devcontainer config,
// credential, port and container steps for it in order. It keeps no state
// between invocations: containers are found through the runtime's labels and
// worktrees through git.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/prompt"
	"github.com/jolo-cli/jolo/internal/runner"
	"github.com/jolo-cli/jolo/internal/tmux"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// Mode is the operation an invocation performs.
type Mode string

const (
	ModeStart   Mode = "start"
	ModeTree    Mode = "tree"
	ModeCreate  Mode = "create"
	ModeInit    Mode = "init"
	ModeSync    Mode = "sync"
	ModeStop    Mode = "stop"
	ModePrune   Mode = "prune"
	ModeDestroy Mode = "destroy"
	ModeAttach  Mode = "attach"
	ModeList    Mode = "list"
	ModeSwitch  Mode = "switch"
	ModeSpawn   Mode = "spawn"
)

// Options is a parsed command line.
type Options struct {
	Mode Mode

	// Name is the worktree name for tree, the project name for create and
	// the target path for destroy. Empty picks the default for the mode.
	Name string

	// From is the ref new worktree branches start from.
	From string

	// All widens stop, list, prune and destroy beyond the current project.
	All bool

	// New replaces an existing container. With tree it also recreates the
	// named worktree from scratch.
	New bool

	// Force lets worktree recreation and destroy discard uncommitted changes
	// and delete unmerged branches.
	Force bool

	// Detach starts the container without attaching.
	Detach bool

	// Shell and Run exec into the container instead of attaching to tmux.
	Shell bool
	Run   string

	// Prompt starts an agent with this prompt, detached.
	Prompt string

	// Agent pins the agent; empty uses the configured list.
	Agent string

	// Spawn is the number of instances for spawn; Prefix names them.
	Spawn  int
	Prefix string

	// Mounts (SRC:DST[:ro]) and Copies (SRC[:DST]) are repeatable extras.
	Mounts []string
	Copies []string

	// Languages is the raw --lang value for create and init.
	Languages string
}

// attaches reports whether the invocation ends attached to a tmux session.
func (o Options) attaches() bool {
	switch o.Mode {
	case ModeStop, ModePrune, ModeDestroy, ModeList:
		return false
	case ModeSync:
		if !o.New {
			return false
		}
	case ModeSpawn:
		return !o.Detach
	}
	return !o.Detach && o.Prompt == "" && !o.Shell && o.Run == ""
}

// Preparation steps, as named in a StepError.
const (
	StepResolve     = "resolve project"
	StepConfig      = "load config"
	StepRuntime     = "detect container runtime"
	StepWorktree    = "ensure worktree"
	StepPort        = "allocate port"
	StepMounts      = "parse mounts"
	StepSynthesize  = "synthesize devcontainer config"
	StepCopy        = "copy files"
	StepCredentials = "copy credentials"
	StepScaffold    = "scaffold project"
	StepGitInit     = "initialize git repository"
	StepCommit      = "initial commit"
)

// StepError is a preparation step that failed. Nothing was launched.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

func stepError(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// Controller runs invocations.
type Controller struct {
	Runner runner.Runner
	Prompt prompt.Prompter

	// Out receives user-facing output.
	Out io.Writer

	// ProgressOut, if set, shows an animated spawn progress view when it is
	// a terminal.
	ProgressOut *os.File

	// Cwd is the directory the invocation runs in.
	Cwd string

	// Home is where credentials are copied from. Empty means the user's home.
	Home string

	// LoadConfig loads the config for a project directory ("" outside one).
	LoadConfig func(projectDir string) (*config.Config, error)

	// LockDir holds the spawn lock. Empty means the user cache directory.
	LockDir string

	// Rand drives random worktree names. Nil uses the global source.
	Rand *rand.Rand
}

// New returns a Controller for the current process.
func New(r runner.Runner, p prompt.Prompter, cwd string) *Controller {
	return &Controller{
		Runner:      r,
		Prompt:      p,
		Out:         os.Stdout,
		ProgressOut: os.Stdout,
		Cwd:         cwd,
		LoadConfig:  config.Load,
	}
}

// Run executes one invocation.
func (c *Controller) Run(ctx context.Context, opts Options) error {
	if opts.attaches() {
		if err := tmux.CheckNotNested(); err != nil {
			return err
		}
	}

	switch opts.Mode {
	case ModeStart, "":
		return c.start(ctx, opts)
	case ModeTree:
		return c.tree(ctx, opts)
	case ModeCreate:
		return c.create(ctx, opts)
	case ModeInit:
		return c.initHere(ctx, opts)
	case ModeSync:
		return c.sync(ctx, opts)
	case ModeStop:
		return c.stop(ctx, opts)
	case ModePrune:
		return c.prune(ctx, opts)
	case ModeDestroy:
		return c.destroy(ctx, opts)
	case ModeAttach:
		return c.attach(ctx, opts)
	case ModeList:
		return c.list(ctx, opts)
	case ModeSwitch:
		return c.switchTo(ctx, opts)
	case ModeSpawn:
		return c.spawn(ctx, opts)
	default:
		return fmt.Errorf("unknown mode %q", opts.Mode)
	}
}

// project is the repository an invocation works on.
type project struct {
	// root is the main working tree, even when invoked inside a worktree.
	root string

	// repo is nil for a project that was just initialized.
	repo *git.Repo

	cfg *config.Config
	wt  *worktree.Manager
}

func (p *project) name() string { return filepath.Base(p.root) }

func (p *project) worktreeProject() worktree.Project {
	return worktree.Project{Root: p.root, Repo: p.repo}
}

// filter selects the project's containers, worktrees included.
func (p *project) filter() container.Filter {
	return container.Filter{Project: p.root, WorktreeDir: p.wt.ProjectDir(p.root)}
}

// openProject discovers the repository containing dir and loads its config.
func (c *Controller) openProject(dir string) (*project, *git.Repo, error) {
	repo, err := git.Discover(dir)
	if err != nil {
		return nil, nil, stepError(StepResolve, err)
	}
	p, err := c.newProject(repo.Root, repo)
	return p, repo, err
}

func (c *Controller) newProject(root string, repo *git.Repo) (*project, error) {
	cfg, err := c.LoadConfig(root)
	if err != nil {
		return nil, stepError(StepConfig, err)
	}
	wtRoot, err := cfg.ResolveWorktreeRoot()
	if err != nil {
		return nil, stepError(StepConfig, err)
	}
	return &project{
		root: root,
		repo: repo,
		cfg:  cfg,
		wt:   worktree.NewManager(c.Runner, wtRoot, cfg.DefaultBranch),
	}, nil
}

// globalConfig loads the config for invocations outside any project.
func (c *Controller) globalConfig() (*config.Config, error) {
	cfg, err := c.LoadConfig("")
	return cfg, stepError(StepConfig, err)
}

func (c *Controller) registry(cfg *config.Config) (*container.Runtime, *container.Registry, error) {
	rt, err := container.DetectRuntime(c.Runner, cfg.ContainerRuntime)
	if err != nil {
		return nil, nil, stepError(StepRuntime, err)
	}
	return rt, container.NewRegistry(rt), nil
}

// workspace is one directory a container runs for: the project's main
// checkout or one of its worktrees.
type workspace struct {
	dir  string
	name string

	// worktree is the worktree name, empty for the main checkout.
	worktree string
}

// workspaceOf returns the workspace containing the discovery directory.
func workspaceOf(p *project, repo *git.Repo) workspace {
	if repo != nil && repo.IsLinkedWorktree() {
		name := filepath.Base(repo.TopLevel)
		return workspace{dir: repo.TopLevel, name: name, worktree: name}
	}
	return workspace{dir: p.root, name: p.name()}
}

func (w workspace) containerName(p *project) string {
	return container.NameFor(p.root, w.worktree, "")
}

// confirm asks a yes/no question. Aborting the prompt counts as no.
func (c *Controller) confirm(title string) (bool, error) {
	ok, err := c.Prompt.Confirm(title)
	if errors.Is(err, prompt.ErrAborted) {
		return false, nil
	}
	return ok, err
}
