package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/devcontainer"
	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/prompt"
	"github.com/jolo-cli/jolo/internal/style"
	"github.com/jolo-cli/jolo/internal/util"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// stop stops the current workspace's container, or with --all every running
// container of the project, worktrees first.
func (c *Controller) stop(ctx context.Context, opts Options) error {
	p, repo, err := c.openProject(c.Cwd)
	if err != nil {
		return err
	}
	rt, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}
	f := p.filter()
	f.State = container.StateRunning
	running, err := reg.List(ctx, f)
	if err != nil {
		return err
	}

	ws := workspaceOf(p, repo)
	var targets []container.Session
	if opts.All {
		targets = running
		sort.SliceStable(targets, func(i, j int) bool {
			return filepath.Clean(targets[i].Folder) != p.root && filepath.Clean(targets[j].Folder) == p.root
		})
	} else if s, ok := container.ForFolder(running, ws.dir); ok {
		targets = []container.Session{s}
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: nothing running for %s", container.ErrNoMatchingSession, ws.name)
	}

	var errs []error
	for _, s := range targets {
		if err := rt.Stop(ctx, s.Name); err != nil {
			fmt.Fprintf(c.Out, "%s Failed to stop %s: %v\n", style.ErrorPrefix, s.Name, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(c.Out, "%s Stopped %s\n", style.SuccessPrefix, s.Name)
	}
	return errors.Join(errs...)
}

// attach enters an already running container without preparing anything.
func (c *Controller) attach(ctx context.Context, opts Options) error {
	p, repo, err := c.openProject(c.Cwd)
	if err != nil {
		return err
	}
	ws := workspaceOf(p, repo)
	if !container.NewDevcontainer(c.Runner).IsRunning(ctx, ws.dir) {
		return fmt.Errorf("%w: container for %s is not running (use jolo start)", container.ErrNoMatchingSession, ws.name)
	}
	return c.enter(ctx, p.cfg, ws, Options{Shell: opts.Shell, Run: opts.Run})
}

func stateMarker(s container.Session) string {
	if s.IsRunning() {
		return style.Success.Render("*")
	}
	return " "
}

func portLabel(s container.Session) string {
	if s.Port == 0 {
		return "-"
	}
	return fmt.Sprint(s.Port)
}

// list shows the project's containers and worktrees, or with --all (or
// outside a repository) every launcher container on the host.
func (c *Controller) list(ctx context.Context, opts Options) error {
	p, _, err := c.openProject(c.Cwd)
	if opts.All || errors.Is(err, git.ErrNotRepo) {
		return c.listAll(ctx)
	}
	if err != nil {
		return err
	}
	_, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, p.filter())
	if err != nil {
		return err
	}
	wts, err := p.wt.List(ctx, p.worktreeProject())
	if err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "%s %s\n\n", style.Heading("Project"), style.Info.Render(p.name()))
	fmt.Fprintln(c.Out, style.Heading("Containers"))
	if len(sessions) == 0 {
		fmt.Fprintln(c.Out, style.Dim.Render("  (none)"))
	}
	for _, s := range sessions {
		fmt.Fprintf(c.Out, "  %s %-32s %-8s %-6s %s\n", stateMarker(s), s.Name, s.State, portLabel(s), filepath.Base(s.Folder))
	}

	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, style.Heading("Worktrees"))
	if len(wts) == 0 {
		fmt.Fprintln(c.Out, style.Dim.Render("  (none)"))
	}
	for _, wt := range wts {
		head := wt.Head
		if len(head) > 7 {
			head = head[:7]
		}
		line := fmt.Sprintf("  %-24s %-24s [%s]", wt.Name, wt.Branch, head)
		if !wt.Valid {
			line += " " + style.Warning.Render("stale: "+wt.Reason)
		}
		fmt.Fprintln(c.Out, line)
	}
	return nil
}

func (c *Controller) listAll(ctx context.Context) error {
	cfg, err := c.globalConfig()
	if err != nil {
		return err
	}
	_, reg, err := c.registry(cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, container.Filter{All: true})
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.Out, "No devcontainers found.")
		return nil
	}
	fmt.Fprintln(c.Out, style.Heading("Containers"))
	for _, s := range sessions {
		fmt.Fprintf(c.Out, "  %s %-32s %-8s %-6s %s\n", stateMarker(s), s.Name, s.State, portLabel(s), s.Folder)
	}
	return nil
}

// displayLabel names a session for the picker: "project" or "project / worktree".
func displayLabel(s container.Session) string {
	base := filepath.Base(s.Folder)
	if s.Project != "" && filepath.Clean(s.Project) != filepath.Clean(s.Folder) {
		return filepath.Base(s.Project) + " / " + base
	}
	return base
}

// switchTo picks one of the host's running containers and attaches to it.
func (c *Controller) switchTo(ctx context.Context, _ Options) error {
	cfg, err := c.globalConfig()
	if err != nil {
		return err
	}
	_, reg, err := c.registry(cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, container.Filter{All: true, State: container.StateRunning})
	if err != nil {
		return err
	}
	var running []container.Session
	for _, s := range sessions {
		if util.IsDir(s.Folder) {
			running = append(running, s)
		}
	}
	if len(running) == 0 {
		return fmt.Errorf("%w: no running containers", container.ErrNoMatchingSession)
	}

	target := running[0]
	if len(running) > 1 {
		options := make([]prompt.Option, len(running))
		for i, s := range running {
			options[i] = prompt.Option{Label: fmt.Sprintf("%-30s %s", displayLabel(s), s.Folder), Value: s.Folder}
		}
		folder, err := c.Prompt.Select("Pick a container", options)
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				return nil
			}
			return err
		}
		target, _ = container.ForFolder(running, folder)
	}

	ws := workspace{dir: target.Folder, name: displayLabel(target)}
	return c.enter(ctx, cfg, ws, Options{})
}

// pruneTargets are the containers a prune removes.
type pruneTargets struct {
	// Stopped containers whose workspace is no longer a valid project
	// folder or worktree.
	Stopped []container.Session

	// Orphans are running containers whose workspace folder is gone.
	Orphans []container.Session
}

func (t pruneTargets) empty() bool {
	return len(t.Stopped) == 0 && len(t.Orphans) == 0
}

func selectPruneTargets(sessions []container.Session, valid func(folder string) bool) pruneTargets {
	var t pruneTargets
	for _, s := range sessions {
		switch {
		case s.IsRunning() && !util.IsDir(s.Folder):
			t.Orphans = append(t.Orphans, s)
		case !s.IsRunning() && !valid(s.Folder):
			t.Stopped = append(t.Stopped, s)
		}
	}
	return t
}

func (c *Controller) printPruneTargets(t pruneTargets) {
	if len(t.Stopped) > 0 {
		fmt.Fprintln(c.Out, style.Heading("Stopped containers"))
		for _, s := range t.Stopped {
			fmt.Fprintf(c.Out, "  %-32s %s\n", s.Name, s.Folder)
		}
		fmt.Fprintln(c.Out)
	}
	if len(t.Orphans) > 0 {
		fmt.Fprintln(c.Out, style.Heading("Orphan containers (workspace missing)"))
		for _, s := range t.Orphans {
			fmt.Fprintf(c.Out, "  %-32s %s\n", s.Name, s.Folder)
		}
		fmt.Fprintln(c.Out)
	}
}

// removeContainers stops the running ones among sessions and removes all of
// them. Failures are reported and collected.
func (c *Controller) removeContainers(ctx context.Context, rt *container.Runtime, sessions []container.Session) error {
	var errs []error
	for _, s := range sessions {
		if s.IsRunning() {
			if err := rt.Stop(ctx, s.Name); err != nil {
				fmt.Fprintf(c.Out, "%s Failed to stop %s: %v\n", style.ErrorPrefix, s.Name, err)
				errs = append(errs, err)
				continue
			}
			fmt.Fprintf(c.Out, "%s Stopped %s\n", style.SuccessPrefix, s.Name)
		}
		if err := rt.Remove(ctx, s.Name); err != nil {
			fmt.Fprintf(c.Out, "%s Failed to remove %s: %v\n", style.ErrorPrefix, s.Name, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(c.Out, "%s Removed container %s\n", style.SuccessPrefix, s.Name)
	}
	return errors.Join(errs...)
}

// prune removes stale worktrees of the project and the containers left
// without a workspace. Outside a repository, or with --all, only containers
// are pruned, host-wide.
func (c *Controller) prune(ctx context.Context, opts Options) error {
	p, _, err := c.openProject(c.Cwd)
	if opts.All || errors.Is(err, git.ErrNotRepo) {
		return c.pruneAll(ctx)
	}
	if err != nil {
		return err
	}
	rt, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, p.filter())
	if err != nil {
		return err
	}

	running := make(map[string]bool)
	stopped := make(map[string]bool)
	for _, s := range sessions {
		if s.IsRunning() {
			running[filepath.Clean(s.Folder)] = true
		} else {
			stopped[filepath.Clean(s.Folder)] = true
		}
	}
	proj := p.worktreeProject()
	plan, err := p.wt.PlanPrune(ctx, proj, worktree.PruneOptions{Running: running, Stopped: stopped, BaseRef: p.cfg.DefaultBranch})
	if err != nil {
		return err
	}
	wts, err := p.wt.List(ctx, proj)
	if err != nil {
		return err
	}

	// A folder stays valid if it is the project or a valid worktree that
	// this prune keeps.
	validFolders := map[string]bool{filepath.Clean(p.root): true}
	for _, wt := range wts {
		if wt.Valid {
			validFolders[filepath.Clean(wt.Path)] = true
		}
	}
	for _, wt := range append(plan.Missing, plan.Idle...) {
		delete(validFolders, filepath.Clean(wt.Path))
	}
	targets := selectPruneTargets(sessions, func(folder string) bool { return validFolders[filepath.Clean(folder)] })

	if targets.empty() && plan.Empty() {
		fmt.Fprintln(c.Out, "Nothing to prune.")
		return nil
	}
	c.printPruneTargets(targets)
	if !plan.Empty() {
		fmt.Fprintln(c.Out, style.Heading("Stale worktrees"))
		for _, wt := range plan.Missing {
			fmt.Fprintf(c.Out, "  %-24s %s\n", wt.Name, style.Dim.Render("(directory missing, branch kept)"))
		}
		for _, wt := range plan.Idle {
			fmt.Fprintf(c.Out, "  %-24s %s\n", wt.Name, style.Dim.Render("("+wt.Branch+", no pending work)"))
		}
		fmt.Fprintln(c.Out)
	}

	ok, err := c.confirm("Remove these?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(c.Out, "Cancelled.")
		return nil
	}

	errs := []error{c.removeContainers(ctx, rt, append(targets.Orphans, targets.Stopped...))}
	res, err := p.wt.ApplyPrune(ctx, proj, plan)
	if err != nil {
		errs = append(errs, err)
	}
	for _, wt := range res.Removed {
		fmt.Fprintf(c.Out, "%s Removed worktree %s\n", style.SuccessPrefix, wt.Name)
	}
	for name, ferr := range res.Failed {
		fmt.Fprintf(c.Out, "%s Failed to remove worktree %s: %v\n", style.ErrorPrefix, name, ferr)
		errs = append(errs, ferr)
	}
	return errors.Join(errs...)
}

func (c *Controller) pruneAll(ctx context.Context) error {
	cfg, err := c.globalConfig()
	if err != nil {
		return err
	}
	rt, reg, err := c.registry(cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, container.Filter{All: true})
	if err != nil {
		return err
	}
	targets := selectPruneTargets(sessions, util.IsDir)
	if targets.empty() {
		fmt.Fprintln(c.Out, "Nothing to prune.")
		return nil
	}
	c.printPruneTargets(targets)

	ok, err := c.confirm("Remove these?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(c.Out, "Cancelled.")
		return nil
	}
	return c.removeContainers(ctx, rt, append(targets.Orphans, targets.Stopped...))
}

// destroy removes a project's containers. Worktrees and the launcher's
// .devcontainer files are removed in separately confirmed steps; the project
// directory itself is never deleted. Inside a worktree only that worktree is
// affected. --all removes every launcher container on the host.
func (c *Controller) destroy(ctx context.Context, opts Options) error {
	if opts.All {
		return c.destroyAll(ctx)
	}

	dir := c.Cwd
	if opts.Name != "" {
		abs, err := filepath.Abs(opts.Name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("path does not exist: %s", abs)
		}
		dir = abs
	}
	p, repo, err := c.openProject(dir)
	if err != nil {
		return err
	}
	rt, reg, err := c.registry(p.cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, p.filter())
	if err != nil {
		return err
	}
	wts, err := p.wt.List(ctx, p.worktreeProject())
	if err != nil {
		return err
	}

	ws := workspaceOf(p, repo)
	workspaces := []string{p.root}
	if ws.worktree != "" {
		// Scope is the one worktree.
		var mine []container.Session
		if s, ok := container.ForFolder(sessions, ws.dir); ok {
			mine = append(mine, s)
		}
		sessions = mine
		var wt []worktree.Worktree
		for _, w := range wts {
			if filepath.Clean(w.Path) == filepath.Clean(ws.dir) {
				wt = append(wt, w)
			}
		}
		wts = wt
		workspaces = nil
	}
	for _, wt := range wts {
		workspaces = append(workspaces, wt.Path)
	}

	fmt.Fprintf(c.Out, "%s %s\n\n", style.Heading("Project"), style.Info.Render(p.name()))
	var errs []error
	if err := c.destroyContainers(ctx, rt, sessions); err != nil {
		errs = append(errs, err)
	}
	if len(wts) > 0 {
		removed, err := c.destroyWorktrees(ctx, p, wts, opts.Force)
		if err != nil {
			errs = append(errs, err)
		}
		// Removed worktrees took their .devcontainer with them.
		workspaces = slicesWithout(workspaces, removed)
	}
	if err := c.destroyArtifacts(workspaces); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func slicesWithout(all []string, drop map[string]bool) []string {
	var out []string
	for _, s := range all {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}

func (c *Controller) destroyContainers(ctx context.Context, rt *container.Runtime, sessions []container.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(c.Out, "No containers found for this project.")
		return nil
	}
	fmt.Fprintln(c.Out, style.Heading("Containers to destroy"))
	for _, s := range sessions {
		fmt.Fprintf(c.Out, "  %-32s %-8s %s\n", s.Name, s.State, s.Folder)
	}
	fmt.Fprintln(c.Out)

	ok, err := c.confirm("Stop and remove these containers?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(c.Out, "Containers kept.")
		return nil
	}
	return c.removeContainers(ctx, rt, sessions)
}

// destroyWorktrees removes worktrees after confirmation and their branches
// after a second one. Without force, worktrees with uncommitted changes and
// branches with unmerged commits are kept. It returns the paths it removed.
func (c *Controller) destroyWorktrees(ctx context.Context, p *project, wts []worktree.Worktree, force bool) (map[string]bool, error) {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, style.Heading("Worktrees"))
	for _, wt := range wts {
		fmt.Fprintf(c.Out, "  %-24s %-24s %s\n", wt.Name, wt.Branch, wt.Path)
	}
	fmt.Fprintln(c.Out)

	removed := make(map[string]bool)
	ok, err := c.confirm("Also remove these worktrees?")
	if err != nil || !ok {
		if err == nil {
			fmt.Fprintln(c.Out, "Worktrees kept.")
		}
		return removed, err
	}
	deleteBranches, err := c.confirm("Also delete their branches?")
	if err != nil {
		return removed, err
	}

	var errs []error
	for _, wt := range wts {
		err := p.wt.Remove(ctx, p.worktreeProject(), wt, deleteBranches, force)
		var conflict *worktree.ConflictError
		switch {
		case errors.As(err, &conflict) && !util.IsDir(wt.Path):
			// Directory gone, branch kept.
			fmt.Fprintf(c.Out, "%s Removed worktree %s\n", style.SuccessPrefix, wt.Name)
			fmt.Fprintf(c.Out, "%s Branch %s kept: %s\n", style.WarningPrefix, wt.Branch, conflict.Reason)
			removed[wt.Path] = true
		case err != nil:
			fmt.Fprintf(c.Out, "%s Worktree %s kept: %v\n", style.ErrorPrefix, wt.Name, err)
			errs = append(errs, err)
		default:
			fmt.Fprintf(c.Out, "%s Removed worktree %s\n", style.SuccessPrefix, wt.Name)
			removed[wt.Path] = true
		}
	}
	return removed, errors.Join(errs...)
}

// destroyArtifacts removes the launcher's files from each workspace's
// .devcontainer after confirmation.
func (c *Controller) destroyArtifacts(workspaces []string) error {
	found := make(map[string][]string)
	var dirs []string
	for _, dir := range workspaces {
		files, err := devcontainer.Artifacts(dir)
		if err != nil {
			return err
		}
		if len(files) > 0 {
			found[dir] = files
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return nil
	}

	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, style.Heading("Launcher files"))
	for _, dir := range dirs {
		fmt.Fprintf(c.Out, "  %s (%d entries)\n", devcontainer.Dir(dir), len(found[dir]))
	}
	fmt.Fprintln(c.Out)

	ok, err := c.confirm("Also remove these launcher files?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(c.Out, "Launcher files kept.")
		return nil
	}
	var errs []error
	for _, dir := range dirs {
		if _, err := devcontainer.RemoveArtifacts(dir); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(c.Out, "%s Cleaned %s\n", style.SuccessPrefix, devcontainer.Dir(dir))
	}
	return errors.Join(errs...)
}

func (c *Controller) destroyAll(ctx context.Context) error {
	cfg, err := c.globalConfig()
	if err != nil {
		return err
	}
	rt, reg, err := c.registry(cfg)
	if err != nil {
		return err
	}
	sessions, err := reg.List(ctx, container.Filter{All: true})
	if err != nil {
		return err
	}
	return c.destroyContainers(ctx, rt, sessions)
}
