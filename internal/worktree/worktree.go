// Package worktree provisions and prunes the git worktrees that back
// per-branch containers.
//
// Worktrees live outside the project under a user-level root:
//
//	<root>/<project-slug>-<hash6>/<name>
//
// and each one checks out a branch of the same name.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/runner"
	"github.com/jolo-cli/jolo/internal/util"
)

// ErrConflict marks worktree state that cannot be repaired without losing data.
var ErrConflict = errors.New("worktree conflict")

// ErrInvalidName is returned for names git cannot use as a branch.
var ErrInvalidName = errors.New("invalid worktree name")

// ConflictError describes a worktree that was not modified because doing so
// would discard work.
type ConflictError struct {
	Name   string
	Path   string
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("worktree %s (%s): %s", e.Name, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func (e *ConflictError) Unwrap() error { return e.Err }

// Project is the repository worktrees are created for.
type Project struct {
	// Root is the main working tree root.
	Root string

	// Repo resolves refs for the project.
	Repo *git.Repo
}

// Worktree is a linked worktree of a project.
type Worktree struct {
	Name   string
	Branch string
	Path   string
	Head   string

	// Managed is true when the worktree lives under the launcher's root.
	Managed bool

	// Valid is true when the path exists and has the expected branch checked out.
	Valid bool

	// Reason explains why Valid is false.
	Reason string
}

// EnsureOptions controls Ensure.
type EnsureOptions struct {
	// Name is both the directory name and the branch name.
	Name string

	// FromRef is the starting point for a new branch. Empty means the
	// configured default branch, else HEAD.
	FromRef string

	// Recreate discards a valid worktree and builds it again.
	Recreate bool

	// Force allows discarding uncommitted changes and unmerged branches.
	Force bool
}

// Manager creates, lists and removes worktrees.
type Manager struct {
	r             runner.Runner
	root          string
	defaultBranch string
}

// NewManager returns a Manager storing worktrees under root.
func NewManager(r runner.Runner, root, defaultBranch string) *Manager {
	return &Manager{r: r, root: root, defaultBranch: defaultBranch}
}

// ProjectDir returns the directory holding all worktrees of a project.
func (m *Manager) ProjectDir(projectRoot string) string {
	name := util.Slug(filepath.Base(projectRoot))
	if name == "" {
		name = "project"
	}
	return filepath.Join(m.root, name+"-"+util.ShortHash(projectRoot, 6))
}

// Path returns the canonical path for a worktree name.
func (m *Manager) Path(projectRoot, name string) string {
	return filepath.Join(m.ProjectDir(projectRoot), name)
}

var validNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName checks that name is usable as both a directory and a branch.
func ValidateName(name string) error {
	if !validNameRe.MatchString(name) || strings.Contains(name, "..") ||
		strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, ".") || name == "HEAD" {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (m *Manager) cli(project Project) *git.CLI {
	return git.NewCLI(m.r, project.Root)
}

// List returns the project's linked worktrees, excluding the main worktree.
func (m *Manager) List(ctx context.Context, project Project) ([]Worktree, error) {
	entries, err := m.cli(project).WorktreeList(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w", err)
	}

	prefix := m.ProjectDir(project.Root) + string(filepath.Separator)
	var out []Worktree
	for _, e := range entries {
		if e.Bare || samePath(e.Path, project.Root) {
			continue
		}
		wt := Worktree{
			Name:    filepath.Base(e.Path),
			Branch:  e.Branch,
			Path:    e.Path,
			Head:    e.Head,
			Managed: strings.HasPrefix(e.Path, prefix),
		}
		wt.Valid, wt.Reason = validity(e, wt.Name)
		out = append(out, wt)
	}
	return out, nil
}

// validity applies the worktree invariant: the path exists, is registered,
// has the branch named after it checked out, and is not prunable.
func validity(e git.WorktreeEntry, name string) (bool, string) {
	switch {
	case e.Prunable:
		return false, "prunable"
	case !util.IsDir(e.Path):
		return false, "path missing"
	case e.Detached:
		return false, "detached HEAD"
	case e.Branch != name:
		return false, fmt.Sprintf("branch %q checked out, expected %q", e.Branch, name)
	}
	return true, ""
}

func findEntry(entries []git.WorktreeEntry, path string) *git.WorktreeEntry {
	for i := range entries {
		if samePath(entries[i].Path, path) {
			return &entries[i]
		}
	}
	return nil
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}

// Ensure returns a valid worktree for opts.Name, creating or repairing it as
// needed. A valid worktree is returned untouched unless opts.Recreate is set.
func (m *Manager) Ensure(ctx context.Context, project Project, opts EnsureOptions) (Worktree, error) {
	if err := ValidateName(opts.Name); err != nil {
		return Worktree{}, err
	}
	name := opts.Name
	path := m.Path(project.Root, name)
	g := m.cli(project)

	entries, err := g.WorktreeList(ctx)
	if err != nil {
		return Worktree{}, fmt.Errorf("listing worktrees: %w", err)
	}
	entry := findEntry(entries, path)

	if entry != nil && !opts.Recreate {
		if ok, _ := validity(*entry, name); ok {
			log.Debug().Str("path", path).Msg("reusing worktree")
			return Worktree{Name: name, Branch: name, Path: entry.Path, Head: entry.Head, Managed: true, Valid: true}, nil
		}
	}

	fromRef, err := m.resolveFromRef(project, opts.FromRef)
	if err != nil {
		return Worktree{}, err
	}

	if entry != nil || util.Exists(path) {
		if err := m.clear(ctx, g, name, path, entry, opts.Recreate, opts.Force); err != nil {
			return Worktree{}, err
		}
	}

	if err := m.create(ctx, project, g, name, path, fromRef); err != nil {
		return Worktree{}, err
	}

	entries, err = g.WorktreeList(ctx)
	if err != nil {
		return Worktree{}, fmt.Errorf("listing worktrees: %w", err)
	}
	wt := Worktree{Name: name, Branch: name, Path: path, Managed: true, Valid: true}
	if e := findEntry(entries, path); e != nil {
		wt.Path = e.Path
		wt.Head = e.Head
	}
	return wt, nil
}

// resolveFromRef picks the start point for a new branch and checks it exists.
func (m *Manager) resolveFromRef(project Project, fromRef string) (string, error) {
	if fromRef == "" {
		if m.defaultBranch != "" && project.Repo != nil {
			if _, err := project.Repo.ResolveRef(m.defaultBranch); err == nil {
				return m.defaultBranch, nil
			}
			log.Warn().Str("branch", m.defaultBranch).Msg("default_branch does not resolve, using HEAD")
		}
		fromRef = "HEAD"
	}
	if project.Repo != nil {
		if _, err := project.Repo.ResolveRef(fromRef); err != nil {
			return "", fmt.Errorf("invalid --from ref: %w", err)
		}
	}
	return fromRef, nil
}

// clear removes a stale or to-be-recreated worktree at path, refusing to
// discard uncommitted changes unless force is set. The branch is deleted only
// when git considers it merged; a stale worktree with unmerged commits keeps
// its branch and is checked out again, while an explicit recreate conflicts.
func (m *Manager) clear(ctx context.Context, g *git.CLI, name, path string, entry *git.WorktreeEntry, recreate, force bool) error {
	live := entry != nil && util.IsDir(path)

	if live && !force {
		clean, err := g.In(path).IsClean(ctx)
		if err != nil {
			return &ConflictError{Name: name, Path: path, Reason: "cannot determine worktree status", Err: err}
		}
		if !clean {
			return &ConflictError{Name: name, Path: path, Reason: "uncommitted changes (use --force to discard)"}
		}
	}
	if entry == nil && util.IsDir(path) && !force && !looksLikeWorktree(path) {
		return &ConflictError{Name: name, Path: path, Reason: "directory exists and is not a worktree"}
	}

	if entry != nil {
		if err := g.WorktreeRemove(ctx, path, true); err != nil && !errors.Is(err, git.ErrWorktreeNotExists) {
			log.Debug().Err(err).Str("path", path).Msg("worktree remove failed, falling back to prune")
		}
	}
	if err := g.WorktreePrune(ctx); err != nil {
		return fmt.Errorf("pruning worktree metadata: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing stale worktree directory: %w", err)
	}

	entries, err := g.WorktreeList(ctx)
	if err != nil {
		return fmt.Errorf("listing worktrees: %w", err)
	}
	if branchCheckedOut(entries, name) {
		return nil
	}
	if err := g.BranchDelete(ctx, name, force); err != nil {
		if errors.Is(err, git.ErrBranchNotMerged) {
			if recreate {
				return &ConflictError{Name: name, Path: path, Reason: "branch has unmerged commits (use --force to delete)", Err: err}
			}
			log.Info().Str("branch", name).Msg("keeping branch with unmerged commits")
			return nil
		}
		// The branch may not exist; creation decides what to do next.
		log.Debug().Err(err).Str("branch", name).Msg("branch delete skipped")
	}
	return nil
}

// looksLikeWorktree reports whether dir is empty or a leftover worktree
// checkout (has a .git file rather than a directory).
func looksLikeWorktree(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	if len(entries) == 0 {
		return true
	}
	info, err := os.Lstat(filepath.Join(dir, ".git"))
	return err == nil && info.Mode().IsRegular()
}

func branchCheckedOut(entries []git.WorktreeEntry, branch string) bool {
	for _, e := range entries {
		if e.Branch == branch {
			return true
		}
	}
	return false
}

func (m *Manager) create(ctx context.Context, project Project, g *git.CLI, name, path, fromRef string) error {
	if err := g.WorktreePrune(ctx); err != nil {
		return fmt.Errorf("pruning worktree metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating worktree directory: %w", err)
	}

	exists := project.Repo != nil && project.Repo.BranchExists(name)
	if exists {
		entries, err := g.WorktreeList(ctx)
		if err != nil {
			return fmt.Errorf("listing worktrees: %w", err)
		}
		if branchCheckedOut(entries, name) {
			return &ConflictError{Name: name, Path: path, Reason: "branch is checked out in another worktree", Err: git.ErrBranchCheckedOut}
		}
	}

	if err := g.WorktreeAdd(ctx, path, name, !exists, fromRef); err != nil {
		if errors.Is(err, git.ErrBranchCheckedOut) {
			return &ConflictError{Name: name, Path: path, Reason: "branch is checked out in another worktree", Err: err}
		}
		return fmt.Errorf("creating worktree %s: %w", name, err)
	}
	log.Debug().Str("path", path).Str("from", fromRef).Msg("created worktree")
	return nil
}

// Remove deletes a worktree and optionally its branch. Uncommitted changes
// abort the removal unless force is set.
func (m *Manager) Remove(ctx context.Context, project Project, wt Worktree, deleteBranch, force bool) error {
	g := m.cli(project)
	if util.IsDir(wt.Path) && !force {
		clean, err := g.In(wt.Path).IsClean(ctx)
		if err == nil && !clean {
			return &ConflictError{Name: wt.Name, Path: wt.Path, Reason: "uncommitted changes (use --force to discard)"}
		}
	}

	if err := g.WorktreeRemove(ctx, wt.Path, true); err != nil && !errors.Is(err, git.ErrWorktreeNotExists) {
		log.Debug().Err(err).Str("path", wt.Path).Msg("worktree remove failed, falling back to prune")
	}
	if err := g.WorktreePrune(ctx); err != nil {
		return fmt.Errorf("pruning worktree metadata: %w", err)
	}
	if err := os.RemoveAll(wt.Path); err != nil {
		return fmt.Errorf("removing worktree directory: %w", err)
	}

	if deleteBranch && wt.Branch != "" {
		if err := g.BranchDelete(ctx, wt.Branch, force); err != nil {
			if errors.Is(err, git.ErrBranchNotMerged) {
				return &ConflictError{Name: wt.Name, Path: wt.Path, Reason: "branch has unmerged commits, kept", Err: err}
			}
			return fmt.Errorf("deleting branch %s: %w", wt.Branch, err)
		}
	}
	return nil
}
