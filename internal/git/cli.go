package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jolo-cli/jolo/internal/runner"
)

// Errors recognised from git's stderr.
var (
	ErrBranchNotMerged   = errors.New("branch is not fully merged")
	ErrBranchCheckedOut  = errors.New("branch is checked out in another worktree")
	ErrWorktreeDirty     = errors.New("worktree contains modified or untracked files")
	ErrWorktreeNotExists = errors.New("not a registered worktree")
)

// WorktreeEntry is one record of `git worktree list --porcelain`.
type WorktreeEntry struct {
	Path     string
	Head     string
	Branch   string // short name, empty when detached
	Bare     bool
	Detached bool
	Locked   bool
	Prunable bool
}

// CLI runs git subcommands against one repository through a runner.
type CLI struct {
	r   runner.Runner
	dir string
}

// NewCLI returns a CLI rooted at dir.
func NewCLI(r runner.Runner, dir string) *CLI {
	return &CLI{r: r, dir: dir}
}

// Dir returns the directory commands run in.
func (g *CLI) Dir() string { return g.dir }

// In returns a CLI that runs in another directory of the same runner.
func (g *CLI) In(dir string) *CLI {
	return &CLI{r: g.r, dir: dir}
}

func (g *CLI) run(ctx context.Context, args ...string) (string, error) {
	res, err := g.r.Run(ctx, runner.New("git", args...).In(g.dir))
	if err != nil {
		return "", g.wrapError(err, res.Stderr, args)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// wrapError maps well-known git failures to sentinel errors.
func (g *CLI) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case strings.Contains(stderr, "not fully merged"):
		return fmt.Errorf("git %s: %w", args[0], ErrBranchNotMerged)
	case strings.Contains(stderr, "is already checked out at"),
		strings.Contains(stderr, "is already used by worktree at"):
		return fmt.Errorf("git %s: %w: %s", args[0], ErrBranchCheckedOut, stderr)
	case strings.Contains(stderr, "contains modified or untracked files"):
		return fmt.Errorf("git %s: %w", args[0], ErrWorktreeDirty)
	case strings.Contains(stderr, "is not a working tree"):
		return fmt.Errorf("git %s: %w", args[0], ErrWorktreeNotExists)
	case strings.Contains(stderr, "not a git repository"):
		return fmt.Errorf("git %s: %w", args[0], ErrNotRepo)
	}
	if stderr != "" {
		return fmt.Errorf("git %s: %s", args[0], stderr)
	}
	return fmt.Errorf("git %s: %w", args[0], err)
}

// WorktreeList returns every registered worktree, main worktree first.
func (g *CLI) WorktreeList(ctx context.Context) ([]WorktreeEntry, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeList(out), nil
}

// ParseWorktreeList parses `git worktree list --porcelain` output.
func ParseWorktreeList(out string) []WorktreeEntry {
	var entries []WorktreeEntry
	var cur *WorktreeEntry

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			cur = nil
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		if key == "worktree" {
			entries = append(entries, WorktreeEntry{Path: filepath.Clean(value)})
			cur = &entries[len(entries)-1]
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "HEAD":
			cur.Head = value
		case "branch":
			cur.Branch = strings.TrimPrefix(value, "refs/heads/")
		case "bare":
			cur.Bare = true
		case "detached":
			cur.Detached = true
		case "locked":
			cur.Locked = true
		case "prunable":
			cur.Prunable = true
		}
	}
	return entries
}

// WorktreeAdd checks out branch at path. With newBranch the branch is created
// from fromRef.
func (g *CLI) WorktreeAdd(ctx context.Context, path, branch string, newBranch bool, fromRef string) error {
	args := []string{"worktree", "add"}
	if newBranch {
		args = append(args, "-b", branch, path)
		if fromRef != "" {
			args = append(args, fromRef)
		}
	} else {
		args = append(args, path, branch)
	}
	_, err := g.run(ctx, args...)
	return err
}

// WorktreeRemove unregisters and deletes a worktree.
func (g *CLI) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.run(ctx, args...)
	return err
}

// WorktreePrune drops registry entries whose directories are gone.
func (g *CLI) WorktreePrune(ctx context.Context) error {
	_, err := g.run(ctx, "worktree", "prune")
	return err
}

// BranchDelete deletes a local branch. Without force git refuses unmerged branches.
func (g *CLI) BranchDelete(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run(ctx, "branch", flag, name)
	return err
}

// IsClean reports whether the working tree at dir has no changes, untracked
// files included. The .devcontainer directory is ignored: the launcher
// rewrites it for every workspace, so changes there are not pending work.
func (g *CLI) IsClean(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain", "--", ".", ":(exclude).devcontainer")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// CommitsAhead counts commits on head that are not reachable from base.
func (g *CLI) CommitsAhead(ctx context.Context, base, head string) (int, error) {
	out, err := g.run(ctx, "rev-list", "--count", base+".."+head)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, err)
	}
	return n, nil
}

// Init creates a repository in dir.
func (g *CLI) Init(ctx context.Context) error {
	_, err := g.run(ctx, "init")
	return err
}

// CommitAll stages everything and commits with message.
func (g *CLI) CommitAll(ctx context.Context, message string) error {
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}
