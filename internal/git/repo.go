// Package git wraps repository discovery (go-git) and the git CLI operations
// go-git does not cover, such as linked worktree management.
package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepo is returned when a path is not inside a git repository.
var ErrNotRepo = errors.New("not a git repository")

// Repo is a discovered repository.
type Repo struct {
	// Root is the main working tree root. For a linked worktree this is the
	// repository the worktree belongs to, not the worktree itself.
	Root string

	// TopLevel is the working tree root containing the discovery path.
	TopLevel string

	// CommonDir is the shared .git directory.
	CommonDir string

	repo *gogit.Repository
}

// IsLinkedWorktree reports whether discovery started inside a linked worktree.
func (r *Repo) IsLinkedWorktree() bool {
	return r.TopLevel != r.Root
}

// Discover finds the repository containing path.
func Discover(path string) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	opened, err := gogit.PlainOpenWithOptions(abs, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepo, abs)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", abs, err)
	}

	wt, err := opened.Worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %s is a bare repository", ErrNotRepo, abs)
	}
	top := wt.Filesystem.Root()

	common, err := commonDir(top)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(common)

	r := &Repo{Root: root, TopLevel: top, CommonDir: common, repo: opened}
	if r.IsLinkedWorktree() {
		// Refs are shared; open the main repository so HEAD means the project's HEAD.
		if main, err := gogit.PlainOpen(root); err == nil {
			r.repo = main
		}
	}
	return r, nil
}

// commonDir resolves the shared git directory for a working tree root.
// A linked worktree has a .git file pointing at <common>/worktrees/<name>,
// which in turn holds a "commondir" file relative to itself.
func commonDir(top string) (string, error) {
	dotgit := filepath.Join(top, ".git")
	info, err := os.Stat(dotgit)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotRepo, top)
	}
	if info.IsDir() {
		return dotgit, nil
	}

	data, err := os.ReadFile(dotgit)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", dotgit, err)
	}
	gitdir := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "gitdir:"))
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(top, gitdir)
	}

	data, err = os.ReadFile(filepath.Join(gitdir, "commondir"))
	if err != nil {
		// Not a linked worktree (e.g. a submodule); the gitdir is its own common dir.
		return filepath.Clean(gitdir), nil
	}
	common := strings.TrimSpace(string(data))
	if !filepath.IsAbs(common) {
		common = filepath.Join(gitdir, common)
	}
	return filepath.Clean(common), nil
}

// ResolveRef resolves a revision (branch, tag, hash, HEAD~n) to a commit hash.
func (r *Repo) ResolveRef(rev string) (string, error) {
	if rev == "" {
		rev = "HEAD"
	}
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rev, err)
	}
	return h.String(), nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// IsInsideRepo reports whether path is inside any git working tree.
func IsInsideRepo(path string) bool {
	_, err := Discover(path)
	return err == nil
}
