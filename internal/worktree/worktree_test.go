package worktree

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/logging"
	"github.com/jolo-cli/jolo/internal/runner"
	"github.com/jolo-cli/jolo/internal/testutil"
)

// recorder wraps the real runner and remembers every git subcommand.
type recorder struct {
	runner.Exec
	mu   sync.Mutex
	cmds []string
}

func (r *recorder) Run(ctx context.Context, c runner.Command) (runner.Result, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, strings.Join(c.Args, " "))
	r.mu.Unlock()
	return r.Exec.Run(ctx, c)
}

func (r *recorder) reset() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.cmds
	r.cmds = nil
	return out
}

func setup(t *testing.T) (*Manager, *recorder, Project) {
	t.Helper()
	testutil.RequireBinary(t, "git")
	logging.Discard()

	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gitRun(t, root, "init", "-q", "-b", "main")
	gitRun(t, root, "config", "user.email", "test@example.com")
	gitRun(t, root, "config", "user.name", "Test")
	gitRun(t, root, "config", "commit.gpgsign", "false")
	writeFile(t, filepath.Join(root, "README.md"), "hello\n")
	gitRun(t, root, "add", ".")
	gitRun(t, root, "commit", "-q", "-m", "initial")

	repo, err := git.Discover(root)
	if err != nil {
		t.Fatal(err)
	}
	wtRoot, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return NewManager(rec, wtRoot, ""), rec, Project{Root: root, Repo: repo}
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return string(out)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureIdempotent(t *testing.T) {
	m, rec, project := setup(t)
	ctx := context.Background()

	first, err := m.Ensure(ctx, project, EnsureOptions{Name: "brave-fox"})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first.Path != m.Path(project.Root, "brave-fox") {
		t.Errorf("Path = %q, want canonical path", first.Path)
	}
	writeFile(t, filepath.Join(first.Path, "wip.txt"), "uncommitted\n")

	refsBefore := gitRun(t, project.Root, "for-each-ref")
	listBefore := gitRun(t, project.Root, "worktree", "list", "--porcelain")
	rec.reset()

	second, err := m.Ensure(ctx, project, EnsureOptions{Name: "brave-fox"})
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if second.Path != first.Path {
		t.Errorf("path changed: %q -> %q", first.Path, second.Path)
	}
	for _, c := range rec.reset() {
		if !strings.HasPrefix(c, "worktree list") && !strings.HasPrefix(c, "status") {
			t.Errorf("second Ensure ran mutating git command %q", c)
		}
	}
	if refs := gitRun(t, project.Root, "for-each-ref"); refs != refsBefore {
		t.Errorf("refs changed:\n%s\nvs\n%s", refsBefore, refs)
	}
	if list := gitRun(t, project.Root, "worktree", "list", "--porcelain"); list != listBefore {
		t.Errorf("worktree list changed")
	}
	if _, err := os.Stat(filepath.Join(first.Path, "wip.txt")); err != nil {
		t.Errorf("uncommitted file lost: %v", err)
	}
}

func TestEnsureRecreateRefusesDirtyWorktree(t *testing.T) {
	m, _, project := setup(t)
	ctx := context.Background()

	wt, err := m.Ensure(ctx, project, EnsureOptions{Name: "calm-oak"})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(wt.Path, "wip.txt"), "keep me\n")

	_, err = m.Ensure(ctx, project, EnsureOptions{Name: "calm-oak", Recreate: true})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Name != "calm-oak" {
		t.Errorf("err = %#v", err)
	}
	if _, err := os.Stat(filepath.Join(wt.Path, "wip.txt")); err != nil {
		t.Errorf("dirty file removed despite conflict: %v", err)
	}

	if _, err := m.Ensure(ctx, project, EnsureOptions{Name: "calm-oak", Recreate: true, Force: true}); err != nil {
		t.Fatalf("forced recreate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wt.Path, "wip.txt")); !os.IsNotExist(err) {
		t.Errorf("forced recreate kept dirty file: %v", err)
	}
}

func TestEnsureRepairsDeletedDirectory(t *testing.T) {
	m, _, project := setup(t)
	ctx := context.Background()

	wt, err := m.Ensure(ctx, project, EnsureOptions{Name: "keen-hawk"})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(wt.Path); err != nil {
		t.Fatal(err)
	}

	again, err := m.Ensure(ctx, project, EnsureOptions{Name: "keen-hawk"})
	if err != nil {
		t.Fatalf("Ensure after delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(again.Path, "README.md")); err != nil {
		t.Errorf("worktree not recreated: %v", err)
	}
}

func TestEnsureKeepsUnmergedBranchOfStaleWorktree(t *testing.T) {
	m, _, project := setup(t)
	ctx := context.Background()

	wt, err := m.Ensure(ctx, project, EnsureOptions{Name: "wild-wolf"})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(wt.Path, "feature.txt"), "work\n")
	gitRun(t, wt.Path, "add", ".")
	gitRun(t, wt.Path, "commit", "-q", "-m", "feature")
	if err := os.RemoveAll(wt.Path); err != nil {
		t.Fatal(err)
	}

	again, err := m.Ensure(ctx, project, EnsureOptions{Name: "wild-wolf"})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := os.Stat(filepath.Join(again.Path, "feature.txt")); err != nil {
		t.Errorf("unmerged commit lost: %v", err)
	}
}

func TestEnsureInvalidFromRef(t *testing.T) {
	m, _, project := setup(t)
	_, err := m.Ensure(context.Background(), project, EnsureOptions{Name: "fair-fox", FromRef: "no-such-ref"})
	if err == nil {
		t.Fatal("expected error for unresolvable ref")
	}
	if _, statErr := os.Stat(m.Path(project.Root, "fair-fox")); !os.IsNotExist(statErr) {
		t.Error("worktree directory created despite bad ref")
	}
}

func TestEnsureRejectsBadName(t *testing.T) {
	m, _, project := setup(t)
	for _, name := range []string{"", "-x", "a b", "../up", "x.lock", "HEAD"} {
		if _, err := m.Ensure(context.Background(), project, EnsureOptions{Name: name}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Ensure(%q) err = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestPruneRemovesOnlyMissing(t *testing.T) {
	m, _, project := setup(t)
	ctx := context.Background()

	gone, err := m.Ensure(ctx, project, EnsureOptions{Name: "swift-river"})
	if err != nil {
		t.Fatal(err)
	}
	kept, err := m.Ensure(ctx, project, EnsureOptions{Name: "bold-cedar"})
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(kept.Path, "wip.txt"), "in progress\n")

	if err := os.RemoveAll(gone.Path); err != nil {
		t.Fatal(err)
	}

	res, err := m.Prune(ctx, project, PruneOptions{})
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0].Name != "swift-river" {
		t.Errorf("Removed = %+v, want only swift-river", res.Removed)
	}

	wts, err := m.List(ctx, project)
	if err != nil {
		t.Fatal(err)
	}
	if len(wts) != 1 || wts[0].Name != "bold-cedar" || !wts[0].Valid {
		t.Errorf("remaining = %+v", wts)
	}
	if _, err := os.Stat(filepath.Join(kept.Path, "wip.txt")); err != nil {
		t.Errorf("valid worktree touched: %v", err)
	}

	// Idempotent: nothing left to do.
	res, err = m.Prune(ctx, project, PruneOptions{})
	if err != nil || len(res.Removed) != 0 {
		t.Errorf("second Prune = %+v, %v", res, err)
	}
}

func TestPruneIdleStoppedWorktree(t *testing.T) {
	m, _, project := setup(t)
	ctx := context.Background()

	idle, _ := m.Ensure(ctx, project, EnsureOptions{Name: "cool-bear"})
	running, _ := m.Ensure(ctx, project, EnsureOptions{Name: "warm-panda"})
	busy, _ := m.Ensure(ctx, project, EnsureOptions{Name: "wise-falcon"})
	writeFile(t, filepath.Join(busy.Path, "new.txt"), "x\n")

	opts := PruneOptions{
		Running: map[string]bool{running.Path: true},
		Stopped: map[string]bool{idle.Path: true, busy.Path: true},
	}
	plan, err := m.PlanPrune(ctx, project, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Idle) != 1 || plan.Idle[0].Name != "cool-bear" || len(plan.Missing) != 0 {
		t.Fatalf("plan = %+v", plan)
	}
	if _, err := m.ApplyPrune(ctx, project, plan); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(idle.Path); !os.IsNotExist(err) {
		t.Error("idle worktree still present")
	}
	for _, p := range []string{running.Path, busy.Path} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed: %v", p, err)
		}
	}
}

func TestSpawnNames(t *testing.T) {
	got := SpawnNames(3, "auth", nil, nil)
	want := []string{"auth-1", "auth-2", "auth-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SpawnNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	rng := rand.New(rand.NewPCG(1, 2))
	taken := map[string]bool{"brave-panda": true}
	names := SpawnNames(20, "", taken, rng)
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] || taken[n] {
			t.Errorf("duplicate or taken name %q", n)
		}
		seen[n] = true
		if err := ValidateName(n); err != nil {
			t.Errorf("generated invalid name %q", n)
		}
	}
}

func TestUniqueNameFallback(t *testing.T) {
	taken := make(map[string]bool)
	for _, a := range adjectives {
		for _, n := range nouns {
			taken[a+"-"+n] = true
		}
	}
	name := UniqueName(nil, taken)
	if !strings.HasPrefix(name, "spawn-") || len(name) != len("spawn-")+8 {
		t.Errorf("fallback name = %q", name)
	}
}
