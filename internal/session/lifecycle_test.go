package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/devcontainer"
	"github.com/jolo-cli/jolo/internal/prompt"
	"github.com/jolo-cli/jolo/internal/runner"
	"github.com/jolo-cli/jolo/internal/spawn"
	"github.com/jolo-cli/jolo/internal/testutil"
	"github.com/jolo-cli/jolo/internal/tmux"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// initRepo creates a repository with one commit and returns its resolved root.
func initRepo(t *testing.T) string {
	t.Helper()
	testutil.RequireBinary(t, "git")

	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(base, "app")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init", "-q", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"config", "commit.gpgsign", "false"},
	} {
		gitRun(t, dir, args...)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

// psLine renders one row of the registry's ps query.
func psLine(name, folder, state, project string, port int) string {
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t<no value>\t<no value>\n", name, folder, state, project, port)
}

// psSpawnLine is psLine for a spawned container with agent and batch labels.
func psSpawnLine(name, folder, state, project string, port int, agent, batch string) string {
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%d\t%s\t%s\n", name, folder, state, project, port, agent, batch)
}

// useRealGit sends git commands to the real binary and keeps its identity
// and config independent of the machine running the tests.
func useRealGit(t *testing.T, h *harness) {
	t.Helper()
	testutil.RequireBinary(t, "git")
	empty := filepath.Join(t.TempDir(), "gitconfig")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GIT_CONFIG_GLOBAL", empty)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	for _, k := range []string{"GIT_AUTHOR_NAME", "GIT_COMMITTER_NAME"} {
		t.Setenv(k, "Test")
	}
	for _, k := range []string{"GIT_AUTHOR_EMAIL", "GIT_COMMITTER_EMAIL"} {
		t.Setenv(k, "test@example.com")
	}
	h.fake.Delegate("git", runner.NewExec())
}

func readConfig(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(devcontainer.Dir(dir), "devcontainer.json"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

type harness struct {
	ctl    *Controller
	fake   *testutil.FakeRunner
	prompt *prompt.Scripted
	out    *bytes.Buffer
	wtRoot string
}

func newHarness(t *testing.T, cwd string) *harness {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
	t.Setenv("TMUX", "")

	h := &harness{
		fake:   testutil.NewFakeRunner(),
		prompt: &prompt.Scripted{},
		out:    &bytes.Buffer{},
		wtRoot: filepath.Join(tmp, "worktrees"),
	}
	h.ctl = &Controller{
		Runner:  h.fake,
		Prompt:  h.prompt,
		Out:     h.out,
		Cwd:     cwd,
		Home:    filepath.Join(tmp, "home"),
		LockDir: filepath.Join(tmp, "lock"),
		LoadConfig: func(string) (*config.Config, error) {
			cfg := config.Default()
			cfg.WorktreeRoot = h.wtRoot
			return cfg, nil
		},
	}
	return h
}

func TestStepError(t *testing.T) {
	if stepError(StepPort, nil) != nil {
		t.Error("stepError(nil) should be nil")
	}
	err := fmt.Errorf("wrapped: %w", stepError(StepWorktree, worktree.ErrConflict))
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepWorktree {
		t.Fatalf("errors.As = %v", err)
	}
	if !errors.Is(err, worktree.ErrConflict) {
		t.Error("StepError should unwrap to its cause")
	}
	if !strings.HasPrefix(se.Error(), StepWorktree+": ") {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestOptionsAttaches(t *testing.T) {
	tests := []struct {
		opts Options
		want bool
	}{
		{Options{Mode: ModeStart}, true},
		{Options{Mode: ModeStart, Detach: true}, false},
		{Options{Mode: ModeStart, Prompt: "fix it"}, false},
		{Options{Mode: ModeStart, Shell: true}, false},
		{Options{Mode: ModeTree, Run: "make test"}, false},
		{Options{Mode: ModeAttach}, true},
		{Options{Mode: ModeSwitch}, true},
		{Options{Mode: ModeSync}, false},
		{Options{Mode: ModeSync, New: true}, true},
		{Options{Mode: ModeStop}, false},
		{Options{Mode: ModeList, All: true}, false},
		{Options{Mode: ModePrune}, false},
		{Options{Mode: ModeDestroy}, false},
		{Options{Mode: ModeSpawn, Prompt: "fix it"}, true},
		{Options{Mode: ModeSpawn, Detach: true}, false},
	}
	for _, tt := range tests {
		if got := tt.opts.attaches(); got != tt.want {
			t.Errorf("%+v attaches() = %v, want %v", tt.opts, got, tt.want)
		}
	}
}

func TestNestedTmuxGuard(t *testing.T) {
	h := newHarness(t, t.TempDir())
	t.Setenv("TMUX", "/tmp/tmux-1000/default,1,0")

	err := h.ctl.Run(context.Background(), Options{Mode: ModeStart})
	if !errors.Is(err, tmux.ErrNested) {
		t.Errorf("start inside tmux = %v, want ErrNested", err)
	}
	if len(h.fake.Calls()) != 0 {
		t.Errorf("nested start ran commands: %v", h.fake.Calls())
	}

	// Detached runs do not attach, so the guard does not apply.
	err = h.ctl.Run(context.Background(), Options{Mode: ModeStart, Detach: true})
	if errors.Is(err, tmux.ErrNested) {
		t.Error("detached start should not be refused inside tmux")
	}
}

func TestStartReusesPortAndSkipsRunningContainer(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Provide("docker", "devcontainer").
		Stdout("docker ps", psLine("app-abc123", root, "running", root, 4007))

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeStart, Detach: true}); err != nil {
		t.Fatalf("start: %v\n%s", err, h.out)
	}
	if h.fake.CalledWith("devcontainer up") {
		t.Error("running container should not be brought up again")
	}

	data, err := os.ReadFile(filepath.Join(devcontainer.Dir(root), "devcontainer.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "jolo.port=4007") {
		t.Errorf("devcontainer.json does not carry the existing port:\n%s", data)
	}
	if !strings.Contains(h.out.String(), "Container started") {
		t.Errorf("output = %q", h.out)
	}
}

func TestStartBringsUpStoppedContainer(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Provide("docker", "devcontainer").
		Fail("devcontainer exec", 1, "container not running")

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeStart, Detach: true, New: true}); err != nil {
		t.Fatalf("start: %v\n%s", err, h.out)
	}
	if !h.fake.CalledWith("devcontainer up --workspace-folder " + root + " --remove-existing-container") {
		t.Errorf("calls = %v", h.fake.Calls())
	}
}

func TestStartRecreatesContainerWhosePortWasTaken(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Provide("docker", "devcontainer").
		Stdout("docker ps", psLine("app-old", root, "exited", root, 4000)+
			psLine("other-def456", "/home/u/other", "running", "/home/u/other", 4000)).
		Fail("devcontainer exec", 1, "container not running")

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeStart, Detach: true}); err != nil {
		t.Fatalf("start: %v\n%s", err, h.out)
	}
	if !h.fake.CalledWith("devcontainer up --workspace-folder " + root + " --remove-existing-container") {
		t.Errorf("container on a taken port must be recreated: %v", h.fake.Calls())
	}
	if cfg := readConfig(t, root); !strings.Contains(cfg, "jolo.port=4001") {
		t.Errorf("devcontainer.json does not carry the new port:\n%s", cfg)
	}
}

func TestStartKeepsSpawnLabels(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	wtDir := worktree.NewManager(nil, h.wtRoot, "").Path(root, "auth-1")
	h.fake.Provide("docker", "devcontainer").
		Stdout("docker ps", psSpawnLine("app-auth-1", wtDir, "running", root, 4003, "gemini", "b1"))
	if err := os.MkdirAll(wtDir, 0755); err != nil {
		t.Fatal(err)
	}

	p, err := h.ctl.newProject(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	ws := workspace{dir: wtDir, name: "auth-1", worktree: "auth-1"}
	if err := h.ctl.up(context.Background(), p, ws, Options{Mode: ModeStart, Detach: true}); err != nil {
		t.Fatalf("up: %v\n%s", err, h.out)
	}
	cfg := readConfig(t, wtDir)
	for _, want := range []string{"jolo.port=4003", "jolo.agent=gemini", "jolo.batch=b1"} {
		if !strings.Contains(cfg, want) {
			t.Errorf("devcontainer.json lacks %s:\n%s", want, cfg)
		}
	}
	if h.fake.CalledWith("devcontainer up") {
		t.Error("running container should be reused")
	}
}

func TestTreeStartsWorktreeWithGitMount(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	useRealGit(t, h)
	h.fake.Provide("docker", "devcontainer").
		Fail("devcontainer exec", 1, "container not running")

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeTree, Name: "fix-auth", Detach: true}); err != nil {
		t.Fatalf("tree: %v\n%s", err, h.out)
	}
	wtDir := worktree.NewManager(nil, h.wtRoot, "").Path(root, "fix-auth")
	if _, err := os.Stat(filepath.Join(wtDir, "README.md")); err != nil {
		t.Fatalf("worktree not checked out: %v", err)
	}
	if !h.fake.CalledWith("devcontainer up --workspace-folder " + wtDir) {
		t.Errorf("calls = %v", h.fake.Calls())
	}
	cfg := readConfig(t, wtDir)
	common := filepath.Join(root, ".git")
	if !strings.Contains(cfg, "source="+common+",target="+common) {
		t.Errorf("worktree config lacks the git common dir mount:\n%s", cfg)
	}
	if !strings.Contains(cfg, "jolo.port=4000") {
		t.Errorf("worktree config lacks its port:\n%s", cfg)
	}
}

func TestTreeNewRecreatesWorktree(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	useRealGit(t, h)
	h.fake.Provide("docker", "devcontainer").
		Fail("devcontainer exec", 1, "container not running")

	ctx := context.Background()
	opts := Options{Mode: ModeTree, Name: "fix-auth", Detach: true}
	if err := h.ctl.Run(ctx, opts); err != nil {
		t.Fatalf("tree: %v\n%s", err, h.out)
	}
	wtDir := worktree.NewManager(nil, h.wtRoot, "").Path(root, "fix-auth")
	wip := filepath.Join(wtDir, "wip.txt")
	if err := os.WriteFile(wip, []byte("draft\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts.New = true
	err := h.ctl.Run(ctx, opts)
	if !errors.Is(err, worktree.ErrConflict) {
		t.Fatalf("recreate of a dirty worktree = %v, want ErrConflict", err)
	}
	if _, err := os.Stat(wip); err != nil {
		t.Fatal("refused recreate must keep uncommitted work")
	}

	opts.Force = true
	if err := h.ctl.Run(ctx, opts); err != nil {
		t.Fatalf("forced recreate: %v\n%s", err, h.out)
	}
	if _, err := os.Stat(wip); !os.IsNotExist(err) {
		t.Errorf("forced recreate kept uncommitted file: %v", err)
	}
	if !h.fake.CalledWith("devcontainer up --workspace-folder " + wtDir + " --remove-existing-container") {
		t.Errorf("--new should replace the container: %v", h.fake.Calls())
	}
}

func TestCreateThenDestroy(t *testing.T) {
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, base)
	useRealGit(t, h)
	h.fake.Provide("docker", "devcontainer")
	ctx := context.Background()

	if err := h.ctl.Run(ctx, Options{Mode: ModeCreate, Name: "api", Languages: "go", Detach: true}); err != nil {
		t.Fatalf("create: %v\n%s", err, h.out)
	}
	dir := filepath.Join(base, "api")
	gitRun(t, dir, "rev-parse", "--verify", "HEAD")
	if !devcontainer.Exists(dir) {
		t.Fatal("create did not synthesize .devcontainer")
	}
	if !h.fake.CalledWith("devcontainer up --workspace-folder " + dir + " --remove-existing-container") {
		t.Errorf("create should launch a fresh container: %v", h.fake.Calls())
	}
	if !h.fake.CalledWith("devcontainer exec --workspace-folder " + dir + " sh -c") {
		t.Errorf("init commands not run: %v", h.fake.Calls())
	}

	name := container.NameFor(dir, "", "")
	h.ctl.Cwd = dir
	h.fake.Stdout("docker ps", psLine(name, dir, "running", dir, 4000))
	h.prompt.Confirms = []bool{true, true}
	if err := h.ctl.Run(ctx, Options{Mode: ModeDestroy}); err != nil {
		t.Fatalf("destroy: %v\n%s", err, h.out)
	}
	if !h.fake.CalledWith("docker stop "+name) || !h.fake.CalledWith("docker rm "+name) {
		t.Errorf("container not removed: %v", h.fake.Calls())
	}
	artifacts, err := devcontainer.Artifacts(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 0 {
		t.Errorf("launcher files left behind: %v", artifacts)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Error("destroy must keep the project")
	}
}

func TestStartOutsideRepo(t *testing.T) {
	h := newHarness(t, t.TempDir())
	err := h.ctl.Run(context.Background(), Options{Mode: ModeStart, Detach: true})
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepResolve {
		t.Fatalf("start outside a repo = %v", err)
	}
	if !strings.Contains(err.Error(), "jolo init") {
		t.Errorf("error should suggest init: %v", err)
	}
}

func TestStopNothingRunning(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Provide("docker").
		Stdout("docker ps", psLine("app-abc123", root, "exited", root, 4000))

	err := h.ctl.Run(context.Background(), Options{Mode: ModeStop})
	if !errors.Is(err, container.ErrNoMatchingSession) {
		t.Errorf("stop = %v, want ErrNoMatchingSession", err)
	}
	if h.fake.CalledWith("docker stop") {
		t.Error("nothing should be stopped")
	}
}

func TestStopAllStopsWorktreesFirst(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	wtDir := worktree.NewManager(nil, h.wtRoot, "").Path(root, "brave-fox")
	h.fake.Provide("docker").
		Stdout("docker ps", psLine("app-abc123", root, "running", root, 4000)+
			psLine("app-brave-fox", wtDir, "running", root, 4001))

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeStop, All: true}); err != nil {
		t.Fatalf("stop --all: %v", err)
	}
	var stops []string
	for _, c := range h.fake.Calls() {
		if strings.HasPrefix(c, "docker stop") {
			stops = append(stops, c)
		}
	}
	want := []string{"docker stop app-brave-fox", "docker stop app-abc123"}
	if strings.Join(stops, ";") != strings.Join(want, ";") {
		t.Errorf("stops = %v, want %v", stops, want)
	}
}

func TestAttachNotRunning(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Fail("devcontainer exec", 1, "no container")

	err := h.ctl.Run(context.Background(), Options{Mode: ModeAttach})
	if !errors.Is(err, container.ErrNoMatchingSession) {
		t.Errorf("attach = %v, want ErrNoMatchingSession", err)
	}
}

func TestSyncConflictDeclined(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)

	// No runtime: sync still regenerates config.
	if err := h.ctl.Run(context.Background(), Options{Mode: ModeSync}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	path := filepath.Join(devcontainer.Dir(root), "devcontainer.json")
	edited := []byte(`{"name": "mine"}`)
	if err := os.WriteFile(path, edited, 0644); err != nil {
		t.Fatal(err)
	}

	h.prompt.Confirms = []bool{false}
	err := h.ctl.Run(context.Background(), Options{Mode: ModeSync})
	if !errors.Is(err, devcontainer.ErrSyncConflict) {
		t.Fatalf("sync = %v, want ErrSyncConflict", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, edited) {
		t.Error("declined sync overwrote the edited file")
	}

	h.prompt.Confirms = []bool{true}
	if err := h.ctl.Run(context.Background(), Options{Mode: ModeSync}); err != nil {
		t.Fatalf("confirmed sync: %v", err)
	}
	data, _ = os.ReadFile(path)
	if bytes.Equal(data, edited) {
		t.Error("confirmed sync kept the edited file")
	}
}

func TestDestroyDeclinedRemovesNothing(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Provide("docker").
		Stdout("docker ps", psLine("app-abc123", root, "running", root, 4000))
	h.prompt.Confirms = []bool{false}

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeDestroy}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if h.fake.CalledWith("docker stop") || h.fake.CalledWith("docker rm") {
		t.Errorf("declined destroy touched containers: %v", h.fake.Calls())
	}
	if len(h.prompt.Asked) != 1 {
		t.Errorf("asked = %v", h.prompt.Asked)
	}
	if _, err := os.Stat(root); err != nil {
		t.Error("project directory must survive destroy")
	}
}

func TestDestroyRemovesContainersAndLauncherFiles(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	if err := h.ctl.Run(context.Background(), Options{Mode: ModeSync}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	h.fake.Provide("docker").
		Stdout("docker ps", psLine("app-abc123", root, "running", root, 4000))
	h.prompt.Confirms = []bool{true, true}
	if err := h.ctl.Run(context.Background(), Options{Mode: ModeDestroy}); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if !h.fake.CalledWith("docker stop app-abc123") || !h.fake.CalledWith("docker rm app-abc123") {
		t.Errorf("calls = %v", h.fake.Calls())
	}
	for _, name := range []string{"devcontainer.json", ".jolo-manifest.json"} {
		if _, err := os.Stat(filepath.Join(devcontainer.Dir(root), name)); !os.IsNotExist(err) {
			t.Errorf("%s survived destroy: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "README.md")); err != nil {
		t.Error("project files must survive destroy")
	}
}

func TestPruneNothingToDo(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	h.fake.Provide("docker").
		Stdout("docker ps", psLine("app-abc123", root, "running", root, 4000))

	if err := h.ctl.Run(context.Background(), Options{Mode: ModePrune}); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(h.out.String(), "Nothing to prune") {
		t.Errorf("output = %q", h.out)
	}
	if len(h.prompt.Asked) != 0 {
		t.Errorf("prune asked %v with nothing to remove", h.prompt.Asked)
	}
}

func TestPruneAllRemovesOrphans(t *testing.T) {
	h := newHarness(t, t.TempDir())
	gone := filepath.Join(t.TempDir(), "gone")
	h.fake.Provide("docker").
		Stdout("docker ps", psLine("gone-1", gone, "running", "", 4000))
	h.prompt.Confirms = []bool{true}

	if err := h.ctl.Run(context.Background(), Options{Mode: ModePrune, All: true}); err != nil {
		t.Fatalf("prune --all: %v", err)
	}
	if !h.fake.CalledWith("docker stop gone-1") || !h.fake.CalledWith("docker rm gone-1") {
		t.Errorf("calls = %v", h.fake.Calls())
	}
}

func TestSwitchSelectsContainer(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	h := newHarness(t, t.TempDir())
	h.fake.Provide("docker").
		Stdout("docker ps", psLine("a-1", a, "running", a, 4000)+psLine("b-1", b, "running", b, 4001))
	h.prompt.Selects = []string{b}

	if err := h.ctl.Run(context.Background(), Options{Mode: ModeSwitch}); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !h.fake.CalledWith("devcontainer exec --workspace-folder " + b + " sh -c") {
		t.Errorf("calls = %v", h.fake.Calls())
	}
	if h.fake.CalledWith("devcontainer exec --workspace-folder " + a) {
		t.Error("attached to the container that was not picked")
	}
}

func TestSwitchNothingRunning(t *testing.T) {
	h := newHarness(t, t.TempDir())
	h.fake.Provide("docker")
	err := h.ctl.Run(context.Background(), Options{Mode: ModeSwitch})
	if !errors.Is(err, container.ErrNoMatchingSession) {
		t.Errorf("switch = %v, want ErrNoMatchingSession", err)
	}
}

func TestSpawnRecreatesStoppedContainerOnNewPort(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	dir := worktree.NewManager(nil, h.wtRoot, "").Path(root, "auth-1")
	h.fake.Provide("docker", "devcontainer").
		Stdout("docker ps", psSpawnLine("app-auth-1", dir, "exited", root, 4000, "claude", "old")+
			psLine("other-def456", "/home/u/other", "running", "/home/u/other", 4000))

	err := h.ctl.Run(context.Background(), Options{Mode: ModeSpawn, Spawn: 1, Prefix: "auth", Detach: true})
	if err != nil {
		t.Fatalf("spawn: %v\n%s", err, h.out)
	}
	if !h.fake.CalledWith("devcontainer up --workspace-folder " + dir + " --remove-existing-container") {
		t.Errorf("stopped container on an old port must be recreated: %v", h.fake.Calls())
	}
	if cfg := readConfig(t, dir); !strings.Contains(cfg, "jolo.port=4001") {
		t.Errorf("config lacks the allocated port:\n%s", cfg)
	}
}

func TestSpawnRefusesRunningInstance(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	dir := worktree.NewManager(nil, h.wtRoot, "").Path(root, "auth-1")
	h.fake.Provide("docker", "devcontainer").
		Stdout("docker ps", psSpawnLine("app-auth-1", dir, "running", root, 4000, "claude", "old"))

	err := h.ctl.Run(context.Background(), Options{Mode: ModeSpawn, Spawn: 1, Prefix: "auth", Detach: true})
	if err == nil {
		t.Fatal("spawn over a running instance should fail")
	}
	if h.fake.CalledWith("devcontainer up") {
		t.Errorf("running instance was relaunched: %v", h.fake.Calls())
	}
}

func TestSpawnPartialFailure(t *testing.T) {
	root := initRepo(t)
	h := newHarness(t, root)
	m := worktree.NewManager(nil, h.wtRoot, "")
	second := m.Path(root, "auth-2")
	h.fake.Provide("docker", "devcontainer").
		Fail("devcontainer up --workspace-folder "+second, 1, "image build failed")

	err := h.ctl.Run(context.Background(), Options{Mode: ModeSpawn, Spawn: 2, Prefix: "auth", Detach: true})
	if !errors.Is(err, spawn.ErrPartialFailure) {
		t.Fatalf("spawn = %v, want ErrPartialFailure", err)
	}
	var pe *spawn.PartialError
	if !errors.As(err, &pe) || pe.Total != 2 || len(pe.Failed) != 1 {
		t.Fatalf("partial error = %#v", pe)
	}
	if got := pe.Failed[0]; got.Instance.Name != "auth-2" || got.Stage != spawn.StageLaunch {
		t.Errorf("failed = %s at %s", got.Instance.Name, got.Stage)
	}

	for i, name := range []string{"auth-1", "auth-2"} {
		data, err := os.ReadFile(filepath.Join(devcontainer.Dir(m.Path(root, name)), "devcontainer.json"))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if want := fmt.Sprintf("jolo.port=%d", 4000+i); !strings.Contains(string(data), want) {
			t.Errorf("%s config lacks %s", name, want)
		}
	}
	if h.fake.CalledWith("tmux") {
		t.Error("detached spawn should not open a host tmux session")
	}
}
