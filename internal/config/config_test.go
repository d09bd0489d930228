package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/logging"
	"github.com/jolo-cli/jolo/internal/testutil"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BasePort != 4000 {
		t.Errorf("BasePort = %d, want 4000", cfg.BasePort)
	}
	if !reflect.DeepEqual(cfg.Agents, []string{"claude", "gemini", "codex"}) {
		t.Errorf("Agents = %v", cfg.Agents)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromLayering(t *testing.T) {
	logging.Discard()
	global := t.TempDir()
	project := t.TempDir()

	writeFile(t, filepath.Join(global, constants.FileGlobalConfig), `
base_image = "example/global:1"
base_port = 5000
port_range_end = 6000
agents = ["claude", "gemini"]

[agent_commands]
claude = "claude --global"
`)
	writeFile(t, filepath.Join(project, constants.FileProjectConfig), `
base_image = "example/project:2"

[agent_commands]
gemini = "gemini --project"
`)

	cfg, err := LoadFrom(global, project)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.BaseImage != "example/project:2" {
		t.Errorf("BaseImage = %q, project file should win", cfg.BaseImage)
	}
	if cfg.BasePort != 5000 {
		t.Errorf("BasePort = %d, want 5000 from global", cfg.BasePort)
	}
	if !reflect.DeepEqual(cfg.Agents, []string{"claude", "gemini"}) {
		t.Errorf("Agents = %v", cfg.Agents)
	}
	if got := cfg.AgentCommand("claude"); got != "claude --global" {
		t.Errorf("claude command = %q", got)
	}
	if got := cfg.AgentCommand("gemini"); got != "gemini --project" {
		t.Errorf("gemini command = %q", got)
	}
	if got := cfg.AgentCommand("codex"); got != "codex" {
		t.Errorf("codex command = %q, default should survive map merge", got)
	}
	if len(cfg.Sources) != 2 {
		t.Errorf("Sources = %v, want both files", cfg.Sources)
	}
}

func TestLoadFromMissingFiles(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.BaseImage != Default().BaseImage {
		t.Errorf("BaseImage = %q, want default", cfg.BaseImage)
	}
	if len(cfg.Sources) != 0 {
		t.Errorf("Sources = %v, want none", cfg.Sources)
	}
}

func TestLoadFromInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"syntax", "base_port = ", "parsing config"},
		{"port order", "base_port = 5000\nport_range_end = 4000", "port_range_end"},
		{"empty agents", "agents = []", "agents"},
		{"runtime", `container_runtime = "lxc"`, "container_runtime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := t.TempDir()
			writeFile(t, filepath.Join(project, constants.FileProjectConfig), tt.content)
			_, err := LoadFrom("", project)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAgentNameRoundRobin(t *testing.T) {
	cfg := Default()
	want := []string{"claude", "gemini", "codex", "claude"}
	for i, w := range want {
		if got := cfg.AgentName(i, ""); got != w {
			t.Errorf("AgentName(%d) = %q, want %q", i, got, w)
		}
	}
	if got := cfg.AgentName(2, "gemini"); got != "gemini" {
		t.Errorf("override ignored: %q", got)
	}
}

func TestAgentDisplayName(t *testing.T) {
	if got := AgentDisplayName("claude"); got != "Claude" {
		t.Errorf("AgentDisplayName = %q", got)
	}
}

func TestResolveWorktreeRoot(t *testing.T) {
	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)

	root, err := Default().ResolveWorktreeRoot()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(cache, "jolo", "worktrees"); root != want {
		t.Errorf("root = %q, want %q", root, want)
	}

	custom := t.TempDir()
	cfg := Default()
	cfg.WorktreeRoot = custom
	if root, _ := cfg.ResolveWorktreeRoot(); root != custom {
		t.Errorf("root = %q, want %q", root, custom)
	}
}

func TestContainerEnv(t *testing.T) {
	env := ContainerEnv(ContainerEnvConfig{WorkspaceFolder: "/workspaces/app", Port: 4002, Agent: "codex"})
	checks := map[string]string{
		"PORT":             "4002",
		"WORKSPACE_FOLDER": "/workspaces/app",
		"JOLO_AGENT":       "codex",
		EnvAnthropicKey:    "${localEnv:ANTHROPIC_API_KEY}",
		"XDG_RUNTIME_DIR":  ContainerRuntimeDir,
	}
	for k, want := range checks {
		if env[k] != want {
			t.Errorf("env[%s] = %q, want %q", k, env[k], want)
		}
	}
}

func TestSecretsFromPass(t *testing.T) {
	t.Setenv(EnvAnthropicKey, "env-anthropic")
	t.Setenv(EnvOpenAIKey, "env-openai")

	fake := testutil.NewFakeRunner().Provide("pass").
		Stdout("pass show api/llm/anthropic", "from-pass\nuser: me\n").
		Fail("pass show api/llm/openai", 1, "not in the password store")

	secrets := Default().Secrets(context.Background(), fake)
	if secrets[EnvAnthropicKey] != "from-pass" {
		t.Errorf("anthropic = %q, want first line from pass", secrets[EnvAnthropicKey])
	}
	if secrets[EnvOpenAIKey] != "env-openai" {
		t.Errorf("openai = %q, want env fallback", secrets[EnvOpenAIKey])
	}
}

func TestSecretsWithoutPass(t *testing.T) {
	t.Setenv(EnvAnthropicKey, "")
	t.Setenv(EnvOpenAIKey, "sk-openai")

	fake := testutil.NewFakeRunner()
	secrets := Default().Secrets(context.Background(), fake)
	if fake.CalledWith("pass") {
		t.Error("pass should not run when it is not installed")
	}
	if secrets[EnvOpenAIKey] != "sk-openai" || secrets[EnvAnthropicKey] != "" {
		t.Errorf("secrets = %v", secrets)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"simple", "simple"},
		{"", "''"},
		{"fix the bug", "'fix the bug'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := ShellQuote(tt.in); got != tt.want {
			t.Errorf("ShellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAgentStartCommand(t *testing.T) {
	if got := AgentStartCommand("codex", ""); got != "codex" {
		t.Errorf("got %q", got)
	}
	if got := AgentStartCommand("gemini --yolo", "add tests"); got != "gemini --yolo 'add tests'" {
		t.Errorf("got %q", got)
	}
}
