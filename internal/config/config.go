// Package config provides configuration loading and environment variable management.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/util"
)

// Config is the merged launcher configuration.
//
// Layering (later wins): built-in defaults, the global config file
// (~/.config/jolo/config.toml), the project file (<project>/.jolo.toml).
// Maps merge key by key; scalars and lists are replaced.
type Config struct {
	// BaseImage is the image the generated Dockerfile builds FROM.
	BaseImage string `toml:"base_image"`

	// PassPathAnthropic and PassPathOpenAI are `pass` entries holding API keys.
	PassPathAnthropic string `toml:"pass_path_anthropic"`
	PassPathOpenAI    string `toml:"pass_path_openai"`

	// Agents is the round-robin list used by spawn.
	Agents []string `toml:"agents"`

	// AgentCommands maps an agent name to the command line that starts it.
	AgentCommands map[string]string `toml:"agent_commands"`

	// BasePort and PortRangeEnd bound the reserved port range [BasePort, PortRangeEnd).
	BasePort     int `toml:"base_port"`
	PortRangeEnd int `toml:"port_range_end"`

	// WorktreeRoot is the user-level directory that holds all worktrees.
	// Empty means <user cache dir>/jolo/worktrees.
	WorktreeRoot string `toml:"worktree_root"`

	// DefaultBranch is the ref new worktrees branch from when --from is not given.
	// Empty means the current HEAD.
	DefaultBranch string `toml:"default_branch"`

	// ContainerRuntime forces "docker" or "podman". Empty means auto-detect.
	ContainerRuntime string `toml:"container_runtime"`

	// MaxParallel bounds concurrent container launches in spawn mode. Zero means unbounded.
	MaxParallel int `toml:"max_parallel"`

	// TemplateDir overrides the Dockerfile template. Empty means
	// <config dir>/template when it exists.
	TemplateDir string `toml:"template_dir"`

	// Sources lists the files that contributed to this config, in load order.
	Sources []string `toml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseImage:         "localhost/emacs-gui:latest",
		PassPathAnthropic: "api/llm/anthropic",
		PassPathOpenAI:    "api/llm/openai",
		Agents:            []string{"claude", "gemini", "codex"},
		AgentCommands: map[string]string{
			"claude": "claude --dangerously-skip-permissions",
			"gemini": "gemini --yolo",
			"codex":  "codex",
		},
		BasePort:     constants.DefaultBasePort,
		PortRangeEnd: constants.DefaultPortRangeEnd,
	}
}

// Dir returns the user config directory for jolo, honoring XDG_CONFIG_HOME.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, constants.AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", constants.AppName), nil
}

// CacheDir returns the user cache directory for jolo, honoring XDG_CACHE_HOME.
func CacheDir() (string, error) {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, constants.AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".cache", constants.AppName), nil
}

// Load builds the effective config for a project directory. projectDir may be
// empty when running outside a repository.
func Load(projectDir string) (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir, projectDir)
}

// LoadFrom is Load with an explicit global config directory.
func LoadFrom(globalDir, projectDir string) (*Config, error) {
	cfg := Default()

	if globalDir != "" {
		if err := cfg.merge(filepath.Join(globalDir, constants.FileGlobalConfig)); err != nil {
			return nil, err
		}
	}
	if projectDir != "" {
		if err := cfg.merge(filepath.Join(projectDir, constants.FileProjectConfig)); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge decodes path on top of cfg. A missing file is not an error.
func (c *Config) merge(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		log.Warn().Str("file", path).Msgf("ignoring unknown config keys: %s", strings.Join(keys, ", "))
	}
	c.Sources = append(c.Sources, path)
	return nil
}

// Validate checks invariants the rest of the launcher relies on.
func (c *Config) Validate() error {
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("base_port %d out of range", c.BasePort)
	}
	if c.PortRangeEnd <= c.BasePort || c.PortRangeEnd > 65536 {
		return fmt.Errorf("port_range_end %d must be greater than base_port %d", c.PortRangeEnd, c.BasePort)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("agents list must not be empty")
	}
	switch c.ContainerRuntime {
	case "", "docker", "podman":
	default:
		return fmt.Errorf("container_runtime %q: must be docker or podman", c.ContainerRuntime)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must not be negative")
	}
	return nil
}

// ResolveWorktreeRoot returns the absolute worktree root directory.
func (c *Config) ResolveWorktreeRoot() (string, error) {
	if c.WorktreeRoot != "" {
		root, err := util.ExpandHome(c.WorktreeRoot)
		if err != nil {
			return "", err
		}
		return filepath.Abs(root)
	}
	cache, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cache, "worktrees"), nil
}

// ResolveTemplateDir returns the template override directory, or "" when none exists.
func (c *Config) ResolveTemplateDir() string {
	if c.TemplateDir != "" {
		dir, err := util.ExpandHome(c.TemplateDir)
		if err != nil {
			return ""
		}
		return dir
	}
	dir, err := Dir()
	if err != nil {
		return ""
	}
	tmpl := filepath.Join(dir, "template")
	if util.IsDir(tmpl) {
		return tmpl
	}
	return ""
}
