// Package constants defines shared constant values used throughout jolo.
// Centralizing these magic strings improves maintainability and consistency.
package constants

import "time"

// Port range reserved for dev servers inside containers.
const (
	// DefaultBasePort is the first port handed out to a session.
	DefaultBasePort = 4000

	// DefaultPortRangeEnd is the exclusive upper bound of the reserved range.
	DefaultPortRangeEnd = 5000
)

// Timing constants for subprocess calls.
const (
	// PassTimeout bounds a single `pass show` lookup.
	PassTimeout = 5 * time.Second

	// QueryTimeout bounds read-only queries against git and the container runtime.
	QueryTimeout = 30 * time.Second

	// ToolVersionTimeout bounds the `<tool> --version` checks run by doctor.
	ToolVersionTimeout = 10 * time.Second
)

// Directory names inside a project's .devcontainer directory.
const (
	// DirDevcontainer is the per-project synthesized config directory.
	DirDevcontainer = ".devcontainer"

	// DirClaudeCache holds the copied Claude credentials.
	DirClaudeCache = ".claude-cache"

	// DirGeminiCache holds the copied Gemini credentials.
	DirGeminiCache = ".gemini-cache"

	// DirCodexCache holds the copied Codex credentials.
	DirCodexCache = ".codex-cache"

	// DirEmacsConfig holds the copied editor config.
	DirEmacsConfig = ".emacs-config"

	// DirEmacsCache is a fresh, container-private editor cache.
	DirEmacsCache = ".emacs-cache"
)

// File names for configuration and state.
const (
	// FileDevcontainerJSON is the devcontainer definition.
	FileDevcontainerJSON = "devcontainer.json"

	// FileDockerfile is the image definition referenced by devcontainer.json.
	FileDockerfile = "Dockerfile"

	// FileManifest records hashes of template-derived files as last written.
	FileManifest = ".jolo-manifest.json"

	// FileHistfile is the persisted shell history bind-mounted into the container.
	FileHistfile = ".histfile"

	// FileClaudeJSON is the copied top-level Claude state file.
	FileClaudeJSON = ".claude.json"

	// FileProjectConfig is the per-project config override.
	FileProjectConfig = ".jolo.toml"

	// FileGlobalConfig is the user config file under the config dir.
	FileGlobalConfig = "config.toml"

	// FileSpawnLock serializes port allocation across concurrent invocations.
	FileSpawnLock = "spawn.lock"
)

// Container labels written at creation time and read back by the registry.
const (
	// LabelLocalFolder is set by the devcontainer CLI to the host workspace folder.
	LabelLocalFolder = "devcontainer.local_folder"

	// LabelProject is the absolute project root the container belongs to.
	LabelProject = "jolo.project"

	// LabelPort is the port assigned to the container.
	LabelPort = "jolo.port"

	// LabelAgent is the agent identity of a spawned container.
	LabelAgent = "jolo.agent"

	// LabelBatch is the spawn batch id of a spawned container.
	LabelBatch = "jolo.batch"
)

// Session names.
const (
	// ContainerTmuxSession is the tmux session name used inside containers.
	ContainerTmuxSession = "dev"

	// HostSpawnSession is the host tmux session that watches spawned agents.
	HostSpawnSession = "spawn"
)

// AppName is used for config and cache directory names.
const AppName = "jolo"

// DefaultShell is the shell started by --shell.
const DefaultShell = "zsh"
