package devcontainer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/util"
)

// WorkspacesRoot is where the devcontainer CLI places workspaces in the container.
const WorkspacesRoot = "/workspaces"

// WorkspaceFolder returns the in-container path of the workspace called name.
func WorkspaceFolder(name string) string {
	return path.Join(WorkspacesRoot, name)
}

// Mount is a bind mount entry in devcontainer.json.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// String renders the mount in the devcontainer "mounts" syntax.
func (m Mount) String() string {
	s := "source=" + m.Source + ",target=" + m.Target + ",type=bind"
	if m.ReadOnly {
		s += ",readonly"
	}
	return s
}

// ParseMount parses a --mount argument of the form SRC:DST[:ro].
// A leading ~ in SRC is expanded. A relative DST is placed under the
// workspace folder of the workspace called name.
func ParseMount(spec, name string) (Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Mount{}, fmt.Errorf("invalid mount %q: expected SRC:DST[:ro]", spec)
	}
	if len(parts) > 3 || (len(parts) == 3 && parts[2] != "ro") {
		return Mount{}, fmt.Errorf("invalid mount %q: only \":ro\" may follow the target", spec)
	}

	src, err := util.ExpandHome(parts[0])
	if err != nil {
		return Mount{}, err
	}
	if abs, err := filepath.Abs(src); err == nil {
		src = abs
	}

	dst := parts[1]
	if !path.IsAbs(dst) {
		dst = path.Join(WorkspaceFolder(name), dst)
	}

	return Mount{Source: src, Target: dst, ReadOnly: len(parts) == 3}, nil
}

// CopySpec is a host file copied into the workspace before launch.
type CopySpec struct {
	Source string
	Target string // in-container path
}

// ParseCopy parses a --copy argument of the form SRC[:DST]. Without DST
// the file lands at the workspace root under its own name.
func ParseCopy(spec, name string) (CopySpec, error) {
	src, dst, _ := strings.Cut(spec, ":")
	if src == "" {
		return CopySpec{}, fmt.Errorf("invalid copy %q: missing source", spec)
	}
	src, err := util.ExpandHome(src)
	if err != nil {
		return CopySpec{}, err
	}
	if abs, err := filepath.Abs(src); err == nil {
		src = abs
	}

	switch {
	case dst == "":
		dst = path.Join(WorkspaceFolder(name), filepath.Base(src))
	case !path.IsAbs(dst):
		dst = path.Join(WorkspaceFolder(name), dst)
	}
	return CopySpec{Source: src, Target: dst}, nil
}

// HostPath maps the copy target to a host path. Targets inside the
// workspace folder land in workspaceDir; other absolute targets are used as is.
func (c CopySpec) HostPath(workspaceDir, name string) string {
	folder := WorkspaceFolder(name)
	if c.Target == folder {
		return filepath.Join(workspaceDir, filepath.Base(c.Source))
	}
	if rel, ok := strings.CutPrefix(c.Target, folder+"/"); ok {
		return filepath.Join(workspaceDir, filepath.FromSlash(rel))
	}
	return c.Target
}

// Apply copies the source into the workspace.
func (c CopySpec) Apply(workspaceDir, name string) (string, error) {
	info, err := os.Stat(c.Source)
	if err != nil {
		return "", fmt.Errorf("copy source %s: %w", c.Source, err)
	}
	dst := c.HostPath(workspaceDir, name)
	if info.IsDir() {
		if err := util.CopyDir(c.Source, dst); err != nil {
			return "", fmt.Errorf("copying %s: %w", c.Source, err)
		}
		return dst, nil
	}
	if err := util.CopyFile(c.Source, dst); err != nil {
		return "", fmt.Errorf("copying %s: %w", c.Source, err)
	}
	return dst, nil
}

const (
	containerHome = "/home/${localEnv:USER}"
	hostHome      = "${localEnv:HOME}"
	localDir      = "${localWorkspaceFolder}/" + constants.DirDevcontainer
)

// baseMounts are present in every generated devcontainer.json. Credential
// and editor mounts point at the workspace's own copies, never at the
// host originals.
func baseMounts() []string {
	ms := []Mount{
		{Source: "/tmp/.X11-unix", Target: "/tmp/.X11-unix"},
		{Source: localDir + "/" + constants.DirGeminiCache, Target: containerHome + "/.gemini"},
		{Source: localDir + "/" + constants.DirClaudeCache, Target: containerHome + "/.claude"},
		{Source: localDir + "/" + constants.FileClaudeJSON, Target: containerHome + "/.claude.json"},
		{Source: localDir + "/" + constants.DirCodexCache, Target: containerHome + "/.codex"},
		{Source: hostHome + "/.zshrc", Target: containerHome + "/.zshrc", ReadOnly: true},
		{Source: localDir + "/" + constants.FileHistfile, Target: containerHome + "/.histfile"},
		{Source: hostHome + "/.tmux.conf", Target: containerHome + "/.tmux.conf", ReadOnly: true},
		{Source: hostHome + "/.gitconfig", Target: containerHome + "/.gitconfig", ReadOnly: true},
		{Source: hostHome + "/.config/tmux", Target: containerHome + "/.config/tmux", ReadOnly: true},
		{Source: localDir + "/" + constants.DirEmacsConfig, Target: containerHome + "/.config/emacs"},
		{Source: localDir + "/" + constants.DirEmacsCache, Target: containerHome + "/.cache/emacs"},
		{Source: hostHome + "/.cache/emacs-container/elpaca", Target: containerHome + "/.cache/emacs/elpaca"},
		{Source: hostHome + "/.cache/emacs-container/tree-sitter", Target: containerHome + "/.cache/emacs/tree-sitter"},
		{Source: hostHome + "/.gnupg/pubring.kbx", Target: containerHome + "/.gnupg/pubring.kbx", ReadOnly: true},
		{Source: hostHome + "/.gnupg/trustdb.gpg", Target: containerHome + "/.gnupg/trustdb.gpg", ReadOnly: true},
		{Source: "${localEnv:XDG_RUNTIME_DIR}/gnupg/S.gpg-agent", Target: containerHome + "/.gnupg/S.gpg-agent"},
		{Source: hostHome + "/.config/gh", Target: containerHome + "/.config/gh", ReadOnly: true},
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.String()
	}
	return out
}

// waylandMount is added only when the host has a Wayland display.
var waylandMount = Mount{
	Source: "${localEnv:XDG_RUNTIME_DIR}/${localEnv:WAYLAND_DISPLAY}",
	Target: config.ContainerRuntimeDir + "/${localEnv:WAYLAND_DISPLAY}",
}.String()
