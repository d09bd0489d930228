package deps

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/runner"
)

// Tool is an external program the launcher drives.
type Tool struct {
	Name string

	// VersionArgs print the version, e.g. "--version".
	VersionArgs []string

	// Pattern extracts the version from the output. Its first group is
	// the "X.Y[.Z]" version.
	Pattern *regexp.Regexp

	// Min is the oldest supported version. Empty accepts any.
	Min string

	InstallURL string
}

// The tools jolo uses. Git needs `worktree list --porcelain` to report
// prunable entries.
var (
	Git = Tool{
		Name:        "git",
		VersionArgs: []string{"--version"},
		Pattern:     regexp.MustCompile(`git version (\d+\.\d+(?:\.\d+)?)`),
		Min:         "2.31.0",
		InstallURL:  "https://git-scm.com/downloads",
	}
	Docker = Tool{
		Name:        "docker",
		VersionArgs: []string{"--version"},
		Pattern:     regexp.MustCompile(`Docker version (\d+\.\d+\.\d+)`),
		Min:         "20.10.0",
		InstallURL:  "https://docs.docker.com/engine/install/",
	}
	Podman = Tool{
		Name:        "podman",
		VersionArgs: []string{"--version"},
		Pattern:     regexp.MustCompile(`podman version (\d+\.\d+\.\d+)`),
		Min:         "4.0.0",
		InstallURL:  "https://podman.io/docs/installation",
	}
	Devcontainer = Tool{
		Name:        "devcontainer",
		VersionArgs: []string{"--version"},
		Pattern:     regexp.MustCompile(`(?m)^(\d+\.\d+\.\d+)\s*$`),
		Min:         "0.50.0",
		InstallURL:  "npm install -g @devcontainers/cli",
	}
	Tmux = Tool{
		Name:        "tmux",
		VersionArgs: []string{"-V"},
		Pattern:     regexp.MustCompile(`tmux (?:next-)?(\d+\.\d+)`),
		Min:         "3.0",
		InstallURL:  "https://github.com/tmux/tmux/wiki/Installing",
	}
	Pass = Tool{
		Name:        "pass",
		VersionArgs: []string{"version"},
		Pattern:     regexp.MustCompile(`v(\d+\.\d+(?:\.\d+)?)`),
		InstallURL:  "https://www.passwordstore.org/",
	}
)

// Status represents the state of a tool installation.
type Status int

const (
	OK         Status = iota // found, version compatible
	NotFound                 // not in PATH
	TooOld                   // found but older than Min
	ExecFailed               // found but the version command failed
	Unknown                  // version command ran but output couldn't be parsed
)

// Check reports whether tool is installed and recent enough. It returns the
// status, the installed version (if found), and diagnostic detail for
// failure cases.
func Check(ctx context.Context, r runner.Runner, tool Tool) (Status, string, string) {
	path, err := r.LookPath(tool.Name)
	if err != nil {
		return NotFound, "", ""
	}

	ctx, cancel := context.WithTimeout(ctx, constants.ToolVersionTimeout)
	defer cancel()
	res, err := r.Run(ctx, runner.New(path, tool.VersionArgs...))
	output := res.Stdout + res.Stderr
	if err != nil {
		detail := strings.TrimSpace(output)
		if detail == "" {
			detail = err.Error()
		}
		return ExecFailed, "", fmt.Sprintf("at %s: %s", path, detail)
	}

	version := tool.ParseVersion(output)
	if version == "" {
		return Unknown, "", strings.TrimSpace(output)
	}
	if tool.Min != "" && CompareVersions(version, tool.Min) < 0 {
		return TooOld, version, ""
	}
	return OK, version, ""
}

// ParseVersion extracts the version from the tool's version output.
func (t Tool) ParseVersion(output string) string {
	if m := t.Pattern.FindStringSubmatch(output); len(m) >= 2 {
		return m[1]
	}
	return ""
}
