// Package container names container sessions and talks to the container
// runtime (docker or podman) and the devcontainer CLI.
package container

import (
	"path/filepath"
	"strings"

	"github.com/jolo-cli/jolo/internal/util"
)

// maxNameLen keeps names well under the runtime's hostname limit.
const maxNameLen = 63

// NameFor derives the container name for a project and optional worktree and
// spawn suffix:
//
//	<project>[-<worktree>][-<suffix>]-<hash6>
//
// The hash is taken over the absolute project root, so two projects with the
// same directory name never share a name. A name too long for the runtime is
// cut, and its hash then also covers the full name, so worktrees that differ
// only past the cut stay distinct. The result only contains [a-z0-9_.-].
func NameFor(projectRoot, worktree, suffix string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}

	project := util.Slug(filepath.Base(abs))
	if project == "" {
		project = "project"
	}
	parts := []string{project}
	if s := util.Slug(worktree); s != "" {
		parts = append(parts, s)
	}
	if s := util.Slug(suffix); s != "" {
		parts = append(parts, s)
	}

	name := strings.Join(parts, "-")
	hash := util.ShortHash(abs, 6)
	if len(name)+1+len(hash) > maxNameLen {
		hash = util.ShortHash(abs+"\x00"+name, 6)
		name = strings.TrimRight(name[:maxNameLen-1-len(hash)], "-.")
	}
	return name + "-" + hash
}
