package scaffold

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/templates"
	"github.com/jolo-cli/jolo/internal/util"
)

// ErrInsideRepo is returned when a project would be created inside an
// existing git repository.
var ErrInsideRepo = errors.New("already inside a git repository")

// ErrExists is returned when the target directory already exists.
var ErrExists = errors.New("directory already exists")

// InitialCommitMessage is the message of a new project's first commit.
const InitialCommitMessage = "Initial commit with devcontainer setup"

// ValidateCreate checks that a project called name can be created in cwd
// and returns its path.
func ValidateCreate(cwd, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("invalid project name %q", name)
	}
	if git.IsInsideRepo(cwd) {
		return "", fmt.Errorf("cannot create a project in %s: %w", cwd, ErrInsideRepo)
	}
	target := filepath.Join(cwd, name)
	if _, err := os.Lstat(target); err == nil {
		return "", fmt.Errorf("%s: %w", target, ErrExists)
	}
	return target, nil
}

// ValidateInit checks that dir is not already part of a git repository.
func ValidateInit(dir string) error {
	if git.IsInsideRepo(dir) {
		return fmt.Errorf("cannot initialize %s: %w", dir, ErrInsideRepo)
	}
	return nil
}

// Project describes the project to scaffold.
type Project struct {
	Dir       string
	Name      string
	Languages []Language
}

// Write creates dir and the project files: agent instructions, ignore and
// editor settings, MOTD, justfile, hook configuration and the starter
// sources of the primary language. Existing files are never overwritten.
func Write(p Project) ([]string, error) {
	tmpl, err := templates.New()
	if err != nil {
		return nil, err
	}
	primary := Primary(p.Languages)
	data := templates.ProjectData{Name: p.Name, Module: ModuleName(p.Name), Language: string(primary)}

	files, err := templates.StaticFiles()
	if err != nil {
		return nil, err
	}

	motd, err := tmpl.RenderMOTD(data)
	if err != nil {
		return nil, err
	}
	justfile, err := tmpl.RenderJustfile(data)
	if err != nil {
		return nil, err
	}
	precommit, err := PreCommit(p.Languages).Marshal()
	if err != nil {
		return nil, err
	}
	files = append(files,
		templates.StaticFile{Name: "MOTD", Content: []byte(motd)},
		templates.StaticFile{Name: "justfile", Content: []byte(justfile)},
		templates.StaticFile{Name: PreCommitFile, Content: precommit},
	)

	starter, err := templates.StarterFiles(string(primary), data)
	if err != nil {
		return nil, err
	}
	files = append(files, starter...)

	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", p.Dir, err)
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(p.Dir, filepath.FromSlash(f.Name))
		if util.Exists(path) {
			log.Debug().Str("file", path).Msg("exists, not scaffolded")
			continue
		}
		if err := util.EnsureDirAndWriteFile(path, f.Content, 0644); err != nil {
			return written, fmt.Errorf("writing %s: %w", f.Name, err)
		}
		written = append(written, f.Name)
	}
	return written, nil
}
