// Package devcontainer generates the .devcontainer directory a workspace is
// launched from.
//
// Generated files are recorded in a manifest with their content hash. Later
// runs only replace files that still match the manifest; a file that was
// edited by hand is skipped, or reported as a conflict when syncing.
package devcontainer

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/templates"
	"github.com/jolo-cli/jolo/internal/util"
)

// ErrSyncConflict is returned when syncing would overwrite a hand-edited file.
var ErrSyncConflict = errors.New("generated file was edited by hand")

// SyncConflictError lists the hand-edited files a sync refused to overwrite.
type SyncConflictError struct {
	Dir   string
	Files []string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("%s: %s edited by hand (use --yes to overwrite)", e.Dir, strings.Join(e.Files, ", "))
}

func (e *SyncConflictError) Is(target error) bool { return target == ErrSyncConflict }

// Build is the build section of devcontainer.json.
type Build struct {
	Dockerfile string `json:"dockerfile"`
}

// Config is the devcontainer.json document.
type Config struct {
	Name            string            `json:"name"`
	Build           Build             `json:"build"`
	WorkspaceFolder string            `json:"workspaceFolder"`
	RunArgs         []string          `json:"runArgs"`
	Mounts          []string          `json:"mounts"`
	ContainerEnv    map[string]string `json:"containerEnv"`
}

// Options describes one workspace's container.
type Options struct {
	// Name is the workspace name: the project name, or the worktree name.
	Name string

	// ContainerName is passed as --name; see container.NameFor.
	ContainerName string

	// ProjectRoot is recorded in the jolo.project label.
	ProjectRoot string

	Port  int
	Agent string
	Batch string

	// GitCommonDir is mounted at the same path when the workspace is a
	// linked worktree, so the .git file inside it resolves in the container.
	GitCommonDir string

	// Mounts are extra user mounts.
	Mounts []Mount

	BaseImage string

	// Sync regenerates every generated file.
	Sync bool

	// Overwrite lets Sync replace hand-edited files.
	Overwrite bool
}

// Result reports what Synthesize did, per file.
type Result struct {
	Dir       string
	Created   bool
	Written   []string
	Unchanged []string
	Skipped   []string
}

// Synthesizer renders and writes .devcontainer directories.
type Synthesizer struct {
	tmpl   *templates.Templates
	getenv func(string) string
	user   func() (*user.User, error)
}

// New returns a Synthesizer. templateDir, if not empty, may hold a
// Dockerfile.tmpl that replaces the built-in one.
func New(templateDir string) (*Synthesizer, error) {
	tmpl, err := templates.New()
	if err != nil {
		return nil, err
	}
	if templateDir != "" {
		tmpl = tmpl.WithOverride(templateDir)
	}
	return &Synthesizer{tmpl: tmpl, getenv: os.Getenv, user: user.Current}, nil
}

// Dir returns the .devcontainer directory of a workspace.
func Dir(workspaceDir string) string {
	return filepath.Join(workspaceDir, constants.DirDevcontainer)
}

// Exists reports whether the workspace already has a devcontainer.json.
func Exists(workspaceDir string) bool {
	return util.Exists(filepath.Join(Dir(workspaceDir), constants.FileDevcontainerJSON))
}

// Render produces the generated files, keyed by name inside .devcontainer.
func (s *Synthesizer) Render(opts Options) (map[string][]byte, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workspace name is required")
	}

	doc := s.config(opts)
	jsonData, err := util.MarshalJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", constants.FileDevcontainerJSON, err)
	}

	data := templates.DockerfileData{BaseImage: opts.BaseImage, User: "dev"}
	if u, err := s.user(); err == nil {
		data.User = u.Username
		data.UID, _ = strconv.Atoi(u.Uid)
		data.GID, _ = strconv.Atoi(u.Gid)
	}
	if env := s.getenv("USER"); env != "" {
		data.User = env
	}
	dockerfile, err := s.tmpl.RenderDockerfile(data)
	if err != nil {
		return nil, err
	}

	return map[string][]byte{
		constants.FileDevcontainerJSON: jsonData,
		constants.FileDockerfile:       []byte(dockerfile),
	}, nil
}

func (s *Synthesizer) config(opts Options) Config {
	folder := WorkspaceFolder(opts.Name)

	var runArgs []string
	if opts.ContainerName != "" {
		runArgs = append(runArgs, "--name", opts.ContainerName)
	}
	runArgs = append(runArgs, "--hostname", util.Slug(opts.Name))
	if opts.ProjectRoot != "" {
		runArgs = append(runArgs, "--label", constants.LabelProject+"="+opts.ProjectRoot)
	}
	if opts.Port != 0 {
		runArgs = append(runArgs,
			"--label", constants.LabelPort+"="+strconv.Itoa(opts.Port),
			"--publish", fmt.Sprintf("%d:%d", opts.Port, opts.Port),
		)
	}
	if opts.Agent != "" {
		runArgs = append(runArgs, "--label", constants.LabelAgent+"="+opts.Agent)
	}
	if opts.Batch != "" {
		runArgs = append(runArgs, "--label", constants.LabelBatch+"="+opts.Batch)
	}

	mounts := baseMounts()
	if s.getenv("WAYLAND_DISPLAY") != "" {
		mounts = append(mounts, waylandMount)
	}
	if opts.GitCommonDir != "" {
		mounts = append(mounts, Mount{Source: opts.GitCommonDir, Target: opts.GitCommonDir}.String())
	}
	for _, m := range opts.Mounts {
		mounts = append(mounts, m.String())
	}

	return Config{
		Name:            opts.Name,
		Build:           Build{Dockerfile: constants.FileDockerfile},
		WorkspaceFolder: folder,
		RunArgs:         runArgs,
		Mounts:          mounts,
		ContainerEnv: config.ContainerEnv(config.ContainerEnvConfig{
			WorkspaceFolder: folder,
			Port:            opts.Port,
			Agent:           opts.Agent,
		}),
	}
}

// Synthesize writes the generated files into workspaceDir/.devcontainer.
//
// Without an existing devcontainer.json every file is written. Otherwise a
// file is rewritten only if it still matches the manifest; hand-edited files
// are skipped, or with Sync reported as a *SyncConflictError unless Overwrite
// is set. Nothing is written when a conflict is reported. Credential caches,
// history and editor state are never touched.
func (s *Synthesizer) Synthesize(workspaceDir string, opts Options) (Result, error) {
	dir := Dir(workspaceDir)
	res := Result{Dir: dir, Created: !Exists(workspaceDir)}

	files, err := s.Render(opts)
	if err != nil {
		return res, err
	}
	manifest, err := LoadManifest(dir)
	if err != nil {
		return res, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var write, conflicts []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		current, err := os.ReadFile(path)
		switch {
		case err != nil && os.IsNotExist(err):
			write = append(write, name)
		case err != nil:
			return res, fmt.Errorf("reading %s: %w", path, err)
		case string(current) == string(files[name]):
			res.Unchanged = append(res.Unchanged, name)
			manifest.Files[name] = util.HashBytes(current)
		case manifest.Files[name] == util.HashBytes(current):
			write = append(write, name)
		case opts.Sync && opts.Overwrite:
			write = append(write, name)
		case opts.Sync:
			conflicts = append(conflicts, name)
		default:
			res.Skipped = append(res.Skipped, name)
		}
	}
	if len(conflicts) > 0 {
		return res, &SyncConflictError{Dir: dir, Files: conflicts}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, name := range write {
		if err := util.AtomicWriteFile(filepath.Join(dir, name), files[name], 0644); err != nil {
			return res, fmt.Errorf("writing %s: %w", name, err)
		}
		manifest.Files[name] = util.HashBytes(files[name])
		res.Written = append(res.Written, name)
	}
	if err := manifest.Save(dir); err != nil {
		return res, fmt.Errorf("writing manifest: %w", err)
	}

	for _, name := range res.Skipped {
		log.Warn().Str("file", filepath.Join(dir, name)).Msg("edited by hand, not regenerated")
	}
	log.Debug().Str("dir", dir).Strs("written", res.Written).Msg("synthesized devcontainer")
	return res, nil
}

// Seed copies the generated files and manifest of src into the workspace at
// dst, skipping any file dst already has. A worktree that checked out a
// committed devcontainer.json thus still gets the manifest it was written
// with. It reports whether anything was copied. Caches are not copied; every
// workspace gets its own.
func Seed(src, dst string) (bool, error) {
	if !Exists(src) {
		return false, nil
	}
	from, to := Dir(src), Dir(dst)
	copied := false
	for _, name := range []string{constants.FileDevcontainerJSON, constants.FileDockerfile, constants.FileManifest} {
		path := filepath.Join(from, name)
		if !util.Exists(path) || util.Exists(filepath.Join(to, name)) {
			continue
		}
		if err := util.CopyFile(path, filepath.Join(to, name)); err != nil {
			return copied, fmt.Errorf("copying %s: %w", path, err)
		}
		copied = true
	}
	return copied, nil
}

// Artifacts returns the launcher-owned paths in a workspace's .devcontainer
// directory that exist on disk: generated files, the manifest, credential
// caches, shell history and editor state.
func Artifacts(workspaceDir string) ([]string, error) {
	dir := Dir(workspaceDir)
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	candidates := manifest.Names()
	candidates = append(candidates,
		constants.FileManifest,
		constants.DirClaudeCache,
		constants.FileClaudeJSON,
		constants.DirGeminiCache,
		constants.DirCodexCache,
		constants.FileHistfile,
		constants.DirEmacsConfig,
		constants.DirEmacsCache,
	)

	var paths []string
	seen := make(map[string]bool)
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if seen[path] {
			continue
		}
		seen[path] = true
		if _, err := os.Lstat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// RemoveArtifacts deletes the paths returned by Artifacts and then the
// .devcontainer directory itself if nothing else is left in it.
func RemoveArtifacts(workspaceDir string) ([]string, error) {
	paths, err := Artifacts(workspaceDir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	dir := Dir(workspaceDir)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if err := os.Remove(dir); err == nil {
			removed = append(removed, dir)
		}
	}
	return removed, nil
}
