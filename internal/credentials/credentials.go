// Package credentials copies AI agent credentials and editor state from the
// host home directory into a project's .devcontainer directory.
//
// Copies are one way. Containers get writable snapshots, never mounts of the
// host directories, so nothing they do can leak back into host credential stores.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/util"
)

// ErrMissing is returned when an agent's host credential directory does not exist.
var ErrMissing = errors.New("credentials missing")

// MissingError names the agent and the directory that was not found.
type MissingError struct {
	Kind   Kind
	Source string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s credentials not found at %s; %s will not be authenticated in the container",
		e.Kind, e.Source, e.Kind)
}

func (e *MissingError) Is(target error) bool { return target == ErrMissing }

// Kind is an agent whose credentials can be isolated.
type Kind string

const (
	Claude Kind = "claude"
	Gemini Kind = "gemini"
	Codex  Kind = "codex"
)

// Kinds lists every supported agent kind.
var Kinds = []Kind{Claude, Gemini, Codex}

// source describes where an agent keeps its state on the host and what to copy.
type source struct {
	dir      string // relative to home
	cacheDir string // inside .devcontainer
	files    []string
	dirs     []string
}

var sources = map[Kind]source{
	Claude: {
		dir:      ".claude",
		cacheDir: constants.DirClaudeCache,
		files:    []string{".credentials.json", "settings.json"},
		dirs:     []string{"statsig"},
	},
	Gemini: {
		dir:      ".gemini",
		cacheDir: constants.DirGeminiCache,
		files:    []string{"settings.json", "google_accounts.json", "oauth_creds.json"},
	},
	Codex: {
		dir:      ".codex",
		cacheDir: constants.DirCodexCache,
		files:    []string{"auth.json", "config.toml"},
	},
}

// CacheDir returns the .devcontainer subdirectory for kind.
func CacheDir(kind Kind) string {
	return sources[kind].cacheDir
}

// Isolator copies credentials from a home directory.
type Isolator struct {
	home string
}

// New returns an Isolator reading from home. Empty home means the current user's.
func New(home string) (*Isolator, error) {
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		home = h
	}
	return &Isolator{home: home}, nil
}

// Source returns the host directory kind's credentials are copied from.
func (i *Isolator) Source(kind Kind) string {
	return filepath.Join(i.home, sources[kind].dir)
}

// Copy refreshes the credential cache for kind inside destDir (a .devcontainer
// directory). The cache directory itself is kept so that bind mounts of a
// running container stay valid; only its contents are replaced.
func (i *Isolator) Copy(kind Kind, destDir string) error {
	src, ok := sources[kind]
	if !ok {
		return fmt.Errorf("unknown agent kind %q", kind)
	}

	cache := filepath.Join(destDir, src.cacheDir)
	if err := os.MkdirAll(cache, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", cache, err)
	}
	if err := util.ClearDir(cache); err != nil {
		return fmt.Errorf("clearing %s: %w", cache, err)
	}

	if kind == Claude {
		// Claude keeps account state in a top-level file next to its directory.
		// It is bind-mounted as a file, so it has to exist either way.
		from := filepath.Join(i.home, constants.FileClaudeJSON)
		to := filepath.Join(destDir, constants.FileClaudeJSON)
		if util.Exists(from) {
			if err := util.CopyFile(from, to); err != nil {
				return fmt.Errorf("copying %s: %w", from, err)
			}
		} else if err := util.TouchFile(to); err != nil {
			return err
		}
	}

	hostDir := filepath.Join(i.home, src.dir)
	if !util.IsDir(hostDir) {
		return &MissingError{Kind: kind, Source: hostDir}
	}

	for _, name := range src.files {
		from := filepath.Join(hostDir, name)
		if !util.Exists(from) {
			continue
		}
		if err := util.CopyFile(from, filepath.Join(cache, name)); err != nil {
			return fmt.Errorf("copying %s: %w", from, err)
		}
	}
	for _, name := range src.dirs {
		from := filepath.Join(hostDir, name)
		if !util.IsDir(from) {
			continue
		}
		if err := util.CopyDir(from, filepath.Join(cache, name)); err != nil {
			return fmt.Errorf("copying %s: %w", from, err)
		}
	}

	log.Debug().Str("kind", string(kind)).Str("dest", cache).Msg("copied credentials")
	return nil
}

// CopyAll copies every kind. Errors are returned per kind; a missing kind
// does not stop the others.
func (i *Isolator) CopyAll(destDir string) map[Kind]error {
	errs := make(map[Kind]error)
	for _, kind := range Kinds {
		if err := i.Copy(kind, destDir); err != nil {
			errs[kind] = err
		}
	}
	return errs
}

// SortedErrors flattens a CopyAll result in kind order.
func SortedErrors(errs map[Kind]error) []error {
	kinds := make([]string, 0, len(errs))
	for k := range errs {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	out := make([]error, 0, len(errs))
	for _, k := range kinds {
		out = append(out, errs[Kind(k)])
	}
	return out
}

// EditorCacheDirs are the host directories shared by every container's editor
// for compiled packages. They are kept apart from the host editor's own cache.
func (i *Isolator) EditorCacheDirs() []string {
	base := filepath.Join(i.home, ".cache", "emacs-container")
	return []string{filepath.Join(base, "elpaca"), filepath.Join(base, "tree-sitter")}
}

// CopyEditorConfig copies ~/.config/emacs into destDir/.emacs-config and makes
// sure the fresh per-project cache and the shared package caches exist.
// A host without an editor config is not an error.
func (i *Isolator) CopyEditorConfig(destDir string) error {
	src := filepath.Join(i.home, ".config", "emacs")

	for _, dir := range append([]string{filepath.Join(destDir, constants.DirEmacsCache)}, i.EditorCacheDirs()...) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	dst := filepath.Join(destDir, constants.DirEmacsConfig)
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if !util.IsDir(src) {
		return nil
	}
	if err := util.ClearDir(dst); err != nil {
		return fmt.Errorf("clearing %s: %w", dst, err)
	}
	if err := util.CopyDir(src, dst); err != nil {
		return fmt.Errorf("copying editor config: %w", err)
	}
	return nil
}

// EnsureHistfile creates destDir/.histfile if it does not exist. An existing
// history is never truncated. The file must exist before launch, or the bind
// mount would create a directory in its place.
func EnsureHistfile(destDir string) error {
	return util.TouchFile(filepath.Join(destDir, constants.FileHistfile))
}
