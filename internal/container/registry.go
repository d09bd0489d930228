package container

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jolo-cli/jolo/internal/constants"
)

// State is a container's lifecycle state as far as the launcher cares.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Session is one container known to the runtime.
type Session struct {
	Name    string
	Folder  string
	State   State
	Port    int
	Agent   string
	Project string
	Batch   string
}

// BoundPort implements ports.Bound.
func (s Session) BoundPort() int { return s.Port }

// IsRunning implements ports.Bound.
func (s Session) IsRunning() bool { return s.State == StateRunning }

// Filter narrows Registry.List.
type Filter struct {
	// Project is the absolute project root. Empty (or All) lists every session.
	Project string

	// WorktreeDir is the directory holding the project's worktrees.
	WorktreeDir string

	// All ignores the project filter.
	All bool

	// State keeps only sessions in this state. Empty keeps all.
	State State
}

// Registry enumerates container sessions. It holds no state of its own;
// every call re-queries the runtime.
type Registry struct {
	rt *Runtime
}

// NewRegistry returns a registry backed by rt.
func NewRegistry(rt *Runtime) *Registry {
	return &Registry{rt: rt}
}

var psFields = []string{
	"{{.Names}}",
	`{{.Label "` + constants.LabelLocalFolder + `"}}`,
	"{{.State}}",
	`{{.Label "` + constants.LabelProject + `"}}`,
	`{{.Label "` + constants.LabelPort + `"}}`,
	`{{.Label "` + constants.LabelAgent + `"}}`,
	`{{.Label "` + constants.LabelBatch + `"}}`,
}

// List returns sessions matching f, sorted by name.
func (reg *Registry) List(ctx context.Context, f Filter) ([]Session, error) {
	out, err := reg.rt.run(ctx, "ps",
		"ps", "-a",
		"--filter", "label="+constants.LabelLocalFolder,
		"--format", strings.Join(psFields, "\t"),
	)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	var sessions []Session
	for _, s := range ParsePS(out) {
		if !f.All && f.Project != "" && !s.BelongsTo(f.Project, f.WorktreeDir) {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Name < sessions[j].Name })
	return sessions, nil
}

// ParsePS parses the tab-separated output of the ps query.
func ParsePS(out string) []Session {
	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		for len(fields) < len(psFields) {
			fields = append(fields, "")
		}
		s := Session{
			Name:    fields[0],
			Folder:  fields[1],
			State:   normalizeState(fields[2]),
			Project: labelValue(fields[3]),
			Agent:   labelValue(fields[5]),
			Batch:   labelValue(fields[6]),
		}
		if p, err := strconv.Atoi(labelValue(fields[4])); err == nil {
			s.Port = p
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// labelValue maps the "<no value>" docker prints for absent labels to "".
func labelValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "<no value>" {
		return ""
	}
	return s
}

func normalizeState(s string) State {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "running" || strings.HasPrefix(s, "up") {
		return StateRunning
	}
	return StateStopped
}

// BelongsTo reports whether the session is part of a project: it carries the
// project label, or its folder is the project root or one of its worktrees.
func (s Session) BelongsTo(projectRoot, worktreeDir string) bool {
	if s.Project != "" {
		return s.Project == projectRoot
	}
	folder := filepath.Clean(s.Folder)
	if folder == filepath.Clean(projectRoot) {
		return true
	}
	return worktreeDir != "" && filepath.Dir(folder) == filepath.Clean(worktreeDir)
}

// ForFolder returns the session bound to a workspace folder, if any.
func ForFolder(sessions []Session, folder string) (Session, bool) {
	folder = filepath.Clean(folder)
	for _, s := range sessions {
		if filepath.Clean(s.Folder) == folder {
			return s, true
		}
	}
	return Session{}, false
}
