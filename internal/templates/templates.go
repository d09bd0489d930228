// Package templates provides the embedded files written into new projects and
// their .devcontainer directories.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

//go:embed all:files
var filesFS embed.FS

// Templates holds the parsed templates.
type Templates struct {
	tmpl     *template.Template
	override string
}

// DockerfileData is the input to the Dockerfile template.
type DockerfileData struct {
	BaseImage string
	User      string
	UID       int
	GID       int
}

// ProjectData is the input to the justfile and MOTD templates.
type ProjectData struct {
	Name     string
	Module   string // python package name derived from Name
	Language string
}

// staticFiles maps embedded file names to their names in a project.
var staticFiles = map[string]string{
	"AGENTS.md":    "AGENTS.md",
	"CLAUDE.md":    "CLAUDE.md",
	"GEMINI.md":    "GEMINI.md",
	"gitignore":    ".gitignore",
	"editorconfig": ".editorconfig",
}

// New parses the embedded templates.
func New() (*Templates, error) {
	tmpl, err := template.ParseFS(filesFS, "files/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Templates{tmpl: tmpl}, nil
}

// WithOverride returns a copy that prefers templates found in dir.
// Only the Dockerfile can be overridden.
func (t *Templates) WithOverride(dir string) *Templates {
	c := *t
	c.override = dir
	return &c
}

// RenderDockerfile renders the container image definition.
func (t *Templates) RenderDockerfile(data DockerfileData) (string, error) {
	if t.override != "" {
		path := filepath.Join(t.override, "Dockerfile.tmpl")
		if text, err := os.ReadFile(path); err == nil {
			tmpl, err := template.New("Dockerfile.tmpl").Parse(string(text))
			if err != nil {
				return "", fmt.Errorf("parsing %s: %w", path, err)
			}
			return execute(tmpl, data)
		}
	}
	return t.render("Dockerfile.tmpl", data)
}

// RenderJustfile renders the task runner recipes for the project's primary language.
func (t *Templates) RenderJustfile(data ProjectData) (string, error) {
	return t.render("justfile.tmpl", data)
}

// RenderMOTD renders the message shown on shell login inside the container.
func (t *Templates) RenderMOTD(data ProjectData) (string, error) {
	return t.render("MOTD.tmpl", data)
}

func (t *Templates) render(name string, data interface{}) (string, error) {
	tmpl := t.tmpl.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template %s not found", name)
	}
	return execute(tmpl, data)
}

func execute(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// StaticFile is a file copied verbatim into a new project.
type StaticFile struct {
	Name    string
	Content []byte
}

// StaticFiles returns the project files that need no rendering, sorted by name.
func StaticFiles() ([]StaticFile, error) {
	names := make([]string, 0, len(staticFiles))
	for src := range staticFiles {
		names = append(names, src)
	}
	sort.Strings(names)

	files := make([]StaticFile, 0, len(names))
	for _, src := range names {
		data, err := filesFS.ReadFile("files/" + src)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		files = append(files, StaticFile{Name: staticFiles[src], Content: data})
	}
	return files, nil
}

// StarterFiles renders the example sources for a language, keyed by their
// slash-separated path in the project. Languages without starter files
// yield none.
func StarterFiles(language string, data ProjectData) ([]StaticFile, error) {
	root := path.Join("files", "starter", language)
	if _, err := fs.Stat(filesFS, root); err != nil {
		return nil, nil
	}

	var files []StaticFile
	err := fs.WalkDir(filesFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		text, err := filesFS.ReadFile(p)
		if err != nil {
			return err
		}
		tmpl, err := template.New(p).Parse(string(text))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		out, err := execute(tmpl, data)
		if err != nil {
			return err
		}

		rel := strings.TrimPrefix(p, root+"/")
		rel = strings.ReplaceAll(rel, "MODULE", data.Module)
		rel = strings.TrimSuffix(rel, ".txt")
		files = append(files, StaticFile{Name: rel, Content: []byte(out)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rendering %s starter files: %w", language, err)
	}
	return files, nil
}
