// Package scaffold writes the starting files of a new project.
package scaffold

import (
	"fmt"
	"sort"
	"strings"
)

// Language is a project language offered by --create.
type Language string

const (
	Python     Language = "python"
	Go         Language = "go"
	TypeScript Language = "typescript"
	Rust       Language = "rust"
	Shell      Language = "shell"
	Prose      Language = "prose"
	Other      Language = "other"
)

// Languages lists every language in picker order.
var Languages = []Language{Python, Go, TypeScript, Rust, Shell, Prose, Other}

var displayNames = map[Language]string{
	Python:     "Python",
	Go:         "Go",
	TypeScript: "TypeScript",
	Rust:       "Rust",
	Shell:      "Shell",
	Prose:      "Prose/Docs",
	Other:      "Other",
}

// DisplayName returns the name shown in the language picker.
func (l Language) DisplayName() string {
	if name, ok := displayNames[l]; ok {
		return name
	}
	return string(l)
}

// Valid reports whether l is a known language.
func (l Language) Valid() bool {
	_, ok := displayNames[l]
	return ok
}

// ParseLanguages parses a comma-separated --lang value. Order is kept; the
// first language is the primary one.
func ParseLanguages(value string) ([]Language, error) {
	var langs, invalid []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		if !Language(part).Valid() {
			invalid = append(invalid, part)
			continue
		}
		langs = append(langs, part)
	}
	if len(invalid) > 0 {
		valid := make([]string, len(Languages))
		for i, l := range Languages {
			valid[i] = string(l)
		}
		sort.Strings(valid)
		return nil, fmt.Errorf("invalid language(s): %s. Valid options: %s",
			strings.Join(invalid, ", "), strings.Join(valid, ", "))
	}
	if len(langs) == 0 {
		return nil, fmt.Errorf("no language given")
	}

	out := make([]Language, len(langs))
	for i, l := range langs {
		out[i] = Language(l)
	}
	return out, nil
}

// Primary returns the first language, or Other when none was chosen.
func Primary(langs []Language) Language {
	if len(langs) == 0 {
		return Other
	}
	return langs[0]
}

// ModuleName turns a project name into a Python package name.
func ModuleName(project string) string {
	return strings.ReplaceAll(project, "-", "_")
}

// InitCommands returns the commands run inside a new project's container,
// in order: language setup for the primary language, then hook installation.
func InitCommands(lang Language, project string) [][]string {
	var cmds [][]string
	switch lang {
	case Python:
		cmds = append(cmds, []string{"mkdir", "-p", "tests"})
	case TypeScript:
		cmds = append(cmds, []string{"bun", "init"})
	case Go:
		cmds = append(cmds, []string{"go", "mod", "init", project})
	case Rust:
		cmds = append(cmds, []string{"cargo", "init", "--name", project})
	case Prose:
		cmds = append(cmds, []string{"mkdir", "-p", "docs"})
	default:
		cmds = append(cmds, []string{"mkdir", "-p", "src"})
	}
	return append(cmds, []string{"pre-commit", "install"})
}
