package scaffold

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// PreCommitFile is the hook configuration file name.
const PreCommitFile = ".pre-commit-config.yaml"

// Hook is one pre-commit hook.
type Hook struct {
	ID                     string   `yaml:"id"`
	Args                   []string `yaml:"args,omitempty,flow"`
	AdditionalDependencies []string `yaml:"additional_dependencies,omitempty,flow"`
}

// Repo is one hook repository.
type Repo struct {
	Repo  string `yaml:"repo"`
	Rev   string `yaml:"rev"`
	Hooks []Hook `yaml:"hooks"`
}

// PreCommitConfig is the .pre-commit-config.yaml document.
type PreCommitConfig struct {
	Repos []Repo `yaml:"repos"`
}

var baseRepos = []Repo{
	{
		Repo: "https://github.com/pre-commit/pre-commit-hooks",
		Rev:  "v5.0.0",
		Hooks: []Hook{
			{ID: "trailing-whitespace"},
			{ID: "end-of-file-fixer"},
			{ID: "check-added-large-files"},
		},
	},
	{
		Repo:  "https://github.com/gitleaks/gitleaks",
		Rev:   "v8.24.2",
		Hooks: []Hook{{ID: "gitleaks"}},
	},
}

var languageRepos = map[Language][]Repo{
	Python: {{
		Repo: "https://github.com/astral-sh/ruff-pre-commit",
		Rev:  "v0.8.6",
		Hooks: []Hook{
			{ID: "ruff", Args: []string{"--fix"}},
			{ID: "ruff-format"},
		},
	}},
	Go: {{
		Repo:  "https://github.com/golangci/golangci-lint",
		Rev:   "v1.62.0",
		Hooks: []Hook{{ID: "golangci-lint"}},
	}},
	TypeScript: {{
		Repo:  "https://github.com/biomejs/pre-commit",
		Rev:   "v0.6.0",
		Hooks: []Hook{{ID: "biome-check", AdditionalDependencies: []string{"@biomejs/biome@1.9.0"}}},
	}},
	Rust: {{
		Repo:  "https://github.com/doublify/pre-commit-rust",
		Rev:   "v1.0",
		Hooks: []Hook{{ID: "fmt"}, {ID: "cargo-check"}},
	}},
	Shell: {{
		Repo:  "https://github.com/shellcheck-py/shellcheck-py",
		Rev:   "v0.10.0.1",
		Hooks: []Hook{{ID: "shellcheck"}},
	}},
	Prose: {
		{
			Repo:  "https://github.com/igorshubovych/markdownlint-cli",
			Rev:   "v0.43.0",
			Hooks: []Hook{{ID: "markdownlint"}},
		},
		{
			Repo:  "https://github.com/codespell-project/codespell",
			Rev:   "v2.3.0",
			Hooks: []Hook{{ID: "codespell"}},
		},
	},
}

// PreCommit builds the hook configuration for langs: the base hooks, then
// each language's repositories in order, each repository at most once.
func PreCommit(langs []Language) PreCommitConfig {
	cfg := PreCommitConfig{Repos: append([]Repo(nil), baseRepos...)}
	seen := make(map[string]bool)
	for _, r := range baseRepos {
		seen[r.Repo] = true
	}
	for _, lang := range langs {
		for _, r := range languageRepos[lang] {
			if seen[r.Repo] {
				continue
			}
			seen[r.Repo] = true
			cfg.Repos = append(cfg.Repos, r)
		}
	}
	return cfg
}

// Marshal renders the configuration as YAML.
func (c PreCommitConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", PreCommitFile, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
