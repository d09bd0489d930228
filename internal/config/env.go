package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/runner"
)

// Secret environment variable names forwarded to containers.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
)

// ContainerRuntimeDir is where host display sockets appear inside the container.
const ContainerRuntimeDir = "/tmp/container-runtime"

// ContainerEnvConfig describes the environment a container is created with.
type ContainerEnvConfig struct {
	// WorkspaceFolder is the in-container workspace path.
	WorkspaceFolder string

	// Port is the session's reserved dev-server port.
	Port int

	// Agent is the spawned agent name (empty outside spawn mode).
	Agent string
}

// ContainerEnv returns the containerEnv block for devcontainer.json.
// Host values are referenced with ${localEnv:...} so that secrets are
// resolved by the devcontainer CLI at launch time and never written to disk.
func ContainerEnv(cfg ContainerEnvConfig) map[string]string {
	env := map[string]string{
		"TERM":            "xterm-256color",
		"DISPLAY":         "${localEnv:DISPLAY}",
		"WAYLAND_DISPLAY": "${localEnv:WAYLAND_DISPLAY}",
		"XDG_RUNTIME_DIR": ContainerRuntimeDir,
		EnvAnthropicKey:   "${localEnv:" + EnvAnthropicKey + "}",
		EnvOpenAIKey:      "${localEnv:" + EnvOpenAIKey + "}",
		"PORT":            strconv.Itoa(cfg.Port),
	}
	if cfg.WorkspaceFolder != "" {
		env["WORKSPACE_FOLDER"] = cfg.WorkspaceFolder
	}
	if cfg.Agent != "" {
		env["JOLO_AGENT"] = cfg.Agent
	}
	return env
}

// Secrets resolves API keys from `pass` when it is installed, falling back to
// the caller's environment for anything pass did not provide. Missing keys map
// to the empty string.
func (c *Config) Secrets(ctx context.Context, r runner.Runner) map[string]string {
	secrets := make(map[string]string, 2)

	if _, err := r.LookPath("pass"); err == nil {
		for key, path := range map[string]string{
			EnvAnthropicKey: c.PassPathAnthropic,
			EnvOpenAIKey:    c.PassPathOpenAI,
		} {
			if path == "" {
				continue
			}
			lookupCtx, cancel := context.WithTimeout(ctx, constants.PassTimeout)
			res, err := r.Run(lookupCtx, runner.New("pass", "show", path))
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("path", path).Msg("pass lookup failed")
				continue
			}
			// pass entries may carry metadata lines after the secret.
			secret, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
			if secret != "" {
				secrets[key] = secret
			}
		}
	}

	for _, key := range []string{EnvAnthropicKey, EnvOpenAIKey} {
		if _, ok := secrets[key]; !ok {
			secrets[key] = os.Getenv(key)
		}
	}
	return secrets
}

// ShellQuote returns a shell-safe quoted string.
// Values containing special characters are wrapped in single quotes.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$\\!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// AgentStartCommand joins an agent command line and an optional prompt into a
// single shell command. The prompt is passed as one quoted argument.
func AgentStartCommand(agentCmd, prompt string) string {
	if prompt == "" {
		return agentCmd
	}
	return fmt.Sprintf("%s %s", agentCmd, ShellQuote(prompt))
}

// MergeEnv merges multiple environment maps, with later maps taking precedence.
func MergeEnv(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// EnvToSlice converts an env map to sorted "K=V" strings.
func EnvToSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(env))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
