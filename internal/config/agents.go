package config

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// AgentName returns the agent for the i-th spawned instance. A non-empty
// override pins every instance to one agent; otherwise agents rotate
// round-robin through the configured list.
func (c *Config) AgentName(i int, override string) string {
	if override != "" {
		return override
	}
	if len(c.Agents) == 0 {
		return "claude"
	}
	return c.Agents[i%len(c.Agents)]
}

// AgentCommand returns the command line that starts agent. Agents without a
// configured command run under their own name.
func (c *Config) AgentCommand(agent string) string {
	if cmd, ok := c.AgentCommands[agent]; ok && strings.TrimSpace(cmd) != "" {
		return cmd
	}
	return agent
}

// AgentDisplayName renders an agent name for humans ("claude" -> "Claude").
func AgentDisplayName(agent string) string {
	return cases.Title(language.English).String(agent)
}
