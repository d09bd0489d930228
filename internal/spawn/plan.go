// Package spawn launches several isolated agent sessions of one project at once.
//
// Every instance gets its own worktree, container, port and agent. Instances
// are prepared one after another, since they share the project's git metadata,
// and launched concurrently. A failing instance never stops the others.
package spawn

import (
	"fmt"
	"math/rand/v2"

	"github.com/jolo-cli/jolo/internal/ports"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// Instance is one planned session.
type Instance struct {
	Index int
	Name  string
	Agent string
	Port  int
}

// PlanInput is everything Plan needs. It is gathered before planning so that
// Plan itself has no side effects.
type PlanInput struct {
	// N is the number of instances.
	N int

	// Prefix names the instances prefix-1..prefix-N. Empty picks random names.
	Prefix string

	// Agents are assigned round-robin unless AgentOverride is set.
	Agents        []string
	AgentOverride string

	// Ports are the allocated ports, one per instance.
	Ports []int

	// Taken are worktree names already in use.
	Taken map[string]bool

	// Rand drives random names. Nil uses the global source.
	Rand *rand.Rand
}

// Plan assigns a name, agent and port to each of N instances. Agent i is
// Agents[i % len(Agents)]; port i is Ports[i].
func Plan(in PlanInput) ([]Instance, error) {
	if in.N < 1 {
		return nil, fmt.Errorf("spawn count must be at least 1, got %d", in.N)
	}
	if len(in.Ports) < in.N {
		return nil, fmt.Errorf("need %d ports, have %d", in.N, len(in.Ports))
	}
	if in.AgentOverride == "" && len(in.Agents) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	if in.Prefix != "" {
		if err := worktree.ValidateName(in.Prefix + "-1"); err != nil {
			return nil, fmt.Errorf("invalid prefix %q: %w", in.Prefix, err)
		}
	}

	names := worktree.SpawnNames(in.N, in.Prefix, in.Taken, in.Rand)
	instances := make([]Instance, in.N)
	for i := range instances {
		agent := in.AgentOverride
		if agent == "" {
			agent = in.Agents[i%len(in.Agents)]
		}
		instances[i] = Instance{
			Index: i,
			Name:  names[i],
			Agent: agent,
			Port:  ports.ForInstance(i, in.Ports),
		}
	}
	return instances, nil
}
