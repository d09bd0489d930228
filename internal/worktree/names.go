package worktree

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

var (
	adjectives = []string{"brave", "swift", "calm", "bold", "keen", "wild", "warm", "cool", "fair", "wise"}
	nouns      = []string{"panda", "falcon", "river", "mountain", "oak", "wolf", "hawk", "cedar", "fox", "bear"}
)

// maxNameAttempts bounds random draws before falling back to a uuid name.
const maxNameAttempts = 100

// RandomName returns an "<adjective>-<noun>" name. A nil rng uses the
// package-level source.
func RandomName(rng *rand.Rand) string {
	if rng == nil {
		return adjectives[rand.IntN(len(adjectives))] + "-" + nouns[rand.IntN(len(nouns))]
	}
	return adjectives[rng.IntN(len(adjectives))] + "-" + nouns[rng.IntN(len(nouns))]
}

// UniqueName returns a random name not present in taken.
func UniqueName(rng *rand.Rand, taken map[string]bool) string {
	for i := 0; i < maxNameAttempts; i++ {
		if name := RandomName(rng); !taken[name] {
			return name
		}
	}
	return "spawn-" + uuid.NewString()[:8]
}

// SpawnNames returns n worktree names: prefix-1..prefix-n when a prefix is
// given, otherwise distinct random names avoiding taken.
func SpawnNames(n int, prefix string, taken map[string]bool, rng *rand.Rand) []string {
	names := make([]string, 0, n)
	if prefix != "" {
		for i := 1; i <= n; i++ {
			names = append(names, fmt.Sprintf("%s-%d", prefix, i))
		}
		return names
	}

	used := make(map[string]bool, len(taken)+n)
	for k, v := range taken {
		used[k] = v
	}
	for i := 0; i < n; i++ {
		name := UniqueName(rng, used)
		used[name] = true
		names = append(names, name)
	}
	return names
}
