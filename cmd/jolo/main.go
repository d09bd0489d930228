// Command jolo runs projects and their git worktrees in devcontainers.
package main

import (
	"os"

	"github.com/jolo-cli/jolo/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
