package cmd

import (
	"context"
	"errors"

	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/devcontainer"
	"github.com/jolo-cli/jolo/internal/ports"
	"github.com/jolo-cli/jolo/internal/session"
	"github.com/jolo-cli/jolo/internal/spawn"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// Exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitNoSession      = 3
	ExitStepFailed     = 4
	ExitPartialSpawn   = 5
	ExitPortsExhausted = 6
	ExitConflict       = 7
	ExitInterrupted    = 130
)

// exitCode maps an invocation's error to the process exit code. The more
// specific causes are checked before *session.StepError, which wraps them.
func exitCode(err error) int {
	var usage *usageError
	var step *session.StepError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, container.ErrNoMatchingSession):
		return ExitNoSession
	case errors.Is(err, ports.ErrExhausted):
		return ExitPortsExhausted
	case errors.Is(err, worktree.ErrConflict), errors.Is(err, devcontainer.ErrSyncConflict):
		return ExitConflict
	case errors.Is(err, spawn.ErrPartialFailure):
		return ExitPartialSpawn
	case errors.As(err, &step):
		return ExitStepFailed
	}
	return ExitFailure
}
