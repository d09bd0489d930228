package worktree

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jolo-cli/jolo/internal/util"
)

// PruneOptions carries the container state the prune decision depends on.
// Both maps are keyed by workspace folder.
type PruneOptions struct {
	// Running folders have a running container and are never pruned.
	Running map[string]bool

	// Stopped folders have only stopped containers.
	Stopped map[string]bool

	// BaseRef is what "no commits beyond base" is measured against.
	// Empty means the project's HEAD.
	BaseRef string
}

// PrunePlan lists what a prune would remove.
type PrunePlan struct {
	// Missing worktrees have no directory; only their metadata is dropped.
	Missing []Worktree

	// Idle worktrees have a stopped container, a clean tree and no commits
	// beyond the base ref. Their directory and branch are removed.
	Idle []Worktree
}

// Empty reports whether the plan removes nothing.
func (p PrunePlan) Empty() bool {
	return len(p.Missing) == 0 && len(p.Idle) == 0
}

// PruneResult reports what a prune removed.
type PruneResult struct {
	Removed []Worktree
	Failed  map[string]error
}

// PlanPrune decides which worktrees a prune would remove, without changing anything.
func (m *Manager) PlanPrune(ctx context.Context, project Project, opts PruneOptions) (PrunePlan, error) {
	wts, err := m.List(ctx, project)
	if err != nil {
		return PrunePlan{}, err
	}

	base := opts.BaseRef
	if base == "" {
		base = "HEAD"
	}
	g := m.cli(project)

	var plan PrunePlan
	for _, wt := range wts {
		if opts.Running[wt.Path] {
			continue
		}
		if wt.Reason == "prunable" || !util.IsDir(wt.Path) {
			plan.Missing = append(plan.Missing, wt)
			continue
		}
		if !wt.Managed || !opts.Stopped[wt.Path] || wt.Branch == "" {
			continue
		}

		clean, err := g.In(wt.Path).IsClean(ctx)
		if err != nil || !clean {
			continue
		}
		ahead, err := g.CommitsAhead(ctx, base, wt.Branch)
		if err != nil || ahead > 0 {
			continue
		}
		plan.Idle = append(plan.Idle, wt)
	}
	return plan, nil
}

// ApplyPrune executes a plan. Missing worktrees are dropped with
// `git worktree prune` and keep their branch; idle worktrees are removed along
// with their (merged) branch. Individual failures are collected, not fatal.
func (m *Manager) ApplyPrune(ctx context.Context, project Project, plan PrunePlan) (PruneResult, error) {
	res := PruneResult{Failed: make(map[string]error)}

	if err := m.cli(project).WorktreePrune(ctx); err != nil {
		return res, fmt.Errorf("pruning worktree metadata: %w", err)
	}
	res.Removed = append(res.Removed, plan.Missing...)

	for _, wt := range plan.Idle {
		if err := m.Remove(ctx, project, wt, true, false); err != nil {
			log.Warn().Err(err).Str("worktree", wt.Name).Msg("prune failed")
			res.Failed[wt.Name] = err
			continue
		}
		res.Removed = append(res.Removed, wt)
	}
	return res, nil
}

// Prune plans and applies in one step. Running it again removes nothing new.
func (m *Manager) Prune(ctx context.Context, project Project, opts PruneOptions) (PruneResult, error) {
	plan, err := m.PlanPrune(ctx, project, opts)
	if err != nil {
		return PruneResult{}, err
	}
	return m.ApplyPrune(ctx, project, plan)
}
