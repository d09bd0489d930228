package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/container"
	"github.com/jolo-cli/jolo/internal/credentials"
	"github.com/jolo-cli/jolo/internal/deps"
	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/ports"
	"github.com/jolo-cli/jolo/internal/util"
	"github.com/jolo-cli/jolo/internal/worktree"
)

// Checks returns the checks `jolo doctor` runs, in order.
func Checks() []Check {
	return []Check{
		NewToolCheck(deps.Git, "worktrees and project setup", false),
		NewRuntimeCheck(),
		NewToolCheck(deps.Devcontainer, "building and entering containers", false),
		NewToolCheck(deps.Tmux, "the spawn session", false),
		NewToolCheck(deps.Pass, "API keys (environment variables are used without it)", true),
		NewConfigCheck(),
		NewCredentialsCheck(),
		NewPortsCheck(),
		NewStaleWorktreeCheck(),
	}
}

// ToolCheck verifies that an external program is installed and recent enough.
type ToolCheck struct {
	BaseCheck
	tool     deps.Tool
	purpose  string
	optional bool
}

// NewToolCheck checks tool. A missing optional tool is only a warning.
func NewToolCheck(tool deps.Tool, purpose string, optional bool) *ToolCheck {
	return &ToolCheck{
		BaseCheck: BaseCheck{
			CheckName:        tool.Name,
			CheckDescription: fmt.Sprintf("Check that %s is installed", tool.Name),
		},
		tool:     tool,
		purpose:  purpose,
		optional: optional,
	}
}

func (c *ToolCheck) Run(ctx *CheckContext) *CheckResult {
	return toolResult(c.Name(), c.tool, c.purpose, c.optional, ctx)
}

func toolResult(name string, tool deps.Tool, purpose string, optional bool, ctx *CheckContext) *CheckResult {
	status, version, detail := deps.Check(context.Background(), ctx.Runner, tool)
	failed := StatusError
	if optional {
		failed = StatusWarning
	}

	switch status {
	case deps.OK:
		return &CheckResult{Name: name, Status: StatusOK, Message: fmt.Sprintf("%s %s", tool.Name, version)}
	case deps.NotFound:
		return &CheckResult{
			Name:    name,
			Status:  failed,
			Message: tool.Name + " not found in PATH",
			Details: []string{fmt.Sprintf("%s is used for %s", tool.Name, purpose)},
			FixHint: "Install " + tool.Name + ": " + tool.InstallURL,
		}
	case deps.TooOld:
		return &CheckResult{
			Name:    name,
			Status:  failed,
			Message: fmt.Sprintf("%s %s is too old (minimum: %s)", tool.Name, version, tool.Min),
			FixHint: "Upgrade " + tool.Name + ": " + tool.InstallURL,
		}
	case deps.ExecFailed:
		return &CheckResult{
			Name:    name,
			Status:  failed,
			Message: fmt.Sprintf("%s found but its version could not be read: %s", tool.Name, detail),
			FixHint: "Reinstall " + tool.Name + ": " + tool.InstallURL,
		}
	default:
		return &CheckResult{
			Name:    name,
			Status:  StatusWarning,
			Message: fmt.Sprintf("%s found but version could not be parsed: %s", tool.Name, detail),
		}
	}
}

// RuntimeCheck verifies the container runtime: docker, podman, or the
// configured one.
type RuntimeCheck struct {
	BaseCheck
}

func NewRuntimeCheck() *RuntimeCheck {
	return &RuntimeCheck{BaseCheck: BaseCheck{
		CheckName:        "container-runtime",
		CheckDescription: "Check that docker or podman is installed",
	}}
}

func (c *RuntimeCheck) Run(ctx *CheckContext) *CheckResult {
	rt, err := container.DetectRuntime(ctx.Runner, ctx.Config.ContainerRuntime)
	if err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: err.Error(),
			FixHint: "Install docker (" + deps.Docker.InstallURL + ") or podman (" + deps.Podman.InstallURL + ")",
		}
	}
	tool := deps.Docker
	if rt.Name() == deps.Podman.Name {
		tool = deps.Podman
	}
	return toolResult(c.Name(), tool, "running containers", false, ctx)
}

// ConfigCheck validates the merged configuration.
type ConfigCheck struct {
	BaseCheck
}

func NewConfigCheck() *ConfigCheck {
	return &ConfigCheck{BaseCheck: BaseCheck{
		CheckName:        "config",
		CheckDescription: "Check that the configuration is valid",
	}}
}

func (c *ConfigCheck) Run(ctx *CheckContext) *CheckResult {
	if err := ctx.Config.Validate(); err != nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: err.Error(),
			Details: ctx.Config.Sources,
		}
	}
	msg := "built-in defaults"
	if n := len(ctx.Config.Sources); n > 0 {
		msg = fmt.Sprintf("valid (%d files)", n)
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: msg, Details: ctx.Config.Sources}
}

// CredentialsCheck reports agents whose host credentials are missing.
type CredentialsCheck struct {
	BaseCheck
}

func NewCredentialsCheck() *CredentialsCheck {
	return &CredentialsCheck{BaseCheck: BaseCheck{
		CheckName:        "credentials",
		CheckDescription: "Check that agent credentials exist on the host",
	}}
}

func (c *CredentialsCheck) Run(ctx *CheckContext) *CheckResult {
	iso, err := credentials.New(ctx.Home)
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: err.Error()}
	}
	var found, missing []string
	for _, kind := range credentials.Kinds {
		if util.IsDir(iso.Source(kind)) {
			found = append(found, string(kind))
		} else {
			missing = append(missing, fmt.Sprintf("%s: %s not found", kind, iso.Source(kind)))
		}
	}
	if len(missing) > 0 {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d of %d agents have credentials", len(found), len(credentials.Kinds)),
			Details: missing,
			FixHint: "Log in to the agent on the host once; containers get a copy",
		}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "all agents have credentials"}
}

// PortsCheck reports how much of the port range running containers hold.
type PortsCheck struct {
	BaseCheck
}

func NewPortsCheck() *PortsCheck {
	return &PortsCheck{BaseCheck: BaseCheck{
		CheckName:        "ports",
		CheckDescription: "Check that the port range has room",
	}}
}

func (c *PortsCheck) Run(ctx *CheckContext) *CheckResult {
	rt, err := container.DetectRuntime(ctx.Runner, ctx.Config.ContainerRuntime)
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: "skipped: no container runtime"}
	}
	qctx, cancel := context.WithTimeout(context.Background(), constants.QueryTimeout)
	defer cancel()
	sessions, err := container.NewRegistry(rt).List(qctx, container.Filter{All: true})
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: err.Error()}
	}

	r := ports.Range{Start: ctx.Config.BasePort, End: ctx.Config.PortRangeEnd}
	inUse := 0
	for _, p := range ports.UsedPorts(sessions) {
		if r.Contains(p) {
			inUse++
		}
	}
	msg := fmt.Sprintf("%d of %d ports in use [%d, %d)", inUse, r.Size(), r.Start, r.End)
	switch {
	case inUse >= r.Size():
		return &CheckResult{Name: c.Name(), Status: StatusError, Message: msg, FixHint: "Stop containers with jolo stop, or widen port_range_end"}
	case inUse*10 >= r.Size()*9:
		return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: msg, FixHint: "Stop unused containers with jolo stop"}
	}
	return &CheckResult{Name: c.Name(), Status: StatusOK, Message: msg}
}

// StaleWorktreeCheck finds worktrees of the current project that are no
// longer valid. Fix drops the ones whose directory is gone; their branches
// are kept.
type StaleWorktreeCheck struct {
	FixableCheck
}

func NewStaleWorktreeCheck() *StaleWorktreeCheck {
	return &StaleWorktreeCheck{FixableCheck: FixableCheck{BaseCheck: BaseCheck{
		CheckName:        "worktrees",
		CheckDescription: "Check for stale worktrees of the current project",
	}}}
}

func (c *StaleWorktreeCheck) stale(ctx *CheckContext) (*worktree.Manager, worktree.Project, []worktree.Worktree, error) {
	repo, err := git.Discover(ctx.ProjectRoot)
	if err != nil {
		return nil, worktree.Project{}, nil, err
	}
	root, err := ctx.Config.ResolveWorktreeRoot()
	if err != nil {
		return nil, worktree.Project{}, nil, err
	}
	m := worktree.NewManager(ctx.Runner, root, ctx.Config.DefaultBranch)
	project := worktree.Project{Root: repo.Root, Repo: repo}

	qctx, cancel := context.WithTimeout(context.Background(), constants.QueryTimeout)
	defer cancel()
	wts, err := m.List(qctx, project)
	if err != nil {
		return nil, project, nil, err
	}
	var stale []worktree.Worktree
	for _, wt := range wts {
		if !wt.Valid {
			stale = append(stale, wt)
		}
	}
	return m, project, stale, nil
}

func (c *StaleWorktreeCheck) Run(ctx *CheckContext) *CheckResult {
	if ctx.ProjectRoot == "" {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "not in a project"}
	}
	_, _, stale, err := c.stale(ctx)
	if err != nil {
		return &CheckResult{Name: c.Name(), Status: StatusWarning, Message: err.Error()}
	}
	if len(stale) == 0 {
		return &CheckResult{Name: c.Name(), Status: StatusOK, Message: "no stale worktrees"}
	}
	details := make([]string, len(stale))
	for i, wt := range stale {
		details[i] = fmt.Sprintf("%s: %s", wt.Name, wt.Reason)
	}
	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusWarning,
		Message: fmt.Sprintf("%d stale worktrees", len(stale)),
		Details: details,
		FixHint: "Run jolo doctor --fix to drop missing ones, or jolo prune",
	}
}

func (c *StaleWorktreeCheck) Fix(ctx *CheckContext) error {
	m, project, stale, err := c.stale(ctx)
	if err != nil {
		return err
	}
	var plan worktree.PrunePlan
	for _, wt := range stale {
		if !util.IsDir(wt.Path) || wt.Reason == "prunable" {
			plan.Missing = append(plan.Missing, wt)
		}
	}
	if plan.Empty() {
		return fmt.Errorf("remaining worktrees have a directory; inspect them and use jolo prune or jolo destroy")
	}
	qctx, cancel := context.WithTimeout(context.Background(), constants.QueryTimeout)
	defer cancel()
	res, err := m.ApplyPrune(qctx, project, plan)
	if err != nil {
		return err
	}
	var errs []error
	for name, ferr := range res.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", name, ferr))
	}
	return errors.Join(errs...)
}
