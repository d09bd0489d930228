package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/doctor"
	"github.com/jolo-cli/jolo/internal/git"
	"github.com/jolo-cli/jolo/internal/runner"
)

var doctorFix bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the tools and state jolo depends on",
	Long: `Check that git, the container runtime, the devcontainer CLI, tmux and
pass are installed, that the configuration is valid, that agent
credentials exist, and that the port range has room.

Inside a project the worktrees are checked too. With --fix, worktrees
whose directory is gone are dropped (their branches are kept).`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Repair what can be repaired")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	var projectRoot string
	if repo, err := git.Discover(cwd); err == nil {
		projectRoot = repo.Root
	}
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return err
	}

	ctx := &doctor.CheckContext{
		ProjectRoot: projectRoot,
		Config:      cfg,
		Runner:      runner.NewExec(),
		Verbose:     verbose,
	}
	d := doctor.NewDoctor(doctor.Checks()...)
	var report *doctor.Report
	if doctorFix {
		report = d.Fix(ctx)
	} else {
		report = d.Run(ctx)
	}
	report.Print(cmd.OutOrStdout(), verbose)

	if report.HasErrors() {
		return fmt.Errorf("%d checks failed", report.Summary.Errors)
	}
	return nil
}
