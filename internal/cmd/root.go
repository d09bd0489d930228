// Package cmd implements the jolo command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jolo-cli/jolo/internal/logging"
	"github.com/jolo-cli/jolo/internal/prompt"
	"github.com/jolo-cli/jolo/internal/runner"
	"github.com/jolo-cli/jolo/internal/session"
	"github.com/jolo-cli/jolo/internal/style"
)

var (
	verbose bool
	yes     bool
	launch  launchFlags
)

var rootCmd = &cobra.Command{
	Use:   "jolo [NAME|PATH]",
	Short: "Devcontainer + git worktree launcher for AI coding agents",
	Long: `jolo runs each project, and each git worktree of it, in its own
devcontainer with isolated copies of your agent credentials.

Without a mode flag jolo starts (or reuses) the container for the current
project and attaches to its tmux session.

Modes:
  --tree [NAME]     run a worktree (random name when omitted; --new
                    recreates it, --force discards its uncommitted changes)
  --create NAME     scaffold a new project and run it
  --init            turn the current directory into a project
  --spawn N         run N worktrees with agents side by side
  --sync [--new]    regenerate .devcontainer (and rebuild)
  --attach          enter the running container
  --switch          pick a running container and attach
  --list [--all]    show containers and worktrees
  --stop [--all]    stop containers
  --prune [--all]   remove stale worktrees and containers
  --destroy [PATH]  remove containers, worktrees and generated files

Each mode is also accepted as a word: "jolo tree fix-auth" is
"jolo --tree fix-auth".`,
	Example: `  jolo                              # start and attach
  jolo --tree fix-auth --from main  # worktree on a new branch from main
  jolo --spawn 3 -p "fix the flaky test"
  jolo --create api --lang go,typescript
  jolo --stop --all`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(os.Stderr, verbose)
	},
	RunE: runRoot,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every external command")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "Answer yes to every confirmation")

	f := rootCmd.Flags()
	f.BoolVar(&launch.Tree, "tree", false, "Run a worktree of the current project")
	f.StringVar(&launch.From, "from", "", "Ref new worktree branches start from")
	f.StringVar(&launch.Create, "create", "", "Create a new project directory `NAME`")
	f.BoolVar(&launch.Init, "init", false, "Initialize a project in the current directory")
	f.BoolVar(&launch.Sync, "sync", false, "Regenerate the devcontainer config")
	f.BoolVar(&launch.New, "new", false, "Replace an existing container (with --tree NAME, also the worktree)")
	f.BoolVar(&launch.Force, "force", false, "Let --tree, --spawn and --destroy discard uncommitted worktree changes")
	f.BoolVar(&launch.List, "list", false, "List containers and worktrees")
	f.BoolVar(&launch.Stop, "stop", false, "Stop the container")
	f.BoolVar(&launch.Attach, "attach", false, "Attach to the running container")
	f.BoolVar(&launch.Switch, "switch", false, "Pick a running container and attach")
	f.BoolVar(&launch.Prune, "prune", false, "Remove stale worktrees and containers")
	f.BoolVar(&launch.Destroy, "destroy", false, "Remove the project's containers and generated files")
	f.BoolVar(&launch.All, "all", false, "Apply --list, --stop, --prune or --destroy to every project")
	f.BoolVarP(&launch.Detach, "detach", "d", false, "Start without attaching")
	f.BoolVar(&launch.Shell, "shell", false, "Open a shell in the container instead of tmux")
	f.StringVar(&launch.Run, "run", "", "Run `CMD` in the container instead of tmux")
	f.IntVar(&launch.Spawn, "spawn", 0, "Run `N` worktrees with agents in parallel")
	f.StringVar(&launch.Prefix, "prefix", "", "Name spawned worktrees `P`-1..P-N")
	f.StringVarP(&launch.Prompt, "prompt", "p", "", "Start the agent detached with `PROMPT`")
	f.StringVar(&launch.Agent, "agent", "", "Use agent `NAME` instead of the configured list")
	f.StringArrayVar(&launch.Mounts, "mount", nil, "Extra bind mount `SRC:DST[:ro]` (repeatable)")
	f.StringArrayVar(&launch.Copies, "copy", nil, "Copy `SRC[:DST]` into the workspace (repeatable)")
	f.StringVar(&launch.Lang, "lang", "", "Project languages for --create/--init, e.g. `go,python`")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func runRoot(cmd *cobra.Command, args []string) error {
	opts, err := launch.options(args)
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	ctl := session.New(runner.NewExec(), prompt.New(yes), cwd)
	return ctl.Run(cmd.Context(), opts)
}

// modeWords are accepted as the first argument in place of their flag.
var modeWords = map[string]string{
	"start":   "",
	"tree":    "--tree",
	"create":  "--create",
	"init":    "--init",
	"sync":    "--sync",
	"spawn":   "--spawn",
	"list":    "--list",
	"switch":  "--switch",
	"stop":    "--stop",
	"attach":  "--attach",
	"prune":   "--prune",
	"destroy": "--destroy",
}

// optionalValueFlags take an optional value, given either as --flag=VALUE or
// as the following positional argument.
var optionalValueFlags = []string{"--tree", "--destroy"}

// normalizeArgs rewrites a leading mode word into its flag and splits
// --tree=NAME and --destroy=PATH into the flag and a positional argument.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i, arg := range args {
		if i == 0 {
			if flag, ok := modeWords[arg]; ok {
				if flag != "" {
					out = append(out, flag)
				}
				continue
			}
		}
		split := false
		for _, flag := range optionalValueFlags {
			if value, ok := strings.CutPrefix(arg, flag+"="); ok {
				out = append(out, flag, value)
				split = true
				break
			}
		}
		if !split {
			out = append(out, arg)
		}
	}
	return out
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(normalizeArgs(os.Args[1:]))
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", style.Error.Render("Error:"), err)
		if _, ok := err.(*usageError); ok {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", rootCmd.Name())
		}
	}
	return exitCode(err)
}
