package cmd

import (
	"fmt"
	"strings"

	"github.com/jolo-cli/jolo/internal/session"
)

// launchFlags are the root command's flags as parsed.
type launchFlags struct {
	Tree    bool
	From    string
	Create  string
	Init    bool
	Sync    bool
	New     bool
	Force   bool
	List    bool
	Stop    bool
	Attach  bool
	Switch  bool
	Prune   bool
	Destroy bool
	All     bool
	Detach  bool
	Shell   bool
	Run     string
	Spawn   int
	Prefix  string
	Prompt  string
	Agent   string
	Mounts  []string
	Copies  []string
	Lang    string
}

// usageError is a command line that makes no sense. It exits with code 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// mode picks the one mode the flags select.
func (f *launchFlags) mode() (session.Mode, error) {
	set := []struct {
		on   bool
		flag string
		mode session.Mode
	}{
		{f.Tree, "--tree", session.ModeTree},
		{f.Create != "", "--create", session.ModeCreate},
		{f.Init, "--init", session.ModeInit},
		{f.Sync, "--sync", session.ModeSync},
		{f.Spawn != 0, "--spawn", session.ModeSpawn},
		{f.List, "--list", session.ModeList},
		{f.Stop, "--stop", session.ModeStop},
		{f.Attach, "--attach", session.ModeAttach},
		{f.Switch, "--switch", session.ModeSwitch},
		{f.Prune, "--prune", session.ModePrune},
		{f.Destroy, "--destroy", session.ModeDestroy},
	}
	var chosen []string
	mode := session.ModeStart
	for _, s := range set {
		if s.on {
			chosen = append(chosen, s.flag)
			mode = s.mode
		}
	}
	if len(chosen) > 1 {
		return "", usageErrorf("%s cannot be combined", strings.Join(chosen, " and "))
	}
	return mode, nil
}

// allowedWith lists the modes a modifier flag applies to.
func allowedWith(mode session.Mode, flag string, modes ...session.Mode) error {
	for _, m := range modes {
		if m == mode {
			return nil
		}
	}
	if mode == session.ModeStart {
		return usageErrorf("%s needs a mode flag", flag)
	}
	return usageErrorf("%s cannot be used with --%s", flag, mode)
}

// launching modes are the ones that can end inside a container.
var launching = []session.Mode{session.ModeStart, session.ModeTree, session.ModeCreate, session.ModeInit, session.ModeSync, session.ModeSpawn}

// options validates the flags and positional args into session options.
func (f *launchFlags) options(args []string) (session.Options, error) {
	mode, err := f.mode()
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Mode:      mode,
		From:      f.From,
		All:       f.All,
		New:       f.New,
		Force:     f.Force,
		Detach:    f.Detach,
		Shell:     f.Shell,
		Run:       f.Run,
		Prompt:    f.Prompt,
		Agent:     f.Agent,
		Spawn:     f.Spawn,
		Prefix:    f.Prefix,
		Mounts:    f.Mounts,
		Copies:    f.Copies,
		Languages: f.Lang,
	}

	switch mode {
	case session.ModeTree, session.ModeDestroy:
		if len(args) > 1 {
			return opts, usageErrorf("--%s takes at most one argument, got %q", mode, args)
		}
		if len(args) == 1 {
			opts.Name = args[0]
		}
	case session.ModeCreate:
		if len(args) > 0 {
			return opts, usageErrorf("unexpected arguments %q", args)
		}
		opts.Name = f.Create
	default:
		if len(args) > 0 {
			return opts, usageErrorf("unexpected arguments %q", args)
		}
	}

	if f.Spawn < 0 {
		return opts, usageErrorf("--spawn must be at least 1, got %d", f.Spawn)
	}
	checks := []struct {
		on    bool
		flag  string
		modes []session.Mode
	}{
		{f.From != "", "--from", []session.Mode{session.ModeTree, session.ModeSpawn}},
		{f.Prefix != "", "--prefix", []session.Mode{session.ModeSpawn}},
		{f.All, "--all", []session.Mode{session.ModeList, session.ModeStop, session.ModePrune, session.ModeDestroy}},
		{f.Lang != "", "--lang", []session.Mode{session.ModeCreate, session.ModeInit}},
		{f.New, "--new", launching},
		{f.Force, "--force", []session.Mode{session.ModeTree, session.ModeSpawn, session.ModeDestroy}},
		{f.Prompt != "", "--prompt", launching},
		{f.Agent != "", "--agent", launching},
		{len(f.Mounts) > 0, "--mount", launching},
		{len(f.Copies) > 0, "--copy", launching},
		{f.Detach, "--detach", launching},
		{f.Shell, "--shell", append([]session.Mode{session.ModeAttach}, launching...)},
		{f.Run != "", "--run", append([]session.Mode{session.ModeAttach}, launching...)},
	}
	for _, c := range checks {
		if c.on {
			if err := allowedWith(mode, c.flag, c.modes...); err != nil {
				return opts, err
			}
		}
	}

	exclusive := 0
	for _, on := range []bool{f.Detach, f.Shell, f.Run != "", f.Prompt != "" && mode != session.ModeSpawn} {
		if on {
			exclusive++
		}
	}
	if exclusive > 1 {
		return opts, usageErrorf("--detach, --shell, --run and --prompt are mutually exclusive")
	}
	if mode == session.ModeSpawn && (f.Shell || f.Run != "") {
		return opts, usageErrorf("--spawn cannot be combined with --shell or --run")
	}
	return opts, nil
}
