// Package prompt asks the user for confirmations and choices.
package prompt

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

var (
	// ErrNotInteractive is returned when a question needs an answer but
	// stdin is not a terminal.
	ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

	// ErrAborted is returned when the user cancels a prompt.
	ErrAborted = errors.New("aborted")
)

// Option is one choice in a selection.
type Option struct {
	Label string
	Value string
}

// Prompter asks questions.
type Prompter interface {
	// Confirm asks a yes/no question.
	Confirm(title string) (bool, error)

	// MultiSelect returns the chosen values in option order.
	MultiSelect(title string, options []Option) ([]string, error)

	// Select returns one chosen value.
	Select(title string, options []Option) (string, error)
}

// Terminal prompts on the controlling terminal.
type Terminal struct {
	// Yes answers every confirmation with yes.
	Yes bool

	interactive bool
}

// New returns a terminal prompter. With yes set, confirmations are skipped.
func New(yes bool) *Terminal {
	return &Terminal{Yes: yes, interactive: term.IsTerminal(int(os.Stdin.Fd()))}
}

func runErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return ErrAborted
	}
	return err
}

func (t *Terminal) Confirm(title string) (bool, error) {
	if t.Yes {
		return true, nil
	}
	if !t.interactive {
		return false, ErrNotInteractive
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, runErr(err)
	}
	return ok, nil
}

func (t *Terminal) MultiSelect(title string, options []Option) ([]string, error) {
	if !t.interactive {
		return nil, ErrNotInteractive
	}
	opts := make([]huh.Option[string], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value)
	}
	var chosen []string
	err := huh.NewMultiSelect[string]().
		Title(title).
		Options(opts...).
		Value(&chosen).
		Run()
	if err != nil {
		return nil, runErr(err)
	}

	// Keep option order so the first listed language stays primary.
	picked := make(map[string]bool, len(chosen))
	for _, v := range chosen {
		picked[v] = true
	}
	var ordered []string
	for _, o := range options {
		if picked[o.Value] {
			ordered = append(ordered, o.Value)
		}
	}
	return ordered, nil
}

func (t *Terminal) Select(title string, options []Option) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("nothing to choose from")
	}
	if !t.interactive {
		return "", ErrNotInteractive
	}
	opts := make([]huh.Option[string], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value)
	}
	var chosen string
	err := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&chosen).
		Run()
	if err != nil {
		return "", runErr(err)
	}
	return chosen, nil
}

// Scripted answers from fixed lists, in order. Tests use it in place of
// a terminal. Running out of answers is an error.
type Scripted struct {
	Confirms []bool
	Selects  []string
	Multi    [][]string

	// Asked records every title, in order.
	Asked []string
}

func (s *Scripted) Confirm(title string) (bool, error) {
	s.Asked = append(s.Asked, title)
	if len(s.Confirms) == 0 {
		return false, fmt.Errorf("unexpected confirmation %q", title)
	}
	ok := s.Confirms[0]
	s.Confirms = s.Confirms[1:]
	return ok, nil
}

func (s *Scripted) MultiSelect(title string, _ []Option) ([]string, error) {
	s.Asked = append(s.Asked, title)
	if len(s.Multi) == 0 {
		return nil, fmt.Errorf("unexpected selection %q", title)
	}
	v := s.Multi[0]
	s.Multi = s.Multi[1:]
	return v, nil
}

func (s *Scripted) Select(title string, _ []Option) (string, error) {
	s.Asked = append(s.Asked, title)
	if len(s.Selects) == 0 {
		return "", fmt.Errorf("unexpected selection %q", title)
	}
	v := s.Selects[0]
	s.Selects = s.Selects[1:]
	return v, nil
}
