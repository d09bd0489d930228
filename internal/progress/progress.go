// Package progress shows the state of concurrent spawn launches.
//
// On a terminal it runs a small bubbletea program with one spinner row per
// instance. Elsewhere it prints one line per finished stage.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/jolo-cli/jolo/internal/spawn"
	"github.com/jolo-cli/jolo/internal/style"
)

type row struct {
	inst   spawn.Instance
	stage  spawn.Stage
	status spawn.Status
	err    error
	seen   bool
}

// Model is the bubbletea model of the spawn view.
type Model struct {
	spinner spinner.Model
	rows    []row
	done    bool
}

type eventMsg spawn.Event

type finishMsg struct{}

// NewModel returns a model with a pending row per instance.
func NewModel(instances []spawn.Instance) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = style.Info
	rows := make([]row, len(instances))
	for i, in := range instances {
		rows[i] = row{inst: in}
	}
	return Model{spinner: s, rows: rows}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update applies spawn events and spinner ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		for i := range m.rows {
			if m.rows[i].inst.Index == msg.Instance.Index {
				m.rows[i].stage = msg.Stage
				m.rows[i].status = msg.Status
				m.rows[i].err = msg.Err
				m.rows[i].seen = true
			}
		}
		return m, nil
	case finishMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders one line per instance.
func (m Model) View() string {
	var b strings.Builder
	for _, r := range m.rows {
		b.WriteString(m.line(r))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) line(r row) string {
	label := fmt.Sprintf("%-20s %-8s :%d", r.inst.Name, r.inst.Agent, r.inst.Port)
	switch {
	case !r.seen:
		return fmt.Sprintf("  %s %s", style.Dim.Render("·"), style.Dim.Render(label))
	case r.status == spawn.Failed:
		return fmt.Sprintf("  %s %s %s", style.ErrorPrefix, label, style.Error.Render(fmt.Sprintf("%s failed: %v", r.stage, r.err)))
	case r.status == spawn.Done && (r.stage == spawn.StageStart || (r.stage == spawn.StageLaunch && m.done)):
		return fmt.Sprintf("  %s %s", style.SuccessPrefix, label)
	case m.done:
		return fmt.Sprintf("  %s %s %s", style.SuccessPrefix, label, style.Dim.Render(string(r.stage)))
	default:
		return fmt.Sprintf("  %s %s %s", m.spinner.View(), label, style.Dim.Render(string(r.stage)+"..."))
	}
}

// View tracks one spawn batch.
type View struct {
	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
	out     io.Writer
}

// Start begins showing progress for instances on out. The animated view is
// used only when out is a terminal.
func Start(instances []spawn.Instance, out *os.File) *View {
	v := &View{out: out}
	if !term.IsTerminal(int(out.Fd())) {
		return v
	}
	v.program = tea.NewProgram(NewModel(instances), tea.WithOutput(out), tea.WithInput(nil))
	v.done = make(chan struct{})
	go func() {
		defer close(v.done)
		_, _ = v.program.Run()
	}()
	return v
}

// Observe is a spawn.Coordinator observer.
func (v *View) Observe(e spawn.Event) {
	if v.program != nil {
		v.program.Send(eventMsg(e))
		return
	}
	if e.Status == spawn.Running {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if e.Status == spawn.Failed {
		fmt.Fprintf(v.out, "%s %s: %s failed: %v\n", style.ErrorPrefix, e.Instance.Name, e.Stage, e.Err)
		return
	}
	fmt.Fprintf(v.out, "%s %s: %s done\n", style.SuccessPrefix, e.Instance.Name, e.Stage)
}

// Stop ends the view and waits for the final frame.
func (v *View) Stop() {
	if v.program == nil {
		return
	}
	v.program.Send(finishMsg{})
	<-v.done
}
