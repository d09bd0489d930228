// Package style provides consistent terminal styling for jolo output.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Success renders confirmations.
	Success = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)

	// Warning renders recoverable problems.
	Warning = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)

	// Error renders failures.
	Error = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	// Info renders neutral highlights such as names and paths.
	Info = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	// Dim renders secondary detail.
	Dim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	// Bold renders headings.
	Bold = lipgloss.NewStyle().Bold(true)
)

// Status prefixes used at the start of a line.
var (
	SuccessPrefix = Success.Render("✓")
	WarningPrefix = Warning.Render("⚠")
	ErrorPrefix   = Error.Render("✗")
	ArrowPrefix   = Dim.Render("→")
)

// Heading renders a section title followed by a colon.
func Heading(s string) string {
	return Bold.Render(s + ":")
}
