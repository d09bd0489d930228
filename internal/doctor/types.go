// Package doctor runs health checks on the tools and state jolo depends on.
package doctor

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jolo-cli/jolo/internal/config"
	"github.com/jolo-cli/jolo/internal/runner"
	"github.com/jolo-cli/jolo/internal/style"
)

// ErrCannotFix is returned by Fix on checks that only diagnose.
var ErrCannotFix = errors.New("nothing to fix automatically")

// CheckStatus is the outcome of one check, ordered by severity.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusWarning
	StatusError
)

// prefix is the marker printed in front of a result line.
func (s CheckStatus) prefix() string {
	switch s {
	case StatusWarning:
		return style.WarningPrefix
	case StatusError:
		return style.ErrorPrefix
	}
	return style.SuccessPrefix
}

// CheckContext is what checks inspect.
type CheckContext struct {
	// ProjectRoot is the main checkout of the current project, empty
	// outside one. Project checks pass trivially without it.
	ProjectRoot string

	// Home is where agent credentials live. Empty means the user's home.
	Home string

	Config  *config.Config
	Runner  runner.Runner
	Verbose bool
}

// CheckResult is one line of the doctor report. Details and FixHint are
// printed under non-OK results; Details also under OK ones with -v.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Details []string
	FixHint string
}

// Check is a single diagnosis, optionally able to repair what it finds.
type Check interface {
	Name() string
	Description() string
	Run(ctx *CheckContext) *CheckResult
	CanFix() bool
	Fix(ctx *CheckContext) error
}

// ReportSummary counts results by status.
type ReportSummary struct {
	Total, OK, Warnings, Errors int
}

// Report collects results in the order checks ran.
type Report struct {
	Checks  []*CheckResult
	Summary ReportSummary
}

func NewReport() *Report {
	return &Report{}
}

func (r *Report) Add(result *CheckResult) {
	r.Checks = append(r.Checks, result)
	r.Summary.Total++
	switch result.Status {
	case StatusOK:
		r.Summary.OK++
	case StatusWarning:
		r.Summary.Warnings++
	default:
		r.Summary.Errors++
	}
}

// HasErrors reports whether jolo doctor should exit non-zero.
func (r *Report) HasErrors() bool {
	return r.Summary.Errors > 0
}

// Print writes one line per check followed by a summary line.
func (r *Report) Print(w io.Writer, verbose bool) {
	for _, res := range r.Checks {
		fmt.Fprintf(w, "%s %s: %s\n", res.Status.prefix(), res.Name, res.Message)
		if res.Status == StatusOK && !verbose {
			continue
		}
		for _, d := range res.Details {
			fmt.Fprintf(w, "    %s\n", d)
		}
		if res.FixHint != "" && res.Status != StatusOK {
			fmt.Fprintf(w, "    %s %s\n", style.ArrowPrefix, res.FixHint)
		}
	}

	sum := r.Summary
	line := []string{fmt.Sprintf("%d checks", sum.Total)}
	for _, part := range []struct {
		n      int
		label  string
		render func(...string) string
	}{
		{sum.OK, "passed", style.Success.Render},
		{sum.Warnings, "warnings", style.Warning.Render},
		{sum.Errors, "errors", style.Error.Render},
	} {
		if part.n > 0 {
			line = append(line, part.render(fmt.Sprintf("%d %s", part.n, part.label)))
		}
	}
	fmt.Fprintf(w, "\n%s\n", strings.Join(line, ", "))
}
