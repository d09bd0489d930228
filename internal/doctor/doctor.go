package doctor

// Doctor runs a list of checks.
type Doctor struct {
	checks []Check
}

// NewDoctor returns a Doctor running checks in order.
func NewDoctor(checks ...Check) *Doctor {
	return &Doctor{checks: checks}
}

// Checks returns the registered checks.
func (d *Doctor) Checks() []Check {
	return d.checks
}

func runCheck(check Check, ctx *CheckContext) *CheckResult {
	result := check.Run(ctx)
	if result.Name == "" {
		result.Name = check.Name()
	}
	return result
}

// Run executes every check and returns a report.
func (d *Doctor) Run(ctx *CheckContext) *Report {
	report := NewReport()
	for _, check := range d.checks {
		report.Add(runCheck(check, ctx))
	}
	return report
}

// Fix is Run, but a failing fixable check is repaired and run again.
func (d *Doctor) Fix(ctx *CheckContext) *Report {
	report := NewReport()
	for _, check := range d.checks {
		result := runCheck(check, ctx)
		if result.Status != StatusOK && check.CanFix() {
			if err := check.Fix(ctx); err != nil {
				result.Details = append(result.Details, "Fix failed: "+err.Error())
			} else {
				result = runCheck(check, ctx)
				if result.Status == StatusOK {
					result.Message += " (fixed)"
				}
			}
		}
		report.Add(result)
	}
	return report
}

// BaseCheck implements the parts of Check that most checks share. Embed it
// in checks that cannot fix anything.
type BaseCheck struct {
	CheckName        string
	CheckDescription string
}

func (b *BaseCheck) Name() string        { return b.CheckName }
func (b *BaseCheck) Description() string { return b.CheckDescription }
func (b *BaseCheck) CanFix() bool        { return false }

func (b *BaseCheck) Fix(*CheckContext) error {
	return ErrCannotFix
}

// FixableCheck is BaseCheck for checks that implement Fix.
type FixableCheck struct {
	BaseCheck
}

func (f *FixableCheck) CanFix() bool { return true }
