package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/muesli/termenv"

	"github.com/openfroyo/decom/pkg/engine"
	"github.com/openfroyo/decom/pkg/stores"
)

var (
	colorSuccess = lipgloss.Color("#22c55e")
	colorError   = lipgloss.Color("#ef4444")
	colorWarning = lipgloss.Color("#eab308")
	colorInfo    = lipgloss.Color("#06b6d4")
	colorMuted   = lipgloss.Color("#6b7280")
	colorAccent  = lipgloss.Color("#8b5cf6")
)

const (
	symbolSuccess = "✓"
	symbolError   = "✗"
	symbolWarning = "⚠"
	symbolBullet  = "•"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 2)

	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	labelStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

func init() {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func section(w io.Writer, title string, count int) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render(fmt.Sprintf("%s (%d)", title, count)))
}

func detail(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label+":"), value)
}

func item(w io.Writer, symbol string, style lipgloss.Style, text string) {
	fmt.Fprintf(w, "  %s %s\n", style.Render(symbol), text)
}

// stateStyle colors a run state by how it ended.
func stateStyle(state engine.RunState) lipgloss.Style {
	switch state {
	case engine.StateCompleted:
		return successStyle
	case engine.StateCompletedWithResiduals:
		return warningStyle
	case engine.StateNothingToDo, engine.StateDeclined:
		return mutedStyle
	default:
		return errorStyle
	}
}

// renderPlan prints what a run will remove.
func renderPlan(w io.Writer, plan *engine.Plan) {
	fmt.Fprintln(w, headerStyle.Render("Decommission plan: "+plan.Product))
	detail(w, "Plan", plan.ID)
	detail(w, "OS major version", strconv.Itoa(plan.OSMajor))
	if plan.Located != nil {
		detail(w, "Product id", plan.Located.RegistryProductID)
		detail(w, "Installer id", plan.Located.InstallerID)
	} else {
		detail(w, "Installer records", "not found")
	}

	if plan.IsEmpty() {
		fmt.Fprintln(w)
		item(w, symbolSuccess, successStyle, "Nothing to remove")
	}

	if len(plan.Services) > 0 {
		section(w, "Services", len(plan.Services))
		for _, svc := range plan.Services {
			item(w, symbolBullet, mutedStyle, fmt.Sprintf("%s (%s) %s", svc.Name, svc.DisplayName, mutedStyle.Render(string(svc.State))))
		}
	}

	if len(plan.Targets) > 0 {
		title := "Targets"
		if total := plan.TotalBytes(); total > 0 {
			title = fmt.Sprintf("Targets, %s", humanize.Bytes(uint64(total)))
		}
		section(w, title, len(plan.Targets))
		for _, t := range plan.Targets {
			line := fmt.Sprintf("%s %s", mutedStyle.Render(string(t.Kind)), t.Path)
			if t.SizeBytes > 0 {
				line += " " + mutedStyle.Render(humanize.Bytes(uint64(t.SizeBytes)))
			}
			item(w, symbolBullet, mutedStyle, line)
		}
	}

	if len(plan.Modules) > 0 {
		section(w, "Modules to unregister", len(plan.Modules))
		for _, m := range plan.Modules {
			item(w, symbolBullet, mutedStyle, m)
		}
	}

	if len(plan.Exclusions) > 0 {
		section(w, "Excluded by policy", len(plan.Exclusions))
		for _, ex := range plan.Exclusions {
			item(w, symbolWarning, warningStyle, fmt.Sprintf("%s [%s] %s", ex.Subject, ex.Policy, ex.Message))
		}
	}
}

// renderReport prints the outcome of a run.
func renderReport(w io.Writer, report *engine.RunReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Decommission run "+shortID(report.RunID)))
	detail(w, "State", stateStyle(report.State).Render(string(report.State)))
	if report.Plan != nil {
		detail(w, "Product", report.Plan.Product)
	}
	detail(w, "Duration", report.Duration().Round(time.Millisecond).String())

	failures := report.Failures()
	detail(w, "Actions", fmt.Sprintf("%d, %d failed", len(report.Actions), len(failures)))
	if report.Suspended > 0 {
		detail(w, "Services suspended and restored", strconv.Itoa(report.Suspended))
	}
	if report.Error != "" {
		detail(w, "Error", errorStyle.Render(report.Error))
	}

	if len(failures) > 0 {
		section(w, "Failed actions", len(failures))
		for _, a := range failures {
			line := fmt.Sprintf("%s %s %s", a.Phase, a.Subject, mutedStyle.Render(string(a.Status)))
			if a.Error != "" {
				line += ": " + a.Error
			}
			item(w, symbolError, errorStyle, line)
		}
	}

	if report.Outcome != nil {
		renderOutcome(w, *report.Outcome)
	}
}

// renderOutcome prints verification residuals.
func renderOutcome(w io.Writer, outcome engine.RunOutcome) {
	var merr *multierror.Error
	if !errors.As(outcome.Residuals(), &merr) {
		fmt.Fprintln(w)
		item(w, symbolSuccess, successStyle, "No residuals found")
		return
	}
	section(w, "Residuals", len(merr.Errors))
	for _, err := range merr.Errors {
		item(w, symbolWarning, warningStyle, err.Error())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, mutedStyle.Render("Residual items may be released by a reboot."))
}

// renderRuns prints journaled runs, newest first.
func renderRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No runs journaled"))
		return
	}
	for _, run := range runs {
		product := run.Product
		if product == "" {
			product = "-"
		}
		fmt.Fprintf(w, "%s  %-26s %-24s %s\n",
			shortID(run.ID),
			stateStyle(run.State).Render(string(run.State)),
			product,
			mutedStyle.Render(humanize.Time(run.StartedAt)))
	}
}

// renderRunDetail prints one journaled run.
func renderRunDetail(w io.Writer, d *stores.RunDetail) {
	run := d.Run
	fmt.Fprintln(w, headerStyle.Render("Run "+run.ID))
	detail(w, "State", stateStyle(run.State).Render(string(run.State)))
	detail(w, "Product", run.Product)
	detail(w, "Profile", run.Profile)
	detail(w, "Started", fmt.Sprintf("%s (%s)", run.StartedAt.Format(time.RFC3339), humanize.Time(run.StartedAt)))
	if run.CompletedAt != nil {
		detail(w, "Duration", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String())
	}
	if run.Error != nil {
		detail(w, "Error", errorStyle.Render(*run.Error))
	}

	section(w, "Actions", len(d.Actions))
	for _, a := range d.Actions {
		symbol, style := symbolSuccess, successStyle
		if !a.Status.IsSuccess() {
			symbol, style = symbolError, errorStyle
		}
		line := fmt.Sprintf("%s %s %s", a.Phase, a.Subject, mutedStyle.Render(string(a.Status)))
		if a.Attempts > 1 {
			line += mutedStyle.Render(fmt.Sprintf(" (%d attempts)", a.Attempts))
		}
		item(w, symbol, style, line)
	}

	if len(d.Residuals) > 0 {
		section(w, "Residuals", len(d.Residuals))
		for _, r := range d.Residuals {
			item(w, symbolWarning, warningStyle, r.Kind+" "+r.Subject)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
