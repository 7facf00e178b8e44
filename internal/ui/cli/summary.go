package cli

import (
	"fmt"
	"io"
	"strings"
	"supravault/internal/core/app"
	"supravault/internal/data/history"
	"supravault/internal/engine/model"
	"supravault/internal/shared/util"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B"))

	dangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

func levelStyle(level model.RiskLevel) lipgloss.Style {
	switch level {
	case model.RiskDangerous:
		return dangerStyle
	case model.RiskElevated, model.RiskOpaqueButActive:
		return warnStyle
	default:
		return successStyle
	}
}

func severityStyle(sev model.ChangeSeverity) lipgloss.Style {
	switch {
	case sev.Rank() >= model.ChangeHigh.Rank():
		return dangerStyle
	case sev == model.ChangeMedium:
		return warnStyle
	default:
		return mutedStyle
	}
}

func field(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label+":")), value)
}

// RenderScan writes a human summary of one scan.
func RenderScan(w io.Writer, res app.ScanResult) error {
	s := res.Snapshot
	if s == nil {
		return fmt.Errorf("scan result has no snapshot")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("supravault scan") + "\n")
	field(&b, "asset", s.Identity.Key())
	if s.Identity.Symbol != "" || s.Identity.Name != "" {
		field(&b, "name", strings.TrimSpace(s.Identity.Name+" ("+s.Identity.Symbol+")"))
	}
	field(&b, "scan", s.Meta.ScanID)
	field(&b, "supply", supplyText(s.Supply))
	field(&b, "coverage", string(s.Coverage.Status))
	for _, r := range s.Coverage.Reasons {
		b.WriteString("    " + mutedStyle.Render(r) + "\n")
	}
	field(&b, "aggregate", orDash(s.Hashes.Aggregate))
	if s.Behavior != nil {
		field(&b, "behavior", fmt.Sprintf("%s (%d tx, %d phantom)", s.Behavior.Status, s.Behavior.TxCount, len(s.Behavior.PhantomEntries)))
	}
	for _, class := range util.SortedStringKeys(s.Privileges.Classes) {
		field(&b, "privilege", fmt.Sprintf("%s (%d)", class, len(s.Privileges.Classes[class])))
	}
	if len(s.Findings) > 0 {
		b.WriteString(labelStyle.Render("  findings:") + "\n")
		for _, f := range s.Findings {
			fmt.Fprintf(&b, "    [%s] %s\n", f.Severity, f.Title)
		}
	}
	writeVerdict(&b, res.Risk)
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderDiff writes the change list and the resulting verdict.
func RenderDiff(w io.Writer, report app.DiffReport) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render("supravault diff") + "\n")
	field(&b, "asset", report.Diff.IdentityKey)
	field(&b, "scans", orDash(report.Diff.PreviousScanID)+" -> "+report.Diff.CurrentScanID)
	if !report.Diff.Changed {
		b.WriteString("  " + successStyle.Render("no changes") + "\n")
	}
	for _, c := range report.Diff.Changes {
		line := fmt.Sprintf("%-8s %s", c.Severity, c.Type)
		fmt.Fprintf(&b, "  %s\n", severityStyle(c.Severity).Render(line))
		if c.Escalated && c.EscalationReason != "" {
			b.WriteString("    " + mutedStyle.Render("escalated: "+c.EscalationReason) + "\n")
		}
		for _, e := range c.Evidence {
			b.WriteString("    " + e + "\n")
		}
	}
	writeVerdict(&b, report.Risk)
	_, err := io.WriteString(w, b.String())
	return err
}

func RenderHistory(w io.Writer, records []history.DiffRecord) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render("supravault history") + "\n")
	if len(records) == 0 {
		b.WriteString("  " + mutedStyle.Render("no stored diffs") + "\n")
	}
	for _, r := range records {
		changed := "unchanged"
		if r.Changed {
			changed = string(r.MaxSeverity)
		}
		fmt.Fprintf(&b, "  %s  %s  %-9s %s\n",
			r.CreatedAt,
			r.CurrentScanID,
			changed,
			levelStyle(r.RiskLevel).Render(string(r.RiskLevel)),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeVerdict(b *strings.Builder, r model.RiskSynthesis) {
	field(b, "risk", levelStyle(r.RiskLevel).Render(string(r.RiskLevel)))
	for _, line := range r.Rationale {
		b.WriteString("    " + line + "\n")
	}
}

func supplyText(s model.Supply) string {
	cur := "unknown"
	if s.Current != nil {
		cur = *s.Current
	}
	if s.Max != nil {
		return cur + " / max " + *s.Max
	}
	return cur
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
