package output

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
)

// PrettyFormatter renders reports with colors and boxes for a terminal.
type PrettyFormatter struct{}

func field(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

// Install implements Formatter.
func (f *PrettyFormatter) Install(w *bytes.Buffer, r *install.Result) error {
	header := []string{field("Target:", pathStyle.Render(r.Target))}
	if r.InstallType != "" {
		header = append(header, field("Install:", strategyStyle.Render(string(r.InstallType))))
	}
	header = append(header, field("Attempt:", dimStyle.Render(r.AttemptID)))
	w.WriteString(headerBox.Render(strings.Join(header, "\n")))
	w.WriteString("\n")

	if !r.Success {
		msg := brokenStyle.Bold(true).Render("Install failed") + " " +
			dimStyle.Render("during "+string(r.Phase)) + "\n" + brokenStyle.Render(r.Error)
		w.WriteString(failureBox.Render(msg))
		w.WriteString("\n")
		f.warnings(w, r.Warnings)
		return nil
	}

	for _, u := range r.Units {
		line := fmt.Sprintf("  %s %s  %s",
			okStyle.Render("✓"),
			valueStyle.Render(u.Unit),
			dimStyle.Render(string(u.InstallType)),
		)
		if u.Version != "" {
			line += " " + dimStyle.Render("v"+u.Version)
		}
		line += "  " + changeLine(u.Changes)
		if n := len(u.Forced); n > 0 {
			line += "  " + changedStyle.Render(fmt.Sprintf("%d repaired", n))
		}
		if u.FallbackUsed {
			line += "  " + changedStyle.Render("full copy")
		}
		w.WriteString(line + "\n")
	}

	footer := []string{
		field("Written:", bytesStyle.Render(fmt.Sprintf("%d files, %s", r.Stats.FilesWritten, humanize.IBytes(uint64(r.Stats.BytesWritten))))),
		field("Cached:", valueStyle.Render(fmt.Sprintf("%d", r.Stats.CacheHits))),
		field("Took:", valueStyle.Render(formatDuration(r.Duration))),
	}
	lines := []string{strings.Join(footer, "  ")}
	if r.BackupPath != "" {
		lines = append(lines, field("Backup:", pathStyle.Render(r.BackupPath)))
	}
	w.WriteString(summaryBox.Render(strings.Join(lines, "\n")))
	w.WriteString("\n")
	f.warnings(w, r.Warnings)
	return nil
}

// Status implements Formatter.
func (f *PrettyFormatter) Status(w *bytes.Buffer, s *install.Status) error {
	lines := []string{field("Target:", pathStyle.Render(s.Target))}
	if !s.Exists {
		lines = append(lines, dimStyle.Render("Not installed"))
		w.WriteString(headerBox.Render(strings.Join(lines, "\n")))
		w.WriteString("\n")
		return nil
	}
	lines = append(lines, field("State:", stateStyle(s.State).Render(s.State.String())))
	if s.Version != "" {
		lines = append(lines, field("Version:", valueStyle.Render(s.Version)))
	}
	lines = append(lines, field("Integrity:", integrityText(s.IntegrityValid, s.Missing, s.Modified)))
	w.WriteString(headerBox.Render(strings.Join(lines, "\n")))
	w.WriteString("\n")

	if len(s.ExpansionPacks) == 0 {
		return nil
	}
	w.WriteString(fmt.Sprintf("  %s\n", columnStyle.Render("EXPANSION PACKS")))
	ids := make([]string, 0, len(s.ExpansionPacks))
	for id := range s.ExpansionPacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.ExpansionPacks[id]
		version := p.Version
		if version == "" {
			version = "-"
		}
		w.WriteString(fmt.Sprintf("  %s  %s  %s\n",
			valueStyle.Render(id),
			dimStyle.Render(version),
			integrityText(p.IntegrityValid, 0, 0),
		))
	}
	return nil
}

// Verify implements Formatter.
func (f *PrettyFormatter) Verify(w *bytes.Buffer, v *install.Verification) error {
	w.WriteString(headerBox.Render(field("Target:", pathStyle.Render(v.Target)) + "\n" +
		field("State:", stateStyle(v.State).Render(v.State.String()))))
	w.WriteString("\n")

	f.report(w, install.CoreUnit, v.Core)
	ids := make([]string, 0, len(v.Packs))
	for id := range v.Packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f.report(w, id, v.Packs[id])
	}
	return nil
}

func (f *PrettyFormatter) report(w *bytes.Buffer, unit string, r integrity.Report) {
	switch {
	case !r.Assessed:
		w.WriteString(fmt.Sprintf("  %s %s  %s\n", dimStyle.Render("?"), valueStyle.Render(unit), dimStyle.Render("no manifest")))
		return
	case r.OK():
		w.WriteString(fmt.Sprintf("  %s %s  %s\n", okStyle.Render("✓"), valueStyle.Render(unit), dimStyle.Render(fmt.Sprintf("%d files intact", r.Checked))))
		return
	}
	w.WriteString(fmt.Sprintf("  %s %s  %s\n", brokenStyle.Render("✗"), valueStyle.Render(unit),
		integrityText(false, len(r.Missing), len(r.Modified))))
	for _, p := range r.Missing {
		w.WriteString("      " + brokenStyle.Render("missing  ") + pathStyle.Render(p) + "\n")
	}
	for _, p := range r.Modified {
		w.WriteString("      " + changedStyle.Render("modified ") + pathStyle.Render(p) + "\n")
	}
}

// Backups implements Formatter.
func (f *PrettyFormatter) Backups(w *bytes.Buffer, target string, snaps []backup.Snapshot) error {
	w.WriteString(headerBox.Render(field("Backups of:", pathStyle.Render(target))))
	w.WriteString("\n")
	if len(snaps) == 0 {
		w.WriteString(dimStyle.Render("  No backups found") + "\n")
		return nil
	}

	w.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		columnStyle.Render(padRight("CREATED", 16)),
		columnStyle.Render(padRight("FORMAT", 6)),
		columnStyle.Render(padLeft("SIZE", 9)),
		columnStyle.Render("PATH"),
	))
	var total int64
	for _, s := range snaps {
		total += s.Size
		w.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			valueStyle.Render(padRight(humanize.Time(s.CreatedAt), 16)),
			dimStyle.Render(padRight(string(s.Format), 6)),
			bytesStyle.Render(padLeft(humanize.IBytes(uint64(s.Size)), 9)),
			pathStyle.Render(s.Path),
		))
	}
	w.WriteString(summaryBox.Render(field("Total:", bytesStyle.Render(fmt.Sprintf("%d backups, %s", len(snaps), humanize.IBytes(uint64(total)))))))
	w.WriteString("\n")
	return nil
}

func (f *PrettyFormatter) warnings(w *bytes.Buffer, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	w.WriteString(changedStyle.Bold(true).Render("Warnings:") + "\n")
	for _, warning := range warnings {
		w.WriteString(changedStyle.Render("  "+warning) + "\n")
	}
}

func changeLine(s changes.Summary) string {
	return strings.Join([]string{
		okStyle.Render(fmt.Sprintf("+%d", s.Added)),
		changedStyle.Render(fmt.Sprintf("~%d", s.Modified)),
		brokenStyle.Render(fmt.Sprintf("-%d", s.Deleted)),
		dimStyle.Render(fmt.Sprintf("=%d", s.Unchanged)),
	}, " ")
}

func integrityText(valid bool, missing, modified int) string {
	if valid {
		return okStyle.Render("valid")
	}
	if missing == 0 && modified == 0 {
		return brokenStyle.Render("invalid")
	}
	return brokenStyle.Render(fmt.Sprintf("%d missing, %d modified", missing, modified))
}

// padLeft pads s with spaces on the left to width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
