package output

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
)

// PlainFormatter writes tab-aligned text with no styling, for scripts.
type PlainFormatter struct{}

func (f *PlainFormatter) table(w *bytes.Buffer, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for _, row := range rows {
		if _, err := tw.Write([]byte(strings.Join(row, "\t") + "\n")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Install implements Formatter.
func (f *PlainFormatter) Install(w *bytes.Buffer, r *install.Result) error {
	status := "ok"
	if !r.Success {
		status = "failed"
	}
	rows := [][]string{
		{"status", status},
		{"type", string(r.InstallType)},
		{"target", r.Target},
		{"attempt", r.AttemptID},
	}
	if !r.Success {
		rows = append(rows, []string{"phase", string(r.Phase)}, []string{"error", r.Error})
	}
	rows = append(rows,
		[]string{"changes", r.Changes.String()},
		[]string{"written", fmt.Sprintf("%d files, %d bytes", r.Stats.FilesWritten, r.Stats.BytesWritten)},
		[]string{"fallback", fmt.Sprintf("%t", r.FallbackUsed)},
	)
	if r.BackupPath != "" {
		rows = append(rows, []string{"backup", r.BackupPath})
	}
	for _, u := range r.Units {
		rows = append(rows, []string{"unit", u.Unit + " " + string(u.InstallType) + " " + u.Changes.String()})
	}
	for _, warning := range r.Warnings {
		rows = append(rows, []string{"warning", warning})
	}
	rows = append(rows, []string{"duration", r.Duration.Round(time.Millisecond).String()})
	return f.table(w, rows)
}

// Status implements Formatter.
func (f *PlainFormatter) Status(w *bytes.Buffer, s *install.Status) error {
	rows := [][]string{
		{"target", s.Target},
		{"exists", fmt.Sprintf("%t", s.Exists)},
	}
	if s.Exists {
		rows = append(rows,
			[]string{"state", s.State.String()},
			[]string{"version", s.Version},
			[]string{"integrity_valid", fmt.Sprintf("%t", s.IntegrityValid)},
		)
	}
	ids := make([]string, 0, len(s.ExpansionPacks))
	for id := range s.ExpansionPacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.ExpansionPacks[id]
		rows = append(rows, []string{"pack", fmt.Sprintf("%s %s %t", id, p.Version, p.IntegrityValid)})
	}
	return f.table(w, rows)
}

// Verify implements Formatter.
func (f *PlainFormatter) Verify(w *bytes.Buffer, v *install.Verification) error {
	rows := [][]string{{"UNIT", "STATUS", "PATH"}}
	add := func(unit string, r integrity.Report) {
		switch {
		case !r.Assessed:
			rows = append(rows, []string{unit, "unassessed", ""})
		case r.OK():
			rows = append(rows, []string{unit, "ok", ""})
		}
		for _, p := range r.Missing {
			rows = append(rows, []string{unit, "missing", p})
		}
		for _, p := range r.Modified {
			rows = append(rows, []string{unit, "modified", p})
		}
	}
	add(install.CoreUnit, v.Core)
	ids := make([]string, 0, len(v.Packs))
	for id := range v.Packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		add(id, v.Packs[id])
	}
	return f.table(w, rows)
}

// Backups implements Formatter.
func (f *PlainFormatter) Backups(w *bytes.Buffer, _ string, snaps []backup.Snapshot) error {
	rows := [][]string{{"CREATED", "FORMAT", "SIZE", "PATH"}}
	for _, s := range snaps {
		rows = append(rows, []string{
			s.CreatedAt.UTC().Format(time.RFC3339),
			string(s.Format),
			fmt.Sprintf("%d", s.Size),
			s.Path,
		})
	}
	return f.table(w, rows)
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
