package output

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/outfit/pkg/outfit/apply"
	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// installDoc is the structured form of an install result shared by the json
// and yaml formatters.
type installDoc struct {
	Success      bool                 `json:"success" yaml:"success"`
	InstallType  types.InstallType    `json:"install_type,omitempty" yaml:"install_type,omitempty"`
	Error        string               `json:"error,omitempty" yaml:"error,omitempty"`
	Phase        errs.Phase           `json:"phase,omitempty" yaml:"phase,omitempty"`
	AttemptID    string               `json:"attempt_id" yaml:"attempt_id"`
	Target       string               `json:"target" yaml:"target"`
	Changes      changes.Summary      `json:"changes" yaml:"changes"`
	FallbackUsed bool                 `json:"fallback_used" yaml:"fallback_used"`
	BackupPath   string               `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
	ManifestPath string               `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
	Units        []install.UnitResult `json:"units,omitempty" yaml:"units,omitempty"`
	Stats        statsDoc             `json:"stats" yaml:"stats"`
	Pruned       []string             `json:"pruned_backups,omitempty" yaml:"pruned_backups,omitempty"`
	Warnings     []string             `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Duration     string               `json:"duration" yaml:"duration"`
}

type statsDoc struct {
	FilesWritten int64  `json:"files_written" yaml:"files_written"`
	BytesWritten int64  `json:"bytes_written" yaml:"bytes_written"`
	BytesHuman   string `json:"bytes_human" yaml:"bytes_human"`
	CacheHits    int64  `json:"cache_hits" yaml:"cache_hits"`
	Deleted      int64  `json:"deleted" yaml:"deleted"`
	Fallbacks    int64  `json:"fallbacks" yaml:"fallbacks"`
}

type backupDoc struct {
	Path      string        `json:"path" yaml:"path"`
	Format    backup.Format `json:"format" yaml:"format"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	Size      int64         `json:"size" yaml:"size"`
	SizeHuman string        `json:"size_human" yaml:"size_human"`
}

type backupsDoc struct {
	Target  string      `json:"target" yaml:"target"`
	Backups []backupDoc `json:"backups" yaml:"backups"`
}

func newInstallDoc(r *install.Result) installDoc {
	return installDoc{
		Success:      r.Success,
		InstallType:  r.InstallType,
		Error:        r.Error,
		Phase:        r.Phase,
		AttemptID:    r.AttemptID,
		Target:       r.Target,
		Changes:      r.Changes,
		FallbackUsed: r.FallbackUsed,
		BackupPath:   r.BackupPath,
		ManifestPath: r.ManifestPath,
		Units:        r.Units,
		Stats:        newStatsDoc(r.Stats),
		Pruned:       r.Pruned,
		Warnings:     r.Warnings,
		Duration:     formatDurationString(r.Duration),
	}
}

func newStatsDoc(s apply.Stats) statsDoc {
	return statsDoc{
		FilesWritten: s.FilesWritten,
		BytesWritten: s.BytesWritten,
		BytesHuman:   humanize.IBytes(uint64(s.BytesWritten)),
		CacheHits:    s.CacheHits,
		Deleted:      s.Deleted,
		Fallbacks:    s.Fallbacks,
	}
}

func newBackupsDoc(target string, snaps []backup.Snapshot) backupsDoc {
	doc := backupsDoc{Target: target, Backups: make([]backupDoc, len(snaps))}
	for i, s := range snaps {
		doc.Backups[i] = backupDoc{
			Path:      s.Path,
			Format:    s.Format,
			CreatedAt: s.CreatedAt,
			Size:      s.Size,
			SizeHuman: humanize.IBytes(uint64(s.Size)),
		}
	}
	return doc
}

// formatDurationString formats a duration for structured output.
func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
