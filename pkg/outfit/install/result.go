package install

import (
	"errors"
	"time"

	"github.com/jamesainslie/outfit/pkg/outfit/apply"
	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// Result is the outcome of one Install call. Install reports every failure
// here; it never returns an error.
type Result struct {
	Success bool `json:"success" yaml:"success"`

	// InstallType is the strategy resolved for the core unit, or for the
	// first pack when core was not installed. Empty when resolution was
	// never reached.
	InstallType types.InstallType `json:"install_type,omitempty" yaml:"install_type,omitempty"`

	// Error describes the failure. Err carries the same error for callers
	// that inspect it with errors.As.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	Err   error  `json:"-" yaml:"-"`

	// Phase is where the failure occurred.
	Phase errs.Phase `json:"phase,omitempty" yaml:"phase,omitempty"`

	AttemptID string `json:"attempt_id" yaml:"attempt_id"`
	Target    string `json:"target" yaml:"target"`

	// Changes totals the change sets of every unit.
	Changes changes.Summary `json:"changes" yaml:"changes"`

	FallbackUsed bool   `json:"fallback_used" yaml:"fallback_used"`
	BackupPath   string `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`

	// ManifestPath is the core manifest, or the first pack's when core was
	// not installed.
	ManifestPath string `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`

	Units    []UnitResult `json:"units,omitempty" yaml:"units,omitempty"`
	Stats    apply.Stats  `json:"stats" yaml:"stats"`
	Pruned   []string     `json:"pruned_backups,omitempty" yaml:"pruned_backups,omitempty"`
	Warnings []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// UnitResult is the outcome for the core distribution or one pack.
type UnitResult struct {
	Unit         string            `json:"unit" yaml:"unit"`
	State        detect.Kind       `json:"state" yaml:"state"`
	InstallType  types.InstallType `json:"install_type" yaml:"install_type"`
	Version      string            `json:"version,omitempty" yaml:"version,omitempty"`
	Changes      changes.Summary   `json:"changes" yaml:"changes"`
	Forced       []string          `json:"forced,omitempty" yaml:"forced,omitempty"`
	FallbackUsed bool              `json:"fallback_used" yaml:"fallback_used"`
	ManifestPath string            `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
}

func (r *Result) fail(phase errs.Phase, err error) {
	r.Success = false
	r.Phase = phaseOf(err, phase)
	r.Err = err
	r.Error = err.Error()
}

// phaseOf refines phase from the error's own type where it records one.
func phaseOf(err error, phase errs.Phase) errs.Phase {
	var (
		backupErr *errs.BackupError
		configErr *errs.ConfigError
	)
	switch {
	case errors.As(err, &backupErr):
		return errs.PhaseBackup
	case errors.As(err, &configErr):
		return errs.PhaseValidate
	}
	if p := errs.PhaseOf(err); p != "" {
		return p
	}
	return phase
}
