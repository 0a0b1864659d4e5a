// Package errs defines the typed errors shared by the installation engine.
//
// Low-level file operations return *IOError; checksum mismatches return
// *IntegrityError; malformed install requests return *ConfigError; backup
// failures return *BackupError; apply-phase failures are aggregated into
// *ApplyError. StateDetectionError is only ever recorded, never returned to
// callers of the detector.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Phase identifies the orchestration step in which a failure occurred.
type Phase string

// Orchestration phases, in execution order.
const (
	PhaseValidate Phase = "validate"
	PhaseDetect   Phase = "detect"
	PhaseResolve  Phase = "resolve"
	PhaseBackup   Phase = "backup"
	PhaseHandle   Phase = "handle"
	PhaseApply    Phase = "apply"
	PhaseFallback Phase = "fallback"
	PhasePersist  Phase = "persist"
)

// IOError records a failed read, write, stat, or remove.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IO wraps err as an *IOError. It returns nil when err is nil.
func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// IntegrityError records content whose checksum does not match the expected value.
type IntegrityError struct {
	Path string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, short(e.Want), short(e.Got))
}

// ConfigError records a malformed or unsatisfiable install request.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StateDetectionError records why detection degraded to a conservative state.
type StateDetectionError struct {
	Path string
	Err  error
}

func (e *StateDetectionError) Error() string {
	return fmt.Sprintf("detecting installation state at %s: %v", e.Path, e.Err)
}

func (e *StateDetectionError) Unwrap() error { return e.Err }

// BackupError records a failed or unverifiable backup. It is always fatal to
// the update that requested it.
type BackupError struct {
	Target string
	Err    error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup of %s failed: %v", e.Target, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// ApplyError aggregates failures from one apply phase. Err is the first
// failure observed; Paths lists every relative path that failed.
type ApplyError struct {
	Phase  Phase
	Source string
	Target string
	Paths  []string
	Err    error
}

func (e *ApplyError) Error() string {
	msg := fmt.Sprintf("%s %s -> %s failed", e.Phase, e.Source, e.Target)
	if n := len(e.Paths); n > 0 {
		msg += fmt.Sprintf(" for %d path(s) [%s]", n, strings.Join(firstN(e.Paths, 3), ", "))
	}
	return msg + ": " + e.Err.Error()
}

func (e *ApplyError) Unwrap() error { return e.Err }

// IsFallbackEligible reports whether err belongs to the set of failures that
// warrant a full-copy fallback: I/O failures, partial apply failures, and
// source content that changed between hashing and copying. Cancellation and
// programming errors are not eligible.
func IsFallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	var (
		ioErr    *IOError
		applyErr *ApplyError
		intErr   *IntegrityError
	)
	switch {
	case errors.As(err, &applyErr):
		return !isCancellation(applyErr.Err)
	case errors.As(err, &ioErr), errors.As(err, &intErr):
		return true
	default:
		return false
	}
}

// PhaseOf extracts the phase recorded on an *ApplyError, or "" if none.
func PhaseOf(err error) Phase {
	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Phase
	}
	return ""
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	if sum == "" {
		return "<none>"
	}
	return sum
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	out := append([]string{}, s[:n]...)
	return append(out, "...")
}
