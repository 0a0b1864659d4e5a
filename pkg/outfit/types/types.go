// Package types provides the small value types shared across the outfit
// installation engine: resolved installation types, progress snapshots, and
// size parsing/formatting helpers.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// InstallType is the installation strategy resolved for an attempt.
type InstallType string

// Installation strategies. The set is closed; handlers are registered per value.
const (
	InstallFresh  InstallType = "fresh"
	InstallUpdate InstallType = "update"
	InstallRepair InstallType = "repair"
)

// InstallTypes lists every valid InstallType in dispatch order.
var InstallTypes = []InstallType{InstallFresh, InstallUpdate, InstallRepair}

// Valid reports whether t is one of the known installation strategies.
func (t InstallType) Valid() bool {
	switch t {
	case InstallFresh, InstallUpdate, InstallRepair:
		return true
	default:
		return false
	}
}

// String returns the string form of the install type.
func (t InstallType) String() string {
	return string(t)
}

// Progress reports the state of a long-running phase (hashing, copying,
// verifying). Callbacks receiving it may be invoked from multiple goroutines.
type Progress struct {
	// Phase names the running phase, e.g. "hash", "copy", "verify".
	Phase string `json:"phase"`

	// Unit is the installation unit being processed ("core" or a pack id).
	Unit string `json:"unit,omitempty"`

	// Done is the number of files finished so far.
	Done int64 `json:"done"`

	// Total is the number of files in the phase, or 0 when unknown.
	Total int64 `json:"total"`

	// Bytes is the number of bytes processed so far.
	Bytes int64 `json:"bytes"`

	// CurrentPath is the relative path most recently processed.
	CurrentPath string `json:"current_path"`
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB".
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ParseSize parses a human-readable size string ("64M", "1.5GiB", "4096")
// and returns the size in bytes. Units are binary.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative size %q", ErrInvalidSize, s)
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(matches[2])
	unit = strings.TrimSuffix(unit, "IB")
	unit = strings.TrimSuffix(unit, "B")

	var multiplier int64
	switch unit {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = 1024 * GiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, unit)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string.
func FormatSize(bytes uint64) string {
	return humanize.IBytes(bytes)
}
