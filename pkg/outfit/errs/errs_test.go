package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFallbackEligible(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"io error", IO("write", "a.txt", fs.ErrPermission), true},
		{"wrapped io error", fmt.Errorf("copying: %w", IO("write", "a.txt", fs.ErrPermission)), true},
		{"integrity error", &IntegrityError{Path: "a.txt", Want: "x", Got: "y"}, true},
		{"apply error", &ApplyError{Phase: PhaseApply, Err: errors.New("disk full")}, true},
		{"apply error from cancellation", &ApplyError{Phase: PhaseApply, Err: context.Canceled}, false},
		{"cancellation", context.Canceled, false},
		{"config error", &ConfigError{Field: "source", Reason: "missing"}, false},
		{"plain error", errors.New("bug"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFallbackEligible(tt.err))
		})
	}
}

func TestIOReturnsNilForNil(t *testing.T) {
	assert.NoError(t, IO("read", "x", nil))
}

func TestErrorsUnwrap(t *testing.T) {
	base := fs.ErrNotExist

	var ioErr *IOError
	require.ErrorAs(t, fmt.Errorf("outer: %w", IO("stat", "/x", base)), &ioErr)
	assert.ErrorIs(t, ioErr, fs.ErrNotExist)

	backup := &BackupError{Target: "/t", Err: base}
	assert.ErrorIs(t, backup, fs.ErrNotExist)
	assert.Contains(t, backup.Error(), "/t")

	det := &StateDetectionError{Path: "/t", Err: base}
	assert.ErrorIs(t, det, fs.ErrNotExist)

	cfg := &ConfigError{Field: "directory", Reason: "must be set", Err: base}
	assert.ErrorIs(t, cfg, fs.ErrNotExist)
	assert.Equal(t, "invalid configuration: directory: must be set", cfg.Error())
}

func TestApplyErrorMessage(t *testing.T) {
	err := &ApplyError{
		Phase:  PhaseApply,
		Source: "/src",
		Target: "/dst",
		Paths:  []string{"a", "b", "c", "d"},
		Err:    errors.New("boom"),
	}

	msg := err.Error()
	assert.Contains(t, msg, "4 path(s)")
	assert.Contains(t, msg, "a, b, c, ...")
	assert.Contains(t, msg, "boom")
	assert.Equal(t, PhaseApply, PhaseOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, Phase(""), PhaseOf(errors.New("other")))
}

func TestIntegrityErrorShortensChecksums(t *testing.T) {
	err := &IntegrityError{Path: "a.txt", Want: "0123456789abcdef", Got: ""}
	assert.Equal(t, "checksum mismatch for a.txt: want 0123456789ab, got <none>", err.Error())
}
