package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// clock returns a Now func that advances by step on every call.
func clock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func newTarget(t *testing.T) string {
	t.Helper()
	target := filepath.Join(t.TempDir(), "install")
	writeTree(t, target, map[string]string{
		"agents/dev.md":   "dev",
		"config.yaml":     "name: core\n",
		manifest.Filename: "{}",
		".git/HEAD":       "ref",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(target, "empty"), 0o755))
	return target
}

func TestCreateAndVerify(t *testing.T) {
	for _, format := range backup.Formats {
		t.Run(string(format), func(t *testing.T) {
			target := newTarget(t)
			m, err := backup.New(backup.Options{Format: format})
			require.NoError(t, err)

			snap, err := m.Create(context.Background(), target)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(snap, target+backup.Infix))
			assert.True(t, strings.HasSuffix(snap, map[backup.Format]string{
				backup.FormatDir:   "Z",
				backup.FormatTarGz: ".tar.gz",
				backup.FormatTarXz: ".tar.xz",
			}[format]))

			require.NoError(t, m.Verify(context.Background(), snap, target))

			snaps, err := m.List(target)
			require.NoError(t, err)
			require.Len(t, snaps, 1)
			assert.Equal(t, snap, snaps[0].Path)
			assert.Equal(t, format, snaps[0].Format)
			assert.Positive(t, snaps[0].Size)
		})
	}
}

func TestCreateDirectoryContents(t *testing.T) {
	target := newTarget(t)
	m, err := backup.New(backup.Options{})
	require.NoError(t, err)

	snap, err := m.Create(context.Background(), target)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(snap, "agents", "dev.md"))
	require.NoError(t, err)
	assert.Equal(t, "dev", string(data))
	assert.FileExists(t, filepath.Join(snap, manifest.Filename), "manifest is always backed up")
	assert.DirExists(t, filepath.Join(snap, "empty"))
	assert.NoDirExists(t, filepath.Join(snap, ".git"))
}

func TestCreateMissingTarget(t *testing.T) {
	m, err := backup.New(backup.Options{})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), filepath.Join(t.TempDir(), "absent"))
	var backupErr *errs.BackupError
	require.ErrorAs(t, err, &backupErr)
}

func TestCreateCancelledLeavesNothing(t *testing.T) {
	target := newTarget(t)
	m, err := backup.New(backup.Options{Format: backup.FormatTarGz})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Create(ctx, target)
	require.Error(t, err)

	snaps, err := m.List(target)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestVerifyIncomplete(t *testing.T) {
	target := newTarget(t)
	m, err := backup.New(backup.Options{})
	require.NoError(t, err)

	snap, err := m.Create(context.Background(), target)
	require.NoError(t, err)
	writeTree(t, target, map[string]string{"agents/new.md": "later"})

	err = m.Verify(context.Background(), snap, target)
	assert.ErrorIs(t, err, backup.ErrIncomplete)
	var backupErr *errs.BackupError
	assert.ErrorAs(t, err, &backupErr)
}

func TestVerifyMissingSnapshot(t *testing.T) {
	target := newTarget(t)
	m, err := backup.New(backup.Options{})
	require.NoError(t, err)

	assert.Error(t, m.Verify(context.Background(), target+".backup-missing", target))
	assert.Error(t, m.Verify(context.Background(), target+".backup-missing.tar.gz", target))
}

func TestCreateSameSecondGetsDistinctNames(t *testing.T) {
	target := newTarget(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := backup.New(backup.Options{Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	first, err := m.Create(context.Background(), target)
	require.NoError(t, err)
	second, err := m.Create(context.Background(), target)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, first+"-1", second)

	snaps, err := m.List(target)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestListNewestFirst(t *testing.T) {
	target := newTarget(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := backup.New(backup.Options{Now: clock(start, time.Hour)})
	require.NoError(t, err)

	var created []string
	for range 3 {
		p, err := m.Create(context.Background(), target)
		require.NoError(t, err)
		created = append(created, p)
	}
	require.NoError(t, os.WriteFile(target+".backup-notes.txt", []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(target), "other.backup-20260101T000000Z"), []byte("x"), 0o644))

	snaps, err := m.List(target)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, created[2], snaps[0].Path)
	assert.Equal(t, created[0], snaps[2].Path)
	assert.True(t, snaps[0].CreatedAt.After(snaps[1].CreatedAt))
}

func TestListMissingParent(t *testing.T) {
	m, err := backup.New(backup.Options{})
	require.NoError(t, err)

	snaps, err := m.List(filepath.Join(t.TempDir(), "no", "such", "dir"))
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPruneKeep(t *testing.T) {
	target := newTarget(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := backup.New(backup.Options{Format: backup.FormatTarXz, Now: clock(start, time.Hour)})
	require.NoError(t, err)

	var created []string
	for range 4 {
		p, err := m.Create(context.Background(), target)
		require.NoError(t, err)
		created = append(created, p)
	}

	removed, err := m.Prune(target, 2, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, created[:2], removed)
	assert.NoFileExists(t, created[0])
	assert.FileExists(t, created[3])

	snaps, err := m.List(target)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestPruneMaxAgeKeepsNewest(t *testing.T) {
	target := newTarget(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Every call to Now advances ten days.
	m, err := backup.New(backup.Options{Now: clock(start, 10*24*time.Hour)})
	require.NoError(t, err)

	for range 2 {
		_, err := m.Create(context.Background(), target)
		require.NoError(t, err)
	}

	removed, err := m.Prune(target, 10, 1)
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	snaps, err := m.List(target)
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "the newest snapshot survives the age limit")
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want backup.Format
		err  bool
	}{
		{"", backup.FormatDir, false},
		{"dir", backup.FormatDir, false},
		{"TAR.GZ", backup.FormatTarGz, false},
		{"tgz", backup.FormatTarGz, false},
		{"tar.xz", backup.FormatTarXz, false},
		{"zip", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := backup.ParseFormat(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, backup.ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	_, err := backup.New(backup.Options{Keep: -1})
	assert.Error(t, err)
	_, err = backup.New(backup.Options{MaxAgeDays: -1})
	assert.Error(t, err)
	_, err = backup.New(backup.Options{Format: "rar"})
	assert.ErrorIs(t, err, backup.ErrUnknownFormat)
}
