// Package backup snapshots an installation directory before it is mutated
// and manages the retention of those snapshots.
//
// Snapshots live next to the installation as
// <target>.backup-<UTC timestamp>[.tar.gz|.tar.xz] so that they survive a
// failed update of the target itself.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// Format selects how a snapshot is stored.
type Format string

// Snapshot formats.
const (
	FormatDir   Format = "dir"
	FormatTarGz Format = "tar.gz"
	FormatTarXz Format = "tar.xz"
)

// Formats lists every supported format.
var Formats = []Format{FormatDir, FormatTarGz, FormatTarXz}

// ErrUnknownFormat is returned for an unrecognised format name.
var ErrUnknownFormat = errors.New("unknown backup format")

// ErrIncomplete is returned by Verify when a snapshot holds fewer files than
// the directory it was taken from.
var ErrIncomplete = errors.New("backup is incomplete")

// ParseFormat converts a format name. The empty string selects FormatDir.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatDir:
		return FormatDir, nil
	case FormatTarGz, "tgz":
		return FormatTarGz, nil
	case FormatTarXz, "txz":
		return FormatTarXz, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) ext() string {
	if f == FormatDir {
		return ""
	}
	return "." + string(f)
}

// Infix separates the target path from the snapshot timestamp.
const Infix = ".backup-"

// timeLayout is the UTC timestamp embedded in snapshot names.
const timeLayout = "20060102T150405Z"

// Options configures a Manager.
type Options struct {
	Format Format

	// Skip excludes paths from snapshots. The manifest file is always kept.
	Skip *manifest.SkipList

	// Workers bounds the directory walk.
	Workers int

	// Keep and MaxAgeDays are the retention defaults for Prune.
	Keep       int
	MaxAgeDays int

	// UseTrash moves pruned snapshots to the system trash instead of
	// deleting them.
	UseTrash bool

	// Now overrides the clock used to name and age snapshots.
	Now func() time.Time

	Logger *logging.Logger
}

// DefaultKeep is the number of snapshots Prune keeps when Options.Keep is zero.
const DefaultKeep = 3

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Format == "" {
		o.Format = FormatDir
	}
	if _, err := ParseFormat(string(o.Format)); err != nil {
		return err
	}
	if o.Skip == nil {
		o.Skip = manifest.DefaultSkipList()
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Keep < 0 {
		return fmt.Errorf("keep must be >= 0, got %d", o.Keep)
	}
	if o.Keep == 0 {
		o.Keep = DefaultKeep
	}
	if o.MaxAgeDays < 0 {
		return fmt.Errorf("max age must be >= 0 days, got %d", o.MaxAgeDays)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return nil
}

// Manager creates, verifies, lists, and prunes snapshots.
type Manager struct {
	opts Options
}

// New returns a Manager.
func New(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Manager{opts: opts}, nil
}

// Format returns the format new snapshots are written in.
func (m *Manager) Format() Format {
	return m.opts.Format
}

// Snapshot describes one existing backup.
type Snapshot struct {
	Path      string    `json:"path"`
	Format    Format    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// Create snapshots target and returns the snapshot path. Failures are
// returned as *errs.BackupError and leave no partial snapshot behind.
func (m *Manager) Create(ctx context.Context, target string) (string, error) {
	target = filepath.Clean(target)
	if !fsutil.IsDir(target) {
		return "", &errs.BackupError{Target: target, Err: fmt.Errorf("%w: %s", manifest.ErrNotDirectory, target)}
	}

	dest, err := m.nextName(target)
	if err != nil {
		return "", &errs.BackupError{Target: target, Err: err}
	}

	entries, err := m.collect(ctx, target)
	if err != nil {
		return "", &errs.BackupError{Target: target, Err: err}
	}

	start := m.opts.Now()
	switch m.opts.Format {
	case FormatDir:
		err = copyTree(ctx, target, dest, entries)
	default:
		err = writeArchive(ctx, target, dest, m.opts.Format, entries)
	}
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", &errs.BackupError{Target: target, Err: err}
	}

	m.opts.Logger.Info("backup created",
		"target", target,
		"path", dest,
		"format", m.opts.Format,
		"files", countFiles(entries),
		"duration", m.opts.Now().Sub(start),
	)
	return dest, nil
}

// Verify checks that the snapshot at path exists and holds at least as many
// files as target currently does.
func (m *Manager) Verify(ctx context.Context, snapshot, target string) error {
	want, err := m.collect(ctx, filepath.Clean(target))
	if err != nil {
		return &errs.BackupError{Target: target, Err: err}
	}

	var got int
	switch formatOf(snapshot) {
	case FormatDir:
		if !fsutil.IsDir(snapshot) {
			return &errs.BackupError{Target: target, Err: fmt.Errorf("%w: %s", manifest.ErrNotDirectory, snapshot)}
		}
		entries, err := m.collect(ctx, snapshot)
		if err != nil {
			return &errs.BackupError{Target: target, Err: err}
		}
		got = countFiles(entries)
	default:
		got, err = countArchive(snapshot)
		if err != nil {
			return &errs.BackupError{Target: target, Err: err}
		}
	}

	if got < countFiles(want) {
		return &errs.BackupError{
			Target: target,
			Err:    fmt.Errorf("%w: %s holds %d file(s), source has %d", ErrIncomplete, snapshot, got, countFiles(want)),
		}
	}
	m.opts.Logger.Debug("backup verified", "path", snapshot, "files", got)
	return nil
}

// List returns the snapshots of target, newest first.
func (m *Manager) List(target string) ([]Snapshot, error) {
	target = filepath.Clean(target)
	parent := filepath.Dir(target)
	prefix := filepath.Base(target) + Infix

	entries, err := os.ReadDir(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.IO("readdir", parent, err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		created, format, ok := parseName(strings.TrimPrefix(name, prefix))
		if !ok {
			continue
		}
		if (format == FormatDir) != e.IsDir() {
			continue
		}
		full := filepath.Join(parent, name)
		snaps = append(snaps, Snapshot{
			Path:      full,
			Format:    format,
			CreatedAt: created,
			Size:      sizeOf(full, e),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].Path > snaps[j].Path
	})
	return snaps, nil
}

// Prune removes snapshots of target beyond the newest keep, and any older
// than maxAgeDays (0 disables the age limit). The newest snapshot is never
// removed for age alone. It returns the removed paths.
func (m *Manager) Prune(target string, keep, maxAgeDays int) ([]string, error) {
	if keep <= 0 {
		keep = m.opts.Keep
	}
	snaps, err := m.List(target)
	if err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if maxAgeDays > 0 {
		cutoff = m.opts.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	}

	var (
		removed  []string
		firstErr error
	)
	for i, s := range snaps {
		expired := !cutoff.IsZero() && s.CreatedAt.Before(cutoff) && i > 0
		if i < keep && !expired {
			continue
		}
		if err := discard(s.Path, m.opts.UseTrash); err != nil {
			m.opts.Logger.Warn("failed to remove backup", "path", s.Path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.opts.Logger.Info("backup pruned", "path", s.Path, "created", s.CreatedAt)
		removed = append(removed, s.Path)
	}
	return removed, firstErr
}

// nextName picks an unused snapshot path for target.
func (m *Manager) nextName(target string) (string, error) {
	base := target + Infix + m.opts.Now().UTC().Format(timeLayout)
	ext := m.opts.Format.ext()
	for i := 0; i < 1000; i++ {
		candidate := base + ext
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		exists, err := fsutil.Exists(candidate)
		if err != nil {
			return "", errs.IO("stat", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free backup name for %s", target)
}

// parseName decodes the part of a snapshot name after the infix.
func parseName(rest string) (time.Time, Format, bool) {
	format := FormatDir
	for _, f := range []Format{FormatTarGz, FormatTarXz} {
		if strings.HasSuffix(rest, f.ext()) {
			format = f
			rest = strings.TrimSuffix(rest, f.ext())
			break
		}
	}
	stamp := rest
	if len(rest) > len(timeLayout) {
		stamp = rest[:len(timeLayout)]
		if rest[len(timeLayout)] != '-' {
			return time.Time{}, "", false
		}
	}
	created, err := time.Parse(timeLayout, stamp)
	if err != nil {
		return time.Time{}, "", false
	}
	return created, format, true
}

func formatOf(p string) Format {
	for _, f := range []Format{FormatTarGz, FormatTarXz} {
		if strings.HasSuffix(p, f.ext()) {
			return f
		}
	}
	return FormatDir
}

// entry is one path included in a snapshot.
type entry struct {
	rel  string
	dir  bool
	size int64
}

// collect lists the directories and regular files under root that a
// snapshot includes, in lexical order so parents precede children.
func (m *Manager) collect(ctx context.Context, root string) ([]entry, error) {
	var (
		mu      sync.Mutex
		entries []entry
	)
	conf := fastwalk.Config{Follow: false, NumWorkers: m.opts.Workers}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return errs.IO("walk", p, err)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if m.skipped(rel) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		e := entry{rel: rel, dir: d.IsDir()}
		if !e.dir {
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return errs.IO("stat", p, err)
			}
			e.size = info.Size()
		}
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil && !errors.Is(err, fastwalk.ErrSkipFiles) {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}

func (m *Manager) skipped(rel string) bool {
	if path.Base(rel) == manifest.Filename {
		return false
	}
	return m.opts.Skip.Match(rel)
}

func countFiles(entries []entry) int {
	n := 0
	for _, e := range entries {
		if !e.dir {
			n++
		}
	}
	return n
}

func copyTree(ctx context.Context, src, dst string, entries []entry) error {
	if err := os.MkdirAll(dst, fsutil.DirMode); err != nil {
		return errs.IO("mkdir", dst, err)
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := filepath.Join(dst, filepath.FromSlash(e.rel))
		if e.dir {
			if err := os.MkdirAll(to, fsutil.DirMode); err != nil {
				return errs.IO("mkdir", to, err)
			}
			continue
		}
		from := filepath.Join(src, filepath.FromSlash(e.rel))
		if _, err := fsutil.CopyFile(from, to); err != nil {
			return errs.IO("copy", from, err)
		}
	}
	return nil
}

func sizeOf(full string, e fs.DirEntry) int64 {
	if !e.IsDir() {
		info, err := e.Info()
		if err != nil {
			return 0
		}
		return info.Size()
	}
	var total int64
	_ = filepath.WalkDir(full, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
