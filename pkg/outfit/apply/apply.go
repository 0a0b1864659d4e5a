// Package apply reconciles a target directory with a source tree by applying
// a change set, falling back to a full copy when an incremental apply fails.
package apply

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/outfit/pkg/outfit/cache"
	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// DefaultWorkers is the copy concurrency used when Options.Workers is zero.
const DefaultWorkers = 8

// ErrInvalidChangeSet is returned when a change set names a path that is not
// in the manifest it was computed for, or a path that would leave the target.
// It indicates a caller bug and never triggers the fallback copy.
var ErrInvalidChangeSet = errors.New("invalid change set")

// Options configures an Applier.
type Options struct {
	// Workers bounds concurrent file copies.
	Workers int

	// Cache is shared by every Apply call on this Applier. Nil creates a
	// memory-only cache.
	Cache *cache.Cache

	// Skip is used by FullCopy. Nil means manifest.DefaultSkipList.
	Skip *manifest.SkipList

	// Unit names the installation unit in progress reports.
	Unit string

	// OnProgress is called after each file is written, possibly from
	// several goroutines at once.
	OnProgress func(types.Progress)

	Logger *logging.Logger
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative: %d", o.Workers)
	}
	if o.Workers == 0 {
		o.Workers = DefaultWorkers
	}
	if o.Skip == nil {
		o.Skip = manifest.DefaultSkipList()
	}
	o.Logger = logging.OrDiscard(o.Logger)
	if o.Cache == nil {
		c, err := cache.New(cache.Options{Logger: o.Logger.Named("cache")})
		if err != nil {
			return err
		}
		o.Cache = c
	}
	return nil
}

// writeFunc writes r to path atomically, calling verify before committing.
type writeFunc func(path string, r io.Reader, verify func(int64) error) (int64, error)

func atomicWrite(path string, r io.Reader, verify func(int64) error) (int64, error) {
	return fsutil.WriteReaderVerified(path, r, fsutil.FileMode, verify)
}

// Applier writes change sets into target directories.
type Applier struct {
	opts  Options
	write writeFunc

	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	cacheHits      atomic.Int64
	deleted        atomic.Int64
	deleteFailures atomic.Int64
	fallbacks      atomic.Int64
}

// New returns an Applier configured by opts.
func New(opts Options) (*Applier, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Applier{opts: opts, write: atomicWrite}, nil
}

// Stats is a snapshot of an Applier's counters.
type Stats struct {
	FilesWritten   int64 `json:"files_written"`
	BytesWritten   int64 `json:"bytes_written"`
	CacheHits      int64 `json:"cache_hits"`
	Deleted        int64 `json:"deleted"`
	DeleteFailures int64 `json:"delete_failures"`
	Fallbacks      int64 `json:"fallbacks"`
}

// Stats returns the counters accumulated over every call on a.
func (a *Applier) Stats() Stats {
	return Stats{
		FilesWritten:   a.filesWritten.Load(),
		BytesWritten:   a.bytesWritten.Load(),
		CacheHits:      a.cacheHits.Load(),
		Deleted:        a.deleted.Load(),
		DeleteFailures: a.deleteFailures.Load(),
		Fallbacks:      a.fallbacks.Load(),
	}
}

// Apply deletes cs.Deleted from targetDir and then copies cs.Added and
// cs.Modified from sourceDir, verifying each source file against its record
// in next. Deletes are best-effort. Copies run on a bounded pool; a failing
// copy does not stop the others, and the first failure is returned inside an
// *errs.ApplyError listing every failed path.
func (a *Applier) Apply(ctx context.Context, sourceDir, targetDir string, next *manifest.Manifest, cs changes.ChangeSet) error {
	if err := validate(next, cs); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.removeAll(targetDir, cs.Deleted)

	writes := cs.Writes()
	total := int64(len(writes))
	var (
		done   atomic.Int64
		mu     sync.Mutex
		failed []string
	)
	fail := func(p string) {
		mu.Lock()
		failed = append(failed, p)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(a.opts.Workers)

	for _, dir := range next.Directories {
		if err := os.MkdirAll(filepath.Join(targetDir, filepath.FromSlash(dir)), fsutil.DirMode); err != nil {
			fail(dir)
			g.Go(func() error { return errs.IO("mkdir", dir, err) })
		}
	}

	for _, p := range writes {
		rec := next.Files[p]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(p)
				return err
			}
			n, err := a.copyOne(sourceDir, targetDir, rec, next.Algorithm)
			if err != nil {
				fail(p)
				a.opts.Logger.Debug("copy failed", "path", p, "error", err)
				return err
			}
			a.filesWritten.Add(1)
			a.bytesWritten.Add(n)
			a.progress("copy", done.Add(1), total, p)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sort.Strings(failed)
		return &errs.ApplyError{
			Phase:  errs.PhaseApply,
			Source: sourceDir,
			Target: targetDir,
			Paths:  failed,
			Err:    err,
		}
	}

	a.opts.Logger.Debug("change set applied",
		"target", targetDir,
		"written", len(writes),
		"deleted", len(cs.Deleted),
	)
	return nil
}

// copyOne writes one file into targetDir, reading it from the cache when an
// identical file has already been seen.
func (a *Applier) copyOne(sourceDir, targetDir string, rec manifest.FileRecord, algo manifest.Algorithm) (int64, error) {
	src := filepath.Join(sourceDir, filepath.FromSlash(rec.Path))
	dst := filepath.Join(targetDir, filepath.FromSlash(rec.Path))
	c := a.opts.Cache
	cacheable := c.Algorithm() == algo

	if cacheable {
		if data, ok := c.Get(rec.Checksum); ok {
			a.cacheHits.Add(1)
			n, err := a.write(dst, bytes.NewReader(data), nil)
			return n, errs.IO("write", dst, err)
		}
	}

	f, err := os.Open(src)
	if err != nil {
		return 0, errs.IO("open", src, err)
	}
	defer f.Close()

	if cacheable && rec.Size <= uint64(c.MaxEntrySize()) {
		data, err := io.ReadAll(f)
		if err != nil {
			return 0, errs.IO("read", src, err)
		}
		if got := algo.Sum(data); got != rec.Checksum {
			return 0, &errs.IntegrityError{Path: rec.Path, Want: rec.Checksum, Got: got}
		}
		c.PutIfAbsent(rec.Checksum, data)
		n, err := a.write(dst, bytes.NewReader(data), nil)
		return n, errs.IO("write", dst, err)
	}

	h := algo.New()
	verify := func(int64) error {
		if got := hex.EncodeToString(h.Sum(nil)); got != rec.Checksum {
			return &errs.IntegrityError{Path: rec.Path, Want: rec.Checksum, Got: got}
		}
		return nil
	}
	n, err := a.write(dst, io.TeeReader(f, h), verify)
	if err != nil {
		var intErr *errs.IntegrityError
		if errors.As(err, &intErr) {
			return n, err
		}
		return n, errs.IO("write", dst, err)
	}
	return n, nil
}

// removeAll deletes paths from targetDir, logging failures, and prunes the
// directories they leave empty.
func (a *Applier) removeAll(targetDir string, paths []string) {
	for _, p := range paths {
		full := filepath.Join(targetDir, filepath.FromSlash(p))
		if err := os.Remove(full); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			a.deleteFailures.Add(1)
			a.opts.Logger.Warn("delete failed", "path", full, "error", err)
			continue
		}
		a.deleted.Add(1)
		fsutil.PruneEmptyDirs(targetDir, filepath.Dir(full))
	}
}

func (a *Applier) progress(phase string, done, total int64, p string) {
	if a.opts.OnProgress == nil {
		return
	}
	a.opts.OnProgress(types.Progress{
		Phase:       phase,
		Unit:        a.opts.Unit,
		Done:        done,
		Total:       total,
		Bytes:       a.bytesWritten.Load(),
		CurrentPath: p,
	})
}

func validate(next *manifest.Manifest, cs changes.ChangeSet) error {
	if next == nil {
		return fmt.Errorf("%w: no manifest", ErrInvalidChangeSet)
	}
	for _, p := range cs.Writes() {
		if _, ok := next.Files[p]; !ok {
			return fmt.Errorf("%w: %s is not in the manifest", ErrInvalidChangeSet, p)
		}
	}
	for _, p := range cs.Deleted {
		if !manifest.ValidPath(p) {
			return fmt.Errorf("%w: invalid path %q", ErrInvalidChangeSet, p)
		}
	}
	for p := range next.Files {
		if !manifest.ValidPath(p) {
			return fmt.Errorf("%w: invalid path %q", ErrInvalidChangeSet, p)
		}
	}
	return nil
}
