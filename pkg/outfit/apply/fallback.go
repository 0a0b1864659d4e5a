package apply

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// Outcome describes how ApplyWithFallback reached its result.
type Outcome struct {
	// FallbackUsed is true when the incremental apply failed and a full
	// copy ran instead.
	FallbackUsed bool

	// ApplyErr is the incremental failure that triggered the fallback.
	ApplyErr error

	// Copied is the number of files the fallback copied.
	Copied int
}

// ApplyWithFallback runs Apply. When Apply fails with a fallback-eligible
// error (see errs.IsFallbackEligible) it runs FullCopy exactly once and
// removes cs.Deleted. Other errors are returned unchanged. A failed fallback
// is returned as an *errs.ApplyError in PhaseFallback.
func (a *Applier) ApplyWithFallback(ctx context.Context, sourceDir, targetDir string, next *manifest.Manifest, cs changes.ChangeSet) (Outcome, error) {
	err := a.Apply(ctx, sourceDir, targetDir, next, cs)
	if err == nil {
		return Outcome{}, nil
	}
	if !errs.IsFallbackEligible(err) {
		return Outcome{}, err
	}

	a.fallbacks.Add(1)
	a.opts.Logger.Warn("incremental apply failed, running full copy",
		"source", sourceDir,
		"target", targetDir,
		"error", err,
	)

	out := Outcome{FallbackUsed: true, ApplyErr: err}
	copied, failed, copyErr := a.fullCopy(ctx, sourceDir, targetDir)
	out.Copied = copied
	if copyErr != nil {
		return out, &errs.ApplyError{
			Phase:  errs.PhaseFallback,
			Source: sourceDir,
			Target: targetDir,
			Paths:  failed,
			Err:    &errs.IOError{Op: "fallback-copy", Path: targetDir, Err: copyErr},
		}
	}
	a.removeAll(targetDir, cs.Deleted)

	a.opts.Logger.Info("full copy completed", "target", targetDir, "files", copied)
	return out, nil
}

// FullCopy copies every non-skipped regular file under sourceDir into
// targetDir, overwriting what is there. It returns the number of files copied.
func (a *Applier) FullCopy(ctx context.Context, sourceDir, targetDir string) (int, error) {
	n, _, err := a.fullCopy(ctx, sourceDir, targetDir)
	return n, err
}

func (a *Applier) fullCopy(ctx context.Context, sourceDir, targetDir string) (int, []string, error) {
	root, err := filepath.Abs(sourceDir)
	if err != nil {
		return 0, nil, errs.IO("resolve", sourceDir, err)
	}
	if info, err := os.Stat(root); err != nil {
		return 0, nil, errs.IO("stat", root, err)
	} else if !info.IsDir() {
		return 0, nil, errs.IO("stat", root, manifest.ErrNotDirectory)
	}
	if err := os.MkdirAll(targetDir, fsutil.DirMode); err != nil {
		return 0, nil, errs.IO("mkdir", targetDir, err)
	}

	var (
		copied   atomic.Int64
		mu       sync.Mutex
		failed   []string
		firstErr error
	)
	record := func(rel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, rel)
		if firstErr == nil {
			firstErr = err
		}
	}

	conf := fastwalk.Config{Follow: false, NumWorkers: a.opts.Workers}
	walkErr := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			record(path, errs.IO("walk", path, err))
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if a.opts.Skip.Match(rel) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		dst := filepath.Join(targetDir, filepath.FromSlash(rel))
		switch {
		case d.IsDir():
			if err := os.MkdirAll(dst, fsutil.DirMode); err != nil {
				record(rel, errs.IO("mkdir", dst, err))
			}
		case d.Type().IsRegular():
			if err := a.copyPlain(path, dst); err != nil {
				record(rel, err)
				return nil
			}
			n := copied.Add(1)
			a.filesWritten.Add(1)
			a.progress("fallback", n, 0, rel)
		}
		return nil
	})

	if err := ctx.Err(); err != nil {
		return int(copied.Load()), failed, err
	}
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		return int(copied.Load()), failed, errs.IO("walk", root, walkErr)
	}
	if firstErr != nil {
		sort.Strings(failed)
		return int(copied.Load()), failed, fmt.Errorf("%d file(s) failed: %w", len(failed), firstErr)
	}
	return int(copied.Load()), nil, nil
}

func (a *Applier) copyPlain(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return errs.IO("open", src, err)
	}
	defer f.Close()

	n, err := a.write(dst, f, nil)
	if err != nil {
		return errs.IO("write", dst, err)
	}
	a.bytesWritten.Add(n)
	return nil
}
