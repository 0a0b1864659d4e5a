// Package integrity compares an installed directory against its manifest.
package integrity

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// DefaultWorkers bounds concurrent hashing when Options.Workers is zero.
const DefaultWorkers = 8

// Report lists the manifest paths that are absent or differ on disk.
type Report struct {
	Missing  []string `json:"missing"`
	Modified []string `json:"modified"`

	// Assessed is false when there was no manifest to check against. An
	// unassessed report says nothing about the directory's health.
	Assessed bool `json:"assessed"`

	// Checked is the number of manifest entries examined.
	Checked int `json:"checked"`
}

// OK reports whether the directory was assessed and nothing was flagged.
func (r Report) OK() bool {
	return r.Assessed && len(r.Missing) == 0 && len(r.Modified) == 0
}

// Flagged returns Missing and Modified merged in lexical order.
func (r Report) Flagged() []string {
	out := make([]string, 0, len(r.Missing)+len(r.Modified))
	out = append(out, r.Missing...)
	out = append(out, r.Modified...)
	sort.Strings(out)
	return out
}

// Options configures a Checker.
type Options struct {
	Workers    int
	OnProgress func(types.Progress)
	Logger     *logging.Logger
}

// Checker verifies installed files. It never modifies the directory.
type Checker struct {
	workers    int
	onProgress func(types.Progress)
	logger     *logging.Logger
}

// New returns a Checker.
func New(opts Options) *Checker {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Checker{
		workers:    opts.Workers,
		onProgress: opts.OnProgress,
		logger:     logging.OrDiscard(opts.Logger),
	}
}

// Check verifies every file m declares under dir: it must exist, and when its
// record carries a checksum the content must hash to it. A nil manifest
// yields an empty report with Assessed false. Check only returns an error
// when ctx is cancelled; unreadable files are reported as modified.
func (c *Checker) Check(ctx context.Context, dir string, m *manifest.Manifest) (Report, error) {
	if m == nil {
		return Report{Missing: []string{}, Modified: []string{}}, nil
	}

	var (
		mu       sync.Mutex
		missing  = []string{}
		modified = []string{}
		done     atomic.Int64
	)
	paths := m.Paths()
	total := int64(len(paths))

	g := new(errgroup.Group)
	g.SetLimit(c.workers)

	for _, p := range paths {
		rec := m.Files[p]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			state := c.checkOne(dir, rec, m.Algorithm)
			mu.Lock()
			switch state {
			case stateMissing:
				missing = append(missing, p)
			case stateModified:
				modified = append(modified, p)
			}
			mu.Unlock()

			if c.onProgress != nil {
				c.onProgress(types.Progress{Phase: "verify", Done: done.Add(1), Total: total, CurrentPath: p})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	sort.Strings(missing)
	sort.Strings(modified)
	r := Report{Missing: missing, Modified: modified, Assessed: true, Checked: len(paths)}
	c.logger.Debug("integrity checked",
		"target", dir,
		"checked", r.Checked,
		"missing", len(missing),
		"modified", len(modified),
	)
	return r, nil
}

type fileState int

const (
	stateOK fileState = iota
	stateMissing
	stateModified
)

func (c *Checker) checkOne(dir string, rec manifest.FileRecord, algo manifest.Algorithm) fileState {
	full := filepath.Join(dir, filepath.FromSlash(rec.Path))
	info, err := os.Lstat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stateMissing
		}
		c.logger.Debug("stat failed", "path", full, "error", err)
		return stateModified
	}
	if !info.Mode().IsRegular() {
		return stateModified
	}
	if rec.Checksum == "" {
		return stateOK
	}

	sum, _, err := algo.SumFile(full)
	if err != nil {
		c.logger.Debug("hash failed", "path", full, "error", err)
		return stateModified
	}
	if sum != rec.Checksum {
		return stateModified
	}
	return stateOK
}
