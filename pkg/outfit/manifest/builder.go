package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// ErrNotDirectory is wrapped in the IOError returned when a build root is
// not a directory.
var ErrNotDirectory = errors.New("not a directory")

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// Workers bounds the number of files hashed concurrently.
	// Zero uses fastwalk's default (one per CPU, at least four).
	Workers int

	// Algorithm selects the content hash. Empty means sha256.
	Algorithm Algorithm

	// Skip lists excluded paths. Nil means DefaultSkipList.
	Skip *SkipList

	// Unit names the installation unit in progress reports.
	Unit string

	// OnProgress is called after each file is hashed. It may be called from
	// several goroutines at once.
	OnProgress func(types.Progress)

	Logger *logging.Logger
}

// Validate checks the options and fills in defaults.
func (o *BuilderOptions) Validate() error {
	if o.Workers < 0 {
		return fmt.Errorf("workers must not be negative: %d", o.Workers)
	}
	if o.Algorithm == "" {
		o.Algorithm = AlgorithmSHA256
	}
	if !o.Algorithm.Valid() {
		return fmt.Errorf("unknown checksum algorithm %q", o.Algorithm)
	}
	if o.Skip == nil {
		o.Skip = DefaultSkipList()
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return nil
}

// Builder walks a directory tree and produces a Manifest. A Builder may be
// reused; each Build call is independent.
type Builder struct {
	opts BuilderOptions
}

// NewBuilder returns a Builder configured by opts.
func NewBuilder(opts BuilderOptions) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Builder{opts: opts}, nil
}

// Algorithm returns the hash the builder uses.
func (b *Builder) Algorithm() Algorithm {
	return b.opts.Algorithm
}

// Skip returns the builder's skip list.
func (b *Builder) Skip() *SkipList {
	return b.opts.Skip
}

// build carries the state of a single Build call.
type build struct {
	opts     *BuilderOptions
	ctx      context.Context
	root     string
	mu       sync.Mutex
	manifest *Manifest
	firstErr error

	files atomic.Int64
	bytes atomic.Int64
}

// Build walks dir and returns its manifest. Symlinks are neither followed nor
// recorded. Hashing runs on the walk's worker goroutines, so concurrency is
// bounded by Workers.
func (b *Builder) Build(ctx context.Context, dir string) (*Manifest, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, errs.IO("resolve", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errs.IO("stat", root, err)
	}
	if !info.IsDir() {
		return nil, errs.IO("stat", root, ErrNotDirectory)
	}

	st := &build{
		opts:     &b.opts,
		ctx:      ctx,
		root:     root,
		manifest: New(b.opts.Algorithm),
	}
	st.manifest.Name = b.opts.Unit

	conf := fastwalk.Config{
		Follow:     false,
		NumWorkers: b.opts.Workers,
	}
	walkErr := fastwalk.Walk(&conf, root, st.visit)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st.firstErr != nil {
		return nil, st.firstErr
	}
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		return nil, errs.IO("walk", root, walkErr)
	}

	b.opts.Logger.Debug("manifest built",
		"root", root,
		"files", st.manifest.Len(),
		"bytes", st.manifest.TotalSize,
		"algorithm", b.opts.Algorithm,
	)
	return st.manifest, nil
}

func (st *build) visit(path string, d fs.DirEntry, err error) error {
	if ctxErr := st.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		st.fail(errs.IO("walk", path, err))
		return err
	}

	rel, relErr := filepath.Rel(st.root, path)
	if relErr != nil {
		st.fail(errs.IO("walk", path, relErr))
		return relErr
	}
	if rel == "." {
		return nil
	}
	rel = filepath.ToSlash(rel)

	if st.opts.Skip.Match(rel) {
		if d.IsDir() {
			return fastwalk.SkipDir
		}
		return nil
	}

	switch {
	case d.IsDir():
		st.mu.Lock()
		st.manifest.AddDir(rel)
		st.mu.Unlock()
	case d.Type().IsRegular():
		rec, err := st.hash(path, rel)
		if err != nil {
			st.fail(err)
			return err
		}
		st.mu.Lock()
		st.manifest.Add(rec)
		st.mu.Unlock()
		st.progress(rel, rec.Size)
	}
	return nil
}

func (st *build) hash(path, rel string) (FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileRecord{}, errs.IO("open", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileRecord{}, errs.IO("stat", path, err)
	}
	sum, n, err := st.opts.Algorithm.SumReader(f)
	if err != nil {
		return FileRecord{}, errs.IO("read", path, err)
	}
	return FileRecord{
		Path:       rel,
		Size:       uint64(n),
		Checksum:   sum,
		ModifiedAt: info.ModTime().UTC(),
	}, nil
}

func (st *build) fail(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.firstErr == nil {
		st.firstErr = err
	}
}

func (st *build) progress(rel string, size uint64) {
	done := st.files.Add(1)
	total := st.bytes.Add(int64(size))
	if st.opts.OnProgress == nil {
		return
	}
	st.opts.OnProgress(types.Progress{
		Phase:       "hash",
		Unit:        st.opts.Unit,
		Done:        done,
		Bytes:       total,
		CurrentPath: rel,
	})
}
