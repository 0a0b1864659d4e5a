package install

import (
	"context"
	"fmt"
	"sync"

	"github.com/jamesainslie/outfit/pkg/outfit/apply"
	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/cache"
	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// Context is what a Handler knows about the unit it is asked to install.
// The orchestrator builds one per unit per attempt; handlers read it and
// never keep it after Handle returns.
type Context struct {
	// AttemptID identifies the Install call.
	AttemptID string

	// Config is the validated request.
	Config InstallConfig

	// Unit is CoreUnit or an expansion-pack id.
	Unit string

	// SourceDir and TargetDir are the unit's absolute directories.
	SourceDir string
	TargetDir string

	// Root is the installation root, Config.Directory.
	Root string

	// State is the unit's detected state.
	State detect.State

	// ResolvedType is the strategy the transition rule picked.
	ResolvedType types.InstallType

	// Integrity is the check run while resolving. Assessed is false when
	// no check was run.
	Integrity integrity.Report

	// Info is the unit's config.yaml metadata.
	Info manifest.UnitInfo

	Logger *logging.Logger

	attempt *attempt
}

// BuildSource hashes the unit's source tree.
func (c *Context) BuildSource(ctx context.Context) (*manifest.Manifest, error) {
	return c.attempt.build(ctx, c.Unit, c.SourceDir)
}

// Apply reconciles the unit's target with next, falling back to a full copy
// on eligible failures.
func (c *Context) Apply(ctx context.Context, next *manifest.Manifest, cs changes.ChangeSet) (apply.Outcome, error) {
	a, err := c.attempt.applier(c.Unit)
	if err != nil {
		return apply.Outcome{}, err
	}
	out, err := a.ApplyWithFallback(ctx, c.SourceDir, c.TargetDir, next, cs)
	c.attempt.addStats(a.Stats())
	return out, err
}

// Backup snapshots the installation root and verifies the snapshot. The
// snapshot is taken once per attempt; later calls return the same result.
func (c *Context) Backup(ctx context.Context) (string, error) {
	return c.attempt.backup(ctx)
}

// CheckIntegrity verifies the unit's target against m.
func (c *Context) CheckIntegrity(ctx context.Context, m *manifest.Manifest) (integrity.Report, error) {
	return c.attempt.checker().Check(ctx, c.TargetDir, m)
}

// SetupIntegrations runs the requested integrations once per attempt.
// Failures are logged and recorded as warnings on the result.
func (c *Context) SetupIntegrations(ctx context.Context) {
	c.attempt.integrate(ctx, c)
}

// attempt carries the state shared by every unit of one Install call.
type attempt struct {
	o       *Orchestrator
	id      string
	cfg     InstallConfig
	skip    *manifest.SkipList
	cache   *cache.Cache
	backups *backup.Manager
	logger  *logging.Logger

	backupOnce sync.Once
	backupPath string
	backupErr  error

	integrateOnce sync.Once

	mu       sync.Mutex
	stats    apply.Stats
	warnings []string
}

func newAttempt(o *Orchestrator, id string, cfg InstallConfig, skip *manifest.SkipList, logger *logging.Logger) (*attempt, error) {
	c := o.cache
	if c == nil || c.Algorithm() != cfg.Algorithm {
		var err error
		c, err = cache.New(cache.Options{
			Algorithm:    cfg.Algorithm,
			MemoryBudget: o.cacheBudget,
			Store:        o.store,
			Logger:       logger.Named("cache"),
		})
		if err != nil {
			return nil, err
		}
	}

	bopts := o.backupOpts
	bopts.Skip = skip
	bopts.Logger = logger.Named("backup")
	backups, err := backup.New(bopts)
	if err != nil {
		return nil, err
	}

	return &attempt{
		o:       o,
		id:      id,
		cfg:     cfg,
		skip:    skip,
		cache:   c,
		backups: backups,
		logger:  logger,
	}, nil
}

// unitSkip returns the skip list for unit. The core walk excludes the packs
// directory; each pack is its own unit.
func (a *attempt) unitSkip(unit string) (*manifest.SkipList, error) {
	if unit != CoreUnit {
		return a.skip, nil
	}
	return a.skip.With(detect.PacksDir)
}

func (a *attempt) build(ctx context.Context, unit, dir string) (*manifest.Manifest, error) {
	skip, err := a.unitSkip(unit)
	if err != nil {
		return nil, err
	}
	b, err := manifest.NewBuilder(manifest.BuilderOptions{
		Workers:    a.o.hashWorkers,
		Algorithm:  a.cfg.Algorithm,
		Skip:       skip,
		Unit:       unit,
		OnProgress: a.o.onProgress,
		Logger:     a.logger.Named("manifest"),
	})
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, dir)
}

func (a *attempt) applier(unit string) (*apply.Applier, error) {
	skip, err := a.unitSkip(unit)
	if err != nil {
		return nil, err
	}
	return apply.New(apply.Options{
		Workers:    a.o.copyWorkers,
		Cache:      a.cache,
		Skip:       skip,
		Unit:       unit,
		OnProgress: a.o.onProgress,
		Logger:     a.logger.Named("apply"),
	})
}

func (a *attempt) checker() *integrity.Checker {
	return integrity.New(integrity.Options{
		Workers:    a.o.hashWorkers,
		OnProgress: a.o.onProgress,
		Logger:     a.logger.Named("integrity"),
	})
}

func (a *attempt) backup(ctx context.Context) (string, error) {
	a.backupOnce.Do(func() {
		path, err := a.backups.Create(ctx, a.cfg.Directory)
		if err != nil {
			a.backupErr = err
			return
		}
		if err := a.backups.Verify(ctx, path, a.cfg.Directory); err != nil {
			a.backupErr = err
			return
		}
		a.backupPath = path
	})
	return a.backupPath, a.backupErr
}

func (a *attempt) integrate(ctx context.Context, c *Context) {
	a.integrateOnce.Do(func() {
		for _, name := range a.cfg.Integrations {
			integ := a.o.integrations[name]
			if err := integ.Setup(ctx, c); err != nil {
				a.logger.Warn("integration failed", "integration", name, "error", err)
				a.warn(fmt.Sprintf("integration %s: %v", name, err))
				continue
			}
			a.logger.Info("integration set up", "integration", name)
		}
	})
}

func (a *attempt) addStats(s apply.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.FilesWritten += s.FilesWritten
	a.stats.BytesWritten += s.BytesWritten
	a.stats.CacheHits += s.CacheHits
	a.stats.Deleted += s.Deleted
	a.stats.DeleteFailures += s.DeleteFailures
	a.stats.Fallbacks += s.Fallbacks
}

func (a *attempt) warn(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.warnings = append(a.warnings, msg)
}
