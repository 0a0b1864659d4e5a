// Package install resolves and runs installation attempts: it validates a
// request, detects what already exists at the target, picks a strategy per
// unit, dispatches to the matching Handler, and persists the resulting
// manifests.
package install

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/cache"
	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/metrics"
	"github.com/jamesainslie/outfit/pkg/outfit/tuner"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// ErrNoHandler is reported when no registered handler accepts a unit.
var ErrNoHandler = errors.New("no handler for resolved installation type")

// Orchestrator runs installation attempts. It holds no per-attempt state
// and may be reused; concurrent attempts against the same target must be
// serialised by the caller (see package lock).
type Orchestrator struct {
	logger       *logging.Logger
	metrics      *metrics.Metrics
	cache        *cache.Cache
	store        *cache.Store
	cacheBudget  int64
	hashWorkers  int
	copyWorkers  int
	backupOpts   backup.Options
	handlers     []Handler
	integrations map[string]Integration
	onProgress   func(types.Progress)
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrDiscard(l) }
}

// WithMetrics records every attempt on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCache shares c across attempts. It is used only by attempts whose
// checksum algorithm matches the cache's.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithCacheStore gives per-attempt caches a persistent tier.
func WithCacheStore(s *cache.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithCacheBudget sets the memory budget of per-attempt caches.
func WithCacheBudget(n int64) Option {
	return func(o *Orchestrator) { o.cacheBudget = n }
}

// WithWorkers overrides the tuned pool sizes. Zero keeps the tuned value.
func WithWorkers(hash, copy int) Option {
	return func(o *Orchestrator) {
		if hash > 0 {
			o.hashWorkers = hash
		}
		if copy > 0 {
			o.copyWorkers = copy
		}
	}
}

// WithBackup sets snapshot format and retention.
func WithBackup(opts backup.Options) Option {
	return func(o *Orchestrator) { o.backupOpts = opts }
}

// WithIntegration registers an integration under its name.
func WithIntegration(i Integration) Option {
	return func(o *Orchestrator) { o.integrations[i.Name()] = i }
}

// WithHandlers replaces the handler list. Handlers are consulted in order.
func WithHandlers(h ...Handler) Option {
	return func(o *Orchestrator) { o.handlers = h }
}

// WithProgress receives progress from hashing, copying, and verifying.
func WithProgress(fn func(types.Progress)) Option {
	return func(o *Orchestrator) { o.onProgress = fn }
}

// WithClock overrides the clock used for durations and backup names.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator with tuned worker pools, the default handlers,
// and the gitignore integration registered.
func New(opts ...Option) *Orchestrator {
	tuned := tuner.Auto(0, 0)
	o := &Orchestrator{
		logger:       logging.Discard(),
		cacheBudget:  tuned.CacheBudget,
		hashWorkers:  tuned.HashWorkers,
		copyWorkers:  tuned.CopyWorkers,
		handlers:     DefaultHandlers(),
		integrations: map[string]Integration{},
		now:          time.Now,
	}
	WithIntegration(GitignoreIntegration{})(o)
	for _, opt := range opts {
		opt(o)
	}
	if o.backupOpts.Now == nil {
		o.backupOpts.Now = o.now
	}
	return o
}

// Integrations returns the registered integration names.
func (o *Orchestrator) Integrations() []string {
	names := make([]string, 0, len(o.integrations))
	for name := range o.integrations {
		names = append(names, name)
	}
	return sortedStrings(names)
}

// unit is one installable directory pair.
type unit struct {
	id     string
	source string
	target string
}

func units(cfg InstallConfig) []unit {
	var out []unit
	if !cfg.NoCore {
		out = append(out, unit{
			id:     CoreUnit,
			source: filepath.Join(cfg.Source, CoreDir),
			target: cfg.Directory,
		})
	}
	for _, id := range cfg.ExpansionPacks {
		out = append(out, unit{
			id:     id,
			source: filepath.Join(cfg.Source, detect.PacksDir, id),
			target: filepath.Join(cfg.Directory, detect.PacksDir, id),
		})
	}
	return out
}

// Install runs one installation attempt. It never returns an error and never
// panics: every failure, including a panicking handler, is reported on the
// Result with the phase it occurred in. Once a unit fails no further units
// are touched.
func (o *Orchestrator) Install(ctx context.Context, cfg InstallConfig) (res Result) {
	start := o.now()
	res = Result{AttemptID: uuid.NewString(), Target: cfg.Directory}
	logger := o.logger.Named("install").With("attempt", res.AttemptID)
	phase := errs.PhaseValidate

	var att *attempt
	defer func() {
		if r := recover(); r != nil {
			logger.Error("install panicked", "phase", phase, "panic", r, "stack", string(debug.Stack()))
			res.fail(phase, fmt.Errorf("internal error: %v", r))
		}
		if att != nil {
			res.Stats = att.stats
			res.Warnings = append(res.Warnings, att.warnings...)
		}
		res.Duration = o.now().Sub(start)
		o.observe(res)
		if res.Success {
			logger.Info("install completed",
				"type", res.InstallType,
				"changes", res.Changes.String(),
				"fallback", res.FallbackUsed,
				"duration", res.Duration,
			)
		} else {
			logger.Error("install failed", "phase", res.Phase, "error", res.Error, "duration", res.Duration)
		}
	}()

	norm, skip, err := cfg.normalize(o.integrations)
	if err != nil {
		res.fail(phase, err)
		return res
	}
	res.Target = norm.Directory
	logger.Info("install started",
		"source", norm.Source,
		"target", norm.Directory,
		"core", !norm.NoCore,
		"packs", norm.ExpansionPacks,
	)

	att, err = newAttempt(o, res.AttemptID, norm, skip, logger)
	if err != nil {
		res.fail(phase, &errs.ConfigError{Reason: "invalid engine options", Err: err})
		return res
	}

	phase = errs.PhaseDetect
	detector := detect.New(skip, logger.Named("detect"))
	contexts := make([]*Context, 0, len(norm.ExpansionPacks)+1)
	for _, u := range units(norm) {
		if err := ctx.Err(); err != nil {
			res.fail(phase, err)
			return res
		}
		info, err := manifest.ReadUnitInfo(u.source)
		if err != nil {
			res.fail(phase, &errs.ConfigError{Field: "source", Reason: "unreadable unit metadata", Err: err})
			return res
		}
		state := detector.Detect(u.target)
		if state.Reason != nil {
			att.warn(fmt.Sprintf("%s: %v", u.id, state.Reason))
		}
		contexts = append(contexts, &Context{
			AttemptID: res.AttemptID,
			Config:    norm,
			Unit:      u.id,
			SourceDir: u.source,
			TargetDir: u.target,
			Root:      norm.Directory,
			State:     state,
			Info:      info,
			Logger:    logger.With("unit", u.id),
			attempt:   att,
		})
	}

	phase = errs.PhaseResolve
	for _, c := range contexts {
		if c.State.Kind == detect.Current {
			report, err := c.CheckIntegrity(ctx, c.State.Manifest)
			if err != nil {
				res.fail(phase, err)
				return res
			}
			c.Integrity = report
		}
		c.ResolvedType = Resolve(c.State, c.Integrity)
		c.Logger.Info("installation type resolved",
			"state", c.State.Kind,
			"type", c.ResolvedType,
			"missing", len(c.Integrity.Missing),
			"modified", len(c.Integrity.Modified),
		)
	}
	res.InstallType = contexts[0].ResolvedType

	for _, c := range contexts {
		phase = errs.PhaseResolve
		if err := ctx.Err(); err != nil {
			res.fail(phase, err)
			return res
		}
		h := o.dispatch(c)
		if h == nil {
			res.fail(phase, fmt.Errorf("%w: %s (unit %s)", ErrNoHandler, c.ResolvedType, c.Unit))
			return res
		}

		phase = errs.PhaseHandle
		hr, err := h.Handle(ctx, c)
		if err != nil {
			res.fail(phase, err)
			return res
		}

		phase = errs.PhasePersist
		path, err := o.persist(ctx, att, c, hr.Manifest)
		if err != nil {
			res.fail(phase, err)
			return res
		}

		summary := hr.Changes.Summary()
		res.Changes.Add(summary)
		res.FallbackUsed = res.FallbackUsed || hr.FallbackUsed
		if hr.BackupPath != "" {
			res.BackupPath = hr.BackupPath
		}
		if res.ManifestPath == "" {
			res.ManifestPath = path
		}
		res.Units = append(res.Units, UnitResult{
			Unit:         c.Unit,
			State:        c.State.Kind,
			InstallType:  h.Type(),
			Version:      c.Info.Version,
			Changes:      summary,
			Forced:       hr.Forced,
			FallbackUsed: hr.FallbackUsed,
			ManifestPath: path,
		})
	}

	res.Success = true
	if res.BackupPath != "" {
		pruned, err := att.backups.Prune(norm.Directory, 0, o.backupOpts.MaxAgeDays)
		if err != nil {
			att.warn(fmt.Sprintf("pruning backups: %v", err))
		}
		res.Pruned = pruned
	}
	return res
}

// dispatch returns the first handler that accepts c. A handler whose type
// differs from the resolved type is never chosen.
func (o *Orchestrator) dispatch(c *Context) Handler {
	for _, h := range o.handlers {
		if h.Type() == c.ResolvedType && h.CanHandle(c) {
			return h
		}
	}
	return nil
}

// persist rebuilds the target's manifest, keeps only the paths the source
// provides, and saves it. User files in the target are never recorded.
func (o *Orchestrator) persist(ctx context.Context, att *attempt, c *Context, source *manifest.Manifest) (string, error) {
	if source == nil {
		return "", fmt.Errorf("handler for %s returned no manifest", c.Unit)
	}
	built, err := att.build(ctx, c.Unit, c.TargetDir)
	if err != nil {
		return "", err
	}
	m := built.Restrict(source)
	m.Name = c.Unit
	m.Release = c.Info.Version
	m.GeneratedAt = o.now().UTC()

	path, err := manifest.Save(c.TargetDir, m)
	if err != nil {
		return "", err
	}
	c.Logger.Debug("manifest saved", "path", path, "files", m.Len())
	return path, nil
}

func (o *Orchestrator) observe(res Result) {
	o.metrics.Observe(metrics.Attempt{
		Type:         string(res.InstallType),
		Success:      res.Success,
		Duration:     res.Duration,
		FilesWritten: res.Stats.FilesWritten,
		BytesWritten: res.Stats.BytesWritten,
		CacheHits:    res.Stats.CacheHits,
		Fallbacks:    res.Stats.Fallbacks,
	})
}

// Verify checks the installation at dir against its manifests without
// modifying anything.
func (o *Orchestrator) Verify(ctx context.Context, dir string) (Verification, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Verification{}, err
	}
	in, err := o.inspect(ctx, abs)
	return in.verification, err
}

// inspection is one read-only pass over an installation root: the detected
// state of core and of every pack directory, and their integrity.
type inspection struct {
	verification Verification
	core         detect.State
	packs        map[string]detect.State
}

func (o *Orchestrator) inspect(ctx context.Context, abs string) (inspection, error) {
	d := detect.New(nil, o.logger.Named("detect"))
	checker := integrity.New(integrity.Options{
		Workers:    o.hashWorkers,
		OnProgress: o.onProgress,
		Logger:     o.logger.Named("integrity"),
	})

	in := inspection{
		verification: Verification{Target: abs, Packs: map[string]integrity.Report{}},
		core:         d.Detect(abs),
		packs:        map[string]detect.State{},
	}
	v := &in.verification
	v.State = in.core.Kind

	var err error
	if v.Core, err = checker.Check(ctx, abs, in.core.Manifest); err != nil {
		return in, err
	}
	for _, id := range packDirs(abs) {
		ps := d.DetectPack(abs, id)
		in.packs[id] = ps
		if ps.Manifest == nil {
			continue
		}
		report, err := checker.Check(ctx, filepath.Join(abs, detect.PacksDir, id), ps.Manifest)
		if err != nil {
			return in, err
		}
		v.Packs[id] = report
	}
	return in, nil
}
