package install

import (
	"context"
	"os"

	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// Handler performs one installation strategy for a unit.
type Handler interface {
	// Type is the strategy the handler implements.
	Type() types.InstallType

	// CanHandle reports whether the handler applies to c.
	CanHandle(c *Context) bool

	// Handle installs the unit and returns the manifest the target now
	// mirrors.
	Handle(ctx context.Context, c *Context) (*HandleResult, error)
}

// HandleResult is what a Handler did to its unit.
type HandleResult struct {
	// Manifest is the source manifest the target was reconciled with.
	Manifest *manifest.Manifest

	Changes      changes.ChangeSet
	FallbackUsed bool
	BackupPath   string

	// Forced lists paths rewritten only because they were flagged by the
	// integrity check.
	Forced []string
}

// DefaultHandlers returns the built-in handlers in dispatch order.
func DefaultHandlers() []Handler {
	return []Handler{FreshHandler{}, UpdateHandler{}, RepairHandler{}}
}

// Resolve applies the transition rule from a detected state and integrity
// report to an installation strategy.
func Resolve(state detect.State, report integrity.Report) types.InstallType {
	switch state.Kind {
	case detect.Fresh:
		return types.InstallFresh
	case detect.Current:
		if report.Assessed && !report.OK() {
			return types.InstallRepair
		}
		return types.InstallUpdate
	default:
		return types.InstallRepair
	}
}

// FreshHandler installs into a target with no prior installation.
type FreshHandler struct{}

// Type implements Handler.
func (FreshHandler) Type() types.InstallType { return types.InstallFresh }

// CanHandle implements Handler.
func (FreshHandler) CanHandle(c *Context) bool {
	return c.State.Kind == detect.Fresh
}

// Handle copies every source file into the target.
func (FreshHandler) Handle(ctx context.Context, c *Context) (*HandleResult, error) {
	if err := os.MkdirAll(c.TargetDir, fsutil.DirMode); err != nil {
		return nil, errs.IO("mkdir", c.TargetDir, err)
	}
	next, err := c.BuildSource(ctx)
	if err != nil {
		return nil, err
	}

	cs := changes.Diff(nil, next)
	out, err := c.Apply(ctx, next, cs)
	if err != nil {
		return nil, err
	}
	c.SetupIntegrations(ctx)

	c.Logger.Info("fresh install applied", "unit", c.Unit, "files", len(cs.Added), "fallback", out.FallbackUsed)
	return &HandleResult{Manifest: next, Changes: cs, FallbackUsed: out.FallbackUsed}, nil
}

// UpdateHandler applies the difference between the installed manifest and
// the source to a healthy installation.
type UpdateHandler struct{}

// Type implements Handler.
func (UpdateHandler) Type() types.InstallType { return types.InstallUpdate }

// CanHandle implements Handler.
func (UpdateHandler) CanHandle(c *Context) bool {
	return c.State.Kind == detect.Current && (!c.Integrity.Assessed || c.Integrity.OK())
}

// Handle backs up the root, then applies the change set.
func (UpdateHandler) Handle(ctx context.Context, c *Context) (*HandleResult, error) {
	snapshot, err := c.Backup(ctx)
	if err != nil {
		return nil, err
	}
	next, err := c.BuildSource(ctx)
	if err != nil {
		return nil, err
	}

	cs := changes.Diff(c.State.Manifest, next)
	res := &HandleResult{Manifest: next, Changes: cs, BackupPath: snapshot}
	if cs.Empty() {
		c.Logger.Info("installation up to date", "unit", c.Unit)
		c.SetupIntegrations(ctx)
		return res, nil
	}

	out, err := c.Apply(ctx, next, cs)
	if err != nil {
		return nil, err
	}
	res.FallbackUsed = out.FallbackUsed
	c.SetupIntegrations(ctx)

	c.Logger.Info("update applied", "unit", c.Unit, "changes", cs.Summary().String(), "fallback", out.FallbackUsed)
	return res, nil
}

// RepairHandler reinstalls over a damaged, legacy, or unrecognised target.
// Files the integrity check flags are rewritten even when the baseline
// says they are unchanged; with no baseline every source file is written.
type RepairHandler struct{}

// Type implements Handler.
func (RepairHandler) Type() types.InstallType { return types.InstallRepair }

// CanHandle implements Handler.
func (RepairHandler) CanHandle(c *Context) bool {
	switch c.State.Kind {
	case detect.Legacy, detect.Unknown:
		return true
	case detect.Current:
		return c.Integrity.Assessed && !c.Integrity.OK()
	default:
		return false
	}
}

// Handle backs up the root, then applies the baseline diff plus every
// flagged path.
func (RepairHandler) Handle(ctx context.Context, c *Context) (*HandleResult, error) {
	snapshot := ""
	if exists, _ := fsutil.Exists(c.TargetDir); exists {
		var err error
		if snapshot, err = c.Backup(ctx); err != nil {
			return nil, err
		}
	}

	next, err := c.BuildSource(ctx)
	if err != nil {
		return nil, err
	}

	baseline := c.State.Manifest
	report := c.Integrity
	if !report.Assessed && baseline != nil {
		if report, err = c.CheckIntegrity(ctx, baseline); err != nil {
			return nil, err
		}
	}

	cs := changes.Diff(baseline, next)
	forced := forcedPaths(report.Flagged(), cs, next)
	cs = cs.Force(forced, next)

	out, err := c.Apply(ctx, next, cs)
	if err != nil {
		return nil, err
	}
	c.SetupIntegrations(ctx)

	c.Logger.Info("repair applied",
		"unit", c.Unit,
		"state", c.State.Kind,
		"baseline", baseline != nil,
		"forced", len(forced),
		"changes", cs.Summary().String(),
		"fallback", out.FallbackUsed,
	)
	return &HandleResult{
		Manifest:     next,
		Changes:      cs,
		FallbackUsed: out.FallbackUsed,
		BackupPath:   snapshot,
		Forced:       forced,
	}, nil
}

// forcedPaths returns the flagged paths that the plain diff would leave
// untouched and that the source still provides.
func forcedPaths(flagged []string, cs changes.ChangeSet, next *manifest.Manifest) []string {
	unchanged := make(map[string]struct{}, len(cs.Unchanged))
	for _, p := range cs.Unchanged {
		unchanged[p] = struct{}{}
	}
	out := []string{}
	for _, p := range flagged {
		if _, ok := unchanged[p]; !ok {
			continue
		}
		if _, ok := next.Get(p); ok {
			out = append(out, p)
		}
	}
	return out
}
