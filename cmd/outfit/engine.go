package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/cache"
	"github.com/jamesainslie/outfit/pkg/outfit/config"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/metrics"
	"github.com/jamesainslie/outfit/pkg/outfit/tuner"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// engine bundles the orchestrator with the resources it holds open.
type engine struct {
	orch    *install.Orchestrator
	metrics *metrics.Metrics
	store   *cache.Store
	bar     *progressBar
}

func (e *engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// newEngine wires an orchestrator from cfg. hashWorkers and copyWorkers
// override the config when positive.
func newEngine(cfg *config.Config, logger *logging.Logger, hashWorkers, copyWorkers int, showProgress bool) (*engine, error) {
	if hashWorkers <= 0 {
		hashWorkers = cfg.Workers.Hash
	}
	if copyWorkers <= 0 {
		copyWorkers = cfg.Workers.Copy
	}
	tuned := tuner.Auto(hashWorkers, copyWorkers)
	logger.Debug("worker pools tuned",
		"hash", tuned.HashWorkers,
		"copy", tuned.CopyWorkers,
		"cache_budget", tuned.CacheBudget,
	)

	budget, err := cfg.MemoryBudget()
	if err != nil {
		return nil, err
	}
	if budget == 0 {
		budget = tuned.CacheBudget
	}
	format, err := backup.ParseFormat(cfg.Backup.Format)
	if err != nil {
		return nil, err
	}

	e := &engine{metrics: metrics.New()}
	opts := []install.Option{
		install.WithLogger(logger),
		install.WithMetrics(e.metrics),
		install.WithWorkers(tuned.HashWorkers, tuned.CopyWorkers),
		install.WithCacheBudget(budget),
		install.WithBackup(backup.Options{
			Format:     format,
			Keep:       cfg.Backup.Keep,
			MaxAgeDays: cfg.Backup.MaxAgeDays,
			UseTrash:   cfg.Backup.UseTrash,
		}),
	}
	if cfg.Cache.Enabled {
		store, err := cache.OpenStore(cfg.CachePath())
		if err != nil {
			logger.Warn("persistent cache unavailable", "path", cfg.CachePath(), "error", err)
		} else {
			e.store = store
			opts = append(opts, install.WithCacheStore(store))
		}
	}
	if showProgress {
		e.bar = newProgressBar()
		opts = append(opts, install.WithProgress(e.bar.update))
	}
	e.orch = install.New(opts...)
	return e, nil
}

// writeMetrics writes the textfile configured in cfg, if any.
func (e *engine) writeMetrics(cfg *config.Config, logger *logging.Logger) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := e.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("metrics not written", "path", cfg.Metrics.Textfile, "error", err)
	}
}

// progressBar renders engine progress on stderr. Updates arrive from many
// goroutines.
type progressBar struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	phase string
}

func newProgressBar() *progressBar {
	return &progressBar{}
}

func (p *progressBar) update(pr types.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	phase := pr.Phase
	if pr.Unit != "" {
		phase = fmt.Sprintf("%s %s", pr.Unit, pr.Phase)
	}
	if p.bar == nil || phase != p.phase {
		if p.bar != nil {
			_ = p.bar.Finish()
		}
		p.phase = phase
		p.bar = progressbar.NewOptions64(pr.Total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(fmt.Sprintf("%-14s", phase)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	if pr.Total > 0 {
		p.bar.ChangeMax64(pr.Total)
	}
	_ = p.bar.Set64(pr.Done)
}

// finish clears the bar before the report is printed.
func (p *progressBar) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
		p.phase = ""
	}
}
