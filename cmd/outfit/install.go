package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/outfit/pkg/outfit/config"
	"github.com/jamesainslie/outfit/pkg/outfit/install"
	"github.com/jamesainslie/outfit/pkg/outfit/lock"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
	"github.com/jamesainslie/outfit/pkg/outfit/output"
	"github.com/jamesainslie/outfit/pkg/outfit/watch"
)

// defaultDirectory is used when neither flag nor config names a target and
// no existing installation is found.
const defaultDirectory = ".outfit-core"

var installFlags struct {
	source       string
	directory    string
	packs        []string
	noCore       bool
	integrations []string
	skip         []string
	checksum     string
	backupFormat string
	hashWorkers  int
	copyWorkers  int
	noProgress   bool
	watch        bool
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install or update the distribution into a directory",
	Long: `Install detects the state of the target directory and runs the matching
strategy:

  fresh   nothing installed yet; every file is copied
  update  a healthy installation; only changed files are written
  repair  a damaged, legacy, or unrecognised installation; changed and
          damaged files are rewritten

Updates and repairs snapshot the target first (see 'outfit backups').
Files you add to the target are never removed.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	f := installCmd.Flags()
	f.StringVar(&installFlags.source, "source", "", "distribution root holding core/ and expansion-packs/")
	f.StringVarP(&installFlags.directory, "dir", "d", "", "installation directory (default: detected, else ./"+defaultDirectory+")")
	f.StringSliceVarP(&installFlags.packs, "pack", "p", nil, "expansion pack to install (repeatable)")
	f.BoolVar(&installFlags.noCore, "no-core", false, "install only the requested packs")
	f.StringSliceVar(&installFlags.integrations, "integration", nil, "integration to set up (repeatable)")
	f.StringSliceVar(&installFlags.skip, "skip", nil, "extra skip pattern (repeatable)")
	f.StringVar(&installFlags.checksum, "checksum", "", "manifest checksum: sha256 or blake3")
	f.StringVar(&installFlags.backupFormat, "backup-format", "", "snapshot format: dir, tar.gz, tar.xz")
	f.IntVarP(&installFlags.hashWorkers, "workers", "w", 0, "hash workers (0=auto)")
	f.IntVar(&installFlags.copyWorkers, "copy-workers", 0, "copy workers (0=auto)")
	f.BoolVar(&installFlags.noProgress, "no-progress", false, "disable the progress bar")
	f.BoolVar(&installFlags.watch, "watch", false, "reinstall whenever the source changes")
	rootCmd.AddCommand(installCmd)
}

// installRequest merges flags over the config file.
func installRequest(cfg *config.Config) (install.InstallConfig, error) {
	req := install.InstallConfig{
		Source:         firstNonEmpty(installFlags.source, cfg.Source),
		Directory:      firstNonEmpty(installFlags.directory, cfg.Directory),
		ExpansionPacks: installFlags.packs,
		NoCore:         installFlags.noCore,
		Integrations:   cfg.Integrations,
		Skip:           append(append([]string(nil), cfg.Skip...), installFlags.skip...),
		Algorithm:      manifest.Algorithm(firstNonEmpty(installFlags.checksum, cfg.Checksum.Algorithm)),
	}
	if len(installFlags.integrations) > 0 {
		req.Integrations = installFlags.integrations
	}
	if req.Source == "" {
		return req, &exitError{code: exitUsage, err: fmt.Errorf("no source: pass --source or set source in %s", configPathHint())}
	}
	if req.Directory == "" {
		if found, err := install.FindInstallation(); err == nil {
			req.Directory = found
		} else {
			req.Directory = defaultDirectory
		}
	}
	abs, err := filepath.Abs(req.Directory)
	if err != nil {
		return req, err
	}
	req.Directory = abs
	return req, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if installFlags.backupFormat != "" {
		cfg.Backup.Format = installFlags.backupFormat
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	f, err := formatter(cfg)
	if err != nil {
		return err
	}
	req, err := installRequest(cfg)
	if err != nil {
		return err
	}

	showProgress := !installFlags.noProgress && !quiet && isTerminal(os.Stderr)
	eng, err := newEngine(cfg, logger, installFlags.hashWorkers, installFlags.copyWorkers, showProgress)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer eng.Close()

	lk, err := lock.Acquire(req.Directory)
	if err != nil {
		return err
	}
	defer lk.Release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := runOnce(ctx, cmd, eng, cfg, logger, f, req)
	if !installFlags.watch {
		if !res.Success {
			return &exitError{code: exitFailure}
		}
		return nil
	}
	return watchSource(ctx, cmd, eng, cfg, logger, f, req)
}

func runOnce(ctx context.Context, cmd *cobra.Command, eng *engine, cfg *config.Config, logger *logging.Logger, f output.Formatter, req install.InstallConfig) install.Result {
	res := eng.orch.Install(ctx, req)
	eng.bar.finish()
	eng.writeMetrics(cfg, logger)
	if err := render(cmd.OutOrStdout(), func(buf *bytes.Buffer) error { return f.Install(buf, &res) }); err != nil {
		logger.Error("rendering result", "error", err)
	}
	return res
}

// watchSource reinstalls after each debounced batch of source changes until
// interrupted. The target stays locked for the whole session.
func watchSource(ctx context.Context, cmd *cobra.Command, eng *engine, cfg *config.Config, logger *logging.Logger, f output.Formatter, req install.InstallConfig) error {
	skip, err := manifest.NewSkipList(req.Skip...)
	if err != nil {
		return err
	}
	w, err := watch.New(req.Source, watch.Options{Skip: skip, Logger: logger.Named("watch")})
	if err != nil {
		return fmt.Errorf("watching %s: %w", req.Source, err)
	}
	defer w.Close()

	printInfo("Watching %s (%d directories). Press Ctrl-C to stop.", req.Source, w.Watched())
	w.Run(ctx, func(changed []string) {
		logger.Info("source changed", "paths", len(changed))
		runOnce(ctx, cmd, eng, cfg, logger, f, req)
	})
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func configPathHint() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p, err := config.ConfigPath(); err == nil {
		return p
	}
	return "the config file"
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
