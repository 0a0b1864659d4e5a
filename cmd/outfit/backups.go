package main

import (
	"bytes"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/outfit/pkg/outfit/backup"
	"github.com/jamesainslie/outfit/pkg/outfit/config"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
)

var pruneFlags struct {
	keep       int
	maxAgeDays int
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage installation snapshots",
	Long: `Updates and repairs snapshot the installation directory before touching
it. Snapshots live next to the directory as <dir>.backup-<timestamp>, either
as a plain copy or as a tar.gz or tar.xz archive.`,
}

var backupsListCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List snapshots of an installation, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune [dir]",
	Short: "Remove old snapshots",
	Long: `Prune keeps the newest snapshots (backup.keep, or --keep) and removes the
rest, along with any older than backup.max_age_days. The newest snapshot is
never removed for age alone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupsPrune,
}

func init() {
	backupsPruneCmd.Flags().IntVar(&pruneFlags.keep, "keep", 0, "snapshots to keep (default: backup.keep)")
	backupsPruneCmd.Flags().IntVar(&pruneFlags.maxAgeDays, "max-age", -1, "remove snapshots older than this many days (default: backup.max_age_days)")
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsPruneCmd)
	rootCmd.AddCommand(backupsCmd)
}

func backupManager(cfg *config.Config, logger *logging.Logger) (*backup.Manager, error) {
	format, err := backup.ParseFormat(cfg.Backup.Format)
	if err != nil {
		return nil, err
	}
	return backup.New(backup.Options{
		Format:     format,
		Keep:       cfg.Backup.Keep,
		MaxAgeDays: cfg.Backup.MaxAgeDays,
		UseTrash:   cfg.Backup.UseTrash,
		Logger:     logger.Named("backup"),
	})
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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
	dir, err := targetArg(args)
	if err != nil {
		return err
	}
	m, err := backupManager(cfg, logger)
	if err != nil {
		return err
	}

	snaps, err := m.List(dir)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), func(buf *bytes.Buffer) error { return f.Backups(buf, dir, snaps) })
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	dir, err := targetArg(args)
	if err != nil {
		return err
	}
	m, err := backupManager(cfg, logger)
	if err != nil {
		return err
	}

	maxAge := cfg.Backup.MaxAgeDays
	if pruneFlags.maxAgeDays >= 0 {
		maxAge = pruneFlags.maxAgeDays
	}
	removed, err := m.Prune(dir, pruneFlags.keep, maxAge)
	for _, p := range removed {
		printInfo("removed %s", p)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		printInfo("Nothing to prune.")
	}
	return nil
}
