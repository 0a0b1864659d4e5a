package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/outfit/pkg/outfit/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the content cache",
	Long: `Commands for managing the persistent content cache.

When cache.enabled is set, file contents copied during an install are kept
keyed by checksum so later installs can skip reading the source. Cache data
is stored in the XDG cache directory (typically ~/.cache/outfit/content).`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all cached data",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.CachePath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			printInfo("Cache is already empty.")
			return nil
		}

		store, err := cache.OpenStore(path)
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer store.Close()
		if err := store.Clear(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		printInfo("Cache cleared.")
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.CachePath()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cache location: %s\n", path)
		fmt.Fprintf(out, "Enabled:        %t\n", cfg.Cache.Enabled)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(out, "Entries:        0 (no cache)")
			return nil
		}

		store, err := cache.OpenStore(path)
		if err != nil {
			return fmt.Errorf("failed to open cache: %w", err)
		}
		defer store.Close()
		n, err := store.Count()
		if err != nil {
			return fmt.Errorf("failed to count entries: %w", err)
		}
		fmt.Fprintf(out, "Entries:        %s\n", humanize.Comma(int64(n)))
		fmt.Fprintf(out, "Size on disk:   %s\n", humanize.IBytes(uint64(dirSize(path))))
		return nil
	},
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show cache location",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CachePath())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePathCmd)
	rootCmd.AddCommand(cacheCmd)
}

func dirSize(path string) int64 {
	var size int64
	_ = fs.WalkDir(os.DirFS(path), ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}
