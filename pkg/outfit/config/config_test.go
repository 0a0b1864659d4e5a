package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultChecksum, cfg.Checksum.Algorithm)
	assert.Equal(t, DefaultBackupFormat, cfg.Backup.Format)
	assert.Equal(t, DefaultBackupKeep, cfg.Backup.Keep)
	assert.Equal(t, DefaultBackupMaxAgeDays, cfg.Backup.MaxAgeDays)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Zero(t, cfg.Workers.Hash)
	assert.False(t, cfg.Cache.Enabled)

	budget, err := cfg.MemoryBudget()
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), budget)
	assert.Equal(t, DefaultCachePath(), cfg.CachePath())
}

func TestLoadFromFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "outfit")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
source: ~/dist
directory: /srv/install
output: json
skip: ["*.bak"]
workers:
  hash: 2
  copy: 6
checksum:
  algorithm: blake3
cache:
  enabled: true
  path: /tmp/outfit-cache
  memory_budget: 128M
backup:
  format: tar.xz
  keep: 5
logging:
  level: debug
  components:
    cache: error
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "dist"), cfg.Source, "~ is expanded")
	assert.Equal(t, "/srv/install", cfg.Directory)
	assert.Equal(t, "json", cfg.Output)
	assert.Equal(t, []string{"*.bak"}, cfg.Skip)
	assert.Equal(t, WorkersConfig{Hash: 2, Copy: 6}, cfg.Workers)
	assert.Equal(t, "blake3", cfg.Checksum.Algorithm)
	assert.Equal(t, "/tmp/outfit-cache", cfg.CachePath())
	assert.Equal(t, "tar.xz", cfg.Backup.Format)
	assert.Equal(t, 5, cfg.Backup.Keep)

	budget, err := cfg.MemoryBudget()
	require.NoError(t, err)
	assert.Equal(t, int64(128<<20), budget)
	assert.Equal(t, "error", cfg.Logging.Components["cache"])
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_size: 100MB\n"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("OUTFIT_BACKUP_FORMAT", "tar.gz")
	t.Setenv("OUTFIT_CACHE_MEMORY_BUDGET", "1G")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tar.gz", cfg.Backup.Format)
	budget, err := cfg.MemoryBudget()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), budget)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errSub string
	}{
		{"bad algorithm", "checksum:\n  algorithm: md5\n", "Algorithm"},
		{"bad backup format", "backup:\n  format: zip\n", "Format"},
		{"too many workers", "workers:\n  copy: 65\n", "Copy"},
		{"bad output", "output: html\n", "Output"},
		{"bad budget", "cache:\n  memory_budget: lots\n", "memory_budget"},
		{"bad component level", "logging:\n  components:\n    cache: loud\n", "logging.components.cache"},
		{"bad rotation size", "logging:\n  rotation:\n    max_size: huge\n", "max_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestLoggingConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)

	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultLogPath(), lc.Path)
	assert.Equal(t, int64(10<<20), lc.Rotation.MaxSize)
	assert.Equal(t, DefaultConsoleLevel, lc.ConsoleLevel)

	cfg.Logging.Console = "off"
	lc, err = cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Empty(t, lc.ConsoleLevel)
}

func TestWriteDefault(t *testing.T) {
	home := isolate(t)

	path, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "outfit", "config.yaml"), path)

	cfg, err := Load()
	require.NoError(t, err, "the default file must load cleanly")
	assert.Equal(t, "info", cfg.Logging.Components["install"])

	require.NoError(t, os.WriteFile(path, []byte("output: json\n"), 0o644))
	again, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, path, again)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "output: json\n", string(data), "an existing file is left alone")
}

func TestConfigDirPrefersXDG(t *testing.T) {
	xdgHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgHome)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdgHome, "outfit"), dir)
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	got, err := ExpandPath("~/x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x"), got)

	got, err = ExpandPath("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", got)
}
