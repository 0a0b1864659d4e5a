package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/types"
)

// appName names the XDG subdirectories.
const appName = "outfit"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Console    string            `mapstructure:"console" yaml:"console" validate:"omitempty,oneof=debug info warn warning error off"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// WorkersConfig overrides the tuned worker pool sizes. Zero means tuned.
type WorkersConfig struct {
	Hash int `mapstructure:"hash" yaml:"hash" validate:"gte=0,lte=64"`
	Copy int `mapstructure:"copy" yaml:"copy" validate:"gte=0,lte=64"`
}

// ChecksumConfig selects the manifest checksum algorithm.
type ChecksumConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm" validate:"oneof=sha256 blake3"`
}

// CacheConfig configures the content cache.
type CacheConfig struct {
	// Enabled turns on the persistent tier at Path.
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Path         string `mapstructure:"path" yaml:"path"`
	MemoryBudget string `mapstructure:"memory_budget" yaml:"memory_budget"`
}

// BackupConfig configures update snapshots.
type BackupConfig struct {
	Format     string `mapstructure:"format" yaml:"format" validate:"oneof=dir tar.gz tar.xz"`
	Keep       int    `mapstructure:"keep" yaml:"keep" validate:"gte=1"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"gte=0"`
	UseTrash   bool   `mapstructure:"use_trash" yaml:"use_trash"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	// Textfile is written after each install when non-empty.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// Config represents the application configuration.
type Config struct {
	Source       string         `mapstructure:"source" yaml:"source"`
	Directory    string         `mapstructure:"directory" yaml:"directory"`
	Output       string         `mapstructure:"output" yaml:"output" validate:"oneof=plain pretty json yaml"`
	Skip         []string       `mapstructure:"skip" yaml:"skip"`
	Integrations []string       `mapstructure:"integrations" yaml:"integrations"`
	Workers      WorkersConfig  `mapstructure:"workers" yaml:"workers"`
	Checksum     ChecksumConfig `mapstructure:"checksum" yaml:"checksum"`
	Cache        CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Backup       BackupConfig   `mapstructure:"backup" yaml:"backup"`
	Metrics      MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging      LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

var validate = validator.New()

// Load loads configuration from the default file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/outfit/config.yaml
//   - $HOME/.config/outfit/config.yaml
//
// Environment variables are prefixed with OUTFIT_ (e.g. OUTFIT_BACKUP_FORMAT).
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from path, or from the default locations
// when path is empty. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("OUTFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.expand(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "")
	v.SetDefault("directory", "")
	v.SetDefault("output", DefaultOutput)
	v.SetDefault("skip", []string{})
	v.SetDefault("integrations", []string{})
	v.SetDefault("workers.hash", 0)
	v.SetDefault("workers.copy", 0)
	v.SetDefault("checksum.algorithm", DefaultChecksum)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "") // Empty means use DefaultCachePath
	v.SetDefault("cache.memory_budget", DefaultCacheBudget)
	v.SetDefault("backup.format", DefaultBackupFormat)
	v.SetDefault("backup.keep", DefaultBackupKeep)
	v.SetDefault("backup.max_age_days", DefaultBackupMaxAgeDays)
	v.SetDefault("backup.use_trash", false)
	v.SetDefault("metrics.textfile", "")

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.console", DefaultConsoleLevel)
	v.SetDefault("logging.path", "") // Empty means use DefaultLogPath
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{})
}

// Validate checks field constraints and the size strings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config: %s: %q fails %q", fe.Namespace(), fmt.Sprint(fe.Value()), fe.ActualTag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.MemoryBudget(); err != nil {
		return fmt.Errorf("invalid config: cache.memory_budget: %w", err)
	}
	if _, err := types.ParseSize(c.Logging.Rotation.MaxSize); err != nil {
		return fmt.Errorf("invalid config: logging.rotation.max_size: %w", err)
	}
	for component, level := range c.Logging.Components {
		if _, err := logging.ParseLevel(level); err != nil {
			return fmt.Errorf("invalid config: logging.components.%s: %w", component, err)
		}
	}
	return nil
}

// MemoryBudget returns the parsed in-memory cache budget in bytes.
func (c *Config) MemoryBudget() (int64, error) {
	if c.Cache.MemoryBudget == "" {
		return 0, nil
	}
	return types.ParseSize(c.Cache.MemoryBudget)
}

// CachePath returns the persistent cache location.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return DefaultCachePath()
}

// LoggingConfig converts the logging section for logging.New.
func (c *Config) LoggingConfig() (logging.Config, error) {
	maxSize, err := types.ParseSize(c.Logging.Rotation.MaxSize)
	if err != nil {
		return logging.Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
	}
	path := c.Logging.Path
	if path == "" {
		path = DefaultLogPath()
	}
	console := c.Logging.Console
	if console == "off" {
		console = ""
	}
	return logging.Config{
		Level: c.Logging.Level,
		Path:  path,
		Rotation: logging.RotationConfig{
			MaxSize:    maxSize,
			MaxAge:     c.Logging.Rotation.MaxAge,
			MaxBackups: c.Logging.Rotation.MaxBackups,
			Daily:      c.Logging.Rotation.Daily,
		},
		Components:   c.Logging.Components,
		ConsoleLevel: console,
	}, nil
}

func (c *Config) expand() error {
	for _, p := range []*string{&c.Source, &c.Directory, &c.Cache.Path, &c.Metrics.Textfile, &c.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, appName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a commented default config file if none exists and
// returns its path.
func WriteDefault() (string, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# outfit configuration

# Distribution source and installation target used when no flags are given
source: ""
directory: ""

# Result format: plain, pretty, json, yaml
output: %s

# Extra skip patterns, added to the built-in list (.git, node_modules, ...)
skip: []

# Integrations set up after every install (available: gitignore)
integrations: []

# Worker pool sizes (0 means tuned to the machine)
workers:
  hash: 0
  copy: 0

# Manifest checksum algorithm: sha256 or blake3
checksum:
  algorithm: %s

# Content cache
cache:
  # Persist file contents across runs (path empty means $XDG_CACHE_HOME/outfit/content)
  enabled: false
  path: ""
  memory_budget: %s

# Snapshots taken before updates
backup:
  format: %s       # dir, tar.gz, tar.xz
  keep: %d
  max_age_days: %d
  use_trash: false

# Prometheus textfile written after each install (empty disables)
metrics:
  textfile: ""

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: %s
  # Level for stderr output (off disables)
  console: %s
  # Log file path (empty means use default: $XDG_STATE_HOME/outfit/outfit.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  # Per-component log levels
  components:
%s`,
		DefaultOutput, DefaultChecksum, DefaultCacheBudget, DefaultBackupFormat,
		DefaultBackupKeep, DefaultBackupMaxAgeDays, DefaultLogLevel, DefaultConsoleLevel,
		componentLines())

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return configPath, nil
}

func componentLines() string {
	var b strings.Builder
	for _, name := range []string{"install", "apply", "cache", "backup", "watch"} {
		fmt.Fprintf(&b, "    %s: %s\n", name, DefaultComponentLevels[name])
	}
	return b.String()
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// StateDir returns $XDG_STATE_HOME/outfit/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

// CacheDir returns $XDG_CACHE_HOME/outfit/.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, appName)
}

// DefaultCachePath returns the default persistent cache location.
func DefaultCachePath() string {
	return filepath.Join(CacheDir(), "content")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "outfit.log")
}
