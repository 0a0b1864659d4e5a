// Package config provides configuration management for outfit.
package config

// Default configuration values for outfit.
const (
	// DefaultChecksum is the checksum algorithm recorded in new manifests.
	DefaultChecksum = "sha256"

	// DefaultCacheBudget is the in-memory content cache size.
	DefaultCacheBudget = "64MiB"

	// DefaultBackupFormat is how update snapshots are stored.
	DefaultBackupFormat = "dir"

	// DefaultBackupKeep is the number of snapshots retained per target.
	DefaultBackupKeep = 3

	// DefaultBackupMaxAgeDays is the age after which snapshots are pruned.
	DefaultBackupMaxAgeDays = 30

	// DefaultOutput is the result format used by the CLI.
	DefaultOutput = "pretty"

	// DefaultLogLevel is the file log level.
	DefaultLogLevel = "info"

	// DefaultConsoleLevel is the stderr log level.
	DefaultConsoleLevel = "warn"
)

// DefaultComponentLevels are the per-component log levels written by
// WriteDefault.
var DefaultComponentLevels = map[string]string{
	"install": "info",
	"apply":   "info",
	"cache":   "warn",
	"backup":  "info",
	"watch":   "warn",
}
