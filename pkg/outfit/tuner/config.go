package tuner

// Worker limits.
const (
	// MaxWorkers caps every pool.
	MaxWorkers = 64

	// minHashWorkers is the minimum number of hashing workers.
	minHashWorkers = 4

	// minCopyWorkers is the minimum number of copy workers.
	minCopyWorkers = 4
)

// Cache budget limits.
const (
	minCacheBudget = 16 << 20
	maxCacheBudget = 512 << 20

	// cacheMemoryFraction is the share of available RAM given to the
	// in-memory content cache.
	cacheMemoryFraction = 0.02
)

// OptimalConfig holds tuned pool sizes for an installation.
type OptimalConfig struct {
	// HashWorkers walks and hashes distribution trees. Hashing is CPU
	// bound, so it tracks the core count.
	HashWorkers int

	// CopyWorkers bounds concurrent file writes in the applier. Writing is
	// I/O bound and tolerates more workers than cores.
	CopyWorkers int

	// VerifyWorkers bounds concurrent integrity hashing.
	VerifyWorkers int

	// CacheBudget is the in-memory content cache size in bytes.
	CacheBudget int64
}

// Calculate returns the configuration for the given resources:
//   - HashWorkers: max(NumCPU, 4)
//   - CopyWorkers: NumCPU * 2, at least 4
//   - VerifyWorkers: same as HashWorkers
//   - every pool capped at MaxWorkers
//   - CacheBudget: 2% of available RAM within [16MiB, 512MiB]
func Calculate(resources SystemResources) OptimalConfig {
	hash := min(max(resources.CPUCores, minHashWorkers), MaxWorkers)
	copyWorkers := min(max(resources.CPUCores*2, minCopyWorkers), MaxWorkers)

	return OptimalConfig{
		HashWorkers:   hash,
		CopyWorkers:   copyWorkers,
		VerifyWorkers: hash,
		CacheBudget:   calculateCacheBudget(resources.AvailableRAM),
	}
}

// CalculateWithOverrides applies user overrides to the calculated config.
// A positive hashWorkers or copyWorkers replaces the calculated value, still
// capped at MaxWorkers; the verify pool follows the hash override.
func CalculateWithOverrides(resources SystemResources, hashWorkers, copyWorkers int) OptimalConfig {
	config := Calculate(resources)
	if hashWorkers > 0 {
		config.HashWorkers = min(hashWorkers, MaxWorkers)
		config.VerifyWorkers = config.HashWorkers
	}
	if copyWorkers > 0 {
		config.CopyWorkers = min(copyWorkers, MaxWorkers)
	}
	return config
}

// Auto detects resources and applies overrides. Detection errors fall back
// to the calculation over whatever was detected.
func Auto(hashWorkers, copyWorkers int) OptimalConfig {
	resources, _ := Detect()
	return CalculateWithOverrides(resources, hashWorkers, copyWorkers)
}

func calculateCacheBudget(availableRAM int64) int64 {
	budget := int64(float64(availableRAM) * cacheMemoryFraction)
	return min(max(budget, minCacheBudget), maxCacheBudget)
}

// defaultTotalRAM is assumed when memory cannot be detected.
const defaultTotalRAM = 8 << 30
