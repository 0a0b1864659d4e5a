package tuner

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	resources, _ := Detect()

	if resources.CPUCores != runtime.NumCPU() {
		t.Errorf("CPUCores = %d, want %d (runtime.NumCPU())", resources.CPUCores, runtime.NumCPU())
	}
	if resources.TotalRAM <= 0 {
		t.Errorf("TotalRAM = %d, want > 0", resources.TotalRAM)
	}
	if resources.AvailableRAM <= 0 || resources.AvailableRAM > resources.TotalRAM {
		t.Errorf("AvailableRAM = %d, want in (0, %d]", resources.AvailableRAM, resources.TotalRAM)
	}
}

func TestCalculateCacheBudget(t *testing.T) {
	if got := calculateCacheBudget(8 << 30); got != 171798691 {
		t.Errorf("calculateCacheBudget(8GiB) = %d, want 171798691", got)
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name      string
		resources SystemResources
		want      OptimalConfig
	}{
		{
			name:      "single core, 1GB RAM",
			resources: SystemResources{CPUCores: 1, TotalRAM: 1 << 30, AvailableRAM: 512 << 20},
			want:      OptimalConfig{HashWorkers: 4, CopyWorkers: 4, VerifyWorkers: 4, CacheBudget: minCacheBudget},
		},
		{
			name:      "8 cores, 16GB RAM",
			resources: SystemResources{CPUCores: 8, TotalRAM: 16 << 30, AvailableRAM: 8 << 30},
			want:      OptimalConfig{HashWorkers: 8, CopyWorkers: 16, VerifyWorkers: 8, CacheBudget: calculateCacheBudget(8 << 30)},
		},
		{
			name:      "128 cores, 1TB RAM",
			resources: SystemResources{CPUCores: 128, TotalRAM: 1 << 40, AvailableRAM: 1 << 39},
			want:      OptimalConfig{HashWorkers: MaxWorkers, CopyWorkers: MaxWorkers, VerifyWorkers: MaxWorkers, CacheBudget: maxCacheBudget},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Calculate(tt.resources); got != tt.want {
				t.Errorf("Calculate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCalculateWithOverrides(t *testing.T) {
	resources := SystemResources{CPUCores: 8, TotalRAM: 16 << 30, AvailableRAM: 8 << 30}

	got := CalculateWithOverrides(resources, 2, 0)
	if got.HashWorkers != 2 || got.VerifyWorkers != 2 {
		t.Errorf("hash override not applied: %+v", got)
	}
	if got.CopyWorkers != 16 {
		t.Errorf("CopyWorkers = %d, want calculated 16", got.CopyWorkers)
	}

	got = CalculateWithOverrides(resources, 0, 500)
	if got.CopyWorkers != MaxWorkers {
		t.Errorf("CopyWorkers = %d, want capped at %d", got.CopyWorkers, MaxWorkers)
	}
	if got.HashWorkers != 8 {
		t.Errorf("HashWorkers = %d, want calculated 8", got.HashWorkers)
	}
}

func TestAuto(t *testing.T) {
	got := Auto(3, 5)
	if got.HashWorkers != 3 || got.CopyWorkers != 5 {
		t.Errorf("Auto(3, 5) = %+v", got)
	}
	if got.CacheBudget < minCacheBudget || got.CacheBudget > maxCacheBudget {
		t.Errorf("CacheBudget = %d out of bounds", got.CacheBudget)
	}
}
