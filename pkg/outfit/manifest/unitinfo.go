package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UnitConfigFile is the optional metadata file at the root of the core
// distribution and of each expansion pack.
const UnitConfigFile = "config.yaml"

// UnitInfo is the subset of a unit's config.yaml the installer reads.
type UnitInfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ReadUnitInfo reads dir/config.yaml. A missing file yields a zero UnitInfo
// and no error.
func ReadUnitInfo(dir string) (UnitInfo, error) {
	p := filepath.Join(dir, UnitConfigFile)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return UnitInfo{}, nil
		}
		return UnitInfo{}, fmt.Errorf("reading %s: %w", p, err)
	}

	var info UnitInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return UnitInfo{}, fmt.Errorf("parsing %s: %w", p, err)
	}
	return info, nil
}
