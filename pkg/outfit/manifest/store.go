package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
)

// Path returns the manifest file location for dir.
func Path(dir string) string {
	return filepath.Join(dir, Filename)
}

// Save writes m to dir atomically and returns the file path.
func Save(dir string, m *Manifest) (string, error) {
	data, err := Marshal(m)
	if err != nil {
		return "", err
	}
	p := Path(dir)
	if err := fsutil.WriteFile(p, data, fsutil.FileMode); err != nil {
		return "", errs.IO("write", p, err)
	}
	return p, nil
}

// Load reads the manifest kept in dir. It returns an error wrapping
// ErrNotFound when there is none and ErrUnsupportedFormat for older schemas.
func Load(dir string) (*Manifest, error) {
	p := Path(dir)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, errs.IO("read", p, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return m, nil
}
