// Package fsutil holds the small filesystem helpers shared by the manifest
// store, the change applier, and the backup manager.
package fsutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Default permissions for installed content. Mode is not part of a file's
// identity, so every installed file gets the same bits.
const (
	FileMode fs.FileMode = 0o644
	DirMode  fs.FileMode = 0o755
)

// WriteFile atomically replaces path with data: the bytes go to a temporary
// file in the same directory which is then renamed over path. Parent
// directories are created as needed.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	_, err := WriteReader(path, bytes.NewReader(data), perm)
	return err
}

// WriteReader atomically replaces path with everything read from r and
// returns the number of bytes written.
func WriteReader(path string, r io.Reader, perm fs.FileMode) (int64, error) {
	return WriteReaderVerified(path, r, perm, nil)
}

// WriteReaderVerified behaves like WriteReader but calls verify after the
// temporary file is complete and before it is renamed into place. A non-nil
// error from verify discards the temporary file and is returned as is.
func WriteReaderVerified(path string, r io.Reader, perm fs.FileMode, verify func(written int64) error) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("writing temp file: %w", err)
	}
	if verify != nil {
		if err := verify(n); err != nil {
			return n, err
		}
	}
	if err := tmp.Chmod(perm); err != nil {
		return n, fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	committed = true
	return n, nil
}

// CopyFile copies src to dst atomically.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return WriteReader(dst, in, FileMode)
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether path exists. Errors other than "not exist" are
// returned so callers can tell an absent path from an unreadable one.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// PruneEmptyDirs removes dir and then each parent in turn while they are
// empty, stopping at (and never removing) root.
func PruneEmptyDirs(root, dir string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
