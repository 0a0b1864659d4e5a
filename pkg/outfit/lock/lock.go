// Package lock serialises installation attempts against the same target
// across processes.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("installation target is locked by another process")

// Lock is an exclusive advisory lock on an installation target.
type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file used for target: a hidden sibling, so the lock
// works before the target exists and never appears in its manifest.
func Path(target string) string {
	target = filepath.Clean(target)
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".outfit.lock")
}

// Acquire takes the lock for target without blocking. It returns an error
// wrapping ErrLocked, annotated with the holder's pid when known, if another
// process holds it.
func Acquire(target string) (*Lock, error) {
	p := Path(target)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, perr := Holder(target); perr == nil && pid > 0 {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking %s: %w", p, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Lock{path: p, file: f}, nil
}

// Release drops the lock. The lock file itself is left in place so that a
// concurrent Acquire never locks an unlinked inode. It is safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}

// Holder returns the pid recorded in target's lock file, or 0 when the file
// is absent or empty.
func Holder(target string) (int, error) {
	data, err := os.ReadFile(Path(target))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in lock file: %w", err)
	}
	return pid, nil
}

// Stale reports whether target's lock file names a process that is no
// longer running.
func Stale(target string) bool {
	pid, err := Holder(target)
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}
