package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// trashTimeout bounds each external trash command.
const trashTimeout = 30 * time.Second

// discard removes a pruned snapshot. With useTrash it first tries the
// platform trash (Finder on macOS, gio or trash-put on Linux) so the
// snapshot can still be restored by hand.
func discard(path string, useTrash bool) error {
	if _, err := os.Lstat(path); err != nil {
		return fmt.Errorf("cannot remove %q: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path for %q: %w", path, err)
	}
	if useTrash && trash(abs) {
		return nil
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("failed to delete %q: %w", abs, err)
	}
	return nil
}

// trash reports whether a system trash command accepted path.
func trash(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), trashTimeout)
	defer cancel()

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`tell application "Finder" to delete POSIX file %q`, path)
		return exec.CommandContext(ctx, "osascript", "-e", script).Run() == nil
	case "linux":
		if gio, err := exec.LookPath("gio"); err == nil {
			if exec.CommandContext(ctx, gio, "trash", path).Run() == nil {
				return true
			}
		}
		if put, err := exec.LookPath("trash-put"); err == nil {
			if exec.CommandContext(ctx, put, path).Run() == nil {
				return true
			}
		}
	}
	return false
}
