package install

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
)

// Integration is an optional post-install step, such as wiring the
// installation into an editor or a repository.
type Integration interface {
	Name() string
	Setup(ctx context.Context, c *Context) error
}

// GitignoreIntegration adds the installation directory to the .gitignore
// next to it.
type GitignoreIntegration struct{}

// Name implements Integration.
func (GitignoreIntegration) Name() string { return "gitignore" }

// Setup appends "/<dir>/" to <parent>/.gitignore unless an entry for the
// directory is already present.
func (GitignoreIntegration) Setup(_ context.Context, c *Context) error {
	parent := filepath.Dir(c.Root)
	base := filepath.Base(c.Root)
	path := filepath.Join(parent, ".gitignore")

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		switch strings.TrimSpace(line) {
		case base, base + "/", "/" + base, "/" + base + "/":
			return nil
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString("/" + base + "/\n")
	return fsutil.WriteFile(path, buf.Bytes(), fsutil.FileMode)
}
