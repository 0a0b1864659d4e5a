package detect_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func saveManifest(t *testing.T, dir, release string, paths ...string) {
	t.Helper()
	m := manifest.New(manifest.AlgorithmSHA256)
	m.Release = release
	for _, p := range paths {
		m.Add(manifest.FileRecord{Path: p, Checksum: manifest.AlgorithmSHA256.Sum([]byte(p))})
	}
	_, err := manifest.Save(dir, m)
	require.NoError(t, err)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string)
		want    detect.Kind
		version string
		packs   []string
		reason  bool
		broken  []string
	}{
		{
			name: "missing directory",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(dir))
			},
			want: detect.Fresh,
		},
		{
			name:  "empty directory",
			setup: func(t *testing.T, dir string) {},
			want:  detect.Fresh,
		},
		{
			name: "only skip-listed entries",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{".DS_Store": "x", ".git/HEAD": "ref"})
			},
			want: detect.Fresh,
		},
		{
			name: "unrelated content",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{"notes.txt": "mine"})
			},
			want: detect.Fresh,
		},
		{
			name: "current manifest with packs",
			setup: func(t *testing.T, dir string) {
				saveManifest(t, dir, "4.1.0", "agents/dev.md")
				saveManifest(t, filepath.Join(dir, "expansion-packs", "game"), "1.0.0", "agents/designer.md")
				writeTree(t, filepath.Join(dir, "expansion-packs", "old"), map[string]string{
					"install-manifest.yaml": "files:\n  - agents/x.md\n",
				})
				writeTree(t, filepath.Join(dir, "expansion-packs", "bare"), map[string]string{"readme.md": "x"})
			},
			want:    detect.Current,
			version: "4.1.0",
			packs:   []string{"game", "old"},
		},
		{
			name: "legacy filename",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{
					"install-manifest.yaml": "version: 3.2.0\nfiles:\n  - path: agents/dev.md\n    hash: abc\n",
					"agents/dev.md":         "dev",
				})
			},
			want:    detect.Legacy,
			version: "3.2.0",
		},
		{
			name: "older current-format schema",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{
					manifest.Filename: `{"version":"1.0","files":{"a.txt":{"size":1,"checksum":"x"}}}`,
				})
			},
			want:    detect.Legacy,
			version: "1.0",
		},
		{
			name: "markers without manifest",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{"agents/dev.md": "dev"})
			},
			want: detect.Unknown,
		},
		{
			name: "corrupt manifest",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{manifest.Filename: "{not json"})
			},
			want:   detect.Unknown,
			reason: true,
		},
		{
			name: "corrupt pack manifest keeps core current",
			setup: func(t *testing.T, dir string) {
				saveManifest(t, dir, "4.1.0", "a.txt")
				saveManifest(t, filepath.Join(dir, "expansion-packs", "game"), "", "g.md")
				writeTree(t, filepath.Join(dir, "expansion-packs", "broken"), map[string]string{manifest.Filename: "[]"})
			},
			want:    detect.Current,
			version: "4.1.0",
			packs:   []string{"game"},
			broken:  []string{"broken"},
		},
		{
			name: "foreign manifest.json",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{
					"manifest.json": `{"name":"my-app","short_name":"app","icons":[]}`,
					"index.html":    "<html></html>",
				})
			},
			want: detect.Fresh,
		},
		{
			name: "foreign manifest.json beside markers",
			setup: func(t *testing.T, dir string) {
				writeTree(t, dir, map[string]string{
					"manifest.json": `{"name":"my-app"}`,
					"src/main.js":   "x",
				})
			},
			want: detect.Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			d := detect.New(nil, nil)
			st := d.Detect(dir)
			assert.Equal(t, tt.want, st.Kind, "reason: %v", st.Reason)
			assert.Equal(t, tt.version, st.Version())
			if tt.packs != nil {
				assert.Equal(t, tt.packs, st.PackIDs())
			}
			if tt.reason {
				var detErr *errs.StateDetectionError
				assert.ErrorAs(t, st.Reason, &detErr)
			} else {
				assert.NoError(t, st.Reason)
			}
			if st.Kind == detect.Legacy {
				assert.True(t, st.Manifest.Legacy)
			}
			var broken []string
			for id, err := range st.PackErrors {
				broken = append(broken, id)
				var detErr *errs.StateDetectionError
				assert.ErrorAs(t, err, &detErr)
			}
			assert.ElementsMatch(t, tt.broken, broken)

			again := d.Detect(dir)
			assert.Equal(t, st.Kind, again.Kind, "detection must be deterministic")
		})
	}
}

func TestDetectTargetIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "target")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	st := detect.New(nil, nil).Detect(file)
	assert.Equal(t, detect.Unknown, st.Kind)
	assert.Error(t, st.Reason)
}

func TestDetectPack(t *testing.T) {
	root := t.TempDir()
	saveManifest(t, filepath.Join(root, "expansion-packs", "game"), "2.0.0", "a.md")

	d := detect.New(nil, nil)
	assert.Equal(t, detect.Current, d.DetectPack(root, "game").Kind)
	assert.Equal(t, detect.Fresh, d.DetectPack(root, "absent").Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "fresh", detect.Fresh.String())
	assert.Equal(t, "current_existing", detect.Current.String())
	assert.Equal(t, "legacy_existing", detect.Legacy.String())
	assert.Equal(t, "unknown_existing", detect.Unknown.String())

	text, err := detect.Unknown.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "unknown_existing", string(text))
}
