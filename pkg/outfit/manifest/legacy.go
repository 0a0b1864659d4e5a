package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/outfit/pkg/outfit/errs"
)

// LegacyFilenames are the manifest names written by earlier installers,
// checked in order when no current manifest exists.
var LegacyFilenames = []string{
	"install-manifest.yaml",
	"install-manifest.yml",
	".outfit-install.json",
	"manifest.json",
}

type legacyDocument struct {
	Version     string    `yaml:"version"`
	InstalledAt string    `yaml:"installed_at"`
	Timestamp   string    `yaml:"timestamp"`
	Files       yaml.Node `yaml:"files"`
	Directories []string  `yaml:"directories"`
}

type legacyFile struct {
	Path     string `yaml:"path"`
	Hash     string `yaml:"hash"`
	Checksum string `yaml:"checksum"`
	Size     uint64 `yaml:"size"`
}

// LoadLegacy looks for the first LegacyFilenames entry in dir that exists and
// parses it. Files that do not look like an installer manifest (no file
// entries) are passed over, since names such as manifest.json are common in
// unrelated projects. It returns the manifest and the file it came from, or
// an error wrapping ErrNotFound when none is found.
func LoadLegacy(dir string) (*Manifest, string, error) {
	for _, name := range LegacyFilenames {
		p := filepath.Join(dir, name)
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, p, errs.IO("read", p, err)
		}
		m, err := ParseLegacy(data)
		if errors.Is(err, ErrUnsupportedFormat) {
			continue
		}
		if err != nil {
			return nil, p, fmt.Errorf("%s: %w", p, err)
		}
		return m, p, nil
	}
	return nil, "", fmt.Errorf("%w: no legacy manifest in %s", ErrNotFound, dir)
}

// ParseLegacy reinterprets an older manifest document (YAML, or JSON, which
// YAML accepts) as a Manifest with Legacy set. The files field may be a list
// of {path, hash|checksum, size} entries, a list of bare paths, or a mapping
// from path to either a checksum string or a {hash|checksum, size} entry.
// A document with no usable file entries is not an installer manifest and
// yields an error wrapping ErrUnsupportedFormat.
func ParseLegacy(data []byte) (*Manifest, error) {
	data, err := jsonToYAML(data)
	if err != nil {
		return nil, fmt.Errorf("decoding legacy manifest: %w", err)
	}

	var doc legacyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding legacy manifest: %w", err)
	}

	m := New(AlgorithmSHA256)
	m.Legacy = true
	m.FormatVersion = doc.Version
	m.GeneratedAt = legacyTime(doc.InstalledAt, doc.Timestamp)

	add := func(p string, f legacyFile) {
		p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
		if !ValidPath(p) {
			return
		}
		sum := f.Checksum
		if sum == "" {
			sum = f.Hash
		}
		m.Add(FileRecord{Path: p, Size: f.Size, Checksum: normalizeLegacySum(sum)})
	}

	switch doc.Files.Kind {
	case 0:
		return nil, fmt.Errorf("%w: no files field", ErrUnsupportedFormat)
	case yaml.SequenceNode:
		for _, item := range doc.Files.Content {
			if item.Kind == yaml.ScalarNode {
				add(item.Value, legacyFile{})
				continue
			}
			var f legacyFile
			if err := item.Decode(&f); err != nil {
				return nil, fmt.Errorf("decoding legacy file entry at line %d: %w", item.Line, err)
			}
			add(f.Path, f)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Files.Content); i += 2 {
			key, val := doc.Files.Content[i], doc.Files.Content[i+1]
			if val.Kind == yaml.ScalarNode {
				add(key.Value, legacyFile{Checksum: val.Value})
				continue
			}
			var f legacyFile
			if err := val.Decode(&f); err != nil {
				return nil, fmt.Errorf("decoding legacy file entry %q: %w", key.Value, err)
			}
			add(key.Value, f)
		}
	default:
		return nil, fmt.Errorf("decoding legacy manifest: unexpected files value at line %d", doc.Files.Line)
	}

	if m.Len() == 0 {
		return nil, fmt.Errorf("%w: no file entries", ErrUnsupportedFormat)
	}

	for _, d := range doc.Directories {
		d = strings.Trim(filepath.ToSlash(d), "/")
		if ValidPath(d) {
			m.AddDir(d)
		}
	}
	return m, nil
}

// normalizeLegacySum drops an "sha256:" style prefix. Digests from other
// algorithms never compare equal to a current checksum, so those files are
// treated as modified.
func normalizeLegacySum(sum string) string {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if algo, digest, ok := strings.Cut(sum, ":"); ok && Algorithm(algo) == AlgorithmSHA256 {
		return digest
	}
	return sum
}

// jsonToYAML makes JSON input safe for the YAML parser. Raw tabs can only
// appear as whitespace in valid JSON, and YAML rejects tab indentation.
func jsonToYAML(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("invalid JSON document")
	}
	return bytes.ReplaceAll(trimmed, []byte("\t"), []byte("  ")), nil
}

func legacyTime(candidates ...string) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
