package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// document is the on-disk JSON shape of a manifest.
type document struct {
	Version     string                  `json:"version"`
	Timestamp   time.Time               `json:"timestamp"`
	Algorithm   Algorithm               `json:"algorithm,omitempty"`
	Name        string                  `json:"name,omitempty"`
	Release     string                  `json:"release,omitempty"`
	Files       map[string]fileDocument `json:"files"`
	Directories []string                `json:"directories"`
	TotalSize   uint64                  `json:"totalSize"`
}

type fileDocument struct {
	Size     uint64    `json:"size"`
	Checksum string    `json:"checksum"`
	Modified time.Time `json:"modified"`
}

// Marshal encodes m as indented JSON.
func Marshal(m *Manifest) ([]byte, error) {
	doc := document{
		Version:     m.FormatVersion,
		Timestamp:   m.GeneratedAt,
		Algorithm:   m.Algorithm,
		Name:        m.Name,
		Release:     m.Release,
		Files:       make(map[string]fileDocument, len(m.Files)),
		Directories: append([]string{}, m.Directories...),
		TotalSize:   m.TotalSize,
	}
	if doc.Version == "" {
		doc.Version = FormatVersion
	}
	sort.Strings(doc.Directories)
	for p, rec := range m.Files {
		doc.Files[p] = fileDocument{Size: rec.Size, Checksum: rec.Checksum, Modified: rec.ModifiedAt}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse decodes a manifest document. Documents whose version has a different
// major number than FormatVersion, or that have no files object, fail with
// ErrUnsupportedFormat.
func Parse(data []byte) (*Manifest, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if doc.Files == nil {
		return nil, fmt.Errorf("%w: no files object", ErrUnsupportedFormat)
	}
	if major(doc.Version) != major(FormatVersion) {
		return nil, fmt.Errorf("%w: version %q", ErrUnsupportedFormat, doc.Version)
	}

	algo := doc.Algorithm
	if algo == "" {
		algo = AlgorithmSHA256
	}
	if !algo.Valid() {
		return nil, fmt.Errorf("%w: algorithm %q", ErrUnsupportedFormat, algo)
	}

	m := &Manifest{
		FormatVersion: doc.Version,
		GeneratedAt:   doc.Timestamp,
		Algorithm:     algo,
		Name:          doc.Name,
		Release:       doc.Release,
		Files:         make(map[string]FileRecord, len(doc.Files)),
	}
	for p, f := range doc.Files {
		if !ValidPath(p) {
			return nil, fmt.Errorf("decoding manifest: invalid path %q", p)
		}
		m.Add(FileRecord{Path: p, Size: f.Size, Checksum: f.Checksum, ModifiedAt: f.Modified})
	}
	for _, d := range doc.Directories {
		if !ValidPath(d) {
			return nil, fmt.Errorf("decoding manifest: invalid directory %q", d)
		}
		m.AddDir(d)
	}
	return m, nil
}

// ValidPath reports whether p is a clean, relative, slash-separated path that
// stays inside its root.
func ValidPath(p string) bool {
	if p == "" || p == "." || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func major(version string) int {
	head, _, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(version), "v"), ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return -1
	}
	return n
}
