// Package manifest models, builds, and persists content manifests: complete
// snapshots of a directory tree keyed by slash-separated relative path, with a
// content checksum per file.
package manifest

import (
	"errors"
	"path"
	"sort"
	"time"
)

const (
	// FormatVersion is written to every manifest this package saves.
	FormatVersion = "2.0"

	// Filename is the manifest file kept at the root of every installed unit.
	Filename = ".outfit-manifest.json"
)

var (
	// ErrNotFound is returned when a directory holds no manifest file.
	ErrNotFound = errors.New("manifest not found")

	// ErrUnsupportedFormat is returned when a manifest document uses an older
	// or unknown schema. Such documents may still be readable with ParseLegacy.
	ErrUnsupportedFormat = errors.New("unsupported manifest format")
)

// FileRecord describes one file in a manifest. Only Checksum takes part in
// change detection; ModifiedAt is informational.
type FileRecord struct {
	Path       string
	Size       uint64
	Checksum   string
	ModifiedAt time.Time
}

// Manifest is a snapshot of a directory tree. A manifest is never edited once
// it has been handed to another component; the next build supersedes it.
type Manifest struct {
	FormatVersion string
	GeneratedAt   time.Time
	Algorithm     Algorithm

	// Name is the unit the manifest describes ("core" or a pack id).
	Name string

	// Release is the distribution version read from the unit's config.yaml.
	Release string

	Files       map[string]FileRecord
	Directories []string
	TotalSize   uint64

	// Legacy marks a manifest reinterpreted from an older document. It is
	// never serialized.
	Legacy bool
}

// New returns an empty manifest stamped with the current time.
func New(algo Algorithm) *Manifest {
	if algo == "" {
		algo = AlgorithmSHA256
	}
	return &Manifest{
		FormatVersion: FormatVersion,
		GeneratedAt:   time.Now().UTC(),
		Algorithm:     algo,
		Files:         make(map[string]FileRecord),
	}
}

// Add records rec under rec.Path, replacing any previous record for the path.
func (m *Manifest) Add(rec FileRecord) {
	if old, ok := m.Files[rec.Path]; ok {
		m.TotalSize -= old.Size
	}
	m.Files[rec.Path] = rec
	m.TotalSize += rec.Size
}

// AddDir records a relative directory path. Duplicates are ignored.
func (m *Manifest) AddDir(dir string) {
	i := sort.SearchStrings(m.Directories, dir)
	if i < len(m.Directories) && m.Directories[i] == dir {
		return
	}
	m.Directories = append(m.Directories, "")
	copy(m.Directories[i+1:], m.Directories[i:])
	m.Directories[i] = dir
}

// Get returns the record for p.
func (m *Manifest) Get(p string) (FileRecord, bool) {
	if m == nil {
		return FileRecord{}, false
	}
	rec, ok := m.Files[p]
	return rec, ok
}

// Len returns the number of files in the manifest.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Files)
}

// Paths returns every file path in lexical order.
func (m *Manifest) Paths() []string {
	if m == nil {
		return nil
	}
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Files = make(map[string]FileRecord, len(m.Files))
	for p, rec := range m.Files {
		c.Files[p] = rec
	}
	c.Directories = append([]string(nil), m.Directories...)
	return &c
}

// Restrict returns a copy of m holding only the files and directories that
// also appear in ref, plus the parent directories of kept files.
func (m *Manifest) Restrict(ref *Manifest) *Manifest {
	out := New(m.Algorithm)
	out.GeneratedAt = m.GeneratedAt
	out.Name = m.Name
	out.Release = m.Release
	out.Legacy = m.Legacy

	for p, rec := range m.Files {
		if _, ok := ref.Get(p); !ok {
			continue
		}
		out.Add(rec)
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			out.AddDir(dir)
		}
	}
	refDirs := make(map[string]struct{}, len(ref.Directories))
	for _, d := range ref.Directories {
		refDirs[d] = struct{}{}
	}
	for _, d := range m.Directories {
		if _, ok := refDirs[d]; ok {
			out.AddDir(d)
		}
	}
	return out
}

// SameContent reports whether m and o declare the same paths with the same
// checksums under the same algorithm. Timestamps and metadata are ignored.
func (m *Manifest) SameContent(o *Manifest) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Algorithm != o.Algorithm || len(m.Files) != len(o.Files) {
		return false
	}
	for p, rec := range m.Files {
		other, ok := o.Files[p]
		if !ok || other.Checksum != rec.Checksum {
			return false
		}
	}
	return true
}
