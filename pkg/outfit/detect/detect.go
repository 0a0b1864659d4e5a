// Package detect classifies what already exists at an installation target.
package detect

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// Kind is the detected state of a target directory.
type Kind int

// Detected states. The set is closed.
const (
	// Fresh: the target is missing or holds nothing relevant.
	Fresh Kind = iota
	// Current: the target carries a manifest in the current format.
	Current
	// Legacy: the target carries only an older manifest.
	Legacy
	// Unknown: the target has distribution-like content but no usable manifest.
	Unknown
)

func (k Kind) String() string {
	switch k {
	case Fresh:
		return "fresh"
	case Current:
		return "current_existing"
	case Legacy:
		return "legacy_existing"
	case Unknown:
		return "unknown_existing"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// PacksDir is the directory under an installation that holds one
// subdirectory per expansion pack.
const PacksDir = "expansion-packs"

// ContentMarkers are names whose presence at the target root indicates an
// existing installation even when no manifest is found.
var ContentMarkers = []string{
	"agents",
	"workflows",
	"tasks",
	"templates",
	"checklists",
	"data",
	"core",
	"src",
	PacksDir,
	"config.yaml",
	"core-config.yaml",
}

// State is the result of a detection. It is never modified after Detect
// returns it.
type State struct {
	Kind Kind

	// Manifest is the parsed core manifest for Current and Legacy states.
	Manifest *manifest.Manifest

	// Source is the manifest file the state was read from, if any.
	Source string

	// Packs maps detected expansion-pack ids to their manifests.
	Packs map[string]*manifest.Manifest

	// PackErrors holds packs whose manifest could not be read. They are left
	// out of Packs and do not affect Kind; each pack is classified on its own
	// by DetectPack.
	PackErrors map[string]error

	// Reason explains an Unknown classification caused by a swallowed error.
	Reason error
}

// Version returns the release recorded in the manifest, if any.
func (s State) Version() string {
	if s.Manifest == nil {
		return ""
	}
	if s.Manifest.Release != "" {
		return s.Manifest.Release
	}
	if s.Kind == Legacy {
		return s.Manifest.FormatVersion
	}
	return ""
}

// PackIDs returns the detected pack ids in lexical order.
func (s State) PackIDs() []string {
	ids := make([]string, 0, len(s.Packs))
	for id := range s.Packs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detector inspects target directories. It has no state of its own and is
// safe for concurrent use.
type Detector struct {
	skip   *manifest.SkipList
	logger *logging.Logger
}

// New returns a Detector. A nil skip list means manifest.DefaultSkipList;
// entries it matches do not count as content.
func New(skip *manifest.SkipList, logger *logging.Logger) *Detector {
	if skip == nil {
		skip = manifest.DefaultSkipList()
	}
	return &Detector{skip: skip, logger: logging.OrDiscard(logger)}
}

// Detect classifies dir. It never fails: any error met along the way yields
// an Unknown state whose Reason holds an *errs.StateDetectionError.
func (d *Detector) Detect(dir string) State {
	st, err := d.detect(dir)
	if err != nil {
		detErr := &errs.StateDetectionError{Path: dir, Err: err}
		d.logger.Warn("state detection degraded to unknown", "target", dir, "error", err)
		return State{Kind: Unknown, Reason: detErr}
	}
	d.logger.Debug("state detected", "target", dir, "state", st.Kind, "packs", len(st.Packs))
	return st
}

func (d *Detector) detect(dir string) (State, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{Kind: Fresh}, nil
		}
		return State{}, err
	}
	if !info.IsDir() {
		return State{}, fmt.Errorf("%w: target exists", manifest.ErrNotDirectory)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return State{}, err
	}
	if !d.relevant(entries) {
		return State{Kind: Fresh}, nil
	}

	m, src, kind, err := loadUnit(dir)
	if err != nil {
		return State{}, err
	}
	if kind == Fresh {
		if hasMarker(entries) {
			return State{Kind: Unknown}, nil
		}
		return State{Kind: Fresh}, nil
	}

	packs, packErrs := d.detectPacks(dir)
	return State{Kind: kind, Manifest: m, Source: src, Packs: packs, PackErrors: packErrs}, nil
}

// loadUnit reads the manifest of one unit directory. It returns Fresh when
// the directory holds no manifest of any kind.
func loadUnit(dir string) (*manifest.Manifest, string, Kind, error) {
	m, err := manifest.Load(dir)
	switch {
	case err == nil:
		return m, manifest.Path(dir), Current, nil
	case errors.Is(err, manifest.ErrUnsupportedFormat):
		data, readErr := os.ReadFile(manifest.Path(dir))
		if readErr != nil {
			return nil, "", Fresh, readErr
		}
		legacy, parseErr := manifest.ParseLegacy(data)
		if parseErr != nil {
			return nil, "", Fresh, parseErr
		}
		return legacy, manifest.Path(dir), Legacy, nil
	case !errors.Is(err, manifest.ErrNotFound):
		return nil, "", Fresh, err
	}

	legacy, from, err := manifest.LoadLegacy(dir)
	switch {
	case err == nil:
		return legacy, from, Legacy, nil
	case errors.Is(err, manifest.ErrNotFound):
		return nil, "", Fresh, nil
	default:
		return nil, "", Fresh, err
	}
}

// detectPacks reads the pack manifests under dir. A pack that cannot be read
// is reported in the error map and never fails the root.
func (d *Detector) detectPacks(dir string) (map[string]*manifest.Manifest, map[string]error) {
	packs := make(map[string]*manifest.Manifest)
	container := filepath.Join(dir, PacksDir)
	entries, err := os.ReadDir(container)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("cannot list expansion packs", "dir", container, "error", err)
		}
		return packs, nil
	}

	var failed map[string]error
	for _, e := range entries {
		if !e.IsDir() || d.skip.MatchName(e.Name()) {
			continue
		}
		packDir := filepath.Join(container, e.Name())
		m, _, kind, err := loadUnit(packDir)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[e.Name()] = &errs.StateDetectionError{Path: packDir, Err: err}
			d.logger.Warn("pack manifest unreadable", "pack", e.Name(), "error", err)
			continue
		}
		if kind != Fresh {
			packs[e.Name()] = m
		}
	}
	return packs, failed
}

// DetectPack classifies a single expansion pack directory under an
// installation root.
func (d *Detector) DetectPack(root, id string) State {
	return d.Detect(filepath.Join(root, PacksDir, id))
}

func (d *Detector) relevant(entries []os.DirEntry) bool {
	for _, e := range entries {
		if !d.skip.MatchName(e.Name()) {
			return true
		}
		if e.Name() == manifest.Filename {
			return true
		}
	}
	return false
}

func hasMarker(entries []os.DirEntry) bool {
	for _, e := range entries {
		for _, marker := range ContentMarkers {
			if e.Name() == marker {
				return true
			}
		}
	}
	return false
}
