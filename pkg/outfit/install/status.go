package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/jamesainslie/outfit/pkg/outfit/detect"
	"github.com/jamesainslie/outfit/pkg/outfit/integrity"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// ErrNotFound is returned by FindInstallation when no candidate holds an
// installation.
var ErrNotFound = errors.New("no installation found")

// Status is a read-only summary of an installation.
type Status struct {
	Target         string                `json:"target" yaml:"target"`
	Exists         bool                  `json:"exists" yaml:"exists"`
	State          detect.Kind           `json:"state" yaml:"state"`
	Version        string                `json:"version,omitempty" yaml:"version,omitempty"`
	IntegrityValid bool                  `json:"integrity_valid" yaml:"integrity_valid"`
	Missing        int                   `json:"missing" yaml:"missing"`
	Modified       int                   `json:"modified" yaml:"modified"`
	ExpansionPacks map[string]PackStatus `json:"expansion_packs,omitempty" yaml:"expansion_packs,omitempty"`
}

// PackStatus is the status of one installed expansion pack.
type PackStatus struct {
	State          detect.Kind `json:"state" yaml:"state"`
	Version        string      `json:"version,omitempty" yaml:"version,omitempty"`
	IntegrityValid bool        `json:"integrity_valid" yaml:"integrity_valid"`
}

// Verification is the integrity of every unit under an installation root.
type Verification struct {
	Target string                      `json:"target" yaml:"target"`
	State  detect.Kind                 `json:"state" yaml:"state"`
	Core   integrity.Report            `json:"core" yaml:"core"`
	Packs  map[string]integrity.Report `json:"packs,omitempty" yaml:"packs,omitempty"`
}

// OK reports whether every assessed unit is intact and core was assessed.
func (v Verification) OK() bool {
	if !v.Core.OK() {
		return false
	}
	for _, r := range v.Packs {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Status inspects dir. It never modifies anything.
func (o *Orchestrator) Status(ctx context.Context, dir string) (Status, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Status{}, err
	}
	st := Status{Target: abs}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return st, nil
	}
	st.Exists = true

	in, err := o.inspect(ctx, abs)
	if err != nil {
		return st, err
	}
	v := in.verification

	st.State = in.core.Kind
	st.Version = in.core.Version()
	st.IntegrityValid = v.Core.OK()
	st.Missing = len(v.Core.Missing)
	st.Modified = len(v.Core.Modified)

	for _, id := range sortedKeys(in.packs) {
		ps := in.packs[id]
		if ps.Kind == detect.Fresh {
			continue
		}
		if st.ExpansionPacks == nil {
			st.ExpansionPacks = map[string]PackStatus{}
		}
		report := v.Packs[id]
		st.ExpansionPacks[id] = PackStatus{
			State:          ps.Kind,
			Version:        ps.Version(),
			IntegrityValid: report.OK(),
		}
	}
	return st, nil
}

// packDirs lists the pack directories under root in lexical order.
func packDirs(root string) []string {
	entries, err := os.ReadDir(filepath.Join(root, detect.PacksDir))
	if err != nil {
		return nil
	}
	skip := manifest.DefaultSkipList()
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !skip.MatchName(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return sortedStrings(ids)
}

func sortedKeys(m map[string]detect.State) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return sortedStrings(keys)
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

// Candidate install directory names, checked in order.
var candidateNames = []string{".outfit-core", "outfit-core"}

// FindInstallation looks for an installation near the working directory
// and in the home directory.
func FindInstallation() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	home, _ := os.UserHomeDir()
	return FindInstallationFrom(wd, home)
}

// FindInstallationFrom checks, in order: wd/.outfit-core, wd/outfit-core,
// wd itself, the parent's .outfit-core, and home/.outfit-core. The first
// directory holding a manifest, current or legacy, wins.
func FindInstallationFrom(wd, home string) (string, error) {
	var candidates []string
	for _, name := range candidateNames {
		candidates = append(candidates, filepath.Join(wd, name))
	}
	candidates = append(candidates, wd, filepath.Join(filepath.Dir(wd), candidateNames[0]))
	if home != "" {
		candidates = append(candidates, filepath.Join(home, candidateNames[0]))
	}

	d := detect.New(nil, nil)
	for _, c := range candidates {
		switch d.Detect(c).Kind {
		case detect.Current, detect.Legacy:
			return c, nil
		}
	}
	return "", ErrNotFound
}
