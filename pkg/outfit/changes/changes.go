// Package changes computes the difference between two manifests.
package changes

import (
	"fmt"
	"sort"

	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// ChangeSet partitions the union of two manifests' paths. Every list is
// sorted and free of duplicates; every path appears in exactly one list.
type ChangeSet struct {
	Added     []string `json:"added"`
	Modified  []string `json:"modified"`
	Deleted   []string `json:"deleted"`
	Unchanged []string `json:"unchanged"`
}

// Diff compares base (nil when there is no prior manifest) with next. Checksum
// equality alone decides whether a file is unchanged; manifests hashed with
// different algorithms therefore report every shared path as modified.
func Diff(base, next *manifest.Manifest) ChangeSet {
	cs := ChangeSet{
		Added:     []string{},
		Modified:  []string{},
		Deleted:   []string{},
		Unchanged: []string{},
	}

	sameAlgo := base != nil && next != nil && base.Algorithm == next.Algorithm
	for _, p := range next.Paths() {
		prev, ok := base.Get(p)
		switch {
		case !ok:
			cs.Added = append(cs.Added, p)
		case sameAlgo && prev.Checksum == next.Files[p].Checksum:
			cs.Unchanged = append(cs.Unchanged, p)
		default:
			cs.Modified = append(cs.Modified, p)
		}
	}
	for _, p := range base.Paths() {
		if _, ok := next.Get(p); !ok {
			cs.Deleted = append(cs.Deleted, p)
		}
	}
	return cs
}

// Writes returns Added followed by Modified: every path the applier copies.
func (cs ChangeSet) Writes() []string {
	out := make([]string, 0, len(cs.Added)+len(cs.Modified))
	out = append(out, cs.Added...)
	return append(out, cs.Modified...)
}

// Empty reports whether applying cs would change nothing.
func (cs ChangeSet) Empty() bool {
	return len(cs.Added) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}

// Force returns a copy of cs in which each of paths is rewritten even if its
// checksum is unchanged: unchanged paths move to Modified, and paths that are
// in next but in no list yet are Added. Paths outside next are ignored.
func (cs ChangeSet) Force(paths []string, next *manifest.Manifest) ChangeSet {
	if len(paths) == 0 {
		return cs.clone()
	}

	force := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := next.Get(p); ok {
			force[p] = struct{}{}
		}
	}

	out := cs.clone()
	out.Unchanged = out.Unchanged[:0]
	for _, p := range cs.Unchanged {
		if _, ok := force[p]; ok {
			out.Modified = append(out.Modified, p)
			delete(force, p)
			continue
		}
		out.Unchanged = append(out.Unchanged, p)
	}
	for _, p := range cs.Added {
		delete(force, p)
	}
	for _, p := range cs.Modified {
		delete(force, p)
	}
	for p := range force {
		out.Added = append(out.Added, p)
	}

	sort.Strings(out.Added)
	sort.Strings(out.Modified)
	return out
}

// Summary is the per-list count of a ChangeSet.
type Summary struct {
	Added     int `json:"added" yaml:"added"`
	Modified  int `json:"modified" yaml:"modified"`
	Deleted   int `json:"deleted" yaml:"deleted"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
}

// Summary returns the counts of cs.
func (cs ChangeSet) Summary() Summary {
	return Summary{
		Added:     len(cs.Added),
		Modified:  len(cs.Modified),
		Deleted:   len(cs.Deleted),
		Unchanged: len(cs.Unchanged),
	}
}

// Add accumulates o into s.
func (s *Summary) Add(o Summary) {
	s.Added += o.Added
	s.Modified += o.Modified
	s.Deleted += o.Deleted
	s.Unchanged += o.Unchanged
}

func (s Summary) String() string {
	return fmt.Sprintf("%d added, %d modified, %d deleted, %d unchanged", s.Added, s.Modified, s.Deleted, s.Unchanged)
}

func (cs ChangeSet) clone() ChangeSet {
	return ChangeSet{
		Added:     append([]string{}, cs.Added...),
		Modified:  append([]string{}, cs.Modified...),
		Deleted:   append([]string{}, cs.Deleted...),
		Unchanged: append([]string{}, cs.Unchanged...),
	}
}
