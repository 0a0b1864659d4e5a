package manifest

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultSkipPatterns are excluded from every walk: manifest builds, fallback
// copies, and backups. Patterns without a slash match any single path segment.
var DefaultSkipPatterns = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	".cache",
	"__pycache__",
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.swp",
	"*~",
	Filename,
}

// SkipList decides which relative paths a walk ignores.
type SkipList struct {
	patterns []string
	segment  []glob.Glob
	full     []glob.Glob
}

// NewSkipList compiles DefaultSkipPatterns plus extra.
func NewSkipList(extra ...string) (*SkipList, error) {
	s := &SkipList{}
	if err := s.add(DefaultSkipPatterns...); err != nil {
		return nil, err
	}
	if err := s.add(extra...); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultSkipList returns a SkipList holding only DefaultSkipPatterns.
func DefaultSkipList() *SkipList {
	s, err := NewSkipList()
	if err != nil {
		panic(err)
	}
	return s
}

// With returns a new SkipList extending s with extra patterns.
func (s *SkipList) With(extra ...string) (*SkipList, error) {
	out := &SkipList{}
	if err := out.add(s.Patterns()...); err != nil {
		return nil, err
	}
	if err := out.add(extra...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SkipList) add(patterns ...string) error {
	for _, p := range patterns {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return fmt.Errorf("compiling skip pattern %q: %w", p, err)
			}
			s.full = append(s.full, g)
		} else {
			g, err := glob.Compile(p)
			if err != nil {
				return fmt.Errorf("compiling skip pattern %q: %w", p, err)
			}
			s.segment = append(s.segment, g)
		}
		s.patterns = append(s.patterns, p)
	}
	return nil
}

// Patterns returns the source patterns in the order they were added.
func (s *SkipList) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}

// Match reports whether the slash-separated relative path rel, or any of its
// segments, is excluded.
func (s *SkipList) Match(rel string) bool {
	if s == nil || rel == "" || rel == "." {
		return false
	}
	for _, g := range s.full {
		if g.Match(rel) {
			return true
		}
	}
	for _, seg := range strings.Split(rel, "/") {
		if s.MatchName(seg) {
			return true
		}
	}
	return false
}

// MatchName reports whether a single file or directory name is excluded.
func (s *SkipList) MatchName(name string) bool {
	if s == nil {
		return false
	}
	for _, g := range s.segment {
		if g.Match(name) {
			return true
		}
	}
	return false
}
