package changes_test

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/outfit/pkg/outfit/changes"
	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

func build(files map[string]string) *manifest.Manifest {
	m := manifest.New(manifest.AlgorithmSHA256)
	for p, content := range files {
		m.Add(manifest.FileRecord{
			Path:     p,
			Size:     uint64(len(content)),
			Checksum: manifest.AlgorithmSHA256.Sum([]byte(content)),
		})
	}
	return m
}

func randomManifest(r *rand.Rand) *manifest.Manifest {
	files := make(map[string]string)
	n := r.IntN(20)
	for i := 0; i < n; i++ {
		files[fmt.Sprintf("dir%d/f%d.txt", r.IntN(3), r.IntN(15))] = fmt.Sprintf("v%d", r.IntN(3))
	}
	return build(files)
}

func TestDiffScenarioB(t *testing.T) {
	m1 := build(map[string]string{"a.txt": "X", "b.txt": "Y"})
	m2 := build(map[string]string{"a.txt": "X", "b.txt": "Z", "c.txt": "new"})

	got := changes.Diff(m1, m2)
	assert.Equal(t, changes.ChangeSet{
		Added:     []string{"c.txt"},
		Modified:  []string{"b.txt"},
		Deleted:   []string{},
		Unchanged: []string{"a.txt"},
	}, got)
}

func TestDiffAbsentOld(t *testing.T) {
	m := build(map[string]string{"one": "1", "two": "2", "three": "3"})
	got := changes.Diff(nil, m)
	assert.Equal(t, []string{"one", "three", "two"}, got.Added)
	assert.Empty(t, got.Modified)
	assert.Empty(t, got.Deleted)
	assert.Empty(t, got.Unchanged)
}

func TestDiffDeleted(t *testing.T) {
	got := changes.Diff(build(map[string]string{"gone": "x", "kept": "y"}), build(map[string]string{"kept": "y"}))
	assert.Equal(t, []string{"gone"}, got.Deleted)
	assert.Equal(t, []string{"kept"}, got.Unchanged)
}

func TestDiffIgnoresMetadata(t *testing.T) {
	a := build(map[string]string{"a.txt": "same"})
	b := a.Clone()
	rec := b.Files["a.txt"]
	rec.Size = 999
	rec.ModifiedAt = rec.ModifiedAt.AddDate(1, 0, 0)
	b.Files["a.txt"] = rec

	got := changes.Diff(a, b)
	assert.Equal(t, []string{"a.txt"}, got.Unchanged)
}

func TestDiffAlgorithmMismatch(t *testing.T) {
	a := build(map[string]string{"a.txt": "same"})
	b := a.Clone()
	b.Algorithm = manifest.AlgorithmBLAKE3

	got := changes.Diff(a, b)
	assert.Equal(t, []string{"a.txt"}, got.Modified)
	assert.Empty(t, got.Unchanged)
}

func TestDiffIdempotence(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		m := randomManifest(r)
		got := changes.Diff(m, m)
		require.Empty(t, got.Added)
		require.Empty(t, got.Modified)
		require.Empty(t, got.Deleted)
		require.Equal(t, m.Paths(), nonNil(got.Unchanged))
	}
}

func TestDiffPartitionLaw(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 300; i++ {
		a, b := randomManifest(r), randomManifest(r)
		cs := changes.Diff(a, b)

		seen := make(map[string]int)
		for _, list := range [][]string{cs.Added, cs.Modified, cs.Unchanged} {
			require.True(t, sort.StringsAreSorted(list))
			for _, p := range list {
				seen[p]++
			}
		}
		for p, n := range seen {
			require.Equal(t, 1, n, "path %s appears in %d lists", p, n)
		}
		keys := make([]string, 0, len(seen))
		for p := range seen {
			keys = append(keys, p)
		}
		sort.Strings(keys)
		require.Equal(t, b.Paths(), nonNil(keys))

		for _, p := range cs.Deleted {
			_, inOld := a.Get(p)
			_, inNew := b.Get(p)
			require.True(t, inOld && !inNew)
		}
		require.Equal(t, len(seen)+len(cs.Deleted), unionSize(a, b))
	}
}

func TestForce(t *testing.T) {
	next := build(map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"})
	cs := changes.ChangeSet{
		Added:     []string{"d"},
		Modified:  []string{"c"},
		Deleted:   []string{"z"},
		Unchanged: []string{"a"},
	}

	got := cs.Force([]string{"a", "b", "c", "missing-from-source"}, next)
	assert.Equal(t, []string{"b", "d"}, got.Added)
	assert.Equal(t, []string{"a", "c"}, got.Modified)
	assert.Equal(t, []string{"z"}, got.Deleted)
	assert.Empty(t, got.Unchanged)

	assert.Equal(t, []string{"a"}, cs.Unchanged, "Force must not mutate the receiver")
	assert.Equal(t, cs, cs.Force(nil, next))
}

func TestSummary(t *testing.T) {
	cs := changes.Diff(build(map[string]string{"a": "1", "b": "2"}), build(map[string]string{"b": "3", "c": "4"}))
	s := cs.Summary()
	assert.Equal(t, changes.Summary{Added: 1, Modified: 1, Deleted: 1}, s)
	assert.False(t, cs.Empty())
	assert.Equal(t, []string{"c", "b"}, cs.Writes())

	var total changes.Summary
	total.Add(s)
	total.Add(s)
	assert.Equal(t, "2 added, 2 modified, 2 deleted, 0 unchanged", total.String())

	same := build(map[string]string{"a": "1"})
	assert.True(t, changes.Diff(same, same).Empty())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func unionSize(a, b *manifest.Manifest) int {
	u := make(map[string]struct{})
	for _, p := range a.Paths() {
		u[p] = struct{}{}
	}
	for _, p := range b.Paths() {
		u[p] = struct{}{}
	}
	return len(u)
}
