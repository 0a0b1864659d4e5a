package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

func sum(data string) string {
	return manifest.AlgorithmSHA256.Sum([]byte(data))
}

func TestGetPut(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	_, ok := c.Get(sum("a"))
	assert.False(t, ok)

	assert.True(t, c.PutIfAbsent(sum("a"), []byte("a")))
	assert.False(t, c.PutIfAbsent(sum("a"), []byte("a")))

	got, ok := c.Get(sum("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("a"), got)

	stats := c.Stats()
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Stores: 1, MemoryBytes: 1}, stats)
}

func TestFirstWriterWins(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	key := sum("shared")
	var stored atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.PutIfAbsent(key, []byte(fmt.Sprintf("writer-%d", i))) {
				stored.Add(1)
			}
			_, _ = c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), stored.Load())
	assert.Equal(t, int64(1), c.Stats().Stores)
}

func TestLimits(t *testing.T) {
	c, err := New(Options{MemoryBudget: 10, MaxEntrySize: 6})
	require.NoError(t, err)

	assert.False(t, c.PutIfAbsent(sum("toolarge"), []byte("toolarge")), "entries over MaxEntrySize are refused")
	assert.True(t, c.PutIfAbsent(sum("123456"), []byte("123456")))
	assert.True(t, c.PutIfAbsent(sum("abcdef"), []byte("abcdef")))

	_, ok := c.Get(sum("123456"))
	assert.True(t, ok)
	_, ok = c.Get(sum("abcdef"))
	assert.False(t, ok, "entries beyond the memory budget are not kept")
	assert.Equal(t, int64(6), c.Stats().MemoryBytes)

	require.NoError(t, c.Clear())
	assert.Equal(t, int64(0), c.Stats().MemoryBytes)
	assert.True(t, c.PutIfAbsent(sum("abcdef"), []byte("abcdef")))
}

func TestOptionsValidate(t *testing.T) {
	_, err := New(Options{Algorithm: "crc32"})
	assert.Error(t, err)
	_, err = New(Options{MaxEntrySize: -1})
	assert.Error(t, err)

	c, err := New(Options{MemoryBudget: -1})
	require.NoError(t, err)
	assert.True(t, c.PutIfAbsent(sum("x"), []byte("x")))
	_, ok := c.Get(sum("x"))
	assert.False(t, ok)
}

func TestPersistentTier(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	first, err := New(Options{Store: store})
	require.NoError(t, err)
	require.True(t, first.PutIfAbsent(sum("persisted"), []byte("persisted")))

	second, err := New(Options{Store: store})
	require.NoError(t, err)
	got, ok := second.Get(sum("persisted"))
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got)
	assert.False(t, second.PutIfAbsent(sum("persisted"), []byte("persisted")), "promoted entries count as claimed")

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, second.Clear())
	n, err = store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPersistentTierRejectsCorruptEntries(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	key := sum("good")
	require.NoError(t, store.Put(manifest.AlgorithmSHA256, key, []byte("tampered")))

	c, err := New(Options{Store: store})
	require.NoError(t, err)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Rejected)

	_, err = store.Get(manifest.AlgorithmSHA256, key)
	assert.True(t, errors.Is(err, ErrNotFound), "corrupt entry should be deleted")
}

func TestKeys(t *testing.T) {
	key := MakeKey(manifest.AlgorithmBLAKE3, "abc")
	algo, s := ParseKey(key)
	assert.Equal(t, manifest.AlgorithmBLAKE3, algo)
	assert.Equal(t, "abc", s)

	algo, s = ParseKey([]byte("nosep"))
	assert.Equal(t, manifest.Algorithm("nosep"), algo)
	assert.Empty(t, s)

	assert.Contains(t, DefaultStorePath(), "outfit")
}
