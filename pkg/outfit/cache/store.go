package cache

import (
	"bytes"
	"errors"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/outfit/pkg/outfit/manifest"
)

// ErrNotFound is returned when a cache entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// KeySeparator separates the algorithm from the checksum in store keys.
const KeySeparator = '\x00'

// DefaultStorePath returns $XDG_CACHE_HOME/outfit/content.
func DefaultStorePath() string {
	return filepath.Join(xdg.CacheHome, "outfit", "content")
}

// MakeKey creates a store key. Format: <algorithm>\x00<checksum>
func MakeKey(algo manifest.Algorithm, sum string) []byte {
	return []byte(string(algo) + string(KeySeparator) + sum)
}

// ParseKey splits a store key into algorithm and checksum.
func ParseKey(key []byte) (manifest.Algorithm, string) {
	idx := bytes.IndexByte(key, KeySeparator)
	if idx == -1 {
		return manifest.Algorithm(key), ""
	}
	return manifest.Algorithm(key[:idx]), string(key[idx+1:])
}

// Store is the persistent content tier, backed by Badger. It outlives a
// single install so repeated installs of the same distribution skip source
// reads entirely.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates a store at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns a copy of the bytes stored for sum.
func (s *Store) Get(algo manifest.Algorithm, sum string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeKey(algo, sum))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores data under sum.
func (s *Store) Put(algo manifest.Algorithm, sum string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(MakeKey(algo, sum), data)
	})
}

// Delete removes the entry for sum.
func (s *Store) Delete(algo manifest.Algorithm, sum string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(MakeKey(algo, sum))
	})
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Clear removes every entry.
func (s *Store) Clear() error {
	return s.db.DropAll()
}
