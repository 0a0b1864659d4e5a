package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// Algorithm names a content hash.
type Algorithm string

// Supported content hashes.
const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmBLAKE3 Algorithm = "blake3"
)

// Valid reports whether a is a supported algorithm.
func (a Algorithm) Valid() bool {
	return a == AlgorithmSHA256 || a == AlgorithmBLAKE3
}

// New returns a fresh hasher for a.
func (a Algorithm) New() hash.Hash {
	if a == AlgorithmBLAKE3 {
		return blake3.New(32, nil)
	}
	return sha256.New()
}

// ParseAlgorithm converts a configuration string into an Algorithm.
// An empty string selects sha256.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return AlgorithmSHA256, nil
	}
	a := Algorithm(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown checksum algorithm %q", s)
	}
	return a, nil
}

// Sum returns the hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.New()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SumReader streams r through the hash and returns the hex digest and the
// number of bytes read.
func (a Algorithm) SumReader(r io.Reader) (string, int64, error) {
	h := a.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumFile hashes the file at path.
func (a Algorithm) SumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return a.SumReader(f)
}
