// Package integrity fingerprints pipeline inputs and outputs with BLAKE3
// and records each run in a manifest under the staging directory.
package integrity

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// Hasher computes BLAKE3 digests of datasets and reports.
type Hasher struct{}

// NewHasher creates a new plain BLAKE3 hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// HashReader computes the BLAKE3 hash from an io.Reader.
func (h *Hasher) HashReader(r io.Reader) ([]byte, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("integrity: failed to hash data: %w", err)
	}
	return hasher.Sum(nil), nil
}

// HashFileHex computes the BLAKE3 hash of a file as a hex string.
func (h *Hasher) HashFileHex(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("integrity: failed to open file: %w", err)
	}
	defer f.Close()

	sum, err := h.HashReader(f)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// HashDirHex hashes the regular files of dir matching any of patterns,
// in name order. Each file contributes its slash-separated path relative
// to dir followed by its content, so renames change the digest.
func (h *Hasher) HashDirHex(dir string, patterns ...string) (string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", fmt.Errorf("integrity: failed to list %s: %w", dir, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	hasher := blake3.New()
	for i, path := range files {
		if i > 0 && path == files[i-1] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("integrity: failed to stat file: %w", err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", fmt.Errorf("integrity: failed to name %s: %w", path, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("integrity: failed to open file: %w", err)
		}
		hasher.Write([]byte(filepath.ToSlash(rel)))
		hasher.Write([]byte{0})
		_, err = io.Copy(hasher, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("integrity: failed to hash data: %w", err)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
