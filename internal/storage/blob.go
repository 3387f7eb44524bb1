// Package storage holds photo payloads on disk, addressed by SHA-256, until
// they are uploaded.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kimhsiao/crafttrack/internal/errors"
)

// BlobStore stores payloads at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}.
// Identical payloads are stored once.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a BlobStore rooted at baseDir.
func NewBlobStore(baseDir string) *BlobStore {
	return &BlobStore{baseDir: baseDir}
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func validHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// Path returns the on-disk location of hash.
func (s *BlobStore) Path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

// Put stores data and returns its hash.
func (s *BlobStore) Put(data []byte) (string, error) {
	hash := Hash(data)
	path := s.Path(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(errors.ErrStorageUnavailable, "create blob directory", err)
	}

	// Write to a temp file and rename so readers never see a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", errors.Wrap(errors.ErrStorageUnavailable, "create blob", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrap(errors.ErrStorageUnavailable, "write blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(errors.ErrStorageUnavailable, "close blob", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(errors.ErrStorageUnavailable, "commit blob", err)
	}
	return hash, nil
}

// Get returns the payload for hash, verifying its content.
func (s *BlobStore) Get(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, errors.Newf(errors.ErrInvalid, "invalid blob hash %q", hash)
	}
	data, err := os.ReadFile(s.Path(hash))
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.ErrNotFound, "blob %s not found", hash)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "read blob", err)
	}
	if got := Hash(data); got != hash {
		return nil, errors.Newf(errors.ErrStorageUnavailable, "blob hash mismatch: expected %s, got %s", hash, got)
	}
	return data, nil
}

// Open streams the payload for hash.
func (s *BlobStore) Open(hash string) (io.ReadCloser, error) {
	if !validHash(hash) {
		return nil, errors.Newf(errors.ErrInvalid, "invalid blob hash %q", hash)
	}
	f, err := os.Open(s.Path(hash))
	if os.IsNotExist(err) {
		return nil, errors.Newf(errors.ErrNotFound, "blob %s not found", hash)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, "open blob", err)
	}
	return f, nil
}

// Exists reports whether hash is stored.
func (s *BlobStore) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Delete removes hash. Deleting a missing blob is not an error.
func (s *BlobStore) Delete(hash string) error {
	if !validHash(hash) {
		return errors.Newf(errors.ErrInvalid, "invalid blob hash %q", hash)
	}
	path := s.Path(hash)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrStorageUnavailable, "delete blob", err)
	}

	// Prune empty fan-out directories; failures mean they are not empty.
	dir := filepath.Dir(path)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))
	return nil
}

// Usage returns the number of blobs and their total size.
func (s *BlobStore) Usage() (count int, size int64, err error) {
	err = filepath.Walk(s.baseDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if !info.IsDir() && validHash(info.Name()) {
			count++
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to walk blob store: %w", err)
	}
	return count, size, nil
}
