// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package cache persists serialized token records keyed by the fingerprint of the request
parameters that produced them. The data is considered opaque: serialization happens in
the azureauth package, so a Store only ever sees fingerprints and bytes.

The on-disk layout of FileStore is one file per fingerprint under a single directory.
The directory is shared by every process on the host; concurrent writes to the same
fingerprint are last-write-wins.
*/
package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cran/AzureAuth/errors"
)

// ErrNotFound is returned by Store.Get when no record exists for a fingerprint.
var ErrNotFound = errors.New("token not found in cache")

// Store maps request-parameter fingerprints to serialized token records.
type Store interface {
	// Get returns the record stored for fp, or ErrNotFound.
	Get(fp string) ([]byte, error)
	// Put stores data under fp, replacing any previous record.
	Put(fp string, data []byte) error
	// Delete removes the record for fp. Deleting an absent record is not an error.
	Delete(fp string) error
	// List returns the fingerprints of every stored record.
	List() ([]string, error)
	// Clear removes every stored record.
	Clear() error
}

// FileStore is a Store keeping one file per fingerprint under dir. The zero value is
// not usable; construct with NewFileStore.
//
// NewFileStore does not create dir: a missing directory reads as an empty cache, and
// writes into it fail. Init() is the explicit creation gate, so interactive hosts can
// ask the user before touching the filesystem and non-interactive ones never create
// it by surprise.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The caller resolves dir to the
// OS-appropriate application data path; this package does not guess.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory the store reads and writes.
func (s *FileStore) Dir() string {
	return s.dir
}

// Init creates the store directory if it does not exist. Call once, after whatever
// user consent the host application requires.
func (s *FileStore) Init() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return &errors.CacheError{Op: "init", Key: s.dir, Err: err}
	}
	return nil
}

func (s *FileStore) path(fp string) (string, error) {
	// Fingerprints are hex digests. Refusing anything else keeps a corrupt or
	// malicious fingerprint from escaping the cache directory.
	if fp == "" || strings.ContainsAny(fp, `/\.`) {
		return "", &errors.CacheError{Op: "key", Key: fp, Err: errors.New("invalid fingerprint")}
	}
	return filepath.Join(s.dir, fp), nil
}

// Get implements Store.Get.
func (s *FileStore) Get(fp string) ([]byte, error) {
	p, err := s.path(fp)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &errors.CacheError{Op: "get", Key: fp, Err: err}
	}
	return data, nil
}

// Put implements Store.Put. The write goes to a temporary file first and is renamed
// into place, so a concurrent reader never sees a half-written record.
func (s *FileStore) Put(fp string, data []byte) error {
	p, err := s.path(fp)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, fp+".tmp*")
	if err != nil {
		return &errors.CacheError{Op: "put", Key: fp, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &errors.CacheError{Op: "put", Key: fp, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &errors.CacheError{Op: "put", Key: fp, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return &errors.CacheError{Op: "put", Key: fp, Err: err}
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return &errors.CacheError{Op: "put", Key: fp, Err: err}
	}
	return nil
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(fp string) error {
	p, err := s.path(fp)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return &errors.CacheError{Op: "delete", Key: fp, Err: err}
	}
	return nil
}

// List implements Store.List. A missing directory lists as empty, not as an error.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errors.CacheError{Op: "list", Key: s.dir, Err: err}
	}
	fps := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp") {
			continue
		}
		fps = append(fps, e.Name())
	}
	return fps, nil
}

// Clear implements Store.Clear. The directory itself is kept.
func (s *FileStore) Clear() error {
	fps, err := s.List()
	if err != nil {
		return err
	}
	for _, fp := range fps {
		if err := s.Delete(fp); err != nil {
			return err
		}
	}
	return nil
}

var _ Store = (*FileStore)(nil)

// MemoryStore is a Store backed by a map. It is safe for concurrent use and handy in
// tests and in hosts that must never touch disk.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string][]byte{}}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(fp string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[fp]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(fp string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[fp] = cp
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fp)
	return nil
}

// List implements Store.List.
func (s *MemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fps := make([]string, 0, len(s.records))
	for fp := range s.records {
		fps = append(fps, fp)
	}
	return fps, nil
}

// Clear implements Store.Clear.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string][]byte{}
	return nil
}

var _ Store = (*MemoryStore)(nil)
