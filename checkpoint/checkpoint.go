// Copyright 2025 Coinrank Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint persists collection progress between process runs, so an
// interrupted run resumes from its last completed page instead of starting
// over. The store is a minimal key-value abstraction: the collector owns the
// payload encoding, and tests substitute the in-memory implementation.
package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"

	"github.com/coinrank/coinrank/db"
)

// Store is keyed by the run's logical date string. Implementations must make
// Put atomic: a crash mid-write may lose the new value but never the prior
// valid one.
type Store interface {
	// Put persists data under key, replacing any previous value.
	Put(key string, data []byte) error
	// Get returns the stored value, or ok=false when no checkpoint exists.
	Get(key string) ([]byte, bool, error)
	// Clear removes the value; clearing a missing key is not an error.
	Clear(key string) error
}

// FileStore keeps one JSON file per key in a directory.
type FileStore struct {
	dir string
}

var _ Store = &FileStore{}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// lazily on the first Put.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, "checkpoint_"+key+".json")
}

// Put implements Store. The write goes through a temporary file and a rename.
func (s *FileStore) Put(key string, data []byte) error {
	if err := db.WriteFileAtomic(s.path(key), data); err != nil {
		return errors.Annotate(err, "failed to store checkpoint '%s'", key)
	}
	return nil
}

// Get implements Store. A missing file is "no checkpoint", not an error.
func (s *FileStore) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Annotate(err, "failed to read checkpoint '%s'", key)
	}
	return data, true, nil
}

// Clear implements Store.
func (s *FileStore) Clear(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "failed to clear checkpoint '%s'", key)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	m map[string][]byte
}

var _ Store = &MemStore{}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

// Put implements Store.
func (s *MemStore) Put(key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.m[key] = cp
	return nil
}

// Get implements Store.
func (s *MemStore) Get(key string) ([]byte, bool, error) {
	data, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// Clear implements Store.
func (s *MemStore) Clear(key string) error {
	delete(s.m, key)
	return nil
}
