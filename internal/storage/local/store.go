package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store provides thread-safe JSON and blob file storage. Records live in
// <base>/<collection>/<id>.json, blobs in <base>/<collection>/<owner>/<key>.bin.
// Identifiers are path-escaped, so keys such as "timeline:exec" are safe.
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates a new local store
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// BasePath returns the store's root directory.
func (s *Store) BasePath() string { return s.basePath }

// Save persists data to a JSON file
func (s *Store) Save(collection, id string, data any) error {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.recordPath(collection, id), body)
}

// Load reads data from a JSON file
func (s *Store) Load(collection, id string, data any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := readFile(s.recordPath(collection, id))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, data); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Delete removes a JSON file
func (s *Store) Delete(collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.recordPath(collection, id))
}

// List returns all IDs in a collection
func (s *Store) List(collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDir(filepath.Join(s.basePath, collection), ".json")
}

// Exists checks if a record exists
func (s *Store) Exists(collection, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.recordPath(collection, id))
	return err == nil
}

// SaveBlob persists an opaque blob owned by owner.
func (s *Store) SaveBlob(collection, owner, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFile(s.blobPath(collection, owner, key), blob)
}

// LoadBlob reads a blob.
func (s *Store) LoadBlob(collection, owner, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readFile(s.blobPath(collection, owner, key))
}

// DeleteBlob removes a blob.
func (s *Store) DeleteBlob(collection, owner, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.blobPath(collection, owner, key))
}

// ListBlobs returns the keys of the blobs owned by owner.
func (s *Store) ListBlobs(collection, owner string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDir(filepath.Join(s.basePath, collection, escape(owner)), ".bin")
}

func (s *Store) recordPath(collection, id string) string {
	return filepath.Join(s.basePath, collection, escape(id)+".json")
}

func (s *Store) blobPath(collection, owner, key string) string {
	return filepath.Join(s.basePath, collection, escape(owner), escape(key)+".bin")
}

func escape(id string) string {
	return url.PathEscape(id)
}

// writeFile writes through a temporary file so readers never see a
// partially written record.
func writeFile(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return body, nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func listDir(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ext {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
