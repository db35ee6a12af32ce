package testmap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

var extensions = []string{".yaml", ".yml", ".json"}

// DirProvider resolves test identifiers to files in a directory: the test
// "math-101" is read from math-101.yaml, math-101.yml or math-101.json.
// Loaded maps are cached; they are never modified after indexing.
type DirProvider struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*domain.TestMap
}

// NewDirProvider creates a provider reading from dir
func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{dir: dir, cache: make(map[string]*domain.TestMap)}
}

// Get returns the indexed map of a test
func (p *DirProvider) Get(_ context.Context, testID string) (*domain.TestMap, error) {
	p.mu.RLock()
	m, ok := p.cache[testID]
	p.mu.RUnlock()
	if ok {
		return m, nil
	}

	if testID == "" || strings.ContainsAny(testID, `/\`) || strings.HasPrefix(testID, ".") {
		return nil, fmt.Errorf("%w: invalid test identifier %q", domain.ErrInvalidInput, testID)
	}

	path, err := p.find(testID)
	if err != nil {
		return nil, err
	}
	m, err = LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load test %s: %w", testID, err)
	}
	if m.ID == "" {
		m.ID = testID
	}

	p.mu.Lock()
	if cached, ok := p.cache[testID]; ok {
		m = cached
	} else {
		p.cache[testID] = m
	}
	p.mu.Unlock()
	return m, nil
}

// List returns the identifiers of the tests in the directory
func (p *DirProvider) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read tests directory: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !isDefinition(ext) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops a cached map so the next Get reloads it
func (p *DirProvider) Invalidate(testID string) {
	p.mu.Lock()
	delete(p.cache, testID)
	p.mu.Unlock()
}

func (p *DirProvider) find(testID string) (string, error) {
	for _, ext := range extensions {
		path := filepath.Join(p.dir, testID+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrTestMapNotFound, testID)
}

func isDefinition(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}
