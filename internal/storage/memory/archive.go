// Package memory keeps archived snapshots in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Archive stores objects in a map and returns mem:// URIs.
type Archive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an empty in-memory archive.
func New() *Archive {
	return &Archive{objects: make(map[string][]byte)}
}

// Put stores the content of r under key.
func (a *Archive) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = data
	return "mem://" + key, nil
}

// Get returns the object stored under key.
func (a *Archive) Get(key string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[key]
	return data, ok
}

// Keys lists stored keys in order.
func (a *Archive) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.objects))
	for k := range a.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
