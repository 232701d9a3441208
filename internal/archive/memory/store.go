// Package memory provides an in-memory blob store for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Object is one stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// Store keeps blobs in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{objects: make(map[string]Object)}
}

// PutObject stores the blob and returns a mem:// URI.
func (s *Store) PutObject(_ context.Context, path string, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[path] = Object{ContentType: contentType, Data: cp}
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns a stored blob.
func (s *Store) Get(path string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len reports how many blobs are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
