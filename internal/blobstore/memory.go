package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// MemoryBlobStore keeps payloads in-memory for development and tests.
type MemoryBlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{data: make(map[string][]byte)}
}

// Put stores a copy of data under the object key.
func (s *MemoryBlobStore) Put(_ context.Context, objectKey string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[objectKey] = append([]byte(nil), data...)
	return nil
}

// Fetch returns a copy of the stored bytes.
func (s *MemoryBlobStore) Fetch(_ context.Context, objectKey string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[objectKey]
	if !ok {
		return nil, fmt.Errorf("memory object %s: %w", objectKey, pipeline.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Len reports how many objects are stored.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
