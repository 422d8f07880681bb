// Package blobstore implements the content-addressed store for raw posting
// payloads. Identity (the content hash) comes from the payload bytes; the
// object key comes from posting identity plus fetch time, so re-fetching
// identical content later writes a new object while row-level dedup on the
// hash prevents a duplicate RawPosting row.
package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// Store wraps a blob provider with hashing and the raw-payload key scheme.
type Store struct {
	blobs  pipeline.BlobStore
	hasher pipeline.Hasher
	prefix string
}

// New constructs a Store. prefix defaults to "raw".
func New(blobs pipeline.BlobStore, hasher pipeline.Hasher, prefix string) *Store {
	if prefix == "" {
		prefix = "raw"
	}
	return &Store{blobs: blobs, hasher: hasher, prefix: prefix}
}

// ObjectKey builds the deterministic key for a payload version:
// {prefix}/{source_type}/{source_key}/{source_job_id}/{timestamp}.json
func (s *Store) ObjectKey(
	sourceType pipeline.SourceType,
	sourceKey, sourceJobID string,
	ts time.Time,
) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.json",
		s.prefix, sourceType, sourceKey, sourceJobID, ts.UTC().Format("20060102T150405Z"))
}

// Put writes the payload and returns its object key and content hash. The
// object is always written; callers dedup at the row level on the hash.
func (s *Store) Put(
	ctx context.Context,
	sourceType pipeline.SourceType,
	sourceKey, sourceJobID string,
	payload []byte,
	ts time.Time,
) (objectKey, contentHash string, err error) {
	contentHash, err = s.hasher.Hash(payload)
	if err != nil {
		return "", "", fmt.Errorf("hash payload: %w", err)
	}

	objectKey = s.ObjectKey(sourceType, sourceKey, sourceJobID, ts)
	if err := s.blobs.Put(ctx, objectKey, payload); err != nil {
		return "", "", fmt.Errorf("store payload %s: %w", objectKey, err)
	}
	return objectKey, contentHash, nil
}

// Fetch reads a payload back byte-exact.
func (s *Store) Fetch(ctx context.Context, objectKey string) ([]byte, error) {
	data, err := s.blobs.Fetch(ctx, objectKey)
	if err != nil {
		return nil, fmt.Errorf("fetch payload %s: %w", objectKey, err)
	}
	return data, nil
}
