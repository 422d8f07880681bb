package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

const rawColumns = "id, source_type, source_key, source_job_id, url, fetched_at, http_status, content_hash, object_key"

// RawStore persists raw posting rows in the append-only job_raw table.
type RawStore struct {
	pool   dbPool
	logger *zap.Logger
}

// NewRawStore wires a RawStore onto a shared pool.
func NewRawStore(pool dbPool, logger *zap.Logger) *RawStore {
	return &RawStore{pool: pool, logger: logger}
}

func (s *RawStore) Insert(ctx context.Context, posting pipeline.RawPosting) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO job_raw (id, source_type, source_key, source_job_id, url, fetched_at, http_status, content_hash, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_type, source_key, source_job_id, content_hash) DO NOTHING`,
		posting.ID, string(posting.SourceType), posting.SourceKey, posting.SourceJobID,
		posting.URL, posting.FetchedAt, posting.HTTPStatus, posting.ContentHash, posting.ObjectKey)
	if err != nil {
		return false, fmt.Errorf("insert raw posting: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *RawStore) HasRef(ctx context.Context, ref pipeline.JobRef) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM job_raw
			WHERE source_type = $1 AND source_key = $2 AND source_job_id = $3
		)`,
		string(ref.SourceType), ref.SourceKey, ref.SourceJobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check raw ref: %w", err)
	}
	return exists, nil
}

func (s *RawStore) GetByID(ctx context.Context, id string) (pipeline.RawPosting, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+rawColumns+" FROM job_raw WHERE id = $1", id)
	return scanRaw(row)
}

// ListPendingExtraction selects the newest raw row per posting identity that
// has no structured job yet.
func (s *RawStore) ListPendingExtraction(ctx context.Context, limit int) ([]pipeline.RawPosting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (r.source_type, r.source_key, r.source_job_id) `+prefixedRawColumns()+`
		FROM job_raw r
		LEFT JOIN job j
			ON j.source_type = r.source_type
			AND j.source_key = r.source_key
			AND j.source_job_id = r.source_job_id
		WHERE j.id IS NULL
		ORDER BY r.source_type, r.source_key, r.source_job_id, r.fetched_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending extraction: %w", err)
	}
	defer rows.Close()

	var out []pipeline.RawPosting
	for rows.Next() {
		p, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending raw postings: %w", err)
	}
	return out, nil
}

func prefixedRawColumns() string {
	return "r.id, r.source_type, r.source_key, r.source_job_id, r.url, r.fetched_at, r.http_status, r.content_hash, r.object_key"
}

func scanRaw(row pgx.Row) (pipeline.RawPosting, error) {
	var (
		p       pipeline.RawPosting
		srcType string
	)
	err := row.Scan(&p.ID, &srcType, &p.SourceKey, &p.SourceJobID, &p.URL,
		&p.FetchedAt, &p.HTTPStatus, &p.ContentHash, &p.ObjectKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.RawPosting{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.RawPosting{}, fmt.Errorf("scan raw posting: %w", err)
	}
	p.SourceType = pipeline.SourceType(srcType)
	return p, nil
}
