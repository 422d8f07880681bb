package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

const sourceColumns = "id, source_type, source_key, status, company_id, first_seen_at, last_validated_at, last_scraped_at"

// SourceStore persists discovered sources in the company_source table.
type SourceStore struct {
	pool   dbPool
	ids    pipeline.IDGenerator
	logger *zap.Logger
}

// NewSourceStore wires a SourceStore onto a shared pool.
func NewSourceStore(pool dbPool, ids pipeline.IDGenerator, logger *zap.Logger) *SourceStore {
	return &SourceStore{pool: pool, ids: ids, logger: logger}
}

func (s *SourceStore) Register(ctx context.Context, sourceType pipeline.SourceType, sourceKey string, firstSeen time.Time) (bool, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate source id: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO company_source (id, source_type, source_key, status, first_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_type, source_key) DO NOTHING`,
		id, string(sourceType), sourceKey, string(pipeline.SourceStatusCandidate), firstSeen)
	if err != nil {
		return false, fmt.Errorf("register source: %w", err)
	}
	created := tag.RowsAffected() == 1
	if created {
		s.logger.Debug("registered source",
			zap.String("source_type", string(sourceType)),
			zap.String("source_key", sourceKey))
	}
	return created, nil
}

func (s *SourceStore) Get(ctx context.Context, sourceType pipeline.SourceType, sourceKey string) (pipeline.Source, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sourceColumns+" FROM company_source WHERE source_type = $1 AND source_key = $2",
		string(sourceType), sourceKey)
	return scanSource(row)
}

func (s *SourceStore) GetByID(ctx context.Context, id string) (pipeline.Source, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sourceColumns+" FROM company_source WHERE id = $1", id)
	return scanSource(row)
}

func (s *SourceStore) SetValidation(ctx context.Context, id string, status pipeline.SourceStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE company_source SET status = $2, last_validated_at = $3 WHERE id = $1",
		id, string(status), at)
	if err != nil {
		return fmt.Errorf("set validation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func (s *SourceStore) MarkScraped(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE company_source SET last_scraped_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("mark scraped: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func (s *SourceStore) SelectForScrape(ctx context.Context, limit int) ([]pipeline.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sourceColumns+`
		FROM company_source
		WHERE status = $1
		ORDER BY last_scraped_at ASC NULLS FIRST, id ASC
		LIMIT $2`,
		string(pipeline.SourceStatusValid), limit)
	if err != nil {
		return nil, fmt.Errorf("select sources for scrape: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func scanSource(row pgx.Row) (pipeline.Source, error) {
	var (
		src       pipeline.Source
		srcType   string
		status    string
		companyID *string
	)
	err := row.Scan(&src.ID, &srcType, &src.SourceKey, &status, &companyID,
		&src.FirstSeenAt, &src.LastValidatedAt, &src.LastScrapedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Source{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.SourceType = pipeline.SourceType(srcType)
	src.Status = pipeline.SourceStatus(status)
	if companyID != nil {
		src.CompanyID = *companyID
	}
	return src, nil
}
