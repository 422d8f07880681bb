package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// SkillStore persists the skill catalog, job links, unmapped terms, and
// company rollups.
type SkillStore struct {
	pool   dbPool
	ids    pipeline.IDGenerator
	logger *zap.Logger
}

// NewSkillStore wires a SkillStore onto a shared pool.
func NewSkillStore(pool dbPool, ids pipeline.IDGenerator, logger *zap.Logger) *SkillStore {
	return &SkillStore{pool: pool, ids: ids, logger: logger}
}

func (s *SkillStore) ListSkills(ctx context.Context) ([]pipeline.Skill, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, canonical_name, skill_type, aliases FROM skill ORDER BY canonical_name")
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Skill
	for rows.Next() {
		var sk pipeline.Skill
		if err := rows.Scan(&sk.ID, &sk.CanonicalName, &sk.SkillType, &sk.Aliases); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, sk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}
	return out, nil
}

func (s *SkillStore) InsertJobSkill(ctx context.Context, link pipeline.JobSkill) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_skill (job_id, skill_id, evidence, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, skill_id) DO NOTHING`,
		link.JobID, link.SkillID, link.Evidence, link.Confidence)
	if err != nil {
		return fmt.Errorf("insert job skill: %w", err)
	}
	return nil
}

func (s *SkillStore) UpsertUnmapped(ctx context.Context, rawValue, exampleJobID string, seen time.Time) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate unmapped id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO skill_unmapped (id, raw_value, count, example_job_id, first_seen_at, last_seen_at)
		VALUES ($1, $2, 1, $3, $4, $4)
		ON CONFLICT (raw_value) DO UPDATE SET
			count = skill_unmapped.count + 1,
			last_seen_at = EXCLUDED.last_seen_at`,
		id, rawValue, exampleJobID, seen)
	if err != nil {
		return fmt.Errorf("upsert unmapped skill: %w", err)
	}
	return nil
}

func (s *SkillStore) CountSkillsByJob(ctx context.Context, jobIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(jobIDs) == 0 {
		return counts, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT skill_id, COUNT(DISTINCT job_id)
		FROM job_skill
		WHERE job_id = ANY($1)
		GROUP BY skill_id`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("count skills by job: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			skillID string
			n       int
		)
		if err := rows.Scan(&skillID, &n); err != nil {
			return nil, fmt.Errorf("scan skill count: %w", err)
		}
		counts[skillID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skill counts: %w", err)
	}
	return counts, nil
}

func (s *SkillStore) UpsertRollup(ctx context.Context, rollup pipeline.SkillRollup) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO company_skill_rollup (company_id, skill_id, job_count, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, skill_id) DO UPDATE SET
			job_count = EXCLUDED.job_count,
			last_seen_at = EXCLUDED.last_seen_at`,
		rollup.CompanyID, rollup.SkillID, rollup.JobCount, rollup.LastSeenAt)
	if err != nil {
		return fmt.Errorf("upsert skill rollup: %w", err)
	}
	return nil
}
