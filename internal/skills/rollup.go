package skills

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// Rollup recomputes per-company skill aggregates from job links. The
// aggregates are a cache; every run rebuilds them from the links.
type Rollup struct {
	jobs   pipeline.JobStore
	skills pipeline.SkillStore
	clock  pipeline.Clock
	logger *zap.Logger
}

func NewRollup(jobs pipeline.JobStore, skills pipeline.SkillStore, clock pipeline.Clock, logger *zap.Logger) *Rollup {
	return &Rollup{jobs: jobs, skills: skills, clock: clock, logger: logger}
}

// RollupCompany counts distinct jobs per skill across the company's jobs and
// upserts one aggregate row per skill. It returns the number of skills
// rolled up.
func (r *Rollup) RollupCompany(ctx context.Context, companyID string) (int, error) {
	jobIDs, err := r.jobs.ListCompanyJobIDs(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("list jobs for company %s: %w", companyID, err)
	}
	if len(jobIDs) == 0 {
		return 0, nil
	}

	counts, err := r.skills.CountSkillsByJob(ctx, jobIDs)
	if err != nil {
		return 0, fmt.Errorf("count skills for company %s: %w", companyID, err)
	}

	now := r.clock.Now()
	for skillID, jobCount := range counts {
		rollup := pipeline.SkillRollup{
			CompanyID:  companyID,
			SkillID:    skillID,
			JobCount:   jobCount,
			LastSeenAt: now,
		}
		if err := r.skills.UpsertRollup(ctx, rollup); err != nil {
			return 0, fmt.Errorf("upsert rollup %s/%s: %w", companyID, skillID, err)
		}
	}

	r.logger.Info("company rollup complete",
		zap.String("company_id", companyID),
		zap.Int("skills", len(counts)),
	)
	return len(counts), nil
}
