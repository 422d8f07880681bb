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

const jobColumns = `id, company_id, source_type, source_key, source_job_id,
	role_title, seniority_level, job_function, department,
	location_city, location_state, location_country, remote_type, employment_type,
	salary_min_usd, salary_max_usd, job_summary, confidence, needs_tier2, updated_at`

// JobStore persists structured jobs, clean text, and companies.
type JobStore struct {
	pool   dbPool
	ids    pipeline.IDGenerator
	logger *zap.Logger
}

// NewJobStore wires a JobStore onto a shared pool.
func NewJobStore(pool dbPool, ids pipeline.IDGenerator, logger *zap.Logger) *JobStore {
	return &JobStore{pool: pool, ids: ids, logger: logger}
}

// UpsertJob creates or replaces the live job row for its posting identity
// and returns the surviving row's id.
func (s *JobStore) UpsertJob(ctx context.Context, job pipeline.StructuredJob) (string, error) {
	id := job.ID
	if id == "" {
		var err error
		id, err = s.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate job id: %w", err)
		}
	}
	var jobID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO job (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (source_type, source_key, source_job_id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			role_title = EXCLUDED.role_title,
			seniority_level = EXCLUDED.seniority_level,
			job_function = EXCLUDED.job_function,
			department = EXCLUDED.department,
			location_city = EXCLUDED.location_city,
			location_state = EXCLUDED.location_state,
			location_country = EXCLUDED.location_country,
			remote_type = EXCLUDED.remote_type,
			employment_type = EXCLUDED.employment_type,
			salary_min_usd = EXCLUDED.salary_min_usd,
			salary_max_usd = EXCLUDED.salary_max_usd,
			job_summary = EXCLUDED.job_summary,
			confidence = EXCLUDED.confidence,
			needs_tier2 = EXCLUDED.needs_tier2,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		id, job.CompanyID, string(job.SourceType), job.SourceKey, job.SourceJobID,
		job.RoleTitle, string(job.Seniority), string(job.Function), job.Department,
		job.LocationCity, job.LocationState, job.LocationCountry,
		string(job.RemoteType), string(job.EmploymentType),
		job.SalaryMinUSD, job.SalaryMaxUSD, job.Summary, job.Confidence, job.NeedsTier2,
		job.UpdatedAt).Scan(&jobID)
	if err != nil {
		return "", fmt.Errorf("upsert job: %w", err)
	}
	return jobID, nil
}

func (s *JobStore) GetJob(ctx context.Context, ref pipeline.JobRef) (pipeline.StructuredJob, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+jobColumns+" FROM job WHERE source_type = $1 AND source_key = $2 AND source_job_id = $3",
		string(ref.SourceType), ref.SourceKey, ref.SourceJobID)
	return scanJob(row)
}

func (s *JobStore) CreateJobTextOnce(ctx context.Context, text pipeline.JobText) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_text (job_id, clean_text, raw_excerpt)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO NOTHING`,
		text.JobID, text.CleanText, text.RawExcerpt)
	if err != nil {
		return fmt.Errorf("create job text: %w", err)
	}
	return nil
}

// GetOrCreateCompany inserts the company when absent and then reads back the
// earliest-created row for the name, so racing creators converge on one id.
func (s *JobStore) GetOrCreateCompany(ctx context.Context, name, domain string, now time.Time) (pipeline.Company, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.Company{}, fmt.Errorf("generate company id: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO company (id, name, domain, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING`,
		id, name, domain, now); err != nil {
		return pipeline.Company{}, fmt.Errorf("insert company: %w", err)
	}

	var c pipeline.Company
	err = s.pool.QueryRow(ctx, `
		SELECT id, name, domain, created_at
		FROM company
		WHERE name = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, name).Scan(&c.ID, &c.Name, &c.Domain, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Company{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Company{}, fmt.Errorf("read company: %w", err)
	}
	return c, nil
}

func (s *JobStore) ListCompanyJobIDs(ctx context.Context, companyID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM job WHERE company_id = $1 ORDER BY id", companyID)
	if err != nil {
		return nil, fmt.Errorf("list company jobs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job ids: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (pipeline.StructuredJob, error) {
	var (
		j          pipeline.StructuredJob
		srcType    string
		seniority  string
		function   string
		remoteType string
		employment string
	)
	err := row.Scan(&j.ID, &j.CompanyID, &srcType, &j.SourceKey, &j.SourceJobID,
		&j.RoleTitle, &seniority, &function, &j.Department,
		&j.LocationCity, &j.LocationState, &j.LocationCountry, &remoteType, &employment,
		&j.SalaryMinUSD, &j.SalaryMaxUSD, &j.Summary, &j.Confidence, &j.NeedsTier2,
		&j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.StructuredJob{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.StructuredJob{}, fmt.Errorf("scan job: %w", err)
	}
	j.SourceType = pipeline.SourceType(srcType)
	j.Seniority = pipeline.Seniority(seniority)
	j.Function = pipeline.JobFunction(function)
	j.RemoteType = pipeline.RemoteType(remoteType)
	j.EmploymentType = pipeline.EmploymentType(employment)
	return j, nil
}
