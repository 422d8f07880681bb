// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// SourceType identifies the career-board provider a source belongs to.
type SourceType string

// Supported providers.
const (
	SourceGreenhouse SourceType = "greenhouse"
	SourceLever      SourceType = "lever"
)

// SourceStatus represents the lifecycle state of a discovered source.
type SourceStatus string

// Source status values persisted in the source store.
const (
	SourceStatusCandidate SourceStatus = "candidate"
	SourceStatusValid     SourceStatus = "valid"
	SourceStatusInvalid   SourceStatus = "invalid"
)

// InvalidRevalidateAfter is how long an invalid source stays out of the
// validation rotation. Validation failures reset the clock.
const InvalidRevalidateAfter = 7 * 24 * time.Hour

// Source is one company's career-board feed, identified by
// (source_type, source_key). The pair is globally unique.
type Source struct {
	ID              string       `json:"id"`
	SourceType      SourceType   `json:"source_type"`
	SourceKey       string       `json:"source_key"`
	Status          SourceStatus `json:"status"`
	CompanyID       string       `json:"company_id,omitempty"`
	FirstSeenAt     time.Time    `json:"first_seen_at"`
	LastValidatedAt *time.Time   `json:"last_validated_at,omitempty"`
	LastScrapedAt   *time.Time   `json:"last_scraped_at,omitempty"`
}

// RevalidationDue reports whether an invalid source has aged out of its
// cooldown. Candidate and valid sources are always eligible.
func (s Source) RevalidationDue(now time.Time) bool {
	if s.Status != SourceStatusInvalid || s.LastValidatedAt == nil {
		return true
	}
	return !now.Before(s.LastValidatedAt.Add(InvalidRevalidateAfter))
}

// RawPosting is an append-only record of one fetched payload version.
// (source_type, source_key, source_job_id, content_hash) is unique: the same
// content for the same job is stored once, while a content change under the
// same job id adds a new row.
type RawPosting struct {
	ID          string     `json:"id"`
	SourceType  SourceType `json:"source_type"`
	SourceKey   string     `json:"source_key"`
	SourceJobID string     `json:"source_job_id"`
	URL         string     `json:"url"`
	FetchedAt   time.Time  `json:"fetched_at"`
	HTTPStatus  int        `json:"http_status"`
	ContentHash string     `json:"content_hash"`
	ObjectKey   string     `json:"object_key"`
}

// JobRef is the cross-store identity of an external posting.
type JobRef struct {
	SourceType  SourceType `json:"source_type"`
	SourceKey   string     `json:"source_key"`
	SourceJobID string     `json:"source_job_id"`
}

// Ref returns the posting identity of a raw posting.
func (r RawPosting) Ref() JobRef {
	return JobRef{SourceType: r.SourceType, SourceKey: r.SourceKey, SourceJobID: r.SourceJobID}
}

// StructuredJob is the single live extraction result per external posting,
// upserted by JobRef. Enum fields are never empty: unparseable input lands on
// unknown/other.
type StructuredJob struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"company_id"`
	SourceType  SourceType `json:"source_type"`
	SourceKey   string     `json:"source_key"`
	SourceJobID string     `json:"source_job_id"`

	RoleTitle       string         `json:"role_title"`
	Seniority       Seniority      `json:"seniority_level"`
	Function        JobFunction    `json:"job_function"`
	Department      string         `json:"department,omitempty"`
	LocationCity    string         `json:"location_city,omitempty"`
	LocationState   string         `json:"location_state,omitempty"`
	LocationCountry string         `json:"location_country,omitempty"`
	RemoteType      RemoteType     `json:"remote_type"`
	EmploymentType  EmploymentType `json:"employment_type"`

	SalaryMinUSD *int `json:"salary_min_usd,omitempty"`
	SalaryMaxUSD *int `json:"salary_max_usd,omitempty"`

	Summary    string  `json:"job_summary"`
	Confidence float64 `json:"confidence"`
	NeedsTier2 bool    `json:"needs_tier2"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Ref returns the posting identity of a structured job.
func (j StructuredJob) Ref() JobRef {
	return JobRef{SourceType: j.SourceType, SourceKey: j.SourceKey, SourceJobID: j.SourceJobID}
}

// JobText holds the cleaned description for a structured job. Written once
// at first extraction and never overwritten.
type JobText struct {
	JobID      string `json:"job_id"`
	CleanText  string `json:"clean_text"`
	RawExcerpt string `json:"raw_excerpt"`
}

// Company is created on demand during extraction. Concurrent creators racing
// on the same name are resolved by an earliest-created-row tie-break read.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Skill is a canonical catalog entry. Canonical name and aliases are stored
// lowercase.
type Skill struct {
	ID            string   `json:"id"`
	CanonicalName string   `json:"canonical_name"`
	SkillType     string   `json:"skill_type"`
	Aliases       []string `json:"aliases"`
}

// JobSkill links a job to a canonical skill. (job_id, skill_id) is unique;
// Evidence keeps the first raw string that resolved to the skill.
type JobSkill struct {
	JobID      string  `json:"job_id"`
	SkillID    string  `json:"skill_id"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
}

// UnmappedSkill tracks raw skill strings with no catalog match, keyed by the
// normalized value. A triage backlog for catalog curation, never auto-applied.
type UnmappedSkill struct {
	ID           string    `json:"id"`
	RawValue     string    `json:"raw_value"`
	Count        int       `json:"count"`
	ExampleJobID string    `json:"example_job_id"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// SkillRollup is a recomputable aggregate of distinct jobs per skill per
// company. A cache, not a source of truth.
type SkillRollup struct {
	CompanyID  string    `json:"company_id"`
	SkillID    string    `json:"skill_id"`
	JobCount   int       `json:"job_count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// RawJob is one posting as produced by a scraper, before persistence.
type RawJob struct {
	SourceType  SourceType
	SourceKey   string
	SourceJobID string
	URL         string
	Payload     []byte
	FetchedAt   time.Time
}
