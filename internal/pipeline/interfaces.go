package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// SourceStore persists discovered sources and their lifecycle state.
type SourceStore interface {
	// Register inserts a candidate source if the (type, key) pair is absent.
	// It reports whether a new row was created; idempotent under concurrent
	// discovery.
	Register(ctx context.Context, sourceType SourceType, sourceKey string, firstSeen time.Time) (bool, error)
	Get(ctx context.Context, sourceType SourceType, sourceKey string) (Source, error)
	GetByID(ctx context.Context, id string) (Source, error)
	// SetValidation records a validation outcome and its timestamp.
	SetValidation(ctx context.Context, id string, status SourceStatus, at time.Time) error
	// MarkScraped updates last_scraped_at after a successful scrape.
	MarkScraped(ctx context.Context, id string, at time.Time) error
	// SelectForScrape returns valid sources ordered by last_scraped_at
	// ascending with never-scraped sources first.
	SelectForScrape(ctx context.Context, limit int) ([]Source, error)
}

// RawStore persists raw posting rows keyed by the content 4-tuple.
type RawStore interface {
	// Insert adds a raw posting unless the (type, key, job id, hash) tuple
	// already exists. It reports whether a row was created.
	Insert(ctx context.Context, posting RawPosting) (bool, error)
	// HasRef reports whether any version of the posting identity exists.
	HasRef(ctx context.Context, ref JobRef) (bool, error)
	GetByID(ctx context.Context, id string) (RawPosting, error)
	// ListPendingExtraction returns the newest raw posting per identity that
	// has no structured job yet (anti-join).
	ListPendingExtraction(ctx context.Context, limit int) ([]RawPosting, error)
}

// JobStore persists structured jobs, their clean text, and companies.
type JobStore interface {
	// UpsertJob creates or overwrites the job for its identity and returns
	// the job id.
	UpsertJob(ctx context.Context, job StructuredJob) (string, error)
	GetJob(ctx context.Context, ref JobRef) (StructuredJob, error)
	// CreateJobTextOnce writes the clean text if no row exists for the job.
	CreateJobTextOnce(ctx context.Context, text JobText) error
	// GetOrCreateCompany resolves a company by name, creating it when absent.
	// Racing creators converge on the earliest-created row.
	GetOrCreateCompany(ctx context.Context, name, domain string, now time.Time) (Company, error)
	ListCompanyJobIDs(ctx context.Context, companyID string) ([]string, error)
}

// SkillStore persists the catalog, job links, unmapped terms, and rollups.
type SkillStore interface {
	ListSkills(ctx context.Context) ([]Skill, error)
	// InsertJobSkill links a job to a skill unless the pair already exists.
	InsertJobSkill(ctx context.Context, link JobSkill) error
	// UpsertUnmapped increments the counter for a normalized raw value,
	// creating the row on first sight.
	UpsertUnmapped(ctx context.Context, rawValue, exampleJobID string, seen time.Time) error
	CountSkillsByJob(ctx context.Context, jobIDs []string) (map[string]int, error)
	UpsertRollup(ctx context.Context, rollup SkillRollup) error
}

// BlobStore writes raw payloads and reads them back byte-exact.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, data []byte) error
	Fetch(ctx context.Context, objectKey string) ([]byte, error)
}

// HostLimiter gates outbound calls against a shared per-host budget.
// Acquire returns a release func that must run even when the caller fails.
type HostLimiter interface {
	Acquire(ctx context.Context, host string, wait bool, maxWait time.Duration) (release func(), err error)
	// ConsumeTokens blocks until the host's rolling one-minute token budget
	// has headroom for n tokens. Only meaningful for LLM hosts.
	ConsumeTokens(ctx context.Context, host string, n int, wait bool, maxWait time.Duration) error
}

// Scraper produces the postings of one source. List pushes each posting to
// fn; the sequence is finite and every call re-fetches.
type Scraper interface {
	SourceType() SourceType
	List(ctx context.Context, fn func(RawJob) error) error
	// Validate performs the provider-specific minimal-request check.
	Validate(ctx context.Context) error
}

// Hasher computes digests for content-addressed dedup.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
