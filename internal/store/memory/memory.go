// Package memory provides in-process store implementations for tests and
// broker-less local runs. All methods are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// SourceStore keeps sources in a map keyed by (type, key).
type SourceStore struct {
	mu      sync.Mutex
	seq     int
	sources map[pipeline.JobRef]*pipeline.Source // SourceJobID unused
	byID    map[string]*pipeline.Source
}

func NewSourceStore() *SourceStore {
	return &SourceStore{
		sources: make(map[pipeline.JobRef]*pipeline.Source),
		byID:    make(map[string]*pipeline.Source),
	}
}

func sourceKey(sourceType pipeline.SourceType, key string) pipeline.JobRef {
	return pipeline.JobRef{SourceType: sourceType, SourceKey: key}
}

func (s *SourceStore) Register(_ context.Context, sourceType pipeline.SourceType, key string, firstSeen time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sourceKey(sourceType, key)
	if _, ok := s.sources[k]; ok {
		return false, nil
	}
	s.seq++
	src := &pipeline.Source{
		ID:          fmt.Sprintf("src-%d", s.seq),
		SourceType:  sourceType,
		SourceKey:   key,
		Status:      pipeline.SourceStatusCandidate,
		FirstSeenAt: firstSeen,
	}
	s.sources[k] = src
	s.byID[src.ID] = src
	return true, nil
}

func (s *SourceStore) Get(_ context.Context, sourceType pipeline.SourceType, key string) (pipeline.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceKey(sourceType, key)]
	if !ok {
		return pipeline.Source{}, pipeline.ErrNotFound
	}
	return *src, nil
}

func (s *SourceStore) GetByID(_ context.Context, id string) (pipeline.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.byID[id]
	if !ok {
		return pipeline.Source{}, pipeline.ErrNotFound
	}
	return *src, nil
}

func (s *SourceStore) SetValidation(_ context.Context, id string, status pipeline.SourceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.byID[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	src.Status = status
	t := at
	src.LastValidatedAt = &t
	return nil
}

func (s *SourceStore) MarkScraped(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.byID[id]
	if !ok {
		return pipeline.ErrNotFound
	}
	t := at
	src.LastScrapedAt = &t
	return nil
}

func (s *SourceStore) SelectForScrape(_ context.Context, limit int) ([]pipeline.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.Source
	for _, src := range s.byID {
		if src.Status == pipeline.SourceStatusValid {
			out = append(out, *src)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastScrapedAt, out[j].LastScrapedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type rawKey struct {
	ref  pipeline.JobRef
	hash string
}

// RawStore keeps raw posting rows keyed by the content 4-tuple. The pending
// query anti-joins against the job store when one is attached, matching the
// relational behavior.
type RawStore struct {
	mu    sync.Mutex
	seq   int
	rows  map[rawKey]*pipeline.RawPosting
	byID  map[string]*pipeline.RawPosting
	order []string
	jobs  *JobStore
}

// NewRawStore builds a raw store. jobs may be nil, in which case every
// identity stays pending.
func NewRawStore(jobs *JobStore) *RawStore {
	return &RawStore{
		rows: make(map[rawKey]*pipeline.RawPosting),
		byID: make(map[string]*pipeline.RawPosting),
		jobs: jobs,
	}
}

func (s *RawStore) Insert(_ context.Context, posting pipeline.RawPosting) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rawKey{ref: posting.Ref(), hash: posting.ContentHash}
	if _, ok := s.rows[k]; ok {
		return false, nil
	}
	s.seq++
	if posting.ID == "" {
		posting.ID = fmt.Sprintf("raw-%d", s.seq)
	}
	row := posting
	s.rows[k] = &row
	s.byID[row.ID] = &row
	s.order = append(s.order, row.ID)
	return true, nil
}

func (s *RawStore) HasRef(_ context.Context, ref pipeline.JobRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.rows {
		if k.ref == ref {
			return true, nil
		}
	}
	return false, nil
}

func (s *RawStore) GetByID(_ context.Context, id string) (pipeline.RawPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return pipeline.RawPosting{}, pipeline.ErrNotFound
	}
	return *row, nil
}

func (s *RawStore) ListPendingExtraction(ctx context.Context, limit int) ([]pipeline.RawPosting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := make(map[pipeline.JobRef]*pipeline.RawPosting)
	for _, id := range s.order {
		row := s.byID[id]
		ref := row.Ref()
		if s.jobs != nil {
			if _, err := s.jobs.GetJob(ctx, ref); err == nil {
				continue
			}
		}
		cur, ok := newest[ref]
		if !ok || row.FetchedAt.After(cur.FetchedAt) {
			newest[ref] = row
		}
	}

	var out []pipeline.RawPosting
	for _, row := range newest {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// JobStore keeps structured jobs, job text, and companies.
type JobStore struct {
	mu        sync.Mutex
	seq       int
	jobs      map[pipeline.JobRef]*pipeline.StructuredJob
	byID      map[string]*pipeline.StructuredJob
	texts     map[string]pipeline.JobText
	companies map[string]*pipeline.Company // keyed by name
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[pipeline.JobRef]*pipeline.StructuredJob),
		byID:      make(map[string]*pipeline.StructuredJob),
		texts:     make(map[string]pipeline.JobText),
		companies: make(map[string]*pipeline.Company),
	}
}

func (s *JobStore) UpsertJob(_ context.Context, job pipeline.StructuredJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := job.Ref()
	if existing, ok := s.jobs[ref]; ok {
		job.ID = existing.ID
	} else if job.ID == "" {
		s.seq++
		job.ID = fmt.Sprintf("job-%d", s.seq)
	}
	row := job
	s.jobs[ref] = &row
	s.byID[row.ID] = &row
	return row.ID, nil
}

func (s *JobStore) GetJob(_ context.Context, ref pipeline.JobRef) (pipeline.StructuredJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[ref]
	if !ok {
		return pipeline.StructuredJob{}, pipeline.ErrNotFound
	}
	return *job, nil
}

func (s *JobStore) CreateJobTextOnce(_ context.Context, text pipeline.JobText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.texts[text.JobID]; ok {
		return nil
	}
	s.texts[text.JobID] = text
	return nil
}

// JobText returns the stored text for assertions.
func (s *JobStore) JobText(jobID string) (pipeline.JobText, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.texts[jobID]
	return t, ok
}

func (s *JobStore) GetOrCreateCompany(_ context.Context, name, domain string, now time.Time) (pipeline.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.companies[name]; ok {
		return *c, nil
	}
	s.seq++
	c := &pipeline.Company{
		ID:        fmt.Sprintf("co-%d", s.seq),
		Name:      name,
		Domain:    domain,
		CreatedAt: now,
	}
	s.companies[name] = c
	return *c, nil
}

func (s *JobStore) ListCompanyJobIDs(_ context.Context, companyID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, job := range s.byID {
		if job.CompanyID == companyID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

type jobSkillKey struct{ jobID, skillID string }

// SkillStore keeps the catalog, job links, unmapped terms, and rollups.
type SkillStore struct {
	mu       sync.Mutex
	seq      int
	skills   []pipeline.Skill
	links    map[jobSkillKey]pipeline.JobSkill
	unmapped map[string]*pipeline.UnmappedSkill
	rollups  map[string]pipeline.SkillRollup // company+skill
}

func NewSkillStore(catalog ...pipeline.Skill) *SkillStore {
	return &SkillStore{
		skills:   append([]pipeline.Skill(nil), catalog...),
		links:    make(map[jobSkillKey]pipeline.JobSkill),
		unmapped: make(map[string]*pipeline.UnmappedSkill),
		rollups:  make(map[string]pipeline.SkillRollup),
	}
}

func (s *SkillStore) ListSkills(_ context.Context) ([]pipeline.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.Skill(nil), s.skills...), nil
}

func (s *SkillStore) InsertJobSkill(_ context.Context, link pipeline.JobSkill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := jobSkillKey{jobID: link.JobID, skillID: link.SkillID}
	if _, ok := s.links[k]; ok {
		return nil
	}
	s.links[k] = link
	return nil
}

// JobSkills returns the links recorded for a job, ordered by skill id.
func (s *SkillStore) JobSkills(jobID string) []pipeline.JobSkill {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pipeline.JobSkill
	for k, link := range s.links {
		if k.jobID == jobID {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out
}

func (s *SkillStore) UpsertUnmapped(_ context.Context, rawValue, exampleJobID string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.unmapped[rawValue]; ok {
		u.Count++
		u.LastSeenAt = seen
		return nil
	}
	s.seq++
	s.unmapped[rawValue] = &pipeline.UnmappedSkill{
		ID:           fmt.Sprintf("unm-%d", s.seq),
		RawValue:     rawValue,
		Count:        1,
		ExampleJobID: exampleJobID,
		FirstSeenAt:  seen,
		LastSeenAt:   seen,
	}
	return nil
}

// Unmapped returns the tracked row for a normalized value.
func (s *SkillStore) Unmapped(rawValue string) (pipeline.UnmappedSkill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.unmapped[rawValue]
	if !ok {
		return pipeline.UnmappedSkill{}, false
	}
	return *u, true
}

func (s *SkillStore) CountSkillsByJob(_ context.Context, jobIDs []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		want[id] = struct{}{}
	}
	counts := make(map[string]int)
	for k := range s.links {
		if _, ok := want[k.jobID]; ok {
			counts[k.skillID]++
		}
	}
	return counts, nil
}

func (s *SkillStore) UpsertRollup(_ context.Context, rollup pipeline.SkillRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups[rollup.CompanyID+"/"+rollup.SkillID] = rollup
	return nil
}

// Rollup returns the stored aggregate for a company and skill.
func (s *SkillStore) Rollup(companyID, skillID string) (pipeline.SkillRollup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollups[companyID+"/"+skillID]
	return r, ok
}
