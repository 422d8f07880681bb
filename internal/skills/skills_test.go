package skills

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	memstore "github.com/hiresignal/jobs-pipeline/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testCatalog() []pipeline.Skill {
	return []pipeline.Skill{
		{ID: "sk-go", CanonicalName: "go", SkillType: "language", Aliases: []string{"golang"}},
		{ID: "sk-k8s", CanonicalName: "kubernetes", SkillType: "tool"},
		{ID: "sk-pg", CanonicalName: "postgresql", SkillType: "tool", Aliases: []string{"psql"}},
	}
}

func newTestMapper(t *testing.T, store *memstore.SkillStore) *Mapper {
	t.Helper()
	m, err := NewMapper(context.Background(), store, fixedClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  Kubernetes  ": "kubernetes",
		"K8s":            "kubernetes",
		"Node   JS":      "node.js",
		"Postgres":       "postgresql",
		"AWS":            "amazon web services",
		"rust":           "rust",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), in)
	}
}

func TestMapper_MatchByCanonicalAliasAndReplacement(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t, memstore.NewSkillStore(testCatalog()...))

	skill, ok := m.Match("Go")
	require.True(t, ok)
	require.Equal(t, "sk-go", skill.ID)

	skill, ok = m.Match("GoLang")
	require.True(t, ok)
	require.Equal(t, "sk-go", skill.ID)

	skill, ok = m.Match("k8s")
	require.True(t, ok)
	require.Equal(t, "sk-k8s", skill.ID)

	_, ok = m.Match("cobol")
	require.False(t, ok)
}

func TestMapper_SeedCatalogResolvesEveryAlias(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t, memstore.NewSkillStore(SeedCatalog()...))

	// Every replacement target must land on a seeded canonical name,
	// otherwise the rewritten value can never match the catalog.
	for raw, target := range aliasReplacements {
		skill, ok := m.Match(raw)
		require.True(t, ok, raw)
		require.Equal(t, target, skill.CanonicalName, raw)
	}

	for _, raw := range []string{"mssql", "MS SQL", "SQL Server", "Microsoft SQL Server"} {
		skill, ok := m.Match(raw)
		require.True(t, ok, raw)
		require.Equal(t, "skill-microsoft-sql-server", skill.ID, raw)
	}
}

func TestMapper_MapSkillsDedupesOnSkillID(t *testing.T) {
	t.Parallel()

	store := memstore.NewSkillStore(testCatalog()...)
	m := newTestMapper(t, store)

	result, err := m.MapSkills(context.Background(), "job-1",
		[]string{"Go", "golang", "Postgres"},
		[]string{"psql", "", "  "},
	)
	require.NoError(t, err)
	require.Equal(t, 2, result.Matched)
	require.Equal(t, 0, result.Unmapped)

	links := store.JobSkills("job-1")
	require.Len(t, links, 2)
	require.Equal(t, "sk-go", links[0].SkillID)
	require.Equal(t, "Go", links[0].Evidence) // first raw value wins
	require.Equal(t, "sk-pg", links[1].SkillID)
	require.Equal(t, 1.0, links[0].Confidence)
}

func TestMapper_MapSkillsRecordsUnmapped(t *testing.T) {
	t.Parallel()

	store := memstore.NewSkillStore(testCatalog()...)
	m := newTestMapper(t, store)

	result, err := m.MapSkills(context.Background(), "job-1", []string{"Fortran", "FORTRAN"}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, result.Matched)
	require.Equal(t, 1, result.Unmapped) // same normalized value counted once per job run

	row, ok := store.Unmapped("fortran")
	require.True(t, ok)
	require.Equal(t, 1, row.Count)
	require.Equal(t, "job-1", row.ExampleJobID)

	// A second job seeing the same value bumps the counter.
	_, err = m.MapSkills(context.Background(), "job-2", []string{"fortran"}, nil)
	require.NoError(t, err)
	row, ok = store.Unmapped("fortran")
	require.True(t, ok)
	require.Equal(t, 2, row.Count)
	require.Equal(t, "job-1", row.ExampleJobID)
}

func TestRollup_RollupCompany(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := memstore.NewJobStore()
	skillStore := memstore.NewSkillStore(testCatalog()...)
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	company, err := jobs.GetOrCreateCompany(ctx, "Acme", "", now)
	require.NoError(t, err)

	var jobIDs []string
	for _, ref := range []string{"j1", "j2"} {
		id, err := jobs.UpsertJob(ctx, pipeline.StructuredJob{
			CompanyID:   company.ID,
			SourceType:  pipeline.SourceGreenhouse,
			SourceKey:   "acme",
			SourceJobID: ref,
		})
		require.NoError(t, err)
		jobIDs = append(jobIDs, id)
	}
	for _, id := range jobIDs {
		require.NoError(t, skillStore.InsertJobSkill(ctx, pipeline.JobSkill{JobID: id, SkillID: "sk-go"}))
	}
	require.NoError(t, skillStore.InsertJobSkill(ctx, pipeline.JobSkill{JobID: jobIDs[0], SkillID: "sk-k8s"}))

	r := NewRollup(jobs, skillStore, fixedClock{now: now}, zap.NewNop())
	n, err := r.RollupCompany(ctx, company.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	goRollup, ok := skillStore.Rollup(company.ID, "sk-go")
	require.True(t, ok)
	require.Equal(t, 2, goRollup.JobCount)
	require.Equal(t, now, goRollup.LastSeenAt)

	k8sRollup, ok := skillStore.Rollup(company.ID, "sk-k8s")
	require.True(t, ok)
	require.Equal(t, 1, k8sRollup.JobCount)
}

func TestRollup_NoJobsIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRollup(memstore.NewJobStore(), memstore.NewSkillStore(), fixedClock{}, zap.NewNop())
	n, err := r.RollupCompany(context.Background(), "ghost")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
