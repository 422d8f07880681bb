package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/blobstore"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	"github.com/hiresignal/jobs-pipeline/internal/ratelimit"
	memstore "github.com/hiresignal/jobs-pipeline/internal/store/memory"
)

type seqIDs struct{ n int }

func (g *seqIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeBackend struct {
	name        string
	batchFn     func(reqs []Request) ([]Result, error)
	singleFn    func(req Request) (Extracted, error)
	batchCalls  int
	singleCalls int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) ExtractBatch(_ context.Context, reqs []Request) ([]Result, error) {
	b.batchCalls++
	return b.batchFn(reqs)
}

func (b *fakeBackend) ExtractSingle(_ context.Context, req Request) (Extracted, error) {
	b.singleCalls++
	if b.singleFn == nil {
		return Extracted{}, errors.New("no single extraction configured")
	}
	return b.singleFn(req)
}

type fixture struct {
	raw     *memstore.RawStore
	jobs    *memstore.JobStore
	skills  *memstore.SkillStore
	blobs   *blobstore.MemoryBlobStore
	tasks   *queue.MemoryQueue
	clock   fixedClock
	backend *fakeBackend
	tier2   *fakeBackend
}

func newFixture() *fixture {
	jobs := memstore.NewJobStore()
	return &fixture{
		raw:    memstore.NewRawStore(jobs),
		jobs:   jobs,
		skills: memstore.NewSkillStore(pipeline.Skill{ID: "sk-go", CanonicalName: "go", Aliases: []string{"golang"}}),
		blobs:  blobstore.NewMemoryBlobStore(),
		tasks:  queue.NewMemoryQueue(),
		clock:  fixedClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (f *fixture) orchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	limiter := ratelimit.NewMemoryLimiter(nil)
	var tier2 Backend
	if f.tier2 != nil {
		tier2 = f.tier2
	}
	return NewOrchestrator(
		f.raw, f.jobs, f.skills, f.blobs,
		f.backend, tier2,
		limiter, f.tasks, &seqIDs{}, f.clock, zap.NewNop(), cfg,
	)
}

// seedRaw stores a greenhouse payload and its raw posting row.
func (f *fixture) seedRaw(t *testing.T, jobID, content string) pipeline.RawPosting {
	t.Helper()
	ctx := context.Background()
	payload := fmt.Sprintf(`{"title":"Platform Engineer","company_name":"Acme","location":{"name":"Berlin"},"content":%q}`, content)
	objectKey := "raw/greenhouse/acme/" + jobID
	require.NoError(t, f.blobs.Put(ctx, objectKey, []byte(payload)))

	posting := pipeline.RawPosting{
		SourceType:  pipeline.SourceGreenhouse,
		SourceKey:   "acme",
		SourceJobID: jobID,
		FetchedAt:   f.clock.now,
		HTTPStatus:  200,
		ContentHash: "hash-" + jobID,
		ObjectKey:   objectKey,
	}
	created, err := f.raw.Insert(ctx, posting)
	require.NoError(t, err)
	require.True(t, created)
	stored, err := f.raw.ListPendingExtraction(ctx, 100)
	require.NoError(t, err)
	for _, row := range stored {
		if row.SourceJobID == jobID {
			return row
		}
	}
	t.Fatalf("seeded posting %s not pending", jobID)
	return pipeline.RawPosting{}
}

func structuredAnswer(ref string, confidence float64) Result {
	over := confidence
	raw := rawExtraction{
		JobRef:         ref,
		CompanyName:    "Acme",
		RoleTitle:      "Platform Engineer",
		SeniorityLevel: "senior",
		JobFunction:    "engineering",
		RemoteType:     "remote",
		EmploymentType: "full_time",
		JobSummary:     "Builds and runs the platform.",
		SkillsRaw:      []string{"Go", "golang"},
		Confidence:     &over,
	}
	parsed, _ := parseRef(ref)
	return structured(normalizeRaw(raw, parsed, "", ""))
}

func TestOrchestrator_RunBatchPersistsEverything(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedRaw(t, "1", "<p>Build the platform with Go.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			require.Len(t, reqs, 1)
			require.Equal(t, "Platform Engineer", reqs[0].Title)
			require.Equal(t, "Acme", reqs[0].Company)
			require.Equal(t, "Berlin", reqs[0].Location)
			return []Result{structuredAnswer(reqs[0].RefString, 0.9)}, nil
		},
	}

	o := f.orchestrator(t, Config{})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Pending)
	require.Equal(t, 1, report.Extracted)
	require.Zero(t, report.Failures)
	require.Zero(t, report.Tier2Queued)

	ctx := context.Background()
	ref := pipeline.JobRef{SourceType: pipeline.SourceGreenhouse, SourceKey: "acme", SourceJobID: "1"}
	job, err := f.jobs.GetJob(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "Platform Engineer", job.RoleTitle)
	require.Equal(t, pipeline.SenioritySenior, job.Seniority)
	require.Equal(t, 0.9, job.Confidence)
	require.False(t, job.NeedsTier2)
	require.NotEmpty(t, job.CompanyID)

	text, ok := f.jobs.JobText(job.ID)
	require.True(t, ok)
	require.Contains(t, text.CleanText, "Build the platform with Go.")

	links := f.skills.JobSkills(job.ID)
	require.Len(t, links, 1) // Go and golang collapse to one skill
	require.Equal(t, "sk-go", links[0].SkillID)

	// The batch left nothing pending and queued a rollup for the company.
	pendingAfter, err := f.raw.ListPendingExtraction(ctx, 100)
	require.NoError(t, err)
	require.Empty(t, pendingAfter)
	require.Equal(t, 1, f.tasks.Len(queue.TopicRollup))
}

func TestOrchestrator_LowConfidenceQueuesTier2(t *testing.T) {
	t.Parallel()

	f := newFixture()
	row := f.seedRaw(t, "1", "<p>Vague posting.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			return []Result{structuredAnswer(reqs[0].RefString, 0.4)}, nil
		},
	}
	f.tier2 = &fakeBackend{name: "tier2"}

	o := f.orchestrator(t, Config{Tier2Enabled: true})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Tier2Queued)

	ok, err := f.tasks.ReceiveOne(context.Background(), queue.TopicExtractTier2, func(_ context.Context, task queue.Task) error {
		require.Equal(t, row.ID, task.RawID)
		require.NotEmpty(t, task.JobID)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	job, err := f.jobs.GetJob(context.Background(), row.Ref())
	require.NoError(t, err)
	require.True(t, job.NeedsTier2)
}

func TestOrchestrator_MissingCompanyQueuesTier2(t *testing.T) {
	t.Parallel()

	f := newFixture()
	row := f.seedRaw(t, "1", "<p>Great role, unnamed employer.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			// High confidence, but the model gives no company. The metadata
			// backfill fills the name without masking the escalation.
			conf := 0.9
			raw := rawExtraction{
				JobRef:     reqs[0].RefString,
				RoleTitle:  "Platform Engineer",
				JobSummary: "Builds and runs the platform.",
				SkillsRaw:  []string{"Go"},
				Confidence: &conf,
			}
			parsed, _ := parseRef(reqs[0].RefString)
			e := normalizeRaw(raw, parsed, reqs[0].Title, reqs[0].Company)
			require.True(t, e.CompanyMissing)
			require.Equal(t, "Acme", e.CompanyName)
			return []Result{structured(e)}, nil
		},
	}
	f.tier2 = &fakeBackend{name: "tier2"}

	o := f.orchestrator(t, Config{Tier2Enabled: true})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Tier2Queued)

	job, err := f.jobs.GetJob(context.Background(), row.Ref())
	require.NoError(t, err)
	require.True(t, job.NeedsTier2)
	require.Equal(t, 1, f.tasks.Len(queue.TopicExtractTier2))
}

func TestOrchestrator_LongTextWithoutSkillsQueuesTier2(t *testing.T) {
	t.Parallel()

	f := newFixture()
	long := "<p>" + strings.Repeat("Own reliability work across the whole platform. ", 30) + "</p>"
	row := f.seedRaw(t, "1", long)
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			e := structuredAnswer(reqs[0].RefString, 0.9).Extracted
			e.SkillsRaw = nil
			e.ToolsRaw = nil
			return []Result{structured(e)}, nil
		},
	}
	f.tier2 = &fakeBackend{name: "tier2"}

	o := f.orchestrator(t, Config{Tier2Enabled: true})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Tier2Queued)

	job, err := f.jobs.GetJob(context.Background(), row.Ref())
	require.NoError(t, err)
	require.True(t, job.NeedsTier2)
}

func TestOrchestrator_ShortTextWithoutSkillsStaysTier1(t *testing.T) {
	t.Parallel()

	f := newFixture()
	row := f.seedRaw(t, "1", "<p>Short posting.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			e := structuredAnswer(reqs[0].RefString, 0.9).Extracted
			e.SkillsRaw = nil
			e.ToolsRaw = nil
			return []Result{structured(e)}, nil
		},
	}
	f.tier2 = &fakeBackend{name: "tier2"}

	o := f.orchestrator(t, Config{Tier2Enabled: true})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Tier2Queued)

	job, err := f.jobs.GetJob(context.Background(), row.Ref())
	require.NoError(t, err)
	require.False(t, job.NeedsTier2)
}

func TestOrchestrator_FallbackThenStub(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedRaw(t, "1", "<p>Unparseable.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			return []Result{needsFallback()}, nil
		},
		singleFn: func(Request) (Extracted, error) {
			return Extracted{}, errors.New("model keeps rambling")
		},
	}

	o := f.orchestrator(t, Config{FallbackAttempts: 2})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Fallbacks)
	require.Equal(t, 2, f.backend.singleCalls)

	job, err := f.jobs.GetJob(context.Background(), pipeline.JobRef{
		SourceType: pipeline.SourceGreenhouse, SourceKey: "acme", SourceJobID: "1",
	})
	require.NoError(t, err)
	require.Equal(t, fallbackConfidence, job.Confidence)
	require.Equal(t, "Platform Engineer", job.RoleTitle) // metadata survives
	require.Equal(t, "Acme", f.companyName(t, job.CompanyID))
}

func (f *fixture) companyName(t *testing.T, companyID string) string {
	t.Helper()
	company, err := f.jobs.GetOrCreateCompany(context.Background(), "Acme", "", f.clock.now)
	require.NoError(t, err)
	require.Equal(t, companyID, company.ID)
	return company.Name
}

func TestOrchestrator_FallbackSingleSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedRaw(t, "1", "<p>Tricky formatting.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			return []Result{needsFallback()}, nil
		},
		singleFn: func(req Request) (Extracted, error) {
			return structuredAnswer(req.RefString, 0.8).Extracted, nil
		},
	}

	o := f.orchestrator(t, Config{})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Fallbacks)
	require.Equal(t, 1, f.backend.singleCalls)

	job, err := f.jobs.GetJob(context.Background(), pipeline.JobRef{
		SourceType: pipeline.SourceGreenhouse, SourceKey: "acme", SourceJobID: "1",
	})
	require.NoError(t, err)
	require.Equal(t, 0.8, job.Confidence)
}

func TestOrchestrator_EmptyTextCreatesPlaceholder(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedRaw(t, "1", "")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func([]Request) ([]Result, error) {
			t.Fatal("batch must not run for empty-text postings")
			return nil, nil
		},
	}

	o := f.orchestrator(t, Config{})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Placeholders)
	require.Zero(t, f.backend.batchCalls)

	job, err := f.jobs.GetJob(context.Background(), pipeline.JobRef{
		SourceType: pipeline.SourceGreenhouse, SourceKey: "acme", SourceJobID: "1",
	})
	require.NoError(t, err)
	require.Equal(t, emptyConfidence, job.Confidence)

	_, ok := f.jobs.JobText(job.ID)
	require.False(t, ok)

	// The placeholder takes the identity out of the pending set.
	pending, err := f.raw.ListPendingExtraction(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOrchestrator_BatchTransportErrorPropagates(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.seedRaw(t, "1", "<p>Fine posting.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func([]Request) ([]Result, error) {
			return nil, errors.New("model host down")
		},
	}

	o := f.orchestrator(t, Config{})
	_, err := o.RunBatch(context.Background())
	require.Error(t, err)

	// Nothing persisted, everything still pending for the retry.
	pending, err := f.raw.ListPendingExtraction(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestOrchestrator_RunTier2OverwritesJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	row := f.seedRaw(t, "1", "<p>Vague posting.</p>")
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func(reqs []Request) ([]Result, error) {
			return []Result{structuredAnswer(reqs[0].RefString, 0.4)}, nil
		},
	}
	f.tier2 = &fakeBackend{
		name: "tier2",
		singleFn: func(req Request) (Extracted, error) {
			e := structuredAnswer(req.RefString, 0.95).Extracted
			e.RoleTitle = "Senior Platform Engineer"
			return e, nil
		},
	}

	o := f.orchestrator(t, Config{Tier2Enabled: true})
	_, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.RunTier2(context.Background(), row.ID))

	job, err := f.jobs.GetJob(context.Background(), row.Ref())
	require.NoError(t, err)
	require.Equal(t, "Senior Platform Engineer", job.RoleTitle)
	require.Equal(t, 0.95, job.Confidence)
	require.False(t, job.NeedsTier2)
	require.Equal(t, 1, f.tier2.singleCalls)
}

func TestOrchestrator_RunTier2DisabledIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend = &fakeBackend{name: "fake"}
	o := f.orchestrator(t, Config{})
	require.NoError(t, o.RunTier2(context.Background(), "whatever"))
}

func TestOrchestrator_EmptyPendingSet(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.backend = &fakeBackend{
		name: "fake",
		batchFn: func([]Request) ([]Result, error) {
			t.Fatal("batch must not run with nothing pending")
			return nil, nil
		},
	}

	o := f.orchestrator(t, Config{})
	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Pending)
	require.Zero(t, f.backend.batchCalls)
}
