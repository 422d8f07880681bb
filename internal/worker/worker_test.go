package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hiresignal/jobs-pipeline/internal/blobstore"
	hashsha "github.com/hiresignal/jobs-pipeline/internal/hash/sha256"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	memstore "github.com/hiresignal/jobs-pipeline/internal/store/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	prefix string
	n      int
}

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n), nil
}

type stubScraper struct {
	sourceType pipeline.SourceType
	jobs       []pipeline.RawJob
	listErr    error
}

func (s *stubScraper) SourceType() pipeline.SourceType { return s.sourceType }

func (s *stubScraper) List(_ context.Context, fn func(pipeline.RawJob) error) error {
	if s.listErr != nil {
		return s.listErr
	}
	for _, j := range s.jobs {
		if err := fn(j); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubScraper) Validate(context.Context) error { return nil }

type stubFactory struct{ scraper *stubScraper }

func (f stubFactory) ForSource(pipeline.SourceType, string) (pipeline.Scraper, error) {
	return f.scraper, nil
}

func TestIngestorStoresNewPostingsAndEnqueuesExtraction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	sources := memstore.NewSourceStore()
	jobs := memstore.NewJobStore()
	raws := memstore.NewRawStore(jobs)
	blobs := blobstore.New(blobstore.NewMemoryBlobStore(), hashsha.New(), "raw")
	tasks := queue.NewMemoryQueue()

	_, err := sources.Register(ctx, pipeline.SourceGreenhouse, "acme", now)
	require.NoError(t, err)
	src, err := sources.Get(ctx, pipeline.SourceGreenhouse, "acme")
	require.NoError(t, err)

	scraper := &stubScraper{
		sourceType: pipeline.SourceGreenhouse,
		jobs: []pipeline.RawJob{
			{SourceType: pipeline.SourceGreenhouse, SourceKey: "acme", SourceJobID: "101",
				URL: "https://boards.greenhouse.io/acme/jobs/101", Payload: []byte(`{"id":101}`), FetchedAt: now},
			{SourceType: pipeline.SourceGreenhouse, SourceKey: "acme", SourceJobID: "102",
				URL: "https://boards.greenhouse.io/acme/jobs/102", Payload: []byte(`{"id":102}`), FetchedAt: now},
		},
	}

	ing := NewIngestor(sources, raws, blobs, stubFactory{scraper}, tasks,
		&seqIDs{prefix: "id"}, fixedClock{now}, zap.NewNop())

	report, err := ing.IngestSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, 2, report.Seen)
	require.Equal(t, 2, report.Stored)
	require.Equal(t, 0, report.Duplicates)

	pending, err := raws.ListPendingExtraction(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	updated, err := sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastScrapedAt)
	require.Equal(t, now, *updated.LastScrapedAt)

	require.Equal(t, 1, tasks.Len(queue.TopicExtractTier1))
}

func TestIngestorDedupsUnchangedContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	sources := memstore.NewSourceStore()
	jobs := memstore.NewJobStore()
	raws := memstore.NewRawStore(jobs)
	blobs := blobstore.New(blobstore.NewMemoryBlobStore(), hashsha.New(), "raw")
	tasks := queue.NewMemoryQueue()

	_, err := sources.Register(ctx, pipeline.SourceLever, "acme", now)
	require.NoError(t, err)
	src, err := sources.Get(ctx, pipeline.SourceLever, "acme")
	require.NoError(t, err)

	scraper := &stubScraper{
		sourceType: pipeline.SourceLever,
		jobs: []pipeline.RawJob{
			{SourceType: pipeline.SourceLever, SourceKey: "acme", SourceJobID: "abc",
				URL: "https://jobs.lever.co/acme/abc", Payload: []byte(`{"id":"abc"}`), FetchedAt: now},
		},
	}
	ing := NewIngestor(sources, raws, blobs, stubFactory{scraper}, tasks,
		&seqIDs{prefix: "id"}, fixedClock{now}, zap.NewNop())

	_, err = ing.IngestSource(ctx, src.ID)
	require.NoError(t, err)

	// Same content again: object written, row deduped, no extraction task.
	report, err := ing.IngestSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Seen)
	require.Equal(t, 0, report.Stored)
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, 1, tasks.Len(queue.TopicExtractTier1))
}

func TestIngestorStoresChangedContentAsNewVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	sources := memstore.NewSourceStore()
	raws := memstore.NewRawStore(nil)
	blobs := blobstore.New(blobstore.NewMemoryBlobStore(), hashsha.New(), "raw")
	tasks := queue.NewMemoryQueue()

	_, err := sources.Register(ctx, pipeline.SourceLever, "acme", now)
	require.NoError(t, err)
	src, err := sources.Get(ctx, pipeline.SourceLever, "acme")
	require.NoError(t, err)

	scraper := &stubScraper{
		sourceType: pipeline.SourceLever,
		jobs: []pipeline.RawJob{
			{SourceType: pipeline.SourceLever, SourceKey: "acme", SourceJobID: "abc",
				URL: "https://jobs.lever.co/acme/abc", Payload: []byte(`{"id":"abc","rev":1}`), FetchedAt: now},
		},
	}
	ing := NewIngestor(sources, raws, blobs, stubFactory{scraper}, tasks,
		&seqIDs{prefix: "id"}, fixedClock{now}, zap.NewNop())

	_, err = ing.IngestSource(ctx, src.ID)
	require.NoError(t, err)
	pending, err := raws.ListPendingExtraction(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	first := pending[0]

	// The posting body changed upstream: same identity, new hash, new row.
	scraper.jobs[0].Payload = []byte(`{"id":"abc","rev":2}`)
	scraper.jobs[0].FetchedAt = now.Add(time.Hour)
	report, err := ing.IngestSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Seen)
	require.Equal(t, 1, report.Stored)
	require.Equal(t, 0, report.Duplicates)

	pending, err = raws.ListPendingExtraction(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotEqual(t, first.ID, pending[0].ID)
	require.NotEqual(t, first.ContentHash, pending[0].ContentHash)

	// Both versions stay addressable and another extraction task went out.
	kept, err := raws.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, first.ContentHash, kept.ContentHash)
	require.Equal(t, 2, tasks.Len(queue.TopicExtractTier1))
}

func TestIngestorPropagatesListFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	sources := memstore.NewSourceStore()
	jobs := memstore.NewJobStore()
	raws := memstore.NewRawStore(jobs)
	blobs := blobstore.New(blobstore.NewMemoryBlobStore(), hashsha.New(), "raw")
	tasks := queue.NewMemoryQueue()

	_, err := sources.Register(ctx, pipeline.SourceGreenhouse, "acme", now)
	require.NoError(t, err)
	src, err := sources.Get(ctx, pipeline.SourceGreenhouse, "acme")
	require.NoError(t, err)

	scraper := &stubScraper{sourceType: pipeline.SourceGreenhouse, listErr: errors.New("upstream 503")}
	ing := NewIngestor(sources, raws, blobs, stubFactory{scraper}, tasks,
		&seqIDs{prefix: "id"}, fixedClock{now}, zap.NewNop())

	_, err = ing.IngestSource(ctx, src.ID)
	require.Error(t, err)

	// The scrape failed so last_scraped_at stays unset for rescheduling.
	updated, err := sources.GetByID(ctx, src.ID)
	require.NoError(t, err)
	require.Nil(t, updated.LastScrapedAt)
	require.Equal(t, 0, tasks.Len(queue.TopicExtractTier1))
}

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := queue.NewMemoryQueue()
	d := NewDispatcher(tasks, 3, 1, zap.NewNop())

	calls := 0
	failing := func(context.Context, queue.Task) error {
		calls++
		return errors.New("boom")
	}
	wrapped := d.withRetry(queue.TopicScrape, failing)

	require.NoError(t, tasks.Publish(ctx, queue.TopicScrape, queue.Task{ID: "t-1"}))

	for i := 0; i < 3; i++ {
		handled, err := tasks.ReceiveOne(ctx, queue.TopicScrape, wrapped)
		require.NoError(t, err)
		require.True(t, handled)
	}

	require.Equal(t, 3, calls)
	require.Equal(t, 0, tasks.Len(queue.TopicScrape))
	require.Equal(t, 1, tasks.Len(queue.TopicScrape.DeadLetter()))

	var dead queue.Task
	handled, err := tasks.ReceiveOne(ctx, queue.TopicScrape.DeadLetter(), func(_ context.Context, task queue.Task) error {
		dead = task
		return nil
	})
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, "t-1", dead.ID)
	require.Equal(t, 3, dead.Attempt)
	require.Equal(t, "boom", dead.LastError)
}

func TestDispatcherRecoversOnRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tasks := queue.NewMemoryQueue()
	d := NewDispatcher(tasks, 3, 1, zap.NewNop())

	calls := 0
	flaky := func(context.Context, queue.Task) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}
	wrapped := d.withRetry(queue.TopicExtractTier1, flaky)

	require.NoError(t, tasks.Publish(ctx, queue.TopicExtractTier1, queue.Task{ID: "t-1"}))

	for i := 0; i < 2; i++ {
		handled, err := tasks.ReceiveOne(ctx, queue.TopicExtractTier1, wrapped)
		require.NoError(t, err)
		require.True(t, handled)
	}

	require.Equal(t, 2, calls)
	require.Equal(t, 0, tasks.Len(queue.TopicExtractTier1))
	require.Equal(t, 0, tasks.Len(queue.TopicExtractTier1.DeadLetter()))
}

func TestDispatcherRunConsumesRegisteredTopics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tasks := queue.NewMemoryQueue()
	d := NewDispatcher(tasks, 3, 1, zap.NewNop())

	done := make(chan queue.Task, 1)
	d.Register(queue.TopicRollup, func(_ context.Context, task queue.Task) error {
		done <- task
		return nil
	})

	require.NoError(t, tasks.Publish(ctx, queue.TopicRollup, queue.Task{ID: "t-1", CompanyID: "co-1"}))

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	select {
	case task := <-done:
		require.Equal(t, "co-1", task.CompanyID)
	case <-ctx.Done():
		t.Fatal("task was never handled")
	}

	cancel()
	require.ErrorIs(t, <-runErr, context.Canceled)
}

func TestDispatcherLogsCarryStage(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	tasks := queue.NewMemoryQueue()
	d := NewDispatcher(tasks, 3, 1, zap.New(core))

	ctx := context.Background()
	wrapped := d.withRetry(queue.TopicScrape, func(context.Context, queue.Task) error {
		return errors.New("boom")
	})
	require.NoError(t, tasks.Publish(ctx, queue.TopicScrape, queue.Task{ID: "t-1"}))
	handled, err := tasks.ReceiveOne(ctx, queue.TopicScrape, wrapped)
	require.NoError(t, err)
	require.True(t, handled)

	entries := logs.FilterField(zap.String("stage", "scrape")).All()
	require.NotEmpty(t, entries)
	require.Equal(t, "task failed, retrying", entries[0].Message)
}

func TestDispatcherRunFansOutWorkersPerTopic(t *testing.T) {
	t.Parallel()

	tasks := queue.NewMemoryQueue()
	d := NewDispatcher(tasks, 3, 2, zap.NewNop())

	arrived := make(chan string, 2)
	release := make(chan struct{})
	d.Register(queue.TopicScrape, func(_ context.Context, task queue.Task) error {
		arrived <- task.ID
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	require.NoError(t, tasks.Publish(ctx, queue.TopicScrape, queue.Task{ID: "t-1"}))
	require.NoError(t, tasks.Publish(ctx, queue.TopicScrape, queue.Task{ID: "t-2"}))

	// Both tasks must be in flight at the same time: the first handler is
	// still blocked when the second one starts, so a single receiver could
	// never get here.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-arrived:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second task never started while the first was blocked")
		}
	}
	require.Len(t, got, 2)

	close(release)
	cancel()
	require.ErrorIs(t, <-runErr, context.Canceled)
}

func TestDispatcherRunRequiresHandlers(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(queue.NewMemoryQueue(), 3, 1, zap.NewNop())
	require.Error(t, d.Run(context.Background()))
}
