// Package worker runs the per-stage task handlers behind the queue.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/blobstore"
	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	"github.com/hiresignal/jobs-pipeline/internal/registry"
)

// Ingestor scrapes one source and stores every posting version: payload to
// the blob store, row to the raw store. Row inserts dedup on content hash.
type Ingestor struct {
	sources pipeline.SourceStore
	raws    pipeline.RawStore
	blobs   *blobstore.Store
	factory registry.ScraperFactory
	tasks   queue.Queue
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
	logger  *zap.Logger
}

func NewIngestor(
	sources pipeline.SourceStore,
	raws pipeline.RawStore,
	blobs *blobstore.Store,
	factory registry.ScraperFactory,
	tasks queue.Queue,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		sources: sources,
		raws:    raws,
		blobs:   blobs,
		factory: factory,
		tasks:   tasks,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// IngestReport summarizes one scrape of one source.
type IngestReport struct {
	Seen       int
	Stored     int
	Duplicates int
}

// IngestSource lists the source's postings, persists new payload versions,
// marks the source scraped, and enqueues an extraction batch when anything
// new landed.
func (g *Ingestor) IngestSource(ctx context.Context, sourceID string) (IngestReport, error) {
	src, err := g.sources.GetByID(ctx, sourceID)
	if err != nil {
		return IngestReport{}, fmt.Errorf("load source %s: %w", sourceID, err)
	}

	scraper, err := g.factory.ForSource(src.SourceType, src.SourceKey)
	if err != nil {
		return IngestReport{}, err
	}

	var report IngestReport
	err = scraper.List(ctx, func(job pipeline.RawJob) error {
		report.Seen++
		created, err := g.storePosting(ctx, job)
		if err != nil {
			return err
		}
		if created {
			report.Stored++
			metrics.ObservePosting(string(job.SourceType), "stored")
		} else {
			report.Duplicates++
			metrics.ObservePosting(string(job.SourceType), "duplicate")
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("list postings for source %s: %w", sourceID, err)
	}

	if err := g.sources.MarkScraped(ctx, sourceID, g.clock.Now()); err != nil {
		return report, fmt.Errorf("mark source %s scraped: %w", sourceID, err)
	}

	g.logger.Info("source ingested",
		zap.String("source_id", sourceID),
		zap.String("source_key", src.SourceKey),
		zap.Int("seen", report.Seen),
		zap.Int("stored", report.Stored),
	)

	if report.Stored > 0 {
		if err := g.enqueueExtraction(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (g *Ingestor) storePosting(ctx context.Context, job pipeline.RawJob) (bool, error) {
	objectKey, contentHash, err := g.blobs.Put(ctx,
		job.SourceType, job.SourceKey, job.SourceJobID, job.Payload, job.FetchedAt)
	if err != nil {
		return false, err
	}

	id, err := g.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("generate raw id: %w", err)
	}
	return g.raws.Insert(ctx, pipeline.RawPosting{
		ID:          id,
		SourceType:  job.SourceType,
		SourceKey:   job.SourceKey,
		SourceJobID: job.SourceJobID,
		URL:         job.URL,
		FetchedAt:   job.FetchedAt,
		HTTPStatus:  200,
		ContentHash: contentHash,
		ObjectKey:   objectKey,
	})
}

func (g *Ingestor) enqueueExtraction(ctx context.Context) error {
	id, err := g.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	task := queue.Task{ID: id, EnqueuedAt: g.clock.Now()}
	if err := g.tasks.Publish(ctx, queue.TopicExtractTier1, task); err != nil {
		return fmt.Errorf("enqueue extraction batch: %w", err)
	}
	return nil
}
