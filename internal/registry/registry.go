// Package registry manages the source lifecycle: candidate sources get
// validated against their provider, valid ones rotate through scraping, and
// invalid ones sit out a cooldown before revalidation.
package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
)

// ScraperFactory resolves the provider variant for a source.
type ScraperFactory interface {
	ForSource(sourceType pipeline.SourceType, sourceKey string) (pipeline.Scraper, error)
}

// Registry coordinates source validation and scrape scheduling.
type Registry struct {
	sources  pipeline.SourceStore
	scrapers ScraperFactory
	tasks    queue.Queue
	ids      pipeline.IDGenerator
	clock    pipeline.Clock
	logger   *zap.Logger
}

func New(
	sources pipeline.SourceStore,
	scrapers ScraperFactory,
	tasks queue.Queue,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		sources:  sources,
		scrapers: scrapers,
		tasks:    tasks,
		ids:      ids,
		clock:    clock,
		logger:   logger,
	}
}

// ValidateOutcome reports what Validate did with a source.
type ValidateOutcome string

const (
	OutcomeValid   ValidateOutcome = "valid"
	OutcomeInvalid ValidateOutcome = "invalid"
	OutcomeSkipped ValidateOutcome = "skipped"
)

// Validate checks the source against its provider and persists the result.
// Invalid sources inside their cooldown are skipped untouched. A source that
// validates gets a scrape task enqueued immediately; any validation error,
// transport included, marks the source invalid and restarts the cooldown.
func (r *Registry) Validate(ctx context.Context, sourceID string) (ValidateOutcome, error) {
	src, err := r.sources.GetByID(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("load source %s: %w", sourceID, err)
	}

	now := r.clock.Now()
	if !src.RevalidationDue(now) {
		r.logger.Debug("skipping validation inside cooldown",
			zap.String("source_id", sourceID),
			zap.String("source_key", src.SourceKey),
		)
		return OutcomeSkipped, nil
	}

	status := pipeline.SourceStatusValid
	scraper, err := r.scrapers.ForSource(src.SourceType, src.SourceKey)
	if err != nil {
		return "", fmt.Errorf("resolve scraper for %s: %w", sourceID, err)
	}
	if err := scraper.Validate(ctx); err != nil {
		r.logger.Info("source failed validation",
			zap.String("source_type", string(src.SourceType)),
			zap.String("source_key", src.SourceKey),
			zap.Error(err),
		)
		status = pipeline.SourceStatusInvalid
	}

	if err := r.sources.SetValidation(ctx, sourceID, status, now); err != nil {
		return "", fmt.Errorf("persist validation of %s: %w", sourceID, err)
	}
	metrics.ObserveValidation(string(src.SourceType), string(status))

	if status != pipeline.SourceStatusValid {
		return OutcomeInvalid, nil
	}
	if err := r.enqueueScrape(ctx, sourceID); err != nil {
		return OutcomeValid, err
	}
	return OutcomeValid, nil
}

// ScheduleScrapes enqueues scrape tasks for up to limit valid sources,
// stalest first. It returns the number of tasks enqueued.
func (r *Registry) ScheduleScrapes(ctx context.Context, limit int) (int, error) {
	sources, err := r.sources.SelectForScrape(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("select sources for scrape: %w", err)
	}
	for i, src := range sources {
		if err := r.enqueueScrape(ctx, src.ID); err != nil {
			return i, err
		}
	}
	return len(sources), nil
}

func (r *Registry) enqueueScrape(ctx context.Context, sourceID string) error {
	taskID, err := r.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	task := queue.Task{
		ID:         taskID,
		EnqueuedAt: r.clock.Now(),
		SourceID:   sourceID,
	}
	if err := r.tasks.Publish(ctx, queue.TopicScrape, task); err != nil {
		return fmt.Errorf("enqueue scrape for %s: %w", sourceID, err)
	}
	return nil
}
