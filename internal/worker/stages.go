package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/discovery"
	"github.com/hiresignal/jobs-pipeline/internal/extract"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	"github.com/hiresignal/jobs-pipeline/internal/registry"
	"github.com/hiresignal/jobs-pipeline/internal/skills"
)

// Stages binds the pipeline components to their queue topics.
type Stages struct {
	Discoverer   *discovery.Discoverer
	Registry     *registry.Registry
	Ingestor     *Ingestor
	Orchestrator *extract.Orchestrator
	Rollup       *skills.Rollup
	Logger       *zap.Logger
}

// RegisterAll wires every stage handler into the dispatcher.
func (s Stages) RegisterAll(d *Dispatcher) {
	d.Register(queue.TopicDiscovery, s.handleDiscovery)
	d.Register(queue.TopicValidate, s.handleValidate)
	d.Register(queue.TopicScrape, s.handleScrape)
	d.Register(queue.TopicExtractTier1, s.handleExtractTier1)
	d.Register(queue.TopicExtractTier2, s.handleExtractTier2)
	d.Register(queue.TopicRollup, s.handleRollup)
}

func (s Stages) handleDiscovery(ctx context.Context, task queue.Task) error {
	report, err := s.Discoverer.Run(ctx, pipeline.SourceType(task.SourceType), task.Limit)
	if err != nil {
		return err
	}
	s.Logger.Debug("discovery task done",
		zap.Int("seen", report.Seen),
		zap.Int("registered", report.Registered))
	return nil
}

func (s Stages) handleValidate(ctx context.Context, task queue.Task) error {
	outcome, err := s.Registry.Validate(ctx, task.SourceID)
	if err != nil {
		return err
	}
	s.Logger.Debug("validate task done",
		zap.String("source_id", task.SourceID),
		zap.String("outcome", string(outcome)))
	return nil
}

func (s Stages) handleScrape(ctx context.Context, task queue.Task) error {
	_, err := s.Ingestor.IngestSource(ctx, task.SourceID)
	return err
}

func (s Stages) handleExtractTier1(ctx context.Context, _ queue.Task) error {
	report, err := s.Orchestrator.RunBatch(ctx)
	if err != nil {
		return err
	}
	s.Logger.Debug("extraction batch done",
		zap.Int("pending", report.Pending),
		zap.Int("extracted", report.Extracted),
		zap.Int("fallbacks", report.Fallbacks))
	return nil
}

func (s Stages) handleExtractTier2(ctx context.Context, task queue.Task) error {
	return s.Orchestrator.RunTier2(ctx, task.RawID)
}

func (s Stages) handleRollup(ctx context.Context, task queue.Task) error {
	n, err := s.Rollup.RollupCompany(ctx, task.CompanyID)
	if err != nil {
		return err
	}
	s.Logger.Debug("rollup task done",
		zap.String("company_id", task.CompanyID),
		zap.Int("skills", n))
	return nil
}
