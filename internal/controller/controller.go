// Package controller drives the recurring pipeline cycles on cron
// schedules, replacing ad-hoc poll-and-sleep loops.
package controller

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	"github.com/hiresignal/jobs-pipeline/internal/registry"
)

// Config holds the cron expressions and per-cycle batch sizes.
type Config struct {
	DiscoverySpec  string
	ScrapeSpec     string
	ExtractSpec    string
	DiscoveryLimit int
	ScrapeBatch    int
	ExtractBatch   int
}

func (c Config) withDefaults() Config {
	if c.DiscoveryLimit <= 0 {
		c.DiscoveryLimit = 100
	}
	if c.ScrapeBatch <= 0 {
		c.ScrapeBatch = 50
	}
	if c.ExtractBatch <= 0 {
		c.ExtractBatch = 1
	}
	return c
}

// CycleReport summarizes one scheduled cycle.
type CycleReport struct {
	Stage    string
	Enqueued int
}

// Controller owns the cron runner and the cycle implementations.
type Controller struct {
	tasks    queue.Queue
	registry *registry.Registry
	ids      pipeline.IDGenerator
	clock    pipeline.Clock
	logger   *zap.Logger
	cfg      Config

	cron *cron.Cron
}

func New(
	tasks queue.Queue,
	reg *registry.Registry,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
	cfg Config,
) *Controller {
	return &Controller{
		tasks:    tasks,
		registry: reg,
		ids:      ids,
		clock:    clock,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		cron:     cron.New(),
	}
}

// Start registers the schedules and begins firing cycles. Cycles run with
// the passed ctx so a shutdown cancels in-flight work.
func (c *Controller) Start(ctx context.Context) error {
	type entry struct {
		spec string
		run  func(context.Context) (CycleReport, error)
	}
	entries := []entry{
		{c.cfg.DiscoverySpec, c.DiscoveryCycle},
		{c.cfg.ScrapeSpec, c.ScrapeCycle},
		{c.cfg.ExtractSpec, c.ExtractCycle},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		run := e.run
		if _, err := c.cron.AddFunc(e.spec, func() { c.fire(ctx, run) }); err != nil {
			return fmt.Errorf("schedule %q: %w", e.spec, err)
		}
	}
	c.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (c *Controller) Stop() {
	<-c.cron.Stop().Done()
}

func (c *Controller) fire(ctx context.Context, run func(context.Context) (CycleReport, error)) {
	report, err := run(ctx)
	if err != nil {
		c.logger.Error("cycle failed", zap.String("stage", report.Stage), zap.Error(err))
		return
	}
	c.logger.Info("cycle complete",
		zap.String("stage", report.Stage),
		zap.Int("enqueued", report.Enqueued),
	)
}

// DiscoveryCycle enqueues one discovery run over both providers.
func (c *Controller) DiscoveryCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Stage: "discovery"}
	id, err := c.ids.NewID()
	if err != nil {
		return report, fmt.Errorf("generate task id: %w", err)
	}
	task := queue.Task{ID: id, EnqueuedAt: c.clock.Now(), Limit: c.cfg.DiscoveryLimit}
	if err := c.tasks.Publish(ctx, queue.TopicDiscovery, task); err != nil {
		return report, fmt.Errorf("enqueue discovery: %w", err)
	}
	report.Enqueued = 1
	metrics.ObserveTask(string(queue.TopicDiscovery), "scheduled")
	return report, nil
}

// ScrapeCycle enqueues scrape tasks for the stalest valid sources.
func (c *Controller) ScrapeCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Stage: "scrape"}
	n, err := c.registry.ScheduleScrapes(ctx, c.cfg.ScrapeBatch)
	report.Enqueued = n
	if err != nil {
		return report, err
	}
	metrics.ObserveTask(string(queue.TopicScrape), "scheduled")
	return report, nil
}

// ExtractCycle enqueues extraction batch tasks. Each task drains one batch
// of pending raw postings.
func (c *Controller) ExtractCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Stage: "extract"}
	for i := 0; i < c.cfg.ExtractBatch; i++ {
		id, err := c.ids.NewID()
		if err != nil {
			return report, fmt.Errorf("generate task id: %w", err)
		}
		task := queue.Task{ID: id, EnqueuedAt: c.clock.Now()}
		if err := c.tasks.Publish(ctx, queue.TopicExtractTier1, task); err != nil {
			return report, fmt.Errorf("enqueue extraction batch: %w", err)
		}
		report.Enqueued++
	}
	metrics.ObserveTask(string(queue.TopicExtractTier1), "scheduled")
	return report, nil
}
