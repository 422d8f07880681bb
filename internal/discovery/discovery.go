package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
)

// Report summarizes one discovery run.
type Report struct {
	Seen       int
	Registered int
}

// Discoverer pages the index, registers new candidate sources, and enqueues
// a validation task for each one.
type Discoverer struct {
	cdx     *CDXClient
	sources pipeline.SourceStore
	tasks   queue.Queue
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
	logger  *zap.Logger
}

func NewDiscoverer(
	cdx *CDXClient,
	sources pipeline.SourceStore,
	tasks queue.Queue,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Discoverer {
	return &Discoverer{cdx: cdx, sources: sources, tasks: tasks, ids: ids, clock: clock, logger: logger}
}

// Run discovers up to limit unique sources. sourceType narrows the run to one
// provider; empty means both. Tokens already registered count toward the
// limit but do not re-enqueue validation.
func (d *Discoverer) Run(ctx context.Context, sourceType pipeline.SourceType, limit int) (Report, error) {
	if limit <= 0 {
		limit = 100
	}

	type probe struct {
		sourceType pipeline.SourceType
		pattern    string
	}
	var probes []probe
	if sourceType == "" || sourceType == pipeline.SourceGreenhouse {
		for _, p := range greenhousePatterns {
			probes = append(probes, probe{pipeline.SourceGreenhouse, p})
		}
	}
	if sourceType == "" || sourceType == pipeline.SourceLever {
		probes = append(probes, probe{pipeline.SourceLever, leverPattern})
	}

	var report Report
	seen := make(map[pipeline.SourceType]map[string]struct{})

	for _, p := range probes {
		if seen[p.sourceType] == nil {
			seen[p.sourceType] = make(map[string]struct{})
		}
		for page := 0; report.Seen < limit; page++ {
			records, err := d.cdx.Query(ctx, p.pattern, page)
			if err != nil {
				return report, err
			}
			if len(records) == 0 {
				break
			}
			for _, rec := range records {
				if report.Seen >= limit {
					break
				}
				token := extractToken(p.sourceType, rec.URL)
				if token == "" {
					continue
				}
				if _, dup := seen[p.sourceType][token]; dup {
					continue
				}
				seen[p.sourceType][token] = struct{}{}
				report.Seen++

				registered, err := d.register(ctx, p.sourceType, token)
				if err != nil {
					return report, err
				}
				if registered {
					report.Registered++
				}
			}
		}
	}

	d.logger.Info("discovery run complete",
		zap.Int("seen", report.Seen),
		zap.Int("registered", report.Registered),
	)
	return report, nil
}

// register inserts the candidate source and, when the row is new, enqueues
// its validation task.
func (d *Discoverer) register(ctx context.Context, sourceType pipeline.SourceType, token string) (bool, error) {
	created, err := d.sources.Register(ctx, sourceType, token, d.clock.Now())
	if err != nil {
		return false, fmt.Errorf("register source %s/%s: %w", sourceType, token, err)
	}
	if !created {
		return false, nil
	}

	src, err := d.sources.Get(ctx, sourceType, token)
	if err != nil {
		return true, fmt.Errorf("load registered source %s/%s: %w", sourceType, token, err)
	}

	taskID, err := d.ids.NewID()
	if err != nil {
		return true, fmt.Errorf("generate task id: %w", err)
	}
	task := queue.Task{
		ID:         taskID,
		EnqueuedAt: d.clock.Now(),
		SourceID:   src.ID,
	}
	if err := d.tasks.Publish(ctx, queue.TopicValidate, task); err != nil {
		return true, fmt.Errorf("enqueue validation for %s/%s: %w", sourceType, token, err)
	}

	d.logger.Info("registered candidate source",
		zap.String("source_type", string(sourceType)),
		zap.String("source_key", token),
	)
	return true, nil
}
