package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
	"github.com/hiresignal/jobs-pipeline/internal/skills"
	"github.com/hiresignal/jobs-pipeline/internal/textclean"
)

const (
	// llmHost keys the shared rate-limit bucket for model calls.
	llmHost = "llm"

	// tier2TextMinChars triggers escalation when a long description yields
	// no skills at all.
	tier2TextMinChars = 800

	rawExcerptChars = 1000
)

// Config tunes one extraction orchestrator.
type Config struct {
	BatchSize        int
	MaxTextChars     int
	FallbackAttempts int
	Tier2Enabled     bool
	TokenMaxWait     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = 8000
	}
	if c.FallbackAttempts <= 0 {
		c.FallbackAttempts = 2
	}
	if c.TokenMaxWait <= 0 {
		c.TokenMaxWait = 2 * time.Minute
	}
	return c
}

// Orchestrator runs tier-1 batches and tier-2 escalations end to end: load
// pending raw postings, clean their text, call the model, normalize, and
// persist jobs, text, skills, and follow-up tasks.
type Orchestrator struct {
	raw     pipeline.RawStore
	jobs    pipeline.JobStore
	skills  pipeline.SkillStore
	blobs   pipeline.BlobStore
	tier1   Backend
	tier2   Backend
	limiter pipeline.HostLimiter
	tasks   queue.Queue
	ids     pipeline.IDGenerator
	clock   pipeline.Clock
	logger  *zap.Logger
	cfg     Config
}

// NewOrchestrator wires an orchestrator. tier2 may be nil when escalation is
// disabled; Tier2Enabled then only marks jobs, never enqueues.
func NewOrchestrator(
	raw pipeline.RawStore,
	jobs pipeline.JobStore,
	skillStore pipeline.SkillStore,
	blobs pipeline.BlobStore,
	tier1, tier2 Backend,
	limiter pipeline.HostLimiter,
	tasks queue.Queue,
	ids pipeline.IDGenerator,
	clock pipeline.Clock,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		raw:     raw,
		jobs:    jobs,
		skills:  skillStore,
		blobs:   blobs,
		tier1:   tier1,
		tier2:   tier2,
		limiter: limiter,
		tasks:   tasks,
		ids:     ids,
		clock:   clock,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// BatchReport summarizes one tier-1 run.
type BatchReport struct {
	Pending      int
	Extracted    int
	Fallbacks    int
	Placeholders int
	Failures     int
	Tier2Queued  int
}

// prepared carries one raw posting through the batch.
type prepared struct {
	raw       pipeline.RawPosting
	cleanText string
	meta      textclean.Metadata
}

// RunBatch extracts up to BatchSize pending raw postings. A model transport
// failure on the batch call returns an error so the task layer can retry;
// per-item failures degrade to single-shot retries and then metadata stubs.
func (o *Orchestrator) RunBatch(ctx context.Context) (BatchReport, error) {
	var report BatchReport

	pending, err := o.raw.ListPendingExtraction(ctx, o.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list pending extractions: %w", err)
	}
	report.Pending = len(pending)
	if len(pending) == 0 {
		return report, nil
	}

	mapper, err := skills.NewMapper(ctx, o.skills, o.clock, o.logger)
	if err != nil {
		return report, err
	}

	var batch []prepared
	companies := make(map[string]struct{})

	for _, row := range pending {
		p, err := o.prepare(ctx, row)
		if err != nil {
			o.logger.Error("failed to prepare raw posting",
				zap.String("raw_id", row.ID), zap.Error(err))
			report.Failures++
			continue
		}
		if p.cleanText == "" {
			// Persist a placeholder so the identity leaves the pending set
			// instead of re-entering every batch.
			companyID, err := o.persist(ctx, emptyPlaceholder(p), p, mapper, &report, false)
			if err != nil {
				o.logger.Error("failed to persist placeholder",
					zap.String("raw_id", row.ID), zap.Error(err))
				report.Failures++
				continue
			}
			companies[companyID] = struct{}{}
			report.Placeholders++
			metrics.ObserveExtraction("placeholder")
			continue
		}
		batch = append(batch, p)
	}

	if len(batch) > 0 {
		if err := o.extractBatch(ctx, batch, mapper, &report, companies); err != nil {
			return report, err
		}
	}

	for companyID := range companies {
		if err := o.enqueueRollup(ctx, companyID); err != nil {
			o.logger.Warn("failed to enqueue rollup",
				zap.String("company_id", companyID), zap.Error(err))
		}
	}

	o.logger.Info("extraction batch complete",
		zap.Int("pending", report.Pending),
		zap.Int("extracted", report.Extracted),
		zap.Int("fallbacks", report.Fallbacks),
		zap.Int("placeholders", report.Placeholders),
		zap.Int("failures", report.Failures),
		zap.Int("tier2_queued", report.Tier2Queued),
	)
	return report, nil
}

func (o *Orchestrator) prepare(ctx context.Context, row pipeline.RawPosting) (prepared, error) {
	payload, err := o.blobs.Fetch(ctx, row.ObjectKey)
	if err != nil {
		return prepared{}, fmt.Errorf("fetch payload %s: %w", row.ObjectKey, err)
	}
	text, err := textclean.ExtractText(row.SourceType, payload)
	if err != nil {
		return prepared{}, err
	}
	meta, err := textclean.ExtractMetadata(row.SourceType, row.SourceKey, payload)
	if err != nil {
		return prepared{}, err
	}
	return prepared{raw: row, cleanText: text, meta: meta}, nil
}

func (o *Orchestrator) extractBatch(
	ctx context.Context,
	batch []prepared,
	mapper *skills.Mapper,
	report *BatchReport,
	companies map[string]struct{},
) error {
	reqs := make([]Request, len(batch))
	totalTokens := 0
	for i, p := range batch {
		text := p.cleanText
		if len(text) > o.cfg.MaxTextChars {
			text = text[:o.cfg.MaxTextChars]
		}
		reqs[i] = Request{
			RefString: refString(p.raw.Ref()),
			Text:      text,
			Title:     p.meta.Title,
			Company:   p.meta.CompanyName,
			Location:  p.meta.Location,
		}
		totalTokens += estimateTokens(text)
	}

	if err := o.limiter.ConsumeTokens(ctx, llmHost, totalTokens, true, o.cfg.TokenMaxWait); err != nil {
		return fmt.Errorf("acquire token budget: %w", err)
	}
	results, err := o.tier1.ExtractBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("tier1 batch extraction: %w", err)
	}

	for i, result := range results {
		p := batch[i]
		extracted, outcome := o.resolveResult(ctx, result, reqs[i], p)

		companyID, err := o.persist(ctx, extracted, p, mapper, report, true)
		if err != nil {
			o.logger.Error("failed to persist extraction",
				zap.String("raw_id", p.raw.ID), zap.Error(err))
			report.Failures++
			continue
		}
		companies[companyID] = struct{}{}
		switch outcome {
		case "structured":
			report.Extracted++
		default:
			report.Fallbacks++
		}
		metrics.ObserveExtraction(outcome)
	}
	return nil
}

// resolveResult turns one batch result into a final extraction, retrying
// single-shot before settling for the metadata stub.
func (o *Orchestrator) resolveResult(ctx context.Context, result Result, req Request, p prepared) (Extracted, string) {
	if result.Kind == ResultStructured {
		return result.Extracted, "structured"
	}
	if result.Kind == ResultFailed {
		o.logger.Warn("extraction result failed",
			zap.String("job_ref", req.RefString), zap.Error(result.Err))
	}

	for attempt := 0; attempt < o.cfg.FallbackAttempts; attempt++ {
		if err := o.limiter.ConsumeTokens(ctx, llmHost, estimateTokens(req.Text), true, o.cfg.TokenMaxWait); err != nil {
			o.logger.Warn("token budget wait failed during fallback", zap.Error(err))
			break
		}
		extracted, err := o.tier1.ExtractSingle(ctx, req)
		if err == nil {
			return extracted, "fallback"
		}
		o.logger.Warn("single-shot extraction failed",
			zap.String("job_ref", req.RefString),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fallbackExtraction(p.raw.Ref(), p.meta.Title, p.meta.CompanyName), "stub"
}

// emptyPlaceholder marks postings whose payload had no extractable text.
func emptyPlaceholder(p prepared) Extracted {
	e := fallbackExtraction(p.raw.Ref(), p.meta.Title, p.meta.CompanyName)
	e.Confidence = emptyConfidence
	return e
}

// persist writes the job, its text and skills, and, when allowed, queues
// tier-2 escalation for weak extractions. It returns the company id for
// rollup.
func (o *Orchestrator) persist(
	ctx context.Context,
	e Extracted,
	p prepared,
	mapper *skills.Mapper,
	report *BatchReport,
	allowEscalation bool,
) (string, error) {
	now := o.clock.Now()

	company, err := o.jobs.GetOrCreateCompany(ctx, e.CompanyName, e.CompanyDomain, now)
	if err != nil {
		return "", fmt.Errorf("resolve company %q: %w", e.CompanyName, err)
	}

	needsTier2 := allowEscalation && o.needsTier2(e, len(p.cleanText))
	job := pipeline.StructuredJob{
		CompanyID:       company.ID,
		SourceType:      e.Ref.SourceType,
		SourceKey:       e.Ref.SourceKey,
		SourceJobID:     e.Ref.SourceJobID,
		RoleTitle:       e.RoleTitle,
		Seniority:       e.Seniority,
		Function:        e.Function,
		Department:      e.Department,
		LocationCity:    e.LocationCity,
		LocationState:   e.LocationState,
		LocationCountry: e.LocationCountry,
		RemoteType:      e.RemoteType,
		EmploymentType:  e.EmploymentType,
		SalaryMinUSD:    e.SalaryMinUSD,
		SalaryMaxUSD:    e.SalaryMaxUSD,
		Summary:         e.Summary,
		Confidence:      e.Confidence,
		NeedsTier2:      needsTier2,
		UpdatedAt:       now,
	}
	jobID, err := o.jobs.UpsertJob(ctx, job)
	if err != nil {
		return "", fmt.Errorf("upsert job %s: %w", refString(e.Ref), err)
	}

	if p.cleanText != "" {
		text := pipeline.JobText{
			JobID:      jobID,
			CleanText:  p.cleanText,
			RawExcerpt: excerpt(p.cleanText, rawExcerptChars),
		}
		if err := o.jobs.CreateJobTextOnce(ctx, text); err != nil {
			return "", fmt.Errorf("store job text for %s: %w", jobID, err)
		}
	}

	if _, err := mapper.MapSkills(ctx, jobID, e.SkillsRaw, e.ToolsRaw); err != nil {
		return "", err
	}

	if needsTier2 && o.cfg.Tier2Enabled && o.tier2 != nil {
		if err := o.enqueueTier2(ctx, p.raw.ID, jobID); err != nil {
			o.logger.Warn("failed to enqueue tier2 task",
				zap.String("raw_id", p.raw.ID), zap.Error(err))
		} else {
			report.Tier2Queued++
		}
	}
	return company.ID, nil
}

// needsTier2 applies the escalation rules: low confidence, a missing core
// field, or a long description that produced no skills.
func (o *Orchestrator) needsTier2(e Extracted, cleanTextLen int) bool {
	if e.Confidence < 0.60 {
		return true
	}
	if e.CompanyMissing || e.TitleMissing || e.Summary == "" {
		return true
	}
	if len(e.SkillsRaw) == 0 && cleanTextLen > tier2TextMinChars {
		return true
	}
	return false
}

// RunTier2 re-extracts one raw posting with the premium backend and
// overwrites the job. The result never escalates again.
func (o *Orchestrator) RunTier2(ctx context.Context, rawID string) error {
	if o.tier2 == nil {
		o.logger.Debug("tier2 disabled, skipping", zap.String("raw_id", rawID))
		return nil
	}

	row, err := o.raw.GetByID(ctx, rawID)
	if err != nil {
		return fmt.Errorf("load raw posting %s: %w", rawID, err)
	}
	p, err := o.prepare(ctx, row)
	if err != nil {
		return err
	}
	if p.cleanText == "" {
		return nil
	}

	text := p.cleanText
	if len(text) > o.cfg.MaxTextChars {
		text = text[:o.cfg.MaxTextChars]
	}
	req := Request{
		RefString: refString(row.Ref()),
		Text:      text,
		Title:     p.meta.Title,
		Company:   p.meta.CompanyName,
		Location:  p.meta.Location,
	}
	if err := o.limiter.ConsumeTokens(ctx, llmHost, estimateTokens(text), true, o.cfg.TokenMaxWait); err != nil {
		return fmt.Errorf("acquire token budget: %w", err)
	}
	extracted, err := o.tier2.ExtractSingle(ctx, req)
	if err != nil {
		return fmt.Errorf("tier2 extraction for %s: %w", rawID, err)
	}

	mapper, err := skills.NewMapper(ctx, o.skills, o.clock, o.logger)
	if err != nil {
		return err
	}

	// Tier-2 output is final regardless of the escalation rules.
	var report BatchReport
	companyID, err := o.persist(ctx, extracted, p, mapper, &report, false)
	if err != nil {
		return err
	}
	metrics.ObserveExtraction("tier2")
	return o.enqueueRollup(ctx, companyID)
}

func (o *Orchestrator) enqueueTier2(ctx context.Context, rawID, jobID string) error {
	taskID, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	return o.tasks.Publish(ctx, queue.TopicExtractTier2, queue.Task{
		ID:         taskID,
		EnqueuedAt: o.clock.Now(),
		RawID:      rawID,
		JobID:      jobID,
	})
}

func (o *Orchestrator) enqueueRollup(ctx context.Context, companyID string) error {
	taskID, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	return o.tasks.Publish(ctx, queue.TopicRollup, queue.Task{
		ID:         taskID,
		EnqueuedAt: o.clock.Now(),
		CompanyID:  companyID,
	})
}

// excerpt truncates on rune boundaries.
func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
