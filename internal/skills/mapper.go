package skills

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// Mapper resolves raw skill strings to catalog entries. The catalog index is
// built once per Mapper, so extraction batches construct one Mapper each and
// pick up catalog edits on the next batch.
type Mapper struct {
	store  pipeline.SkillStore
	clock  pipeline.Clock
	logger *zap.Logger
	index  map[string]pipeline.Skill
}

// NewMapper loads the catalog and indexes it by canonical name and alias,
// all lowercase.
func NewMapper(ctx context.Context, store pipeline.SkillStore, clock pipeline.Clock, logger *zap.Logger) (*Mapper, error) {
	catalog, err := store.ListSkills(ctx)
	if err != nil {
		return nil, fmt.Errorf("load skill catalog: %w", err)
	}

	index := make(map[string]pipeline.Skill, len(catalog)*2)
	for _, skill := range catalog {
		index[strings.ToLower(skill.CanonicalName)] = skill
		for _, alias := range skill.Aliases {
			index[strings.ToLower(alias)] = skill
		}
	}
	logger.Debug("skill catalog indexed", zap.Int("skills", len(catalog)), zap.Int("keys", len(index)))

	return &Mapper{store: store, clock: clock, logger: logger, index: index}, nil
}

// Match resolves one raw value. The second return reports whether the
// catalog knows it.
func (m *Mapper) Match(raw string) (pipeline.Skill, bool) {
	skill, ok := m.index[Normalize(raw)]
	return skill, ok
}

// MapResult counts what MapSkills did for one job.
type MapResult struct {
	Matched  int
	Unmapped int
}

// MapSkills links a job to the catalog entries its raw skill and tool
// strings resolve to. Distinct raw values landing on the same skill produce
// one link carrying the first raw value as evidence; misses are recorded in
// the unmapped backlog under their normalized form.
func (m *Mapper) MapSkills(ctx context.Context, jobID string, skillsRaw, toolsRaw []string) (MapResult, error) {
	seen := make(map[string]struct{})
	matchedEvidence := make(map[string]string) // skill id -> first raw value
	var matchedOrder []string
	var result MapResult

	for _, raw := range append(append([]string(nil), skillsRaw...), toolsRaw...) {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		normalized := Normalize(raw)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}

		skill, ok := m.index[normalized]
		if !ok {
			result.Unmapped++
			metrics.ObserveSkillMatch("unmapped")
			if err := m.store.UpsertUnmapped(ctx, normalized, jobID, m.clock.Now()); err != nil {
				return result, fmt.Errorf("record unmapped skill %q: %w", normalized, err)
			}
			continue
		}
		if _, dup := matchedEvidence[skill.ID]; dup {
			continue
		}
		matchedEvidence[skill.ID] = raw
		matchedOrder = append(matchedOrder, skill.ID)
		result.Matched++
		metrics.ObserveSkillMatch("matched")
	}

	for _, skillID := range matchedOrder {
		link := pipeline.JobSkill{
			JobID:      jobID,
			SkillID:    skillID,
			Evidence:   matchedEvidence[skillID],
			Confidence: 1.0, // catalog hit is an exact match
		}
		if err := m.store.InsertJobSkill(ctx, link); err != nil {
			return result, fmt.Errorf("link job %s to skill %s: %w", jobID, skillID, err)
		}
	}
	return result, nil
}
