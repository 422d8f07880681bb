package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// DefaultGreenhouseBaseURL is the public Greenhouse board API.
const DefaultGreenhouseBaseURL = "https://boards-api.greenhouse.io/v1/boards"

// GreenhouseScraper implements pipeline.Scraper for the Greenhouse board API.
// Greenhouse returns every posting in a single unpaginated response.
type GreenhouseScraper struct {
	sourceKey string
	baseURL   string
	client    *Client
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewGreenhouseScraper constructs a scraper for one board token.
func NewGreenhouseScraper(
	sourceKey, baseURL string,
	client *Client,
	clock pipeline.Clock,
	logger *zap.Logger,
) *GreenhouseScraper {
	if baseURL == "" {
		baseURL = DefaultGreenhouseBaseURL
	}
	return &GreenhouseScraper{
		sourceKey: sourceKey,
		baseURL:   baseURL,
		client:    client,
		clock:     clock,
		logger:    logger,
	}
}

// SourceType implements pipeline.Scraper.
func (s *GreenhouseScraper) SourceType() pipeline.SourceType {
	return pipeline.SourceGreenhouse
}

// greenhouseItem carries only the fields the pipeline reads; the raw message
// is persisted untouched.
type greenhouseItem struct {
	ID          json.Number `json:"id"`
	AbsoluteURL string      `json:"absolute_url"`
}

// List fetches the board and pushes each posting to fn. Items with a
// missing or empty id are skipped.
func (s *GreenhouseScraper) List(ctx context.Context, fn func(pipeline.RawJob) error) error {
	url := fmt.Sprintf("%s/%s/jobs?content=true", s.baseURL, s.sourceKey)

	status, body, err := s.client.Get(ctx, string(pipeline.SourceGreenhouse), url)
	if err != nil {
		return fmt.Errorf("fetch greenhouse board %s: %w", s.sourceKey, err)
	}
	if status == http.StatusNotFound {
		s.logger.Warn("greenhouse board not found", zap.String("source_key", s.sourceKey))
		return nil
	}
	if status != http.StatusOK {
		return fmt.Errorf("greenhouse board %s returned status %d", s.sourceKey, status)
	}

	var envelope struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode greenhouse board %s: %w", s.sourceKey, err)
	}

	fetchedAt := s.clock.Now()
	for _, raw := range envelope.Jobs {
		var item greenhouseItem
		if err := json.Unmarshal(raw, &item); err != nil {
			s.logger.Warn("skipping undecodable greenhouse item",
				zap.String("source_key", s.sourceKey), zap.Error(err))
			continue
		}
		if item.ID.String() == "" {
			continue
		}
		job := pipeline.RawJob{
			SourceType:  pipeline.SourceGreenhouse,
			SourceKey:   s.sourceKey,
			SourceJobID: item.ID.String(),
			URL:         item.AbsoluteURL,
			Payload:     append([]byte(nil), raw...),
			FetchedAt:   fetchedAt,
		}
		if err := fn(job); err != nil {
			return err
		}
	}

	s.logger.Info("fetched greenhouse board",
		zap.String("source_key", s.sourceKey),
		zap.Int("count", len(envelope.Jobs)),
	)
	return nil
}

// Validate succeeds when a minimal board request returns HTTP 200 with a
// "jobs" key present, even if the list is empty.
func (s *GreenhouseScraper) Validate(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/jobs", s.baseURL, s.sourceKey)

	status, body, err := s.client.Get(ctx, string(pipeline.SourceGreenhouse), url)
	if err != nil {
		return fmt.Errorf("validate greenhouse board %s: %w", s.sourceKey, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("greenhouse board %s returned status %d", s.sourceKey, status)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("greenhouse board %s returned non-object body: %w", s.sourceKey, err)
	}
	if _, ok := probe["jobs"]; !ok {
		return fmt.Errorf("greenhouse board %s response has no jobs key", s.sourceKey)
	}
	return nil
}
