package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// DefaultLeverBaseURL is the public Lever postings API.
const DefaultLeverBaseURL = "https://api.lever.co/v0/postings"

// LeverScraper implements pipeline.Scraper for the Lever postings API, which
// paginates with skip/limit.
type LeverScraper struct {
	sourceKey string
	baseURL   string
	pageSize  int
	maxOffset int
	client    *Client
	clock     pipeline.Clock
	logger    *zap.Logger
}

// NewLeverScraper constructs a scraper for one Lever site. pageSize defaults
// to 100 and maxOffset to 10000; maxOffset is a hard safety cap bounding
// runaway pagination against a misbehaving endpoint.
func NewLeverScraper(
	sourceKey, baseURL string,
	pageSize, maxOffset int,
	client *Client,
	clock pipeline.Clock,
	logger *zap.Logger,
) *LeverScraper {
	if baseURL == "" {
		baseURL = DefaultLeverBaseURL
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxOffset <= 0 {
		maxOffset = 10000
	}
	return &LeverScraper{
		sourceKey: sourceKey,
		baseURL:   baseURL,
		pageSize:  pageSize,
		maxOffset: maxOffset,
		client:    client,
		clock:     clock,
		logger:    logger,
	}
}

// SourceType implements pipeline.Scraper.
func (s *LeverScraper) SourceType() pipeline.SourceType {
	return pipeline.SourceLever
}

type leverItem struct {
	ID        string `json:"id"`
	HostedURL string `json:"hostedUrl"`
}

// List pages through the site until an empty page or the safety cap and
// pushes each posting to fn. Items with a missing id are skipped.
func (s *LeverScraper) List(ctx context.Context, fn func(pipeline.RawJob) error) error {
	fetchedAt := s.clock.Now()
	total := 0

	for skip := 0; ; skip += s.pageSize {
		if skip > s.maxOffset {
			s.logger.Warn("lever pagination cap reached",
				zap.String("source_key", s.sourceKey), zap.Int("total", total))
			break
		}

		url := fmt.Sprintf("%s/%s?mode=json&skip=%d&limit=%d", s.baseURL, s.sourceKey, skip, s.pageSize)
		status, body, err := s.client.Get(ctx, string(pipeline.SourceLever), url)
		if err != nil {
			return fmt.Errorf("fetch lever site %s at offset %d: %w", s.sourceKey, skip, err)
		}
		if status == http.StatusNotFound {
			s.logger.Warn("lever site not found", zap.String("source_key", s.sourceKey))
			return nil
		}
		if status != http.StatusOK {
			return fmt.Errorf("lever site %s returned status %d", s.sourceKey, status)
		}

		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("decode lever site %s page: %w", s.sourceKey, err)
		}
		if len(page) == 0 {
			break
		}

		for _, raw := range page {
			var item leverItem
			if err := json.Unmarshal(raw, &item); err != nil {
				s.logger.Warn("skipping undecodable lever item",
					zap.String("source_key", s.sourceKey), zap.Error(err))
				continue
			}
			if item.ID == "" {
				continue
			}
			job := pipeline.RawJob{
				SourceType:  pipeline.SourceLever,
				SourceKey:   s.sourceKey,
				SourceJobID: item.ID,
				URL:         item.HostedURL,
				Payload:     append([]byte(nil), raw...),
				FetchedAt:   fetchedAt,
			}
			if err := fn(job); err != nil {
				return err
			}
			total++
		}
	}

	s.logger.Info("fetched lever site",
		zap.String("source_key", s.sourceKey),
		zap.Int("count", total),
	)
	return nil
}

// Validate succeeds when a minimal request returns HTTP 200 with a JSON
// array body, even if the array is empty.
func (s *LeverScraper) Validate(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s?mode=json&limit=1", s.baseURL, s.sourceKey)

	status, body, err := s.client.Get(ctx, string(pipeline.SourceLever), url)
	if err != nil {
		return fmt.Errorf("validate lever site %s: %w", s.sourceKey, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("lever site %s returned status %d", s.sourceKey, status)
	}

	var probe []json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("lever site %s returned non-array body: %w", s.sourceKey, err)
	}
	return nil
}
