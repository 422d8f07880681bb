package scrape

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// FactoryConfig collects the provider endpoints and pagination bounds.
type FactoryConfig struct {
	GreenhouseBaseURL string
	LeverBaseURL      string
	LeverPageSize     int
	LeverMaxOffset    int
}

// Factory builds the scraper variant for a source. Adding a provider means
// adding a variant here and its two methods; call sites stay untouched.
type Factory struct {
	client *Client
	clock  pipeline.Clock
	logger *zap.Logger
	cfg    FactoryConfig
}

// NewFactory constructs a Factory.
func NewFactory(client *Client, clock pipeline.Clock, logger *zap.Logger, cfg FactoryConfig) *Factory {
	return &Factory{client: client, clock: clock, logger: logger, cfg: cfg}
}

// ForSource returns the scraper for (sourceType, sourceKey).
func (f *Factory) ForSource(sourceType pipeline.SourceType, sourceKey string) (pipeline.Scraper, error) {
	switch sourceType {
	case pipeline.SourceGreenhouse:
		return NewGreenhouseScraper(sourceKey, f.cfg.GreenhouseBaseURL, f.client, f.clock, f.logger), nil
	case pipeline.SourceLever:
		return NewLeverScraper(sourceKey, f.cfg.LeverBaseURL, f.cfg.LeverPageSize,
			f.cfg.LeverMaxOffset, f.client, f.clock, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", sourceType)
	}
}
