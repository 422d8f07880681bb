// Package discovery finds Greenhouse board tokens and Lever site identifiers
// in the Common Crawl CDX index and registers them as candidate sources.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/scrape"
)

// DefaultCDXBaseURL points at a recent Common Crawl index.
const DefaultCDXBaseURL = "https://index.commoncrawl.org/CC-MAIN-2024-51-index"

// cdxLimiterHost keys the (ungated by default) rate-limit bucket for index
// queries.
const cdxLimiterHost = "cdx"

type cdxRecord struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// CDXClient pages through the index for one URL pattern at a time.
type CDXClient struct {
	baseURL  string
	pageSize int
	client   *scrape.Client
	logger   *zap.Logger
}

func NewCDXClient(baseURL string, pageSize int, client *scrape.Client, logger *zap.Logger) *CDXClient {
	if baseURL == "" {
		baseURL = DefaultCDXBaseURL
	}
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &CDXClient{baseURL: baseURL, pageSize: pageSize, client: client, logger: logger}
}

// Query fetches one page of index records matching pattern. Only records
// with an archived 200 response come back; the index answers NDJSON.
func (c *CDXClient) Query(ctx context.Context, pattern string, page int) ([]cdxRecord, error) {
	params := url.Values{}
	params.Set("url", pattern)
	params.Set("output", "json")
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	params.Set("fl", "url,timestamp,status")
	params.Set("filter", "status:200")

	status, body, err := c.client.Get(ctx, cdxLimiterHost, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("query cdx for %s page %d: %w", pattern, page, err)
	}
	if status == http.StatusNotFound {
		// The index answers 404 when paging past the last page.
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("cdx returned status %d for %s", status, pattern)
	}

	var records []cdxRecord
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var rec cdxRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			c.logger.Warn("skipping undecodable cdx line", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
