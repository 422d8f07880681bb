// Package scrape implements the provider clients for Greenhouse and Lever
// boards. Every fetch runs under the shared host limiter and a bounded
// transport-level retry; exhausted retries propagate so the task layer can
// apply its own redelivery policy.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// retryStatuses are the transient HTTP statuses worth retrying at the
// transport layer.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Doer abstracts *http.Client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig controls the retrying HTTP client.
type ClientConfig struct {
	// Backoff is the per-attempt sleep schedule; attempts = len(Backoff)+1.
	Backoff []time.Duration
	// Timeout bounds each individual request.
	Timeout time.Duration
	// AcquireMaxWait bounds how long a fetch waits for a limiter slot.
	AcquireMaxWait time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{
			2 * time.Second, 4 * time.Second, 8 * time.Second,
			16 * time.Second, 32 * time.Second,
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.AcquireMaxWait <= 0 {
		c.AcquireMaxWait = time.Minute
	}
	return c
}

// Client fetches provider URLs with rate limiting and bounded retry.
type Client struct {
	httpClient Doer
	limiter    pipeline.HostLimiter
	cfg        ClientConfig
	logger     *zap.Logger
}

// NewClient constructs a Client. httpClient may be nil, in which case a
// default client with the configured timeout is used.
func NewClient(
	httpClient Doer,
	limiter pipeline.HostLimiter,
	cfg ClientConfig,
	logger *zap.Logger,
) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{httpClient: httpClient, limiter: limiter, cfg: cfg, logger: logger}
}

// Get fetches url under the limiter slot for limiterHost, retrying transient
// failures on the fixed backoff schedule. The returned body is fully read.
func (c *Client) Get(ctx context.Context, limiterHost, url string) (int, []byte, error) {
	var lastErr error

	for attempt := 0; attempt <= len(c.cfg.Backoff); attempt++ {
		if attempt > 0 {
			backoff := c.cfg.Backoff[attempt-1]
			c.logger.Warn("retrying request",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.NamedError("cause", lastErr),
			)
			select {
			case <-ctx.Done():
				return 0, nil, fmt.Errorf("retry wait canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		status, body, err := c.fetchOnce(ctx, limiterHost, url)
		if err != nil {
			lastErr = err
			continue
		}
		if retryStatuses[status] {
			lastErr = fmt.Errorf("transient status %d from %s", status, url)
			continue
		}
		return status, body, nil
	}

	return 0, nil, fmt.Errorf("retries exhausted for %s: %w", url, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, limiterHost, url string) (int, []byte, error) {
	release, err := c.limiter.Acquire(ctx, limiterHost, true, c.cfg.AcquireMaxWait)
	if err != nil {
		return 0, nil, fmt.Errorf("acquire %s slot: %w", limiterHost, err)
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
