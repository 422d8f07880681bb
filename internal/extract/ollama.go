package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
)

// DefaultOllamaBaseURL targets a local Ollama daemon.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaBackend drives a local Ollama model. It supports true batching: one
// generate call covers the whole batch.
type OllamaBackend struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOllamaBackend(baseURL, model string, timeout time.Duration, logger *zap.Logger) *OllamaBackend {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if timeout <= 0 {
		// Local models are slow, especially with long batches.
		timeout = 5 * time.Minute
	}
	return &OllamaBackend{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// generate runs one completion. The /no_think prefix keeps reasoning-mode
// models from spending tokens before the JSON.
func (b *OllamaBackend) generate(ctx context.Context, prompt, system string) (string, error) {
	if !strings.HasPrefix(prompt, "/no_think") {
		prompt = "/no_think " + prompt
	}
	body, err := json.Marshal(ollamaRequest{
		Model:  b.model,
		Prompt: prompt,
		System: system,
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0.1,
			NumPredict:  4096,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			b.logger.Warn("closing ollama response body", zap.Error(err))
		}
	}()
	metrics.ObserveLLMRequest(b.Name(), time.Since(started))

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	var out ollamaResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Response, nil
}

// ExtractBatch sends the whole batch in one call and correlates the answer
// back per request. Items the model skipped or mangled come back as
// needs-fallback.
func (b *OllamaBackend) ExtractBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	prompt, err := buildBatchPrompt(reqs)
	if err != nil {
		return nil, err
	}
	answer, err := b.generate(ctx, prompt, tier1SystemPrompt)
	if err != nil {
		return nil, err
	}

	items, ok := parseArrayResponse(answer)
	if !ok {
		b.logger.Warn("batch answer had no JSON array", zap.Int("batch_size", len(reqs)))
		results := make([]Result, len(reqs))
		for i := range results {
			results[i] = needsFallback()
		}
		return results, nil
	}

	matched := correlate(reqs, items)
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		if matched[i] == nil {
			results[i] = needsFallback()
			continue
		}
		ref, err := parseRef(req.RefString)
		if err != nil {
			results[i] = failed(err)
			continue
		}
		results[i] = structured(normalizeRaw(*matched[i], ref, req.Title, req.Company))
	}
	return results, nil
}

// ExtractSingle retries one posting with the simpler single-object prompt.
func (b *OllamaBackend) ExtractSingle(ctx context.Context, req Request) (Extracted, error) {
	ref, err := parseRef(req.RefString)
	if err != nil {
		return Extracted{}, err
	}

	answer, err := b.generate(ctx, buildSinglePrompt(req, 4000), singleSystemPrompt)
	if err != nil {
		return Extracted{}, err
	}
	raw, ok := parseObjectResponse(answer)
	if !ok {
		return Extracted{}, fmt.Errorf("no JSON object in answer for %s", req.RefString)
	}
	return normalizeRaw(raw, ref, req.Title, req.Company), nil
}
