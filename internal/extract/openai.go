package extract

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
)

// DefaultOpenAIModel balances cost against extraction quality.
const DefaultOpenAIModel = "gpt-4o-mini"

// openAICompleter is the slice of the go-openai client this backend needs.
type openAICompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIBackend extracts one posting per request. The hosted API answers
// fast enough that request-level batching buys nothing, so ExtractBatch just
// walks the requests.
type OpenAIBackend struct {
	client openAICompleter
	model  string
	logger *zap.Logger
}

func NewOpenAIBackend(apiKey, model string, logger *zap.Logger) *OpenAIBackend {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIBackend{client: openai.NewClient(apiKey), model: model, logger: logger}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) ExtractBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		extracted, err := b.ExtractSingle(ctx, req)
		if err != nil {
			b.logger.Warn("openai extraction failed",
				zap.String("job_ref", req.RefString),
				zap.Error(err),
			)
			results[i] = needsFallback()
			continue
		}
		results[i] = structured(extracted)
	}
	return results, nil
}

func (b *OpenAIBackend) ExtractSingle(ctx context.Context, req Request) (Extracted, error) {
	ref, err := parseRef(req.RefString)
	if err != nil {
		return Extracted{}, err
	}

	started := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: 0.1,
		MaxTokens:   1000,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: singleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildSinglePrompt(req, 6000)},
		},
	})
	metrics.ObserveLLMRequest(b.Name(), time.Since(started))
	if err != nil {
		return Extracted{}, fmt.Errorf("call openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Extracted{}, fmt.Errorf("openai returned no choices for %s", req.RefString)
	}

	raw, ok := parseObjectResponse(resp.Choices[0].Message.Content)
	if !ok {
		return Extracted{}, fmt.Errorf("no JSON object in answer for %s", req.RefString)
	}
	return normalizeRaw(raw, ref, req.Title, req.Company), nil
}
