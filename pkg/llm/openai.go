package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xhad/ragline/internal/types"
)

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// OpenAIEmbedder uses the OpenAI API (or a compatible endpoint) for embeddings.
type OpenAIEmbedder struct {
	config EmbedderConfig
	client *openai.Client
}

func NewOpenAIEmbedder(config EmbedderConfig) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: %w", types.ErrModel, types.ErrMissingAPIKey)
	}
	return &OpenAIEmbedder{
		config: config,
		client: newOpenAIClient(config.APIKey, config.BaseURL),
	}, nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.config.BatchSize) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.config.Model),
			Input: batch,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create embeddings: %w", types.ErrModel, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: failed to create embeddings: expected %d, got %d", types.ErrModel, len(batch), len(resp.Data))
		}

		out := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(out) {
				return nil, fmt.Errorf("%w: failed to create embeddings: index %d out of range", types.ErrModel, d.Index)
			}
			v := make([]float32, len(d.Embedding))
			for i := range d.Embedding {
				v[i] = float32(d.Embedding[i])
			}
			out[d.Index] = v
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) ModelID() string {
	return ProviderOpenAI + "/" + e.config.Model
}

// OpenAIGenerator generates answers with an OpenAI chat model.
type OpenAIGenerator struct {
	config GeneratorConfig
	client *openai.Client
}

func NewOpenAIGenerator(config GeneratorConfig) (*OpenAIGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: %w", types.ErrModel, types.ErrMissingAPIKey)
	}
	return &OpenAIGenerator{
		config: config,
		client: newOpenAIClient(config.APIKey, config.BaseURL),
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: openAITemperature(g.config.Temperature),
		MaxTokens:   g.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) ModelID() string {
	return ProviderOpenAI + "/" + g.config.Model
}

// openAITemperature sends 0 as the smallest positive value. A zero field is
// dropped from the request.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
