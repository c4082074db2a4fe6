package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/xhad/ragline/internal/types"
)

// Task types understood by the Gemini embedding endpoint.
const (
	geminiTaskDocument = "RETRIEVAL_DOCUMENT"
	geminiTaskQuery    = "RETRIEVAL_QUERY"
)

var errNoContent = errors.New("gemini: no content generated")

type geminiClient struct {
	apiKey  string
	baseURL string

	once   sync.Once
	client *genai.Client
	err    error
}

func (c *geminiClient) get(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      c.apiKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{BaseURL: c.baseURL},
		})
		if err != nil {
			c.err = fmt.Errorf("%w: failed to create gemini client: %w", types.ErrModel, err)
			return
		}
		c.client = client
	})
	return c.client, c.err
}

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	config EmbedderConfig
	client *geminiClient
}

func NewGeminiEmbedder(config EmbedderConfig) (*GeminiEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini: %w", types.ErrModel, types.ErrMissingAPIKey)
	}
	return &GeminiEmbedder{
		config: config,
		client: &geminiClient{apiKey: config.APIKey, baseURL: config.BaseURL},
	}, nil
}

func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.config.BatchSize) {
		out, err := e.embed(ctx, batch, geminiTaskDocument)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embed(ctx, []string{text}, geminiTaskQuery)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *GeminiEmbedder) ModelID() string {
	return ProviderGemini + "/" + e.config.Model
}

func (e *GeminiEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	client, err := e.client.get(ctx)
	if err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	res, err := client.Models.EmbedContent(ctx, e.config.Model, contents, &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create embeddings: %w", types.ErrModel, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: failed to create embeddings: expected %d, got %d", types.ErrModel, len(texts), len(res.Embeddings))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: failed to create embeddings: empty embedding at %d", types.ErrModel, i)
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// GeminiGenerator generates answers with a Gemini model.
type GeminiGenerator struct {
	config GeneratorConfig
	client *geminiClient
}

func NewGeminiGenerator(config GeneratorConfig) (*GeminiGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini: %w", types.ErrModel, types.ErrMissingAPIKey)
	}
	return &GeminiGenerator{
		config: config,
		client: &geminiClient{apiKey: config.APIKey, baseURL: config.BaseURL},
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := g.client.get(ctx)
	if err != nil {
		return "", err
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.config.Temperature)),
	}

	resp, err := client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			builder.WriteString(part.Text)
		}
		break
	}
	if builder.Len() == 0 {
		return "", errNoContent
	}
	return builder.String(), nil
}

func (g *GeminiGenerator) ModelID() string {
	return ProviderGemini + "/" + g.config.Model
}
