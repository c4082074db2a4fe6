package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/ragline/internal/types"
)

// OllamaEmbedder embeds text with a model served by Ollama. The client is
// created on first use.
type OllamaEmbedder struct {
	Config EmbedderConfig

	once  sync.Once
	embed embeddings.Embedder
	err   error
}

func NewOllamaEmbedder(config EmbedderConfig) (*OllamaEmbedder, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("%w: ollama embedding model is required", types.ErrModel)
	}
	return &OllamaEmbedder{Config: config}, nil
}

func (e *OllamaEmbedder) client() (embeddings.Embedder, error) {
	e.once.Do(func() {
		llm, err := ollama.New(ollama.WithModel(e.Config.Model),
			ollama.WithServerURL(e.Config.BaseURL))
		if err != nil {
			e.err = fmt.Errorf("%w: failed to initialize ollama embedder: %w", types.ErrModel, err)
			return
		}

		emb, err := embeddings.NewEmbedder(llm,
			embeddings.WithBatchSize(e.Config.BatchSize),
			embeddings.WithStripNewLines(true))
		if err != nil {
			e.err = fmt.Errorf("%w: failed to initialize ollama embedder: %w", types.ErrModel, err)
			return
		}
		e.embed = emb
	})
	return e.embed, e.err
}

func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	emb, err := e.client()
	if err != nil {
		return nil, err
	}
	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create embeddings: %w", types.ErrModel, err)
	}
	return vectors, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	emb, err := e.client()
	if err != nil {
		return nil, err
	}
	vector, err := emb.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create query embedding: %w", types.ErrModel, err)
	}
	return vector, nil
}

func (e *OllamaEmbedder) ModelID() string {
	return ProviderOllama + "/" + e.Config.Model
}

// OllamaGenerator generates answers with an Ollama chat model.
type OllamaGenerator struct {
	config GeneratorConfig
	llm    llms.Model
}

func NewOllamaGenerator(config GeneratorConfig) (*OllamaGenerator, error) {
	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize LLM: %w", types.ErrModel, err)
	}

	return &OllamaGenerator{
		config: config,
		llm:    llm,
	}, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithTemperature(g.config.Temperature),
		llms.WithMaxTokens(g.config.MaxTokens))
}

func (g *OllamaGenerator) ModelID() string {
	return ProviderOllama + "/" + g.config.Model
}
