package llm

import (
	"fmt"
	"strings"

	"github.com/xhad/ragline/internal/types"
)

// Embedding providers.
const (
	ProviderHash   = "hash"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL or an alternate API endpoint
	APIKey    string
	Dimension int // hash provider only
	BatchSize int
}

// NewEmbedderWithConfig builds the embedder named by config.Provider. The
// same configuration must be used for ingestion and for queries.
func NewEmbedderWithConfig(config EmbedderConfig) (types.Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	switch strings.ToLower(config.Provider) {
	case "", ProviderHash:
		return NewHashEmbedder(config.Dimension), nil
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		return NewOllamaEmbedder(config)
	case ProviderGemini:
		if config.Model == "" {
			config.Model = "text-embedding-004"
		}
		return NewGeminiEmbedder(config)
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		return NewOpenAIEmbedder(config)
	default:
		return nil, fmt.Errorf("%w: %w: embedder %q", types.ErrModel, types.ErrUnknownProvider, config.Provider)
	}
}

func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[start:end])
	}
	return out
}
