package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Validate Chunker config
	if c.Chunker.MaxChunkSize < 0 {
		add("chunker.max_chunk_size", "max_chunk_size cannot be negative")
	}
	if c.Chunker.ChunkOverlap < 0 || (c.Chunker.MaxChunkSize > 0 && c.Chunker.ChunkOverlap >= c.Chunker.MaxChunkSize) {
		add("chunker.chunk_overlap", "chunk_overlap must be non-negative and less than max_chunk_size")
	}

	// Validate Embedder config
	if !slices.Contains([]string{"hash", "ollama", "gemini", "openai"}, c.Embedder.Provider) {
		add("embedder.provider", "unknown embedder provider: %s", c.Embedder.Provider)
	}
	if c.Embedder.Dimension < 0 {
		add("embedder.dimension", "dimension cannot be negative")
	}
	if c.Embedder.BatchSize < 1 {
		add("embedder.batch_size", "batch_size must be positive")
	}
	if c.Embedder.BaseURL != "" && !validHTTPURL(c.Embedder.BaseURL) {
		add("embedder.base_url", "invalid base URL")
	}

	// Validate Generator config
	if !slices.Contains([]string{"ollama", "gemini", "openai"}, c.Generator.Provider) {
		add("generator.provider", "unknown generator provider: %s", c.Generator.Provider)
	}
	if c.Generator.MaxTokens < 1 || c.Generator.MaxTokens > 8192 {
		add("generator.max_tokens", "max_tokens must be between 1 and 8192")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		add("generator.temperature", "temperature must be between 0 and 2")
	}
	if c.Generator.BaseURL != "" && !validHTTPURL(c.Generator.BaseURL) {
		add("generator.base_url", "invalid base URL")
	}

	// Validate Chat config
	if c.Chat.MaxRetries < 0 {
		add("chat.max_retries", "max_retries cannot be negative")
	}
	if c.Chat.RateLimit < 0 {
		add("chat.rate_limit", "rate_limit cannot be negative")
	}
	if c.Chat.PromptTemplate != "" && !strings.Contains(c.Chat.PromptTemplate, "{question}") {
		add("chat.prompt_template", "prompt_template must contain {question}")
	}

	// Validate Store config
	switch c.Store.Backend {
	case "memory", "bolt":
	case "pgvector":
		if c.Store.DatabaseURL == "" {
			add("store.database_url", "database_url is required for the pgvector backend")
		} else if u, err := url.Parse(c.Store.DatabaseURL); err != nil || u.Scheme == "" {
			add("store.database_url", "invalid database URL")
		}
	default:
		add("store.backend", "unknown store backend: %s", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.Collection) == "" {
		add("store.collection", "collection is required")
	}
	if !slices.Contains([]string{"cosine", "l2", "ip"}, c.Store.Metric) {
		add("store.metric", "metric must be one of cosine, l2, ip")
	}
	if !slices.Contains([]string{"swap", "replace"}, c.Store.Publish) {
		add("store.publish", "publish must be swap or replace")
	}
	if c.Store.BatchSize < 1 {
		add("store.batch_size", "batch_size must be positive")
	}

	// Validate Retriever config
	if c.Retriever.K < 1 {
		add("retriever.k", "k must be positive")
	}

	// Validate Scraper config
	if c.Scraper.MaxDepth < 1 {
		add("scraper.max_depth", "max_depth must be positive")
	}
	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}

	// Validate extensions format
	for _, ext := range c.Scraper.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") && ext != "" && ext != "/" {
			add("scraper.allowed_extensions", "invalid extension format: %s", ext)
		}
	}

	if c.Corpus.URL != "" && !validHTTPURL(c.Corpus.URL) {
		add("corpus.url", "invalid corpus URL")
	}

	return errors
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
