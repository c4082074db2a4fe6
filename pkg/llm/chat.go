package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/xhad/ragline/internal/types"
)

// DefaultPromptTemplate is filled with {context} and {question}.
const DefaultPromptTemplate = `Based only on the following context, please answer the question. If the context doesn't contain relevant information to answer the question, please say so.

Context:
{context}

Question: {question}

Answer:`

const (
	DefaultFallbackAnswer  = "I'm unable to answer right now: the language model could not be reached."
	DefaultNoContextAnswer = "I don't have enough information in the knowledge base to answer that question."
)

// GeneratorConfig configures the text generation provider.
type GeneratorConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// NewGeneratorWithConfig builds the generator named by config.Provider.
func NewGeneratorWithConfig(config GeneratorConfig) (types.Generator, error) {
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("%w: temperature must be between 0 and 2", types.ErrModel)
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("%w: max tokens cannot be negative", types.ErrModel)
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}

	switch strings.ToLower(config.Provider) {
	case "", ProviderGemini:
		if config.Model == "" {
			config.Model = "gemini-1.5-flash"
		}
		return NewGeminiGenerator(config)
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "mistral" // Default Ollama model
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		return NewOllamaGenerator(config)
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "gpt-4o-mini"
		}
		return NewOpenAIGenerator(config)
	default:
		return nil, fmt.Errorf("%w: %w: generator %q", types.ErrModel, types.ErrUnknownProvider, config.Provider)
	}
}

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	PromptTemplate string
	MaxRetries     int
	InitialBackoff time.Duration
	Timeout        time.Duration // per provider call
	RateLimit      float64       // provider calls per second, 0 means unlimited
	// Fallback returns FallbackAnswer instead of an error once retries are exhausted.
	Fallback       bool
	FallbackAnswer string
	// SkipEmptyContext answers NoContextAnswer without calling the provider.
	SkipEmptyContext bool
	NoContextAnswer  string
	Logger           *slog.Logger
}

// ChatEngine answers a question from retrieved context with a generator.
type ChatEngine struct {
	config    ChatConfig
	generator types.Generator
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig, generator types.Generator) (*ChatEngine, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: generator is required", types.ErrModel)
	}
	if config.PromptTemplate == "" {
		config.PromptTemplate = DefaultPromptTemplate
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 500 * time.Millisecond
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.FallbackAnswer == "" {
		config.FallbackAnswer = DefaultFallbackAnswer
	}
	if config.NoContextAnswer == "" {
		config.NoContextAnswer = DefaultNoContextAnswer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &ChatEngine{
		config:    config,
		generator: generator,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    config.Logger.With("component", "chat", "model", generator.ModelID()),
	}, nil
}

// Prompt renders the prompt sent to the generator.
func (ce *ChatEngine) Prompt(query, contextText string) string {
	return strings.NewReplacer("{context}", contextText, "{question}", query).Replace(ce.config.PromptTemplate)
}

// Answer generates an answer to query grounded in contextText.
func (ce *ChatEngine) Answer(ctx context.Context, query, contextText string) (string, error) {
	if ce.config.SkipEmptyContext && strings.TrimSpace(contextText) == "" {
		ce.logger.DebugContext(ctx, "empty context, skipping generation")
		return ce.config.NoContextAnswer, nil
	}

	prompt := ce.Prompt(query, contextText)

	var answer string
	operation := func() error {
		if err := ce.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		defer cancel()

		out, err := ce.generator.Generate(callCtx, prompt)
		if err != nil {
			if errors.Is(err, types.ErrModel) {
				return backoff.Permanent(err)
			}
			return err
		}
		answer = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = ce.config.InitialBackoff
	policy.MaxElapsedTime = 0

	start := time.Now()
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(ce.config.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			ce.logger.WarnContext(ctx, "generation failed, retrying", "error", err, "wait", wait)
		})
	if err != nil {
		ce.logger.ErrorContext(ctx, "generation failed", "error", err, "duration", time.Since(start))
		if ce.config.Fallback {
			return ce.config.FallbackAnswer, nil
		}
		return "", fmt.Errorf("%w: chat error: %w", types.ErrProvider, err)
	}

	ce.logger.DebugContext(ctx, "answer generated", "duration", time.Since(start))
	return answer, nil
}
