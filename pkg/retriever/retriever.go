package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
)

const (
	DefaultK         = 3
	ContextSeparator = "\n\n---\n\n"
)

type RetrieverConfig struct {
	Collection string
	DefaultK   int
	Logger     *slog.Logger
}

// Retriever turns a question into the context text handed to the answerer.
type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	index    types.VectorIndex
	logger   *slog.Logger
}

func NewWithConfig(config RetrieverConfig, embedder types.Embedder, index types.VectorIndex) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrModel)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", types.ErrStore)
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", types.ErrStore)
	}
	if config.DefaultK <= 0 {
		config.DefaultK = DefaultK
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
		logger:   config.Logger.With("component", "retriever", "collection", config.Collection),
	}, nil
}

// Search returns the k nearest chunks to query, nearest first.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]models.QueryResult, error) {
	if k <= 0 {
		k = r.config.DefaultK
	}

	info, err := r.index.GetCollection(ctx, r.config.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	if info.EmbeddingModel != "" && info.EmbeddingModel != r.embedder.ModelID() {
		return nil, fmt.Errorf("%w: %w: collection %s was built with %s, query embedder is %s",
			types.ErrModel, types.ErrModelMismatch, info.Name, info.EmbeddingModel, r.embedder.ModelID())
	}
	if info.Count == 0 {
		r.logger.DebugContext(ctx, "collection is empty")
		return []models.QueryResult{}, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.index.Query(ctx, r.config.Collection, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	r.logger.DebugContext(ctx, "retrieved chunks", "k", k, "results", len(results))
	return results, nil
}

// Retrieve joins the documents of the k nearest chunks. No match yields "".
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (string, error) {
	results, err := r.Search(ctx, query, k)
	if err != nil {
		return "", err
	}
	return JoinContext(results), nil
}

func JoinContext(results []models.QueryResult) string {
	docs := make([]string, len(results))
	for i, res := range results {
		docs[i] = res.Document
	}
	return strings.Join(docs, ContextSeparator)
}
