package types

import (
	"context"

	"github.com/xhad/ragline/internal/models"
)

// Core interfaces
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// ModelID identifies the model and configuration that produced the vectors.
	ModelID() string
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelID() string
}

type VectorIndex interface {
	CreateCollection(ctx context.Context, name string, spec models.CollectionSpec) (models.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
	GetCollection(ctx context.Context, name string) (models.CollectionInfo, error)
	ListCollections(ctx context.Context) ([]models.CollectionInfo, error)
	Add(ctx context.Context, name string, ids []string, vectors [][]float32, documents []string, metadatas []models.ChunkMetadata) error
	Query(ctx context.Context, name string, vector []float32, k int) ([]models.QueryResult, error)
	Get(ctx context.Context, name string, include models.Include) ([]models.Record, error)
	Count(ctx context.Context, name string) (int, error)
	SetAlias(ctx context.Context, alias, name string) error
	ResolveAlias(ctx context.Context, alias string) (string, error)
	Close() error
}
