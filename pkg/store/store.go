package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/ragline/internal/types"
)

const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPgVector = "pgvector"

	DefaultPath       = "./rag_db"
	DefaultCollection = "rag_documents"
)

type VectorStoreConfig struct {
	Backend    string
	Path       string // bolt directory
	ConnString string // pgvector
	TableName  string // pgvector table prefix
	ReadOnly   bool
	Logger     *slog.Logger
}

// NewWithConfig opens the vector index selected by config.Backend.
func NewWithConfig(ctx context.Context, config VectorStoreConfig) (types.VectorIndex, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "store", "backend", config.Backend)

	switch strings.ToLower(config.Backend) {
	case "", BackendBolt:
		idx, err := OpenBolt(config.Path, config.ReadOnly)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened bolt index", "path", config.Path, "read_only", config.ReadOnly)
		return idx, nil
	case BackendMemory:
		return NewMemoryIndex(), nil
	case BackendPgVector:
		idx, err := NewPgVectorIndex(ctx, config.ConnString, config.TableName)
		if err != nil {
			return nil, err
		}
		logger.Debug("connected to pgvector", "table", config.TableName)
		return idx, nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", types.ErrStore, config.Backend)
	}
}
