package rag_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
	"github.com/xhad/ragline/pkg/llm"
	"github.com/xhad/ragline/pkg/llm/fake"
	"github.com/xhad/ragline/pkg/rag"
	"github.com/xhad/ragline/pkg/store"
)

const fishCorpus = "The sky is blue.\n\nFish live in water.\n\n  \n\nRocks are hard.\n"

func writeCorpus(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func newPipeline(t *testing.T, idx types.VectorIndex, opts rag.Options) (*rag.Pipeline, *fake.Generator) {
	t.Helper()
	gen := fake.NewFakeGenerator("Fish live in water.")
	chat, err := llm.NewWithConfig(llm.ChatConfig{SkipEmptyContext: true}, gen)
	require.NoError(t, err)

	if opts.Embedder == nil {
		opts.Embedder = llm.NewHashEmbedder(0)
	}
	opts.Index = idx
	opts.Answerer = chat
	if opts.Collection == "" {
		opts.Collection = "rag_documents"
	}

	p, err := rag.New(opts)
	require.NoError(t, err)
	return p, gen
}

func TestPipeline_FishScenario(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	p, gen := newPipeline(t, idx, rag.Options{})

	report, err := p.Ingest(ctx, writeCorpus(t, fishCorpus))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, report.Stored)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, "rag_documents", report.Alias)

	count, err := idx.Count(ctx, "rag_documents")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	answer, err := p.Ask(ctx, "where do fish live", 1)
	require.NoError(t, err)
	assert.Equal(t, "Fish live in water.", answer.Context)
	require.Len(t, answer.Results, 1)
	assert.Equal(t, "chunk_1", answer.Results[0].ID)
	assert.Equal(t, "Fish live in water.", answer.Text)

	prompt, ok := gen.LastPrompt()
	require.True(t, ok)
	assert.Contains(t, prompt, "Context:\nFish live in water.\n")
}

func TestPipeline_SwapKeepsOneVersion(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	p, _ := newPipeline(t, idx, rag.Options{})
	path := writeCorpus(t, fishCorpus)

	first, err := p.Ingest(ctx, path)
	require.NoError(t, err)
	second, err := p.Ingest(ctx, path)
	require.NoError(t, err)
	assert.NotEqual(t, first.Collection, second.Collection)

	infos, err := idx.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, second.Collection, infos[0].Name)

	target, err := idx.ResolveAlias(ctx, "rag_documents")
	require.NoError(t, err)
	assert.Equal(t, second.Collection, target)
}

func TestPipeline_SwapLeavesUnrelatedCollections(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	_, err := idx.CreateCollection(ctx, "rag_documents-archive", models.CollectionSpec{})
	require.NoError(t, err)

	p, _ := newPipeline(t, idx, rag.Options{})
	_, err = p.Ingest(ctx, writeCorpus(t, fishCorpus))
	require.NoError(t, err)

	infos, err := idx.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestPipeline_Replace(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	p, _ := newPipeline(t, idx, rag.Options{Publish: rag.PublishReplace})
	path := writeCorpus(t, fishCorpus)

	for i := 0; i < 2; i++ {
		report, err := p.Ingest(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "rag_documents", report.Collection)
	}

	info, err := idx.GetCollection(ctx, "rag_documents")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Count)
	assert.Equal(t, "hash/fnv1a-384", info.EmbeddingModel)
}

func TestPipeline_InputFailuresTouchNoStore(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	p, _ := newPipeline(t, idx, rag.Options{})

	report, err := p.Ingest(ctx, filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, types.ErrInput)
	assert.Equal(t, 0, report.Chunks)

	_, err = p.Ingest(ctx, writeCorpus(t, "\n\n   \n\n"))
	assert.ErrorIs(t, err, types.ErrInput)
	assert.ErrorIs(t, err, types.ErrEmptyCorpus)

	infos, err := idx.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

type failingIndex struct {
	*store.MemoryIndex
}

var errDiskFull = errors.New("disk full")

func (f failingIndex) Add(context.Context, string, []string, [][]float32, []string, []models.ChunkMetadata) error {
	return errDiskFull
}

func TestPipeline_FailedSwapKeepsPublishedVersion(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryIndex()
	good, _ := newPipeline(t, mem, rag.Options{})
	published, err := good.Ingest(ctx, writeCorpus(t, fishCorpus))
	require.NoError(t, err)

	bad, _ := newPipeline(t, failingIndex{mem}, rag.Options{})
	report, err := bad.Ingest(ctx, writeCorpus(t, fishCorpus))
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 3, report.Failed)

	target, err := mem.ResolveAlias(ctx, "rag_documents")
	require.NoError(t, err)
	assert.Equal(t, published.Collection, target)

	infos, err := mem.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestPipeline_EmptyCollectionAnswer(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()
	emb := llm.NewHashEmbedder(0)
	_, err := idx.CreateCollection(ctx, "rag_documents", models.CollectionSpec{EmbeddingModel: emb.ModelID()})
	require.NoError(t, err)

	p, gen := newPipeline(t, idx, rag.Options{Embedder: emb})

	answer, err := p.Ask(ctx, "where do fish live", 3)
	require.NoError(t, err)
	assert.Equal(t, "", answer.Context)
	assert.Empty(t, answer.Results)
	assert.Equal(t, llm.DefaultNoContextAnswer, answer.Text)
	assert.Equal(t, 0, gen.GetCallCount())
}

func TestPipeline_ModelMismatch(t *testing.T) {
	ctx := context.Background()
	idx := store.NewMemoryIndex()

	builder, _ := newPipeline(t, idx, rag.Options{})
	_, err := builder.Ingest(ctx, writeCorpus(t, fishCorpus))
	require.NoError(t, err)

	reader, gen := newPipeline(t, idx, rag.Options{Embedder: llm.NewHashEmbedder(128)})
	_, err = reader.Ask(ctx, "where do fish live", 1)
	assert.ErrorIs(t, err, types.ErrModelMismatch)
	assert.Equal(t, 0, gen.GetCallCount())
}

func TestPipeline_EmbedderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx := context.Background()
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	idx := store.NewMemoryIndex()
	p, _ := newPipeline(t, idx, rag.Options{Embedder: emb})

	_, err = p.Ingest(ctx, writeCorpus(t, fishCorpus))
	assert.ErrorIs(t, err, types.ErrModel)

	infos, err := idx.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestPipeline_Progress(t *testing.T) {
	ctx := context.Background()
	stages := map[string][]int{}
	p, _ := newPipeline(t, store.NewMemoryIndex(), rag.Options{
		BatchSize: 2,
		OnProgress: func(stage string, done, total int) {
			assert.Equal(t, 3, total)
			stages[stage] = append(stages[stage], done)
		},
	})

	_, err := p.Ingest(ctx, writeCorpus(t, fishCorpus))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, stages[rag.StageEmbedding])
	assert.Equal(t, []int{2, 3}, stages[rag.StageStoring])
}

func TestPipeline_Inspect(t *testing.T) {
	ctx := context.Background()
	p, _ := newPipeline(t, store.NewMemoryIndex(), rag.Options{})
	_, err := p.Ingest(ctx, writeCorpus(t, fishCorpus))
	require.NoError(t, err)

	inspection, err := p.Inspect(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, inspection.Collection.Count)
	require.Len(t, inspection.Collections, 1)
	assert.Equal(t, inspection.Collection.Name, inspection.Collections[0].Name)

	require.Len(t, inspection.Records, 3)
	assert.Equal(t, "chunk_0", inspection.Records[0].ID)
	assert.Equal(t, llm.DefaultHashDimension, inspection.Records[0].Dimension)
	assert.Len(t, inspection.Records[0].Head, rag.InspectHeadSize)

	require.Len(t, inspection.Queries, len(rag.DefaultSmokeQueries))
	for _, q := range inspection.Queries {
		assert.Len(t, q.Results, 2)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := rag.New(rag.Options{Index: store.NewMemoryIndex(), Collection: "c"})
	assert.ErrorIs(t, err, types.ErrModel)

	_, err = rag.New(rag.Options{Embedder: llm.NewHashEmbedder(0), Collection: "c"})
	assert.ErrorIs(t, err, types.ErrStore)

	_, err = rag.New(rag.Options{Embedder: llm.NewHashEmbedder(0), Index: store.NewMemoryIndex(), Collection: "c", Publish: "append"})
	assert.ErrorIs(t, err, types.ErrStore)
}
