package store_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
	"github.com/xhad/ragline/pkg/store"
)

type indexFactory func(t *testing.T) types.VectorIndex

func backends(t *testing.T) map[string]indexFactory {
	factories := map[string]indexFactory{
		store.BackendMemory: func(t *testing.T) types.VectorIndex {
			return store.NewMemoryIndex()
		},
		store.BackendBolt: func(t *testing.T) types.VectorIndex {
			idx, err := store.OpenBolt(t.TempDir(), false)
			require.NoError(t, err)
			t.Cleanup(func() { idx.Close() })
			return idx
		},
	}

	if conn := os.Getenv("TEST_DATABASE_URL"); conn != "" {
		factories[store.BackendPgVector] = func(t *testing.T) types.VectorIndex {
			prefix := "ragtest_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			idx, err := store.NewPgVectorIndex(context.Background(), conn, prefix)
			require.NoError(t, err)
			t.Cleanup(func() {
				ctx := context.Background()
				infos, _ := idx.ListCollections(ctx)
				for _, info := range infos {
					idx.DeleteCollection(ctx, info.Name)
				}
				idx.Close()
			})
			return idx
		}
	} else {
		t.Log("TEST_DATABASE_URL not set, skipping pgvector backend")
	}
	return factories
}

func meta(n int) []models.ChunkMetadata {
	out := make([]models.ChunkMetadata, n)
	for i := range out {
		out[i] = models.ChunkMetadata{Index: i, Length: i + 1, Source: "test.txt"}
	}
	return out
}

func seed(t *testing.T, idx types.VectorIndex, name, metric string) {
	t.Helper()
	ctx := context.Background()
	_, err := idx.CreateCollection(ctx, name, models.CollectionSpec{Metric: metric, Dimension: 2, EmbeddingModel: "test/model"})
	require.NoError(t, err)
	err = idx.Add(ctx, name,
		[]string{"chunk_0", "chunk_1", "chunk_2"},
		[][]float32{{1, 0}, {0, 1}, {0.6, 0.8}},
		[]string{"east", "north", "between"},
		meta(3),
	)
	require.NoError(t, err)
}

func TestVectorIndex(t *testing.T) {
	for backend, newIndex := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			testIndex(t, newIndex)
		})
	}
}

func testIndex(t *testing.T, newIndex indexFactory) {
	ctx := context.Background()

	t.Run("create and describe", func(t *testing.T) {
		idx := newIndex(t)

		info, err := idx.CreateCollection(ctx, "docs", models.CollectionSpec{Dimension: 2, EmbeddingModel: "test/model"})
		require.NoError(t, err)
		assert.Equal(t, models.MetricCosine, info.Metric)

		got, err := idx.GetCollection(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, "docs", got.Name)
		assert.Equal(t, 2, got.Dimension)
		assert.Equal(t, "test/model", got.EmbeddingModel)
		assert.Equal(t, 0, got.Count)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("unknown metric", func(t *testing.T) {
		idx := newIndex(t)

		_, err := idx.CreateCollection(ctx, "docs", models.CollectionSpec{Metric: "manhattan"})
		assert.ErrorIs(t, err, types.ErrUnknownMetric)
		assert.ErrorIs(t, err, types.ErrStore)
	})

	t.Run("query orders by distance", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)

		results, err := idx.Query(ctx, "docs", []float32{1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "chunk_0", results[0].ID)
		assert.Equal(t, "east", results[0].Document)
		assert.Equal(t, 0, results[0].Metadata.Index)
		assert.Equal(t, "chunk_2", results[1].ID)
		assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
		assert.InDelta(t, 0.4, results[1].Distance, 1e-5)
	})

	t.Run("query never exceeds k or count", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)

		for k := 0; k <= 5; k++ {
			results, err := idx.Query(ctx, "docs", []float32{0.2, 0.9}, k)
			require.NoError(t, err)
			assert.Len(t, results, min(k, 3))
			for i := 1; i < len(results); i++ {
				assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
			}
		}
	})

	t.Run("ties broken by id", func(t *testing.T) {
		idx := newIndex(t)
		_, err := idx.CreateCollection(ctx, "docs", models.CollectionSpec{})
		require.NoError(t, err)
		require.NoError(t, idx.Add(ctx, "docs",
			[]string{"b", "c", "a"},
			[][]float32{{1, 1}, {1, 1}, {1, 1}},
			[]string{"b", "c", "a"},
			meta(3),
		))

		results, err := idx.Query(ctx, "docs", []float32{1, 1}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{results[0].ID, results[1].ID, results[2].ID})
	})

	t.Run("metrics", func(t *testing.T) {
		tests := []struct {
			metric   string
			expected float64
		}{
			{models.MetricCosine, 1},
			{models.MetricL2, 1.4142135},
			{models.MetricIP, 1},
		}
		for _, tt := range tests {
			t.Run(tt.metric, func(t *testing.T) {
				idx := newIndex(t)
				seed(t, idx, "docs", tt.metric)

				results, err := idx.Query(ctx, "docs", []float32{0, 1}, 3)
				require.NoError(t, err)
				require.Len(t, results, 3)
				assert.Equal(t, "chunk_1", results[0].ID)
				assert.Equal(t, "chunk_0", results[2].ID)
				assert.InDelta(t, tt.expected, results[2].Distance, 1e-5)
			})
		}
	})

	t.Run("recreate resets count", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)

		_, err := idx.CreateCollection(ctx, "docs", models.CollectionSpec{Dimension: 2})
		require.NoError(t, err)

		count, err := idx.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("duplicate id rejects the whole batch", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)

		err := idx.Add(ctx, "docs",
			[]string{"chunk_9", "chunk_0"},
			[][]float32{{1, 1}, {1, 1}},
			[]string{"new", "again"},
			meta(2),
		)
		assert.ErrorIs(t, err, types.ErrDuplicateID)
		assert.ErrorIs(t, err, types.ErrStore)

		err = idx.Add(ctx, "docs",
			[]string{"x", "x"},
			[][]float32{{1, 1}, {1, 1}},
			[]string{"x", "x"},
			meta(2),
		)
		assert.ErrorIs(t, err, types.ErrDuplicateID)

		count, err := idx.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("length mismatch", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)

		err := idx.Add(ctx, "docs", []string{"a", "b"}, [][]float32{{1, 0}}, []string{"a", "b"}, meta(2))
		assert.ErrorIs(t, err, types.ErrLengthMismatch)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)

		err := idx.Add(ctx, "docs", []string{"a"}, [][]float32{{1, 0, 0}}, []string{"a"}, meta(1))
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)

		_, err = idx.Query(ctx, "docs", []float32{1}, 1)
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})

	t.Run("dimension learned from first add", func(t *testing.T) {
		idx := newIndex(t)
		_, err := idx.CreateCollection(ctx, "docs", models.CollectionSpec{})
		require.NoError(t, err)
		require.NoError(t, idx.Add(ctx, "docs", []string{"a"}, [][]float32{{1, 0, 0}}, []string{"a"}, meta(1)))

		info, err := idx.GetCollection(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, info.Dimension)

		err = idx.Add(ctx, "docs", []string{"b"}, [][]float32{{1, 0}}, []string{"b"}, meta(1))
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	})

	t.Run("missing collection", func(t *testing.T) {
		idx := newIndex(t)

		_, err := idx.Query(ctx, "nope", []float32{1, 0}, 1)
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
		_, err = idx.Count(ctx, "nope")
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
		_, err = idx.GetCollection(ctx, "nope")
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
		err = idx.Add(ctx, "nope", []string{"a"}, [][]float32{{1}}, []string{"a"}, meta(1))
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
		err = idx.DeleteCollection(ctx, "nope")
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	})

	t.Run("get orders by chunk index", func(t *testing.T) {
		idx := newIndex(t)
		_, err := idx.CreateCollection(ctx, "docs", models.CollectionSpec{})
		require.NoError(t, err)
		require.NoError(t, idx.Add(ctx, "docs",
			[]string{"chunk_10", "chunk_2"},
			[][]float32{{1, 0}, {0, 1}},
			[]string{"ten", "two"},
			[]models.ChunkMetadata{{Index: 10, Length: 3}, {Index: 2, Length: 3}},
		))

		records, err := idx.Get(ctx, "docs", models.Include{})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "chunk_2", records[0].ID)
		assert.Equal(t, "two", records[0].Document)
		assert.Nil(t, records[0].Vector)

		records, err = idx.Get(ctx, "docs", models.Include{Vectors: true})
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1}, records[0].Vector)
	})

	t.Run("aliases", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs-v1", models.MetricCosine)
		require.NoError(t, idx.SetAlias(ctx, "docs", "docs-v1"))

		target, err := idx.ResolveAlias(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, "docs-v1", target)

		count, err := idx.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		_, err = idx.CreateCollection(ctx, "docs-v2", models.CollectionSpec{Dimension: 2})
		require.NoError(t, err)
		require.NoError(t, idx.SetAlias(ctx, "docs", "docs-v2"))
		require.NoError(t, idx.DeleteCollection(ctx, "docs-v1"))

		target, err = idx.ResolveAlias(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, "docs-v2", target)

		infos, err := idx.ListCollections(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "docs-v2", infos[0].Name)

		// deleting through the alias drops the target and the alias
		require.NoError(t, idx.DeleteCollection(ctx, "docs"))
		_, err = idx.ResolveAlias(ctx, "docs")
		assert.ErrorIs(t, err, types.ErrCollectionNotFound)
		infos, err = idx.ListCollections(ctx)
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("alias replaces a plain collection", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx, "docs", models.MetricCosine)
		seed(t, idx, "docs-v1", models.MetricCosine)

		require.NoError(t, idx.SetAlias(ctx, "docs", "docs-v1"))

		infos, err := idx.ListCollections(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "docs-v1", infos[0].Name)
	})
}

func TestBoltIndex_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := store.OpenBolt(dir, false)
	require.NoError(t, err)
	seed(t, idx, "docs", models.MetricL2)
	require.NoError(t, idx.Close())

	reader, err := store.OpenBolt(dir, true)
	require.NoError(t, err)
	defer reader.Close()

	info, err := reader.GetCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, models.MetricL2, info.Metric)
	assert.Equal(t, 3, info.Count)

	results, err := reader.Query(ctx, "docs", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "north", results[0].Document)

	_, err = reader.CreateCollection(ctx, "other", models.CollectionSpec{})
	assert.ErrorIs(t, err, types.ErrStore)
}

func TestOpenBolt_ReadOnlyMissing(t *testing.T) {
	_, err := store.OpenBolt(t.TempDir()+"/missing", true)
	assert.ErrorIs(t, err, types.ErrStore)
}

func TestNewWithConfig(t *testing.T) {
	ctx := context.Background()

	idx, err := store.NewWithConfig(ctx, store.VectorStoreConfig{Backend: store.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryIndex{}, idx)

	idx, err = store.NewWithConfig(ctx, store.VectorStoreConfig{Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &store.BoltIndex{}, idx)
	require.NoError(t, idx.Close())

	_, err = store.NewWithConfig(ctx, store.VectorStoreConfig{Backend: "redis"})
	assert.ErrorIs(t, err, types.ErrStore)

	_, err = store.NewWithConfig(ctx, store.VectorStoreConfig{Backend: store.BackendPgVector})
	assert.ErrorIs(t, err, types.ErrStore)
}
