package store

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
)

func normalizeMetric(metric string) (string, error) {
	switch strings.ToLower(metric) {
	case "", models.MetricCosine:
		return models.MetricCosine, nil
	case models.MetricL2:
		return models.MetricL2, nil
	case models.MetricIP:
		return models.MetricIP, nil
	default:
		return "", fmt.Errorf("%w: %w: %q", types.ErrStore, types.ErrUnknownMetric, metric)
	}
}

// Distance returns the distance between a and b under metric. Smaller is nearer.
func Distance(metric string, a, b []float32) float64 {
	switch metric {
	case models.MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	case models.MetricIP:
		return 1 - dot(a, b)
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot(a, b)/(na*nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(a []float32) float64 {
	return math.Sqrt(dot(a, a))
}

// rank is exact nearest neighbour search: every record is scored and the k
// nearest are returned, ties broken by ascending id.
func rank(records []models.Record, query []float32, metric string, k int) []models.QueryResult {
	if k <= 0 || len(records) == 0 {
		return []models.QueryResult{}
	}

	results := make([]models.QueryResult, len(records))
	for i, r := range records {
		results[i] = models.QueryResult{
			ID:       r.ID,
			Document: r.Document,
			Metadata: r.Metadata,
			Distance: Distance(metric, query, r.Vector),
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

// validateBatch checks an Add call before anything is written. exists
// reports whether an id is already stored in the collection.
func validateBatch(info models.CollectionInfo, ids []string, vectors [][]float32, documents []string, metadatas []models.ChunkMetadata, exists func(string) bool) (int, error) {
	n := len(ids)
	if len(vectors) != n || len(documents) != n || len(metadatas) != n {
		return 0, fmt.Errorf("%w: %w: ids=%d vectors=%d documents=%d metadatas=%d",
			types.ErrStore, types.ErrLengthMismatch, n, len(vectors), len(documents), len(metadatas))
	}

	dim := info.Dimension
	seen := make(map[string]struct{}, n)
	for i, id := range ids {
		if _, ok := seen[id]; ok || exists(id) {
			return 0, fmt.Errorf("%w: %w: %q in collection %s", types.ErrStore, types.ErrDuplicateID, id, info.Name)
		}
		seen[id] = struct{}{}

		if dim == 0 {
			dim = len(vectors[i])
		}
		if len(vectors[i]) != dim || dim == 0 {
			return 0, fmt.Errorf("%w: %w: id %q has %d dimensions, collection %s expects %d",
				types.ErrStore, types.ErrDimensionMismatch, id, len(vectors[i]), info.Name, dim)
		}
	}
	return dim, nil
}

func checkQueryVector(info models.CollectionInfo, vector []float32) error {
	if info.Dimension > 0 && len(vector) != info.Dimension {
		return fmt.Errorf("%w: %w: query has %d dimensions, collection %s expects %d",
			types.ErrStore, types.ErrDimensionMismatch, len(vector), info.Name, info.Dimension)
	}
	return nil
}

func sortRecords(records []models.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Metadata.Index != records[j].Metadata.Index {
			return records[i].Metadata.Index < records[j].Metadata.Index
		}
		return records[i].ID < records[j].ID
	})
}

func notFound(name string) error {
	return fmt.Errorf("%w: %w: %s", types.ErrStore, types.ErrCollectionNotFound, name)
}

func sortInfos(infos []models.CollectionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
