package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
)

// MemoryIndex keeps collections in process memory. Every instance is
// independent, which makes it the store of choice for tests.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	aliases     map[string]string
}

type memCollection struct {
	info    models.CollectionInfo
	records []models.Record
	ids     map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		collections: make(map[string]*memCollection),
		aliases:     make(map[string]string),
	}
}

func (s *MemoryIndex) CreateCollection(_ context.Context, name string, spec models.CollectionSpec) (models.CollectionInfo, error) {
	if strings.TrimSpace(name) == "" {
		return models.CollectionInfo{}, fmt.Errorf("%w: collection name is required", types.ErrStore)
	}
	metric, err := normalizeMetric(spec.Metric)
	if err != nil {
		return models.CollectionInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(name)

	info := models.CollectionInfo{
		Name:           name,
		Metric:         metric,
		Dimension:      spec.Dimension,
		EmbeddingModel: spec.EmbeddingModel,
		CreatedAt:      time.Now().UTC(),
	}
	s.collections[name] = &memCollection{info: info, ids: make(map[string]struct{})}
	return info, nil
}

func (s *MemoryIndex) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deleteLocked(name) {
		return notFound(name)
	}
	return nil
}

// deleteLocked removes name, or the collection an alias called name points
// to, together with every alias of it.
func (s *MemoryIndex) deleteLocked(name string) bool {
	target := name
	if _, ok := s.collections[name]; !ok {
		aliased, ok := s.aliases[name]
		if !ok {
			return false
		}
		target = aliased
	}

	delete(s.collections, target)
	for alias, to := range s.aliases {
		if to == target {
			delete(s.aliases, alias)
		}
	}
	return true
}

func (s *MemoryIndex) lookup(name string) (*memCollection, bool) {
	if c, ok := s.collections[name]; ok {
		return c, true
	}
	if target, ok := s.aliases[name]; ok {
		c, ok := s.collections[target]
		return c, ok
	}
	return nil, false
}

func (s *MemoryIndex) GetCollection(_ context.Context, name string) (models.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.lookup(name)
	if !ok {
		return models.CollectionInfo{}, notFound(name)
	}
	info := c.info
	info.Count = len(c.records)
	return info, nil
}

func (s *MemoryIndex) ListCollections(_ context.Context) ([]models.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]models.CollectionInfo, 0, len(s.collections))
	for _, c := range s.collections {
		info := c.info
		info.Count = len(c.records)
		infos = append(infos, info)
	}
	sortInfos(infos)
	return infos, nil
}

func (s *MemoryIndex) Add(_ context.Context, name string, ids []string, vectors [][]float32, documents []string, metadatas []models.ChunkMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.lookup(name)
	if !ok {
		return notFound(name)
	}

	dim, err := validateBatch(c.info, ids, vectors, documents, metadatas, func(id string) bool {
		_, ok := c.ids[id]
		return ok
	})
	if err != nil {
		return err
	}

	c.info.Dimension = dim
	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		c.records = append(c.records, models.Record{
			ID:       id,
			Vector:   vec,
			Document: documents[i],
			Metadata: metadatas[i],
		})
		c.ids[id] = struct{}{}
	}
	return nil
}

func (s *MemoryIndex) Query(_ context.Context, name string, vector []float32, k int) ([]models.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.lookup(name)
	if !ok {
		return nil, notFound(name)
	}
	if err := checkQueryVector(c.info, vector); err != nil {
		return nil, err
	}
	return rank(c.records, vector, c.info.Metric, k), nil
}

func (s *MemoryIndex) Get(_ context.Context, name string, include models.Include) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.lookup(name)
	if !ok {
		return nil, notFound(name)
	}

	records := make([]models.Record, len(c.records))
	for i, r := range c.records {
		if include.Vectors {
			r.Vector = append([]float32(nil), r.Vector...)
		} else {
			r.Vector = nil
		}
		records[i] = r
	}
	sortRecords(records)
	return records, nil
}

func (s *MemoryIndex) Count(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.lookup(name)
	if !ok {
		return 0, notFound(name)
	}
	return len(c.records), nil
}

// SetAlias points alias at name. A collection called alias is dropped.
func (s *MemoryIndex) SetAlias(_ context.Context, alias, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return notFound(name)
	}
	if alias == name {
		return fmt.Errorf("%w: alias %s would point at itself", types.ErrStore, alias)
	}
	if _, ok := s.collections[alias]; ok {
		s.deleteLocked(alias)
	}
	s.aliases[alias] = name
	return nil
}

func (s *MemoryIndex) ResolveAlias(_ context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.collections[alias]; ok {
		return alias, nil
	}
	if target, ok := s.aliases[alias]; ok {
		return target, nil
	}
	return "", notFound(alias)
}

func (s *MemoryIndex) Close() error {
	return nil
}
