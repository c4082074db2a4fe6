package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
)

// IndexFileName is the bolt file kept inside the store directory.
const IndexFileName = "index.db"

var (
	collectionsBucket = []byte("collections")
	aliasesBucket     = []byte("aliases")
	recordsBucket     = []byte("records")
)

// BoltIndex persists collections in a single bolt file. Each collection
// has its own nested bucket under "records", keyed by record id.
type BoltIndex struct {
	db       *bolt.DB
	readOnly bool
}

// OpenBolt opens (or creates) the index in dir. A read-only index shares
// the file with other readers and never creates it.
func OpenBolt(dir string, readOnly bool) (*BoltIndex, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: store path is required", types.ErrStore)
	}
	if !readOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create store directory: %w", types.ErrStore, err)
		}
	}

	db, err := bolt.Open(filepath.Join(dir, IndexFileName), 0o600, &bolt.Options{
		Timeout:  5 * time.Second,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open store %s: %w", types.ErrStore, dir, err)
	}

	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{collectionsBucket, aliasesBucket, recordsBucket} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: failed to initialize store: %w", types.ErrStore, err)
		}
	}

	return &BoltIndex{db: db, readOnly: readOnly}, nil
}

func (s *BoltIndex) update(fn func(tx *bolt.Tx) error) error {
	if s.readOnly {
		return fmt.Errorf("%w: store is opened read-only", types.ErrStore)
	}
	return s.db.Update(fn)
}

// resolve returns the collection name that name refers to, following one
// alias hop.
func resolve(tx *bolt.Tx, name string) (string, bool) {
	if b := tx.Bucket(collectionsBucket); b != nil && b.Get([]byte(name)) != nil {
		return name, true
	}
	if b := tx.Bucket(aliasesBucket); b != nil {
		if target := b.Get([]byte(name)); target != nil {
			return string(target), true
		}
	}
	return "", false
}

func readInfo(tx *bolt.Tx, name string) (models.CollectionInfo, error) {
	var info models.CollectionInfo
	b := tx.Bucket(collectionsBucket)
	if b == nil {
		return info, notFound(name)
	}
	data := b.Get([]byte(name))
	if data == nil {
		return info, notFound(name)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("%w: failed to decode collection %s: %w", types.ErrStore, name, err)
	}
	info.Count = countRecords(tx, name)
	return info, nil
}

func writeInfo(tx *bolt.Tx, info models.CollectionInfo) error {
	info.Count = 0
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return tx.Bucket(collectionsBucket).Put([]byte(info.Name), data)
}

func countRecords(tx *bolt.Tx, name string) int {
	b := recordBucket(tx, name)
	if b == nil {
		return 0
	}
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func recordBucket(tx *bolt.Tx, name string) *bolt.Bucket {
	root := tx.Bucket(recordsBucket)
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(name))
}

// deleteTx drops name, or the target of an alias called name, and every
// alias pointing at it.
func deleteTx(tx *bolt.Tx, name string) (bool, error) {
	target, ok := resolve(tx, name)
	if !ok {
		return false, nil
	}

	if err := tx.Bucket(collectionsBucket).Delete([]byte(target)); err != nil {
		return false, err
	}
	root := tx.Bucket(recordsBucket)
	if root.Bucket([]byte(target)) != nil {
		if err := root.DeleteBucket([]byte(target)); err != nil {
			return false, err
		}
	}

	aliases := tx.Bucket(aliasesBucket)
	var stale [][]byte
	err := aliases.ForEach(func(k, v []byte) error {
		if string(v) == target {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	for _, k := range stale {
		if err := aliases.Delete(k); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *BoltIndex) CreateCollection(_ context.Context, name string, spec models.CollectionSpec) (models.CollectionInfo, error) {
	if strings.TrimSpace(name) == "" {
		return models.CollectionInfo{}, fmt.Errorf("%w: collection name is required", types.ErrStore)
	}
	metric, err := normalizeMetric(spec.Metric)
	if err != nil {
		return models.CollectionInfo{}, err
	}

	info := models.CollectionInfo{
		Name:           name,
		Metric:         metric,
		Dimension:      spec.Dimension,
		EmbeddingModel: spec.EmbeddingModel,
		CreatedAt:      time.Now().UTC(),
	}

	err = s.update(func(tx *bolt.Tx) error {
		if _, err := deleteTx(tx, name); err != nil {
			return err
		}
		if _, err := tx.Bucket(recordsBucket).CreateBucket([]byte(name)); err != nil {
			return err
		}
		return writeInfo(tx, info)
	})
	if err != nil {
		return models.CollectionInfo{}, wrapStoreErr("failed to create collection", err)
	}
	return info, nil
}

func (s *BoltIndex) DeleteCollection(_ context.Context, name string) error {
	return s.update(func(tx *bolt.Tx) error {
		deleted, err := deleteTx(tx, name)
		if err != nil {
			return wrapStoreErr("failed to delete collection", err)
		}
		if !deleted {
			return notFound(name)
		}
		return nil
	})
}

func (s *BoltIndex) GetCollection(_ context.Context, name string) (models.CollectionInfo, error) {
	var info models.CollectionInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		target, ok := resolve(tx, name)
		if !ok {
			return notFound(name)
		}
		var err error
		info, err = readInfo(tx, target)
		return err
	})
	return info, err
}

func (s *BoltIndex) ListCollections(_ context.Context) ([]models.CollectionInfo, error) {
	infos := []models.CollectionInfo{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			info, err := readInfo(tx, string(k))
			if err != nil {
				return err
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortInfos(infos)
	return infos, nil
}

func (s *BoltIndex) Add(_ context.Context, name string, ids []string, vectors [][]float32, documents []string, metadatas []models.ChunkMetadata) error {
	return s.update(func(tx *bolt.Tx) error {
		target, ok := resolve(tx, name)
		if !ok {
			return notFound(name)
		}
		info, err := readInfo(tx, target)
		if err != nil {
			return err
		}
		b := recordBucket(tx, target)
		if b == nil {
			return notFound(name)
		}

		dim, err := validateBatch(info, ids, vectors, documents, metadatas, func(id string) bool {
			return b.Get([]byte(id)) != nil
		})
		if err != nil {
			return err
		}

		for i, id := range ids {
			data, err := json.Marshal(models.Record{
				ID:       id,
				Vector:   vectors[i],
				Document: documents[i],
				Metadata: metadatas[i],
			})
			if err != nil {
				return wrapStoreErr("failed to encode record", err)
			}
			if err := b.Put([]byte(id), data); err != nil {
				return wrapStoreErr("failed to write record", err)
			}
		}

		if info.Dimension != dim {
			info.Dimension = dim
			if err := writeInfo(tx, info); err != nil {
				return wrapStoreErr("failed to update collection", err)
			}
		}
		return nil
	})
}

// load reads every record of the collection name refers to.
func (s *BoltIndex) load(name string) (models.CollectionInfo, []models.Record, error) {
	var (
		info    models.CollectionInfo
		records []models.Record
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		target, ok := resolve(tx, name)
		if !ok {
			return notFound(name)
		}
		var err error
		if info, err = readInfo(tx, target); err != nil {
			return err
		}
		b := recordBucket(tx, target)
		if b == nil {
			return nil
		}
		records = make([]models.Record, 0, info.Count)
		return b.ForEach(func(_, v []byte) error {
			var r models.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return wrapStoreErr("failed to decode record", err)
			}
			records = append(records, r)
			return nil
		})
	})
	return info, records, err
}

func (s *BoltIndex) Query(_ context.Context, name string, vector []float32, k int) ([]models.QueryResult, error) {
	info, records, err := s.load(name)
	if err != nil {
		return nil, err
	}
	if err := checkQueryVector(info, vector); err != nil {
		return nil, err
	}
	return rank(records, vector, info.Metric, k), nil
}

func (s *BoltIndex) Get(_ context.Context, name string, include models.Include) ([]models.Record, error) {
	_, records, err := s.load(name)
	if err != nil {
		return nil, err
	}
	if !include.Vectors {
		for i := range records {
			records[i].Vector = nil
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *BoltIndex) Count(ctx context.Context, name string) (int, error) {
	info, err := s.GetCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

func (s *BoltIndex) SetAlias(_ context.Context, alias, name string) error {
	if alias == name {
		return fmt.Errorf("%w: alias %s would point at itself", types.ErrStore, alias)
	}
	return s.update(func(tx *bolt.Tx) error {
		if tx.Bucket(collectionsBucket).Get([]byte(name)) == nil {
			return notFound(name)
		}
		if tx.Bucket(collectionsBucket).Get([]byte(alias)) != nil {
			if _, err := deleteTx(tx, alias); err != nil {
				return wrapStoreErr("failed to replace collection with alias", err)
			}
		}
		return tx.Bucket(aliasesBucket).Put([]byte(alias), []byte(name))
	})
}

func (s *BoltIndex) ResolveAlias(_ context.Context, alias string) (string, error) {
	var target string
	err := s.db.View(func(tx *bolt.Tx) error {
		var ok bool
		if target, ok = resolve(tx, alias); !ok {
			return notFound(alias)
		}
		return nil
	})
	return target, err
}

func (s *BoltIndex) Close() error {
	return s.db.Close()
}

func wrapStoreErr(msg string, err error) error {
	if errors.Is(err, types.ErrStore) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", types.ErrStore, msg, err)
}
