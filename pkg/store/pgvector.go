package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
)

// PgVectorIndex stores collections in Postgres with the pgvector extension.
// All collections share one records table keyed by (collection, id).
type PgVectorIndex struct {
	pool        *pgxpool.Pool
	collections string
	aliases     string
	records     string
}

func NewPgVectorIndex(ctx context.Context, connString, tableName string) (*PgVectorIndex, error) {
	if connString == "" {
		return nil, fmt.Errorf("%w: database connection string is required", types.ErrStore)
	}
	if tableName == "" {
		tableName = "rag"
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", types.ErrStore, err)
	}

	vs := &PgVectorIndex{
		pool:        pool,
		collections: pgx.Identifier{tableName + "_collections"}.Sanitize(),
		aliases:     pgx.Identifier{tableName + "_aliases"}.Sanitize(),
		records:     pgx.Identifier{tableName + "_records"}.Sanitize(),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgVectorIndex) initialize(ctx context.Context) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			metric TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			embedding_model TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, vs.collections),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			alias TEXT PRIMARY KEY,
			target TEXT NOT NULL REFERENCES %s (name) ON DELETE CASCADE
		)`, vs.aliases, vs.collections),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL REFERENCES %s (name) ON DELETE CASCADE,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			length INTEGER NOT NULL,
			source TEXT NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (collection, id)
		)`, vs.records, vs.collections),
	}

	for _, stmt := range statements {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to initialize schema: %w", types.ErrStore, err)
		}
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (vs *PgVectorIndex) resolve(ctx context.Context, q querier, name string) (string, error) {
	var target string
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT name FROM %s WHERE name = $1
		UNION ALL
		SELECT target FROM %s WHERE alias = $1
		LIMIT 1`, vs.collections, vs.aliases), name).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", notFound(name)
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to resolve collection: %w", types.ErrStore, err)
	}
	return target, nil
}

func (vs *PgVectorIndex) info(ctx context.Context, q querier, name string, lock bool) (models.CollectionInfo, error) {
	stmt := fmt.Sprintf(`
		SELECT c.name, c.metric, c.dimension, c.embedding_model, c.created_at,
			(SELECT count(*) FROM %s r WHERE r.collection = c.name)
		FROM %s c WHERE c.name = $1`, vs.records, vs.collections)
	if lock {
		stmt += " FOR UPDATE OF c"
	}

	var info models.CollectionInfo
	err := q.QueryRow(ctx, stmt, name).Scan(
		&info.Name,
		&info.Metric,
		&info.Dimension,
		&info.EmbeddingModel,
		&info.CreatedAt,
		&info.Count,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return info, notFound(name)
	}
	if err != nil {
		return info, fmt.Errorf("%w: failed to read collection: %w", types.ErrStore, err)
	}
	info.CreatedAt = info.CreatedAt.UTC()
	return info, nil
}

// deleteTx removes name (or its alias target). Aliases and records go with
// it through ON DELETE CASCADE.
func (vs *PgVectorIndex) deleteTx(ctx context.Context, tx pgx.Tx, name string) (bool, error) {
	target, err := vs.resolve(ctx, tx, name)
	if errors.Is(err, types.ErrCollectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = $1", vs.collections), target); err != nil {
		return false, fmt.Errorf("%w: failed to delete collection: %w", types.ErrStore, err)
	}
	return true, nil
}

func (vs *PgVectorIndex) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", types.ErrStore, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", types.ErrStore, err)
	}
	return nil
}

func (vs *PgVectorIndex) CreateCollection(ctx context.Context, name string, spec models.CollectionSpec) (models.CollectionInfo, error) {
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
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}

	err = vs.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := vs.deleteTx(ctx, tx, name); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (name, metric, dimension, embedding_model, created_at)
			VALUES ($1, $2, $3, $4, $5)`, vs.collections),
			info.Name, info.Metric, info.Dimension, info.EmbeddingModel, info.CreatedAt)
		if err != nil {
			return fmt.Errorf("%w: failed to create collection: %w", types.ErrStore, err)
		}
		return nil
	})
	if err != nil {
		return models.CollectionInfo{}, err
	}
	return info, nil
}

func (vs *PgVectorIndex) DeleteCollection(ctx context.Context, name string) error {
	return vs.inTx(ctx, func(tx pgx.Tx) error {
		deleted, err := vs.deleteTx(ctx, tx, name)
		if err != nil {
			return err
		}
		if !deleted {
			return notFound(name)
		}
		return nil
	})
}

func (vs *PgVectorIndex) GetCollection(ctx context.Context, name string) (models.CollectionInfo, error) {
	target, err := vs.resolve(ctx, vs.pool, name)
	if err != nil {
		return models.CollectionInfo{}, err
	}
	return vs.info(ctx, vs.pool, target, false)
}

func (vs *PgVectorIndex) ListCollections(ctx context.Context) ([]models.CollectionInfo, error) {
	rows, err := vs.pool.Query(ctx, fmt.Sprintf(`
		SELECT c.name, c.metric, c.dimension, c.embedding_model, c.created_at,
			(SELECT count(*) FROM %s r WHERE r.collection = c.name)
		FROM %s c ORDER BY c.name`, vs.records, vs.collections))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list collections: %w", types.ErrStore, err)
	}
	defer rows.Close()

	infos := []models.CollectionInfo{}
	for rows.Next() {
		var info models.CollectionInfo
		if err := rows.Scan(&info.Name, &info.Metric, &info.Dimension, &info.EmbeddingModel, &info.CreatedAt, &info.Count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %w", types.ErrStore, err)
		}
		info.CreatedAt = info.CreatedAt.UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to list collections: %w", types.ErrStore, err)
	}
	return infos, nil
}

func (vs *PgVectorIndex) Add(ctx context.Context, name string, ids []string, vectors [][]float32, documents []string, metadatas []models.ChunkMetadata) error {
	return vs.inTx(ctx, func(tx pgx.Tx) error {
		target, err := vs.resolve(ctx, tx, name)
		if err != nil {
			return err
		}
		info, err := vs.info(ctx, tx, target, true)
		if err != nil {
			return err
		}

		existing := make(map[string]struct{})
		if len(ids) > 0 {
			rows, err := tx.Query(ctx, fmt.Sprintf(
				"SELECT id FROM %s WHERE collection = $1 AND id = ANY($2)", vs.records), target, ids)
			if err != nil {
				return fmt.Errorf("%w: failed to check ids: %w", types.ErrStore, err)
			}
			found, err := pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return fmt.Errorf("%w: failed to check ids: %w", types.ErrStore, err)
			}
			for _, id := range found {
				existing[id] = struct{}{}
			}
		}

		dim, err := validateBatch(info, ids, vectors, documents, metadatas, func(id string) bool {
			_, ok := existing[id]
			return ok
		})
		if err != nil {
			return err
		}

		stmt := fmt.Sprintf(`
			INSERT INTO %s (collection, id, content, chunk_index, length, source, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, vs.records)

		batch := &pgx.Batch{}
		for i, id := range ids {
			batch.Queue(stmt,
				target,
				id,
				documents[i],
				metadatas[i].Index,
				metadatas[i].Length,
				metadatas[i].Source,
				pgvector.NewVector(vectors[i]),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: failed to insert records: %w", types.ErrStore, err)
		}

		if dim != info.Dimension {
			_, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET dimension = $2 WHERE name = $1", vs.collections), target, dim)
			if err != nil {
				return fmt.Errorf("%w: failed to update collection: %w", types.ErrStore, err)
			}
		}
		return nil
	})
}

// distanceExpr maps a metric onto pgvector operators with the same
// semantics as Distance.
func distanceExpr(metric string) string {
	switch metric {
	case models.MetricL2:
		return "embedding <-> $2"
	case models.MetricIP:
		return "1 + (embedding <#> $2)"
	default:
		return "CASE WHEN vector_norm(embedding) = 0 OR vector_norm($2) = 0 THEN 1 ELSE embedding <=> $2 END"
	}
}

func (vs *PgVectorIndex) Query(ctx context.Context, name string, vector []float32, k int) ([]models.QueryResult, error) {
	target, err := vs.resolve(ctx, vs.pool, name)
	if err != nil {
		return nil, err
	}
	info, err := vs.info(ctx, vs.pool, target, false)
	if err != nil {
		return nil, err
	}
	if err := checkQueryVector(info, vector); err != nil {
		return nil, err
	}
	if k <= 0 || info.Count == 0 {
		return []models.QueryResult{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, content, chunk_index, length, source, (%s)::float8 AS distance
		FROM %s
		WHERE collection = $1
		ORDER BY distance, id
		LIMIT $3`, distanceExpr(info.Metric), vs.records)

	rows, err := vs.pool.Query(ctx, query, target, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query documents: %w", types.ErrStore, err)
	}
	defer rows.Close()

	results := []models.QueryResult{}
	for rows.Next() {
		var r models.QueryResult
		err := rows.Scan(
			&r.ID,
			&r.Document,
			&r.Metadata.Index,
			&r.Metadata.Length,
			&r.Metadata.Source,
			&r.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %w", types.ErrStore, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to query documents: %w", types.ErrStore, err)
	}
	return results, nil
}

func (vs *PgVectorIndex) Get(ctx context.Context, name string, include models.Include) ([]models.Record, error) {
	target, err := vs.resolve(ctx, vs.pool, name)
	if err != nil {
		return nil, err
	}

	rows, err := vs.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, content, chunk_index, length, source, embedding
		FROM %s
		WHERE collection = $1
		ORDER BY chunk_index, id`, vs.records), target)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read records: %w", types.ErrStore, err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var (
			r   models.Record
			vec pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.Document, &r.Metadata.Index, &r.Metadata.Length, &r.Metadata.Source, &vec); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %w", types.ErrStore, err)
		}
		if include.Vectors {
			r.Vector = vec.Slice()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read records: %w", types.ErrStore, err)
	}
	return records, nil
}

func (vs *PgVectorIndex) Count(ctx context.Context, name string) (int, error) {
	info, err := vs.GetCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}

func (vs *PgVectorIndex) SetAlias(ctx context.Context, alias, name string) error {
	if alias == name {
		return fmt.Errorf("%w: alias %s would point at itself", types.ErrStore, alias)
	}
	return vs.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := vs.info(ctx, tx, name, true); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE name = $1", vs.collections), alias)
		if err != nil {
			return fmt.Errorf("%w: failed to replace collection with alias: %w", types.ErrStore, err)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (alias, target) VALUES ($1, $2)
			ON CONFLICT (alias) DO UPDATE SET target = EXCLUDED.target`, vs.aliases), alias, name)
		if err != nil {
			return fmt.Errorf("%w: failed to set alias: %w", types.ErrStore, err)
		}
		return nil
	})
}

func (vs *PgVectorIndex) ResolveAlias(ctx context.Context, alias string) (string, error) {
	return vs.resolve(ctx, vs.pool, alias)
}

func (vs *PgVectorIndex) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}
