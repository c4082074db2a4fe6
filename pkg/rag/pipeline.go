package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/ragline/internal/models"
	"github.com/xhad/ragline/internal/types"
	"github.com/xhad/ragline/pkg/processor"
	"github.com/xhad/ragline/pkg/retriever"
	"github.com/xhad/ragline/pkg/scraper"
)

const (
	// PublishSwap builds a fresh versioned collection and moves the alias
	// onto it once it is complete.
	PublishSwap = "swap"
	// PublishReplace drops and rebuilds the collection in place.
	PublishReplace = "replace"

	DefaultBatchSize = 64
	InspectHeadSize  = 10 // leading vector values shown per record

	StageEmbedding = "embedding"
	StageStoring   = "storing"
)

// DefaultSmokeQueries are run by Inspect when no queries are given.
var DefaultSmokeQueries = []string{"empire weapons", "Tuesday illegal", "cosmic llama", "black holes"}

// Answerer produces the final answer from a question and its context.
type Answerer interface {
	Answer(ctx context.Context, query, contextText string) (string, error)
}

type Options struct {
	Processor  processor.Processor
	Embedder   types.Embedder
	Index      types.VectorIndex
	Answerer   Answerer
	Collection string
	Metric     string
	Publish    string
	BatchSize  int
	DefaultK   int
	Scraper    scraper.ScraperConfig
	// OnProgress is called after every embedded or stored batch.
	OnProgress func(stage string, done, total int)
	Logger     *slog.Logger
}

type Pipeline struct {
	opts      Options
	retriever *retriever.Retriever
	logger    *slog.Logger
}

type IngestReport struct {
	RunID      string
	Source     string
	Collection string // physical collection holding the records
	Alias      string // name readers query, empty for replace
	Chunks     int
	Stored     int
	Failed     int
	Duration   time.Duration
}

type Answer struct {
	Question string
	Context  string
	Results  []models.QueryResult
	Text     string
}

type RecordSummary struct {
	ID        string
	Document  string
	Metadata  models.ChunkMetadata
	Dimension int
	Head      []float32
}

type SmokeResult struct {
	Query   string
	Results []models.QueryResult
}

type Inspection struct {
	Collections []models.CollectionInfo // everything in the store
	Collection  models.CollectionInfo
	Records    []RecordSummary
	Queries    []SmokeResult
}

func New(opts Options) (*Pipeline, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", types.ErrModel)
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("%w: vector index is required", types.ErrStore)
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", types.ErrStore)
	}
	switch opts.Publish {
	case "":
		opts.Publish = PublishSwap
	case PublishSwap, PublishReplace:
	default:
		return nil, fmt.Errorf("%w: unknown publish mode %q", types.ErrStore, opts.Publish)
	}
	if opts.Metric == "" {
		opts.Metric = models.MetricCosine
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r, err := retriever.NewWithConfig(retriever.RetrieverConfig{
		Collection: opts.Collection,
		DefaultK:   opts.DefaultK,
		Logger:     opts.Logger,
	}, opts.Embedder, opts.Index)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		opts:      opts,
		retriever: r,
		logger:    opts.Logger.With("component", "pipeline", "collection", opts.Collection),
	}, nil
}

func (p *Pipeline) Retriever() *retriever.Retriever {
	return p.retriever
}

// Ingest rebuilds the collection from the corpus file at path. Input errors
// leave the store untouched.
func (p *Pipeline) Ingest(ctx context.Context, path string) (IngestReport, error) {
	corpus, err := processor.LoadCorpus(path)
	if err != nil {
		return IngestReport{Source: path, Collection: p.opts.Collection}, err
	}
	return p.IngestText(ctx, corpus, path)
}

// IngestURL crawls rawURL and ingests the text of every page.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string) (IngestReport, error) {
	config := p.opts.Scraper
	config.BaseURL = rawURL
	if config.Logger == nil {
		config.Logger = p.opts.Logger
	}

	s, err := scraper.NewWithConfig(config)
	if err != nil {
		return IngestReport{Source: rawURL, Collection: p.opts.Collection}, err
	}
	pages, err := s.Scrape(ctx, rawURL)
	if err != nil {
		return IngestReport{Source: rawURL, Collection: p.opts.Collection}, err
	}

	p.logger.InfoContext(ctx, "crawled site", "url", rawURL, "pages", len(pages))
	return p.IngestText(ctx, scraper.Corpus(pages), rawURL)
}

func (p *Pipeline) IngestText(ctx context.Context, corpus, source string) (IngestReport, error) {
	start := time.Now()
	report := IngestReport{
		RunID:      uuid.NewString(),
		Source:     source,
		Collection: p.opts.Collection,
	}
	logger := p.logger.With("run_id", report.RunID)

	chunks := p.opts.Processor.Chunks(corpus, source)
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		return report, fmt.Errorf("%w: %w: %s", types.ErrInput, types.ErrEmptyCorpus, source)
	}
	logger.InfoContext(ctx, "chunked corpus", "source", source, "chunks", len(chunks))

	vectors, err := p.embed(ctx, chunks)
	if err != nil {
		report.Failed = len(chunks)
		return report, err
	}

	target := p.opts.Collection
	if p.opts.Publish == PublishSwap {
		target = fmt.Sprintf("%s-%s", p.opts.Collection, report.RunID)
		report.Alias = p.opts.Collection
	}
	report.Collection = target

	_, err = p.opts.Index.CreateCollection(ctx, target, models.CollectionSpec{
		Metric:         p.opts.Metric,
		Dimension:      len(vectors[0]),
		EmbeddingModel: p.opts.Embedder.ModelID(),
	})
	if err != nil {
		report.Failed = len(chunks)
		return report, fmt.Errorf("failed to create collection: %w", err)
	}

	if err := p.store(ctx, target, chunks, vectors, &report); err != nil {
		report.Failed = report.Chunks - report.Stored
		if p.opts.Publish == PublishSwap {
			if derr := p.opts.Index.DeleteCollection(ctx, target); derr != nil {
				logger.WarnContext(ctx, "failed to drop partial collection", "collection", target, "error", derr)
			}
		}
		return report, err
	}

	if p.opts.Publish == PublishSwap {
		if err := p.publish(ctx, target); err != nil {
			return report, err
		}
	}

	report.Duration = time.Since(start)
	logger.InfoContext(ctx, "ingest complete",
		"collection", target,
		"stored", report.Stored,
		"duration", report.Duration)
	return report, nil
}

func (p *Pipeline) embed(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for startIdx := 0; startIdx < len(chunks); startIdx += p.opts.BatchSize {
		end := min(startIdx+p.opts.BatchSize, len(chunks))

		texts := make([]string, 0, end-startIdx)
		for _, c := range chunks[startIdx:end] {
			texts = append(texts, c.Text)
		}

		batch, err := p.opts.Embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", types.ErrModel, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
		p.progress(StageEmbedding, len(vectors), len(chunks))
	}
	return vectors, nil
}

func (p *Pipeline) store(ctx context.Context, name string, chunks []models.Chunk, vectors [][]float32, report *IngestReport) error {
	for startIdx := 0; startIdx < len(chunks); startIdx += p.opts.BatchSize {
		end := min(startIdx+p.opts.BatchSize, len(chunks))
		batch := chunks[startIdx:end]

		ids := make([]string, len(batch))
		docs := make([]string, len(batch))
		metas := make([]models.ChunkMetadata, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
			docs[i] = c.Text
			metas[i] = c.Metadata
		}

		if err := p.opts.Index.Add(ctx, name, ids, vectors[startIdx:end], docs, metas); err != nil {
			return fmt.Errorf("failed to store batch: %w", err)
		}
		report.Stored += len(batch)
		p.progress(StageStoring, report.Stored, len(chunks))
	}
	return nil
}

// publish points the alias at version and drops the versions it replaced.
func (p *Pipeline) publish(ctx context.Context, version string) error {
	if err := p.opts.Index.SetAlias(ctx, p.opts.Collection, version); err != nil {
		return fmt.Errorf("failed to publish collection: %w", err)
	}

	infos, err := p.opts.Index.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, info := range infos {
		if info.Name == version || !p.isVersion(info.Name) {
			continue
		}
		if err := p.opts.Index.DeleteCollection(ctx, info.Name); err != nil {
			p.logger.WarnContext(ctx, "failed to drop old version", "collection", info.Name, "error", err)
			continue
		}
		p.logger.DebugContext(ctx, "dropped old version", "collection", info.Name)
	}
	return nil
}

func (p *Pipeline) isVersion(name string) bool {
	suffix, ok := strings.CutPrefix(name, p.opts.Collection+"-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(suffix)
	return err == nil
}

func (p *Pipeline) progress(stage string, done, total int) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(stage, done, total)
	}
}

// Ask retrieves the k nearest chunks and answers question from them.
func (p *Pipeline) Ask(ctx context.Context, question string, k int) (Answer, error) {
	answer := Answer{Question: question}
	if p.opts.Answerer == nil {
		return answer, fmt.Errorf("%w: answerer is required", types.ErrModel)
	}

	results, err := p.retriever.Search(ctx, question, k)
	if err != nil {
		return answer, err
	}
	answer.Results = results
	answer.Context = retriever.JoinContext(results)

	text, err := p.opts.Answerer.Answer(ctx, question, answer.Context)
	if err != nil {
		return answer, err
	}
	answer.Text = text
	return answer, nil
}

// Inspect describes the collection, every stored record and the results of
// the smoke queries.
func (p *Pipeline) Inspect(ctx context.Context, queries []string, k int) (Inspection, error) {
	var out Inspection

	all, err := p.opts.Index.ListCollections(ctx)
	if err != nil {
		return out, err
	}
	out.Collections = all

	info, err := p.opts.Index.GetCollection(ctx, p.opts.Collection)
	if err != nil {
		return out, err
	}
	out.Collection = info

	records, err := p.opts.Index.Get(ctx, p.opts.Collection, models.Include{Vectors: true})
	if err != nil {
		return out, err
	}
	out.Records = make([]RecordSummary, len(records))
	for i, r := range records {
		out.Records[i] = RecordSummary{
			ID:        r.ID,
			Document:  r.Document,
			Metadata:  r.Metadata,
			Dimension: len(r.Vector),
			Head:      r.Vector[:min(InspectHeadSize, len(r.Vector))],
		}
	}

	if len(queries) == 0 {
		queries = DefaultSmokeQueries
	}
	if k <= 0 {
		k = 2
	}
	for _, q := range queries {
		results, err := p.retriever.Search(ctx, q, k)
		if err != nil {
			return out, err
		}
		out.Queries = append(out.Queries, SmokeResult{Query: q, Results: results})
	}
	return out, nil
}
