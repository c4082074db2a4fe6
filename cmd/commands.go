package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/ragline/internal/types"
	"github.com/xhad/ragline/pkg/llm"
	"github.com/xhad/ragline/pkg/processor"
	"github.com/xhad/ragline/pkg/rag"
	"github.com/xhad/ragline/pkg/scraper"
	"github.com/xhad/ragline/pkg/store"
	"github.com/xhad/ragline/server"
)

func (a *app) openIndex(ctx context.Context, readOnly bool) (types.VectorIndex, error) {
	cfg := a.config.Store
	idx, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		Backend:    cfg.Backend,
		Path:       cfg.Path,
		ConnString: cfg.DatabaseURL,
		TableName:  cfg.TableName,
		ReadOnly:   readOnly,
		Logger:     a.logger,
	})
	if err != nil && readOnly && cfg.Backend == store.BackendBolt {
		return nil, fmt.Errorf("%w (run ingest first?)", err)
	}
	return idx, err
}

func (a *app) newEmbedder() (types.Embedder, error) {
	cfg := a.config.Embedder
	return llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
	})
}

func (a *app) newChat() (*llm.ChatEngine, error) {
	gcfg := a.config.Generator
	generator, err := llm.NewGeneratorWithConfig(llm.GeneratorConfig{
		Provider:    gcfg.Provider,
		Model:       gcfg.Model,
		BaseURL:     gcfg.BaseURL,
		APIKey:      gcfg.APIKey,
		Temperature: gcfg.Temperature,
		MaxTokens:   gcfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	ccfg := a.config.Chat
	return llm.NewWithConfig(llm.ChatConfig{
		PromptTemplate:   ccfg.PromptTemplate,
		MaxRetries:       ccfg.MaxRetries,
		InitialBackoff:   ccfg.InitialBackoff,
		Timeout:          ccfg.Timeout,
		RateLimit:        ccfg.RateLimit,
		Fallback:         ccfg.Fallback,
		SkipEmptyContext: ccfg.SkipEmptyContext,
		Logger:           a.logger,
	}, generator)
}

func (a *app) newPipeline(index types.VectorIndex, answerer rag.Answerer, onProgress func(string, int, int)) (*rag.Pipeline, error) {
	embedder, err := a.newEmbedder()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c := a.config
	return rag.New(rag.Options{
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			MaxChunkSize: c.Chunker.MaxChunkSize,
			ChunkOverlap: c.Chunker.ChunkOverlap,
		}),
		Embedder:   embedder,
		Index:      index,
		Answerer:   answerer,
		Collection: c.Store.Collection,
		Metric:     c.Store.Metric,
		Publish:    c.Store.Publish,
		BatchSize:  c.Store.BatchSize,
		DefaultK:   c.Retriever.K,
		Scraper: scraper.ScraperConfig{
			MaxDepth:          c.Scraper.MaxDepth,
			MaxPages:          c.Scraper.MaxPages,
			RateLimit:         c.Scraper.RateLimit,
			IgnorePatterns:    c.Scraper.IgnorePatterns,
			AllowedExtensions: c.Scraper.AllowedExtensions,
		},
		OnProgress: onProgress,
		Logger:     a.logger,
	})
}

func (a *app) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	corpus := fs.String("corpus", a.config.Corpus.Path, "Corpus file (plain text or HTML)")
	docsURL := fs.String("url", a.config.Corpus.URL, "Documentation URL to crawl instead of a file")
	collection := fs.String("collection", a.config.Store.Collection, "Collection name")
	publish := fs.String("publish", a.config.Store.Publish, "Publish mode: swap or replace")
	maxDepth := fs.Int("max-depth", a.config.Scraper.MaxDepth, "Maximum depth for web scraping")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a.config.Corpus.Path = *corpus
	a.config.Corpus.URL = *docsURL
	a.config.Store.Collection = *collection
	a.config.Store.Publish = *publish
	a.config.Scraper.MaxDepth = *maxDepth
	if err := a.validate(); err != nil {
		return err
	}

	index, err := a.openIndex(ctx, false)
	if err != nil {
		return err
	}
	defer index.Close()

	progress := newIngestProgress()
	pipeline, err := a.newPipeline(index, nil, progress.update)
	if err != nil {
		return err
	}

	var report rag.IngestReport
	if *docsURL != "" {
		color.Blue("\nCrawling %s\n", *docsURL)
		spinner := getSpinner(" Scraping documentation...")
		report, err = pipeline.IngestURL(ctx, *docsURL)
		spinner.Finish()
	} else {
		color.Blue("\nIngesting %s\n", *corpus)
		report, err = pipeline.Ingest(ctx, *corpus)
	}
	progress.finish()
	if err != nil {
		printReport(report)
		return err
	}

	printReport(report)
	color.Green("✓ Ingest complete\n")
	return nil
}

func (a *app) query(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	k := fs.Int("k", a.config.Retriever.K, "Number of chunks to retrieve")
	collection := fs.String("collection", a.config.Store.Collection, "Collection name")
	showContext := fs.Bool("context", true, "Print the retrieved context")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a.config.Store.Collection = *collection
	if err := a.validate(); err != nil {
		return err
	}

	index, err := a.openIndex(ctx, true)
	if err != nil {
		return err
	}
	defer index.Close()

	chat, err := a.newChat()
	if err != nil {
		return err
	}
	pipeline, err := a.newPipeline(index, chat, nil)
	if err != nil {
		return err
	}

	ask := func(question string) error {
		spinner := getSpinner(" Searching and generating...")
		answer, err := pipeline.Ask(ctx, question, *k)
		spinner.Finish()
		fmt.Print("\r")

		if *showContext && answer.Results != nil {
			printContext(answer)
		}
		if err != nil {
			return err
		}
		assistantPrompt := color.New(color.FgCyan).PrintfFunc()
		assistantPrompt("\nAssistant: %s\n", answer.Text)
		return nil
	}

	if fs.NArg() > 0 {
		return ask(strings.Join(fs.Args(), " "))
	}

	// Interactive chat loop with colored output
	color.Cyan("\nChat with your knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			return nil
		}
		if question == "" {
			continue
		}

		if err := ask(question); err != nil {
			if errors.Is(err, types.ErrStore) || errors.Is(err, types.ErrModel) {
				return err
			}
			color.Red("Error: %v\n", err)
		}
	}
}

func (a *app) inspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	k := fs.Int("k", a.config.Inspect.K, "Results per smoke query")
	queries := fs.String("queries", strings.Join(a.config.Inspect.Queries, ","), "Comma separated smoke queries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.validate(); err != nil {
		return err
	}

	index, err := a.openIndex(ctx, true)
	if err != nil {
		return err
	}
	defer index.Close()

	pipeline, err := a.newPipeline(index, nil, nil)
	if err != nil {
		return err
	}

	var smoke []string
	for _, q := range strings.Split(*queries, ",") {
		if q = strings.TrimSpace(q); q != "" {
			smoke = append(smoke, q)
		}
	}

	inspection, err := pipeline.Inspect(ctx, smoke, *k)
	if err != nil {
		return err
	}
	printInspection(inspection)
	return nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.config.Server.Addr, "Listen address")
	allowIngest := fs.Bool("ingest", false, "Allow clients to crawl URLs into the store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.validate(); err != nil {
		return err
	}

	index, err := a.openIndex(ctx, !*allowIngest)
	if err != nil {
		return err
	}
	defer index.Close()

	chat, err := a.newChat()
	if err != nil {
		return err
	}
	pipeline, err := a.newPipeline(index, chat, nil)
	if err != nil {
		return err
	}

	srv, err := server.NewWSServer(server.Config{
		DefaultK:    a.config.Retriever.K,
		AllowIngest: *allowIngest,
		Logger:      a.logger,
	}, pipeline)
	if err != nil {
		return err
	}

	color.Cyan("Serving on %s (ws: /ws, health: /health)", *addr)
	return srv.Serve(ctx, *addr)
}

// ingestProgress drives one bar per pipeline stage.
type ingestProgress struct {
	bars map[string]*progressbar.ProgressBar
}

func newIngestProgress() *ingestProgress {
	return &ingestProgress{bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *ingestProgress) update(stage string, done, total int) {
	bar, ok := p.bars[stage]
	if !ok {
		label := " Embedding chunks"
		if stage == rag.StageStoring {
			label = " Storing in vector database"
		}
		bar = getProgressBar(total, label)
		p.bars[stage] = bar
	}
	bar.Set(done)
	if done >= total {
		bar.Finish()
	}
}

func (p *ingestProgress) finish() {
	for _, bar := range p.bars {
		bar.Finish()
	}
}
