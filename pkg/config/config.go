package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type CorpusConfig struct {
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

type ChunkerConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type GeneratorConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type ChatConfig struct {
	PromptTemplate   string        `yaml:"prompt_template"`
	MaxRetries       int           `yaml:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	Fallback         bool          `yaml:"fallback"`
	SkipEmptyContext bool          `yaml:"skip_empty_context"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
	Collection  string `yaml:"collection"`
	Metric      string `yaml:"metric"`
	Publish     string `yaml:"publish"`
	BatchSize   int    `yaml:"batch_size"`
}

type RetrieverConfig struct {
	K int `yaml:"k"`
}

type InspectConfig struct {
	Queries []string `yaml:"queries"`
	K       int      `yaml:"k"`
}

type ScraperConfig struct {
	MaxDepth          int      `yaml:"max_depth"`
	MaxPages          int      `yaml:"max_pages"`
	RateLimit         float64  `yaml:"rate_limit"`
	IgnorePatterns    []string `yaml:"ignore_patterns"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Corpus    CorpusConfig    `yaml:"corpus"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Chat      ChatConfig      `yaml:"chat"`
	Store     StoreConfig     `yaml:"store"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Inspect   InspectConfig   `yaml:"inspect"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Server    ServerConfig    `yaml:"server"`
}

// LoadDotEnv loads KEY=value pairs from path into the environment. A missing
// file is not an error. Variables already set are kept.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ragline/config.yaml"),
			"/etc/ragline/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Defaults first: the environment overrides are keyed on the provider.
	applyDefaults(config)
	mergeWithEnv(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

// newConfig presets the fields where zero is a meaningful setting, so the
// YAML file only overrides them when it names them.
func newConfig() *Config {
	return &Config{
		Generator: GeneratorConfig{Temperature: 0.7},
		Chat:      ChatConfig{MaxRetries: 2},
	}
}

func applyDefaults(config *Config) {
	if config.Corpus.Path == "" && config.Corpus.URL == "" {
		config.Corpus.Path = "data.txt"
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "hash"
	}
	if config.Embedder.Provider == "ollama" && config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 64
	}

	if config.Generator.Provider == "" {
		config.Generator.Provider = "gemini"
	}
	if config.Generator.Model == "" {
		switch config.Generator.Provider {
		case "gemini":
			config.Generator.Model = "gemini-1.5-flash"
		case "ollama":
			config.Generator.Model = "mistral"
		case "openai":
			config.Generator.Model = "gpt-4o-mini"
		}
	}
	if config.Generator.Provider == "ollama" && config.Generator.BaseURL == "" {
		config.Generator.BaseURL = "http://localhost:11434"
	}
	if config.Generator.MaxTokens == 0 {
		config.Generator.MaxTokens = 2000
	}
	if config.Chat.InitialBackoff == 0 {
		config.Chat.InitialBackoff = 500 * time.Millisecond
	}
	if config.Chat.Timeout == 0 {
		config.Chat.Timeout = 60 * time.Second
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "bolt"
	}
	if config.Store.Path == "" {
		config.Store.Path = "./rag_db"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "rag"
	}
	if config.Store.Collection == "" {
		config.Store.Collection = "rag_documents"
	}
	if config.Store.Metric == "" {
		config.Store.Metric = "cosine"
	}
	if config.Store.Publish == "" {
		config.Store.Publish = "swap"
	}
	if config.Store.BatchSize == 0 {
		config.Store.BatchSize = 64
	}

	if config.Retriever.K == 0 {
		config.Retriever.K = 3
	}

	if len(config.Inspect.Queries) == 0 {
		config.Inspect.Queries = []string{"empire weapons", "Tuesday illegal", "cosmic llama", "black holes"}
	}
	if config.Inspect.K == 0 {
		config.Inspect.K = 2
	}

	if config.Scraper.MaxDepth == 0 {
		config.Scraper.MaxDepth = 3
	}
	if config.Scraper.MaxPages == 0 {
		config.Scraper.MaxPages = 200
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	keys := map[string]string{
		"gemini": os.Getenv("GEMINI_API_KEY"),
		"openai": os.Getenv("OPENAI_API_KEY"),
	}
	if key := keys[config.Embedder.Provider]; key != "" {
		config.Embedder.APIKey = key
	}
	if key := keys[config.Generator.Provider]; key != "" {
		config.Generator.APIKey = key
	}

	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
		if config.Generator.Provider == "ollama" {
			config.Generator.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.DatabaseURL = dbURL
	}
	if storePath := os.Getenv("RAG_STORE_PATH"); storePath != "" {
		config.Store.Path = storePath
	}
}
