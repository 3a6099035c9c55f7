package config

import (
	"log/slog"
	"path/filepath"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the server and the CLI.
type Config struct {
	// Server
	Port      int    `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"

	// Data layout: index blobs, processed documents and uploaded copies live under DataDir.
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// Upload limits
	MaxUploadSize  int64 `env:"MAX_UPLOAD_SIZE" envDefault:"52428800"` // 50MB in bytes
	MaxUploadFiles int   `env:"MAX_UPLOAD_FILES" envDefault:"10"`

	// Embeddings
	EmbeddingProvider string `env:"EMBEDDING_PROVIDER" envDefault:"static"` // "static" (offline) or "openai"
	EmbeddingModel    string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim      int    `env:"EMBEDDING_DIM" envDefault:"384"`
	MaxSequenceLength int    `env:"MAX_SEQUENCE_LENGTH" envDefault:"512"`
	EmbedSerialize    bool   `env:"EMBED_SERIALIZE" envDefault:"false"`
	EmbedCacheSize    int    `env:"EMBED_CACHE_SIZE" envDefault:"1000"`
	OpenAIKey         string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL"`

	// Vector index
	// "flat" or "hnsw". hnsw scans exactly up to 1024 vectors; past that it
	// is approximate and HNSW_EF_SEARCH trades latency for recall.
	IndexBackend string `env:"INDEX_BACKEND" envDefault:"flat"`
	HNSWM        int    `env:"HNSW_M" envDefault:"16"`
	HNSWEfSearch int    `env:"HNSW_EF_SEARCH" envDefault:"64"`

	// Retrieval
	TopKSections       int     `env:"TOP_K_SECTIONS" envDefault:"5"`
	MinSimilarityScore float64 `env:"MIN_SIMILARITY_SCORE" envDefault:"0.3"`
	SnippetLength      int     `env:"SNIPPET_LENGTH" envDefault:"3"`

	// Extraction
	MinSectionChars  int    `env:"MIN_SECTION_CHARS" envDefault:"50"`
	HeadingRulesFile string `env:"HEADING_RULES_FILE"`

	// Ingestion
	NumWorkers int    `env:"NUM_WORKERS" envDefault:"4"`
	WatchDir   string `env:"WATCH_DIR"`

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"file"` // "file", "postgres" or "sqlite"
	DBURL         string `env:"DB_URL"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"memory"` // "memory", "redis" or "none"
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds
	CacheSize     int    `env:"CACHE_SIZE" envDefault:"512"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"local"` // "local" or "nats"
	QueueURL      string `env:"QUEUE_URL"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// IndexDir is where the vector index and metadata blobs are written.
func (c Config) IndexDir() string { return filepath.Join(c.DataDir, "embeddings") }

// ProcessedDir holds per-document JSON when STORE_PROVIDER=file.
func (c Config) ProcessedDir() string { return filepath.Join(c.DataDir, "processed") }

// UploadDir holds the canonical copy of every ingested PDF.
func (c Config) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// StagingDir receives raw uploads before ingestion.
func (c Config) StagingDir() string { return filepath.Join(c.DataDir, "staging") }
