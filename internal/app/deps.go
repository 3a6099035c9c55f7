package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"docscope/internal/cache"
	"docscope/internal/config"
	"docscope/internal/embeddings"
	"docscope/internal/extractor"
	"docscope/internal/indexer"
	"docscope/internal/logger"
	"docscope/internal/pdftext"
	"docscope/internal/persist"
	"docscope/internal/queue"
	"docscope/internal/retrieval"
	"docscope/internal/store"
	"docscope/internal/vectorindex"
)

// Deps bundles the runtime components shared by the server and the CLI.
type Deps struct {
	Config  config.Config
	Log     *slog.Logger
	Manager indexer.Manager
	Queue   queue.Queue
	// Close saves the index and releases the store and cache.
	Close func() error
}

// Build loads env and config, then opens the index service.
func Build(ctx context.Context) (Deps, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Deps{}, err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	return BuildWith(ctx, cfg, log)
}

// LoadConfig reads .env, when present, and then the environment.
func LoadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return config.Load(), nil
}

// BuildWith wires every component from an explicit config.
func BuildWith(ctx context.Context, cfg config.Config, log *slog.Logger) (Deps, error) {
	st, err := buildStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		st.Close()
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	ex, err := buildExtractor(cfg, log)
	if err != nil {
		st.Close()
		return Deps{}, fmt.Errorf("failed to initialize extractor: %w", err)
	}
	dir, err := persist.NewDir(cfg.IndexDir())
	if err != nil {
		st.Close()
		return Deps{}, err
	}
	q, err := buildQueue(cfg, log)
	if err != nil {
		st.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	c := buildCache(cfg, log)

	svc, err := indexer.Open(ctx, indexer.Deps{
		Store:     st,
		Embedder:  embedder,
		Parser:    pdftext.NewReader(log),
		Extractor: ex,
		Cache:     c,
		Dir:       dir,
	}, indexer.Options{
		UploadDir: cfg.UploadDir(),
		Workers:   cfg.NumWorkers,
		CacheTTL:  time.Duration(cfg.CacheTTL) * time.Second,
		Index: vectorindex.Options{
			Dim:      embedder.Dimensions(),
			Model:    embedder.ModelName(),
			Backend:  vectorindex.Backend(cfg.IndexBackend),
			M:        cfg.HNSWM,
			EfSearch: cfg.HNSWEfSearch,
		},
		Retrieval: retrieval.Options{
			TopK:          cfg.TopKSections,
			MinScore:      minScore(cfg.MinSimilarityScore),
			SnippetLength: cfg.SnippetLength,
		},
	}, log)
	if err != nil {
		st.Close()
		c.Close()
		return Deps{}, fmt.Errorf("failed to open index: %w", err)
	}

	return Deps{
		Config:  cfg,
		Log:     log,
		Manager: svc,
		Queue:   q,
		Close:   svc.Close,
	}, nil
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "", "file":
		fst, err := store.NewFileStore(cfg.ProcessedDir())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file store: %w", err)
		}
		log.Info("using file store", "dir", cfg.ProcessedDir())
		return fst, nil
	case "sqlite":
		path := cfg.DBURL
		if path == "" {
			path = filepath.Join(cfg.DataDir, "docscope.db")
		}
		db, err := store.NewSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		log.Info("using SQLite store", "path", path)
		return db, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: file, sqlite, postgres)", cfg.StoreProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	var inner embeddings.Embedder
	switch cfg.EmbeddingProvider {
	case "", "static":
		inner = embeddings.NewStaticEmbedder(cfg.EmbeddingDim)
		log.Info("using static embedder", "dim", inner.Dimensions())
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		e, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel, "dim", e.Dimensions())
		inner = e
	default:
		return nil, fmt.Errorf("invalid EMBEDDING_PROVIDER: %s (valid options: static, openai)", cfg.EmbeddingProvider)
	}
	p := embeddings.NewProvider(inner, embeddings.ProviderOptions{
		MaxSequenceLength: cfg.MaxSequenceLength,
		Serialize:         cfg.EmbedSerialize,
	})
	if cfg.EmbedCacheSize <= 0 {
		return p, nil
	}
	return embeddings.NewCachedEmbedder(p, cfg.EmbedCacheSize), nil
}

func buildExtractor(cfg config.Config, log *slog.Logger) (*extractor.Extractor, error) {
	opts := extractor.Options{MinContentChars: cfg.MinSectionChars}
	if cfg.HeadingRulesFile != "" {
		rules, err := extractor.LoadRules(cfg.HeadingRulesFile)
		if err != nil {
			return nil, err
		}
		opts.Classifier = extractor.NewRuleClassifier(rules)
		log.Info("using heading rules", "file", cfg.HeadingRulesFile)
	}
	return extractor.New(opts), nil
}

func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	ttl := time.Duration(cfg.CacheTTL) * time.Second
	switch cfg.CacheProvider {
	case "redis":
		if cfg.RedisAddr == "" {
			log.Warn("REDIS_ADDR not set; caching disabled")
			return cache.NewNoOpCache()
		}
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("failed to connect to Redis; caching disabled", "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis cache", "addr", cfg.RedisAddr)
		return rc
	case "none":
		log.Info("caching disabled")
		return cache.NewNoOpCache()
	default:
		log.Info("using in-memory cache", "size", cfg.CacheSize, "ttl", ttl)
		return cache.NewMemoryCache(cfg.CacheSize, ttl)
	}
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "", "local":
		log.Info("using local queue")
		return queue.NewLocal(log, 0, 0), nil
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: local, nats)", cfg.QueueProvider)
	}
}

// minScore maps an explicit MIN_SIMILARITY_SCORE=0 to an open floor; the
// engine reads a zero option as unset.
func minScore(v float64) float64 {
	if v == 0 {
		return retrieval.NoMinScore
	}
	return v
}
