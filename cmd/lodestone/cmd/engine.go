package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lodestone-kb/lodestone/internal/chunk"
	"github.com/lodestone-kb/lodestone/internal/config"
	"github.com/lodestone-kb/lodestone/internal/embed"
	"github.com/lodestone-kb/lodestone/internal/logging"
	"github.com/lodestone-kb/lodestone/internal/search"
	"github.com/lodestone-kb/lodestone/internal/store"
	"github.com/lodestone-kb/lodestone/internal/vecsync"
)

// engine bundles the wired components for one CLI invocation.
type engine struct {
	cfg      *config.Config
	store    store.Store
	provider embed.Provider
	executor *search.Executor
	syncer   *vecsync.Engine
	logger   *slog.Logger

	cleanups []func()
}

// newEngine loads configuration and wires the store, embedding
// provider, executor, and sync engine.
func newEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         cfg.LogLevel,
		FilePath:      cfg.LogFile,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, logger: logger}
	e.cleanups = append(e.cleanups, logCleanup)

	st, err := openStore(ctx, cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.store = st
	e.cleanups = append(e.cleanups, func() { _ = st.Close() })

	provider, err := buildProvider(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.provider = provider
	if provider != nil {
		e.cleanups = append(e.cleanups, func() { _ = provider.Close() })
	}

	chunker := chunk.NewWithOptions(chunk.Options{
		MaxChunkChars: cfg.Search.ChunkSize,
		OverlapChars:  cfg.Search.ChunkOverlap,
	})
	e.executor = search.New(st, provider, search.Options{
		RRFConstant: cfg.Search.RRFConstant,
		CandidateK:  cfg.Search.CandidateK,
	}, logger)
	e.syncer = vecsync.New(st, chunker, provider, logger)

	return e, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
	default:
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	}
}

// buildProvider returns nil when semantic search is disabled.
func buildProvider(cfg *config.Config) (embed.Provider, error) {
	switch cfg.Embeddings.Provider {
	case "", "none":
		return nil, nil
	case "static":
		return embed.NewCachedProvider(embed.NewStaticProvider(), cfg.Embeddings.CacheSize), nil
	case "openai":
		inner, err := embed.NewOpenAIProvider(embed.OpenAIConfig{
			BaseURL:    cfg.Embeddings.BaseURL,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    cfg.Embeddings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return embed.NewCachedProvider(inner, cfg.Embeddings.CacheSize), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
}

// Close runs all cleanups in reverse order.
func (e *engine) Close() {
	for i := len(e.cleanups) - 1; i >= 0; i-- {
		e.cleanups[i]()
	}
	e.cleanups = nil
}
