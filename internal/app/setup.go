package app

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/lectern-ai/lectern/api"
	"github.com/lectern-ai/lectern/db"
	"github.com/lectern-ai/lectern/internal/chat"
	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/course"
	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/ingest"
	"github.com/lectern-ai/lectern/internal/log"
	"github.com/lectern-ai/lectern/internal/session"
	"github.com/lectern-ai/lectern/internal/tool"
)

const (
	dbMaxConns        = 10
	dbMinConns        = 2
	dbMaxConnLifetime = 30 * time.Minute
	dbMaxConnIdleTime = 5 * time.Minute
	dbPingTimeout     = 5 * time.Second

	// providerRate throttles generation calls well under the Gemini free
	// tier quota.
	providerRate  = rate.Limit(10)
	providerBurst = 30
)

// Setup creates and initializes the application. On error, everything
// already initialized is released; on success, call Close.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Genkit = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	a.Embedder = googlegenai.GoogleAIEmbedder(a.Genkit, cfg.EmbedderModel)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	a.Index, err = index.New(pool, a.Embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retrieval index: %w", err)
	}

	chunker, err := course.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}
	a.Ingestor, err = ingest.New(chunker, a.Index, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ingestor: %w", err)
	}

	registry, genkitTools, err := provideTools(a.Genkit, a.Index, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	a.Sessions, err = session.NewStore(cfg.MaxHistory, logger)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}

	a.Chat, err = chat.New(chat.Config{
		Genkit:        a.Genkit,
		Registry:      registry,
		Sessions:      a.Sessions,
		Logger:        logger,
		ModelName:     cfg.FullModelName(),
		Tools:         genkitTools,
		MaxToolRounds: cfg.MaxToolRounds,
		RateLimiter:   rate.NewLimiter(providerRate, providerBurst),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	a.Server = api.NewServer(a.Chat, a.Sessions, a.Index, logger)

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = dbMaxConns
	poolCfg.MinConns = dbMinConns
	poolCfg.MaxConnLifetime = dbMaxConnLifetime
	poolCfg.MaxConnIdleTime = dbMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideTools builds the search and outline tools, registers them with the
// dispatcher registry and with Genkit.
func provideTools(g *genkit.Genkit, idx *index.Store, cfg *config.Config, logger log.Logger) (*tool.Registry, []ai.Tool, error) {
	search, err := tool.NewSearch(idx, cfg.MaxResults, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating search tool: %w", err)
	}
	outline, err := tool.NewOutline(idx, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating outline tool: %w", err)
	}

	registry := tool.NewRegistry()
	if err := registry.Register(search); err != nil {
		return nil, nil, fmt.Errorf("registering search tool: %w", err)
	}
	if err := registry.Register(outline); err != nil {
		return nil, nil, fmt.Errorf("registering outline tool: %w", err)
	}

	genkitTools, err := tool.RegisterGenkit(g, search, outline)
	if err != nil {
		return nil, nil, fmt.Errorf("registering tools with genkit: %w", err)
	}

	return registry, genkitTools, nil
}
