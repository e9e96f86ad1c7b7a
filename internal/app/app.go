package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/autoforge-backend/internal/data/db"
	"github.com/yungbote/autoforge-backend/internal/data/graph"
	"github.com/yungbote/autoforge-backend/internal/data/vector"
	"github.com/yungbote/autoforge-backend/internal/domains"
	"github.com/yungbote/autoforge-backend/internal/engine"
	apphttp "github.com/yungbote/autoforge-backend/internal/http"
	httpH "github.com/yungbote/autoforge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/autoforge-backend/internal/http/middleware"
	"github.com/yungbote/autoforge-backend/internal/observability"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
	"github.com/yungbote/autoforge-backend/internal/platform/neo4jdb"
	"github.com/yungbote/autoforge-backend/internal/platform/openai"
	"github.com/yungbote/autoforge-backend/internal/services"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Metrics  *observability.Metrics
	Postgres *db.PostgresService
	Neo4j    *neo4jdb.Client
	Engine   *engine.Engine
	Server   *apphttp.Server
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	metrics := observability.New()
	observability.SetCurrent(metrics)

	pg, err := db.NewPostgresService(cfg.DatabaseURL, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.Migrate(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	// Neo4j is optional: when it cannot be reached the engine runs without
	// graph expansion.
	neoClient, err := neo4jdb.New(log, neo4jdb.Options{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
	})
	if err != nil {
		log.Warn("Neo4j unavailable, graph expansion disabled", "error", err)
		neoClient = nil
	}

	vectorStore := vector.NewStore(pg.DB(), log)
	var graphStore engine.GraphStore
	if neoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		graphStore = graph.NewEntityGraph(ctx, neoClient, log)
		cancel()
	}

	llmClient, err := openai.NewClient(log, openai.Options{
		ChatBaseURL:          cfg.ActiveBaseURL(),
		ChatAPIKey:           cfg.ActiveAPIKey(),
		ChatModel:            cfg.ActiveChatModel(),
		EmbedBaseURL:         cfg.OpenAIBaseURL,
		EmbedAPIKey:          cfg.EmbeddingAPIKey(),
		EmbedModel:           cfg.OpenAIEmbeddingModel,
		LLMConcurrency:       cfg.LLMConcurrency,
		EmbeddingConcurrency: cfg.EmbeddingConcurrency,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init llm client: %w", err)
	}

	registry := domains.NewRegistry(log)
	eng := engine.New(vectorStore, graphStore, llmClient, llmClient, registry, engine.Options{
		MaxHops:             cfg.MaxHops,
		RAGTopK:             cfg.RAGTopK,
		RerankCandidatesMax: cfg.RerankCandidatesMax,
		RerankFinalLimit:    cfg.RerankFinalLimit,
		ContextMaxChars:     cfg.ContextMaxChars,
	}, log)

	authService, err := services.NewAuthService(log, cfg.SecretKey, cfg.AdminPassword)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	server := apphttp.NewServer(apphttp.RouterConfig{
		Log:                log,
		Metrics:            metrics,
		IdentityMiddleware: httpMW.NewIdentityMiddleware(log, authService),
		AuthHandler:        httpH.NewAuthHandler(authService),
		KnowledgeHandler:   httpH.NewKnowledgeHandler(eng, log),
		ProposeHandler:     httpH.NewProposeHandler(eng, vectorStore, log),
		DomainsHandler:     httpH.NewDomainsHandler(registry),
		StatsHandler:       httpH.NewStatsHandler(vectorStore),
		AdminHandler:       httpH.NewAdminHandler(vectorStore, cfg.CleanupDaysUnused, cfg.CleanupMinImportance, log),
		HealthHandler:      httpH.NewHealthHandler(pg, neoClient),
	})

	log.Info("AutoForge ready")
	return &App{
		Log:      log,
		Cfg:      cfg,
		Metrics:  metrics,
		Postgres: pg,
		Neo4j:    neoClient,
		Engine:   eng,
		Server:   server,
	}, nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

func (a *App) Shutdown(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown error", "error", err)
		}
	}
	if a.Neo4j != nil {
		if err := a.Neo4j.Close(ctx); err != nil {
			a.Log.Warn("Neo4j close error", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Info("AutoForge shutdown")
		a.Log.Sync()
	}
}
