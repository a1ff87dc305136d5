// Package api wires the stores, services and handlers into the HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/api/handlers"
	mw "github.com/memforge-ai/memforge/internal/api/middleware"
	"github.com/memforge-ai/memforge/internal/config"
	"github.com/memforge-ai/memforge/internal/domain"
	"github.com/memforge-ai/memforge/internal/embedding"
	"github.com/memforge-ai/memforge/internal/llm"
	"github.com/memforge-ai/memforge/internal/mcp"
	"github.com/memforge-ai/memforge/internal/service"
	"github.com/memforge-ai/memforge/internal/store"
)

const serverVersion = "0.1.0"

// taskWorkers bounds all fire-and-forget background work.
const taskWorkers = 8

// App holds the router and the long-lived components that need shutdown.
type App struct {
	Router *chi.Mux
	Tasks  *service.TaskSupervisor
	MCP    *mcp.Server

	dedup        *service.DeduplicationEngine
	configs      *store.ConfigStore
	logger       *zap.Logger
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(gateway *store.Gateway, logger *zap.Logger) (*App, error) {
	// Stores
	memoryStore := store.NewMemoryStore(gateway)
	historyStore := store.NewHistoryStore(gateway)
	entityStore := store.NewEntityStore(gateway)
	appStore := store.NewAppStore(gateway)
	communityStore := store.NewCommunityStore(gateway)

	configStore, err := store.NewConfigStore(gateway)
	if err != nil {
		return nil, err
	}

	// External clients via provider factories. Both fall back to mocks so a
	// dev instance without credentials still serves reads.
	embeddingProvider := config.EmbeddingProvider()
	var embeddingClient domain.EmbeddingClient
	embeddingClient, err = embedding.NewClient(embeddingProvider, embedding.Options{
		IntelliAPIKey:   config.IntelliAPIKey(),
		IntelliBaseURL:  config.IntelliBaseURL(),
		AzureAPIKey:     config.EmbeddingAzureAPIKey(),
		AzureEndpoint:   config.EmbeddingAzureEndpoint(),
		AzureDeployment: config.EmbeddingAzureDeployment(),
		AzureAPIVersion: config.EmbeddingAzureAPIVersion(),
		NomicAPIKey:     config.NomicAPIKey(),
		DimOverride:     config.EmbeddingDims(),
	})
	if err != nil {
		logger.Warn("embedding client initialization failed, using mock",
			zap.String("provider", embeddingProvider), zap.Error(err))
		dim := config.EmbeddingDims()
		if dim <= 0 {
			dim = embedding.NativeDim(embeddingProvider)
		}
		embeddingProvider = embedding.ProviderMock
		embeddingClient = embedding.NewMockClient(dim)
	} else {
		logger.Info("embedding client initialized", zap.String("provider", embeddingProvider))
	}

	llmProvider := config.LLMProvider()
	llmClient, err := llm.NewClient(llmProvider, llm.AzureOptions{
		APIKey:     config.LLMAzureAPIKey(),
		Endpoint:   config.LLMAzureEndpoint(),
		Deployment: config.LLMAzureDeployment(),
		APIVersion: config.LLMAzureAPIVersion(),
	}, config.GroqAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed, using mock",
			zap.String("provider", llmProvider), zap.Error(err))
		llmClient = llm.NewMockClient()
	} else {
		logger.Info("LLM client initialized", zap.String("provider", llmProvider))
	}

	// The graph-LLM handles extraction and arbitration; Groq serves it when
	// configured even if the main chat provider is Azure.
	graphLLM := llmClient
	if config.GroqAPIKey() != "" && llmProvider != llm.ProviderGroq {
		if groq, err := llm.NewClient(llm.ProviderGroq, llm.AzureOptions{}, config.GroqAPIKey()); err == nil {
			graphLLM = groq
			logger.Info("graph LLM override active", zap.String("provider", llm.ProviderGroq))
		}
	}

	// Services
	tasks := service.NewTaskSupervisor(taskWorkers, logger)
	categorizer := service.NewCategorizer(memoryStore, llmClient, logger)
	extractor := service.NewEntityExtractor(memoryStore, entityStore, embeddingClient, graphLLM, tasks, logger)
	writer := service.NewMemoryWriter(memoryStore, historyStore, embeddingClient, categorizer, extractor, tasks,
		config.ContextWindowSize(), logger)

	dedup, err := service.NewDeduplicationEngine(memoryStore, embeddingClient, llmClient, configStore, embeddingProvider, logger)
	if err != nil {
		configStore.Close()
		return nil, err
	}

	search := service.NewHybridSearchEngine(memoryStore, entityStore, appStore, embeddingClient, tasks, logger)
	intents := service.NewIntentClassifier(llmClient, logger)
	bulk := service.NewBulkIngester(memoryStore, dedup, embeddingClient, categorizer, extractor, tasks,
		config.RequestsPerMinute(), logger)
	clustering := service.NewClusteringService(communityStore, llmClient, logger)

	// MCP surface
	orchestrator := mcp.NewOrchestrator(intents, dedup, writer, search, memoryStore, entityStore, appStore, logger)
	mcpServer := mcp.NewServer(orchestrator, serverVersion, logger)

	// Handlers
	memoryHandler := handlers.NewMemoryHandler(writer, dedup, search, bulk, extractor, tasks,
		memoryStore, historyStore, appStore, logger)
	appHandler := handlers.NewAppHandler(appStore, logger)
	entityHandler := handlers.NewEntityHandler(search, entityStore, logger)
	taxonomyHandler := handlers.NewTaxonomyHandler(memoryStore, clustering, logger)
	backupHandler := handlers.NewBackupHandler(memoryStore, embeddingClient, logger)

	r := chi.NewRouter()
	app := &App{
		Router:    r,
		Tasks:     tasks,
		MCP:       mcpServer,
		dedup:     dedup,
		configs:   configStore,
		logger:    logger,
		startTime: time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.UserScope)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(gateway, embeddingClient))
	r.Get("/metrics", app.metricsHandler())

	// MCP over SSE; per-connection identity rides on the connect URL.
	r.Handle("/sse", mcpServer.Handler())
	r.Handle("/message", mcpServer.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/memories", func(r chi.Router) {
			r.Get("/", memoryHandler.List)
			r.Post("/", memoryHandler.Create)
			r.Delete("/", memoryHandler.BulkDelete)
			r.Post("/search", memoryHandler.Search)
			r.Post("/bulk", memoryHandler.BulkIngest)
			r.Post("/reextract", memoryHandler.Reextract)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memoryHandler.GetByID)
				r.Put("/", memoryHandler.Update)
				r.Delete("/", memoryHandler.Delete)
				r.Get("/history", memoryHandler.History)
			})
		})

		r.Route("/apps", func(r chi.Router) {
			r.Get("/", appHandler.List)
			r.Route("/{appId}", func(r chi.Router) {
				r.Get("/", appHandler.Get)
				r.Put("/", appHandler.SetActive)
			})
		})

		r.Get("/entities", entityHandler.Search)
		r.Delete("/entities/{idOrName}", entityHandler.Delete)

		r.Get("/categories", taxonomyHandler.Categories)
		r.Get("/tags", taxonomyHandler.Tags)
		r.Get("/communities", taxonomyHandler.Communities)
		r.Post("/communities/rebuild", taxonomyHandler.RebuildCommunities)

		r.Route("/backup", func(r chi.Router) {
			r.Post("/export", backupHandler.Export)
			r.Post("/import", backupHandler.Import)
		})
	})

	return app, nil
}

// Close drains background work and releases long-lived components.
func (app *App) Close(ctx context.Context) {
	if err := app.Tasks.Shutdown(ctx); err != nil {
		app.logger.Warn("task supervisor shutdown", zap.Error(err))
	}
	if err := app.MCP.Shutdown(ctx); err != nil {
		app.logger.Warn("mcp shutdown", zap.Error(err))
	}
	app.dedup.Close()
	app.configs.Close()
}

func healthHandler(graph domain.GraphStore, embedder domain.EmbeddingClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		storeStatus := "ok"
		if _, err := graph.Read(ctx, "RETURN 1 AS ok", nil); err != nil {
			status = http.StatusServiceUnavailable
			storeStatus = err.Error()
		}

		embeddingHealth := embedder.HealthCheck(ctx)
		if !embeddingHealth.OK {
			status = http.StatusServiceUnavailable
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    overall,
			"store":     storeStatus,
			"embedding": embeddingHealth,
			"version":   serverVersion,
		})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.GraphStore      = (*store.Gateway)(nil)
	_ domain.MemoryStore     = (*store.MemoryStore)(nil)
	_ domain.HistoryStore    = (*store.HistoryStore)(nil)
	_ domain.EntityStore     = (*store.EntityStore)(nil)
	_ domain.AppStore        = (*store.AppStore)(nil)
	_ domain.CommunityStore  = (*store.CommunityStore)(nil)
	_ domain.ConfigStore     = (*store.ConfigStore)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ domain.LLMClient       = (*llm.MockClient)(nil)
)
