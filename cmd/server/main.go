package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/memforge-ai/memforge/internal/api"
	"github.com/memforge-ai/memforge/internal/config"
	"github.com/memforge-ai/memforge/internal/embedding"
	"github.com/memforge-ai/memforge/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	gateway, err := store.NewGateway(ctx,
		config.MemgraphURL(),
		config.MemgraphUser(),
		config.MemgraphPassword(),
		config.PoolSize(),
		embeddingDim(),
		logger,
	)
	if err != nil {
		logger.Fatal("failed to connect to memgraph", zap.Error(err))
	}
	defer func() { _ = gateway.Close(ctx) }()
	logger.Info("connected to memgraph", zap.String("url", config.MemgraphURL()))

	if err := store.InitSchema(ctx, gateway, logger); err != nil {
		logger.Fatal("failed to initialize schema", zap.Error(err))
	}

	app, err := api.NewApp(gateway, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Drain background work (extraction, categorization, access logging)
	// before the store connection goes away.
	app.Close(shutdownCtx)

	logger.Info("server stopped")
}

// embeddingDim resolves the vector-index dimension before any client is
// built: the schema initializer needs it to create the indexes.
func embeddingDim() int {
	if d := config.EmbeddingDims(); d > 0 {
		return d
	}
	return embedding.NativeDim(config.EmbeddingProvider())
}
