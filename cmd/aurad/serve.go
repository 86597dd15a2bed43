package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/aura-go/audit"
	"github.com/dshills/aura-go/config"
	"github.com/dshills/aura-go/graph"
	"github.com/dshills/aura-go/graph/emit"
	"github.com/dshills/aura-go/graph/model"
	"github.com/dshills/aura-go/graph/model/anthropic"
	"github.com/dshills/aura-go/graph/model/google"
	"github.com/dshills/aura-go/graph/model/openai"
	"github.com/dshills/aura-go/graph/store"
	"github.com/dshills/aura-go/llm"
	"github.com/dshills/aura-go/retrieval"
	"github.com/dshills/aura-go/server"
	"github.com/dshills/aura-go/struggle"
)

func runServe(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, closeStore, err := buildStore[struggle.State](ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	auditStore, closeAuditStore, err := buildStore[audit.State](ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeAuditStore()

	chat, err := buildChatModel(cfg.Provider)
	if err != nil {
		return err
	}

	cache := buildCache(cfg, log)
	invoker := llm.NewInvoker(chat, cache, cfg.LLM, log)

	var retrievalSvc *retrieval.Service
	if cfg.Provider.Name == "openai" || cfg.Provider.EmbeddingAPIKey != "" {
		key := cfg.Provider.EmbeddingAPIKey
		if key == "" {
			key = cfg.Provider.APIKey
		}
		embedder := retrieval.NewOpenAIEmbedder(key, cfg.Provider.EmbeddingModel)
		retrievalSvc = retrieval.NewService(embedder, retrieval.NewMemoryIndex(), cfg.Retrieval, log)
	} else {
		log.Info("no embeddings credentials, retrieval disabled")
	}

	metrics := graph.NewPrometheusMetrics(nil)
	workflow, err := struggle.New(cfg.Struggle, struggle.Deps{
		Store:     st,
		Emitter:   emit.NewZapEmitter(log),
		Invoker:   invoker,
		Retrieval: retrievalSvc,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		return err
	}

	audits, err := audit.New(cfg.Audit, audit.Deps{
		Store:     auditStore,
		Emitter:   emit.NewZapEmitter(log),
		Invoker:   invoker,
		Retrieval: retrievalSvc,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		return err
	}

	srv := server.New(workflow, audits, invoker, cfg.Server, log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-stop:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func buildStore[S any](ctx context.Context, cfg config.StoreConfig) (store.Store[S], func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.StoreMemory:
		return store.NewMemStore[S](), noop, nil
	case config.StoreSQLite:
		s, err := store.NewSQLiteStore[S](cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreMySQL:
		s, err := store.NewMySQLStore[S](cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		s, err := store.NewPostgresStore[S](ctx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend: %s", cfg.Backend)
}

func buildChatModel(cfg config.ProviderConfig) (model.ChatModel, error) {
	switch cfg.Name {
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model), nil
	case "openai":
		return openai.NewChatModel(cfg.APIKey, cfg.Model)
	case "google":
		return google.NewChatModel(cfg.APIKey, cfg.Model), nil
	case "mock":
		return model.NewMockChatModel(), nil
	}
	return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
}

func buildCache(cfg *config.Config, log *zap.Logger) *llm.TieredCache {
	local := llm.NewLocalCache(cfg.LLM.CacheMaxSize, cfg.CacheTTL())

	var distributed llm.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		distributed = llm.NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.CacheTTL())
	}
	return llm.NewTieredCache(distributed, local, log)
}
