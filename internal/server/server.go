package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ragworks/docqa/config"
	"github.com/ragworks/docqa/internal/answer"
	"github.com/ragworks/docqa/internal/health"
	"github.com/ragworks/docqa/internal/ingest"
	"github.com/ragworks/docqa/internal/pdfext"
	"github.com/ragworks/docqa/internal/retrieval"
	"github.com/ragworks/docqa/internal/session"
	"github.com/ragworks/docqa/internal/store"
	"github.com/ragworks/docqa/internal/vectorindex"
	"github.com/ragworks/docqa/provider"
)

// Run wires the service together and serves it until the process exits.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		baseLogger.Printf("migrations: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}
	index := vectorindex.New(st.DB)

	embedder := provider.NewEmbedder(cfg.Embedding)
	generator := provider.NewGenerator(cfg.LLM)

	var sessions session.Store
	if cfg.Storage.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr, err)
		}
		sessions = session.NewRedisStore(rdb, cfg.Storage.Redis.SessionTTL)
	} else {
		baseLogger.Printf("redis not configured, conversation history is in-process only")
		sessions = session.NewMemoryStore()
	}

	pipeline := ingest.New(
		pdfext.Processor{MinPageChars: cfg.Ingestion.MinPageChars},
		st, index, embedder,
		ingest.Options{
			MaxFileBytes: cfg.Ingestion.MaxFileSizeBytes(),
			ChunkSize:    cfg.Ingestion.ChunkSize,
			ChunkOverlap: cfg.Ingestion.ChunkOverlap,
		},
	)
	engine := retrieval.New(embedder, index, st, retrieval.Options{
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		TopK:                cfg.Retrieval.TopK,
		WildcardLimit:       cfg.Retrieval.WildcardLimit,
	})
	orchestrator := answer.New(engine, generator, answer.Options{
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
		TopK:             cfg.Retrieval.TopK,
		MaxAttempts:      cfg.LLM.MaxAttempts,
		BackoffBase:      cfg.LLM.BackoffBase,
		BackoffMax:       cfg.LLM.BackoffMax,
	})
	aggregator := &health.Aggregator{
		Database:    st.Ping,
		VectorIndex: index.Ping,
		LLM:         generator.Ping,
		Timeout:     cfg.Storage.Postgres.Timeout,
	}

	hh := &HealthHandler{Aggregator: aggregator}
	hh.Register(e)

	api := e.Group("/api")
	api.Use(withAPIKey(cfg.Server.APIKey))

	dh := &DocumentsHandler{Pipeline: pipeline, Store: st, Ingestion: cfg.Ingestion}
	dh.Register(api)
	ch := &ChatHandler{Orchestrator: orchestrator, Engine: engine, Sessions: sessions, Ingestion: cfg.Ingestion}
	ch.Register(api)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8000"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
