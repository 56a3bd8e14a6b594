// Package server provides the public entry point for initializing the
// SmartStress agent server.
//
// It lives in pkg/ (not internal/) so embedding applications can
// compose the server with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/smartstress/smartstress/internal/api"
	"github.com/smartstress/smartstress/internal/api/handlers"
	"github.com/smartstress/smartstress/internal/checkpoint"
	"github.com/smartstress/smartstress/internal/config"
	"github.com/smartstress/smartstress/internal/engine"
	"github.com/smartstress/smartstress/internal/llm"
	"github.com/smartstress/smartstress/internal/rag"
	"github.com/smartstress/smartstress/internal/sessions"
	"github.com/smartstress/smartstress/internal/stage"
	"github.com/smartstress/smartstress/internal/telemetry"
)

// Server holds the initialized SmartStress agent server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Sessions is the session service, exposed for embedding callers
	// that want to drive the workflow without HTTP.
	Sessions *sessions.Service

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry and closes stores on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and
// returns a ready server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	otelShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	store, err := newCheckpointStore(cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}
	log.Info().Str("backend", cfg.Checkpoint.Backend).Msg("✅ Checkpoint store initialized")

	gemini := llm.NewGeminiClient(cfg.Gemini.APIKey,
		llm.WithModels(cfg.Gemini.GenerationModel, cfg.Gemini.EmbeddingModel),
		llm.WithTimeout(cfg.Gemini.Timeout),
		geminiEndpoint(cfg.Gemini.Endpoint),
	)

	index, err := newAdvisoryIndex(cfg.RAG)
	if err != nil {
		return nil, fmt.Errorf("init advisory index: %w", err)
	}
	retriever := rag.NewRetriever(gemini, index)
	ingestor := rag.NewIngestor(gemini, index)

	if cfg.RAG.CorpusDir != "" {
		n, err := ingestor.IngestDir(ctx, cfg.RAG.CorpusDir)
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.RAG.CorpusDir).Msg("Advisory corpus seeding failed")
		} else {
			log.Info().Int("chunks", n).Msg("✅ Advisory corpus seeded")
		}
	}

	eng := engine.New(store,
		stage.NewSense(cfg.Monitor.HRBaseline, cfg.Monitor.HRScale),
		stage.NewConverse(gemini, retriever, cfg.Monitor.HighStressThreshold),
		stage.NewPropose(gemini),
		stage.NewExecute(),
	)
	log.Info().Msg("✅ Workflow engine initialized")

	svc := sessions.NewService(eng, store,
		sessions.UnknownThreadPolicy(cfg.Checkpoint.UnknownThreadPolicy))

	h := handlers.New(svc, ingestor, retriever)
	router := api.NewRouter(cfg, h)

	shutdown := func(ctx context.Context) error {
		if err := index.Close(); err != nil {
			log.Warn().Err(err).Msg("Advisory index close failed")
		}
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Checkpoint store close failed")
		}
		return otelShutdown(ctx)
	}

	return &Server{
		Handler:      router,
		Sessions:     svc,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newCheckpointStore(cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return checkpoint.NewMemoryStore(cfg.Path), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite checkpoint backend requires a path")
		}
		return checkpoint.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

func newAdvisoryIndex(cfg config.RAGConfig) (rag.Index, error) {
	if cfg.IndexPath == "" {
		return rag.NewMemoryIndex(), nil
	}
	return rag.NewSQLiteIndex(cfg.IndexPath)
}

func geminiEndpoint(endpoint string) llm.GeminiOption {
	if endpoint == "" {
		return func(*llm.GeminiClient) {}
	}
	return llm.WithEndpoint(endpoint)
}
