// Package app assembles the service components from configuration. Backend
// choices are made here once; the rest of the code sees only interfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"smsrag/internal/chunker"
	"smsrag/internal/config"
	"smsrag/internal/domain"
	"smsrag/internal/embedding/hashing"
	"smsrag/internal/embedding/ollama"
	"smsrag/internal/generation"
	"smsrag/internal/httpclient"
	"smsrag/internal/messaging"
	"smsrag/internal/service"
	"smsrag/internal/vectorstore"
	"smsrag/internal/vectorstore/memory"
	"smsrag/internal/vectorstore/qdrant"
	"smsrag/internal/vectorstore/sqlite"
)

// App holds the wired components of one process.
type App struct {
	Config    *config.AppConfig
	Logger    arbor.ILogger
	Embedder  domain.Embedder
	Generator domain.Generator
	Chunker   domain.Chunker
	Store     *vectorstore.Store
	Pipeline  *service.Pipeline
	Ingestor  *service.Ingestor
	Messenger domain.Messenger
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// New builds every component described by cfg.
func New(ctx context.Context, cfg *config.AppConfig, logger arbor.ILogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	emb, err := NewEmbedder(cfg.Embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	gen, err := NewGenerator(ctx, cfg.Generator, logger)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	ch, err := NewChunker(cfg.Chunker)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	dimension := cfg.VectorStore.Dimension
	if sized, ok := emb.(interface{ Dimension() int }); ok && dimension == 0 {
		dimension = sized.Dimension()
	}
	backend, err := NewBackend(ctx, cfg.VectorStore, dimension, logger)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	store := vectorstore.NewStore(backend, emb, vectorstore.Defaults{
		TopK:              cfg.VectorStore.TopK,
		DistanceThreshold: cfg.VectorStore.DistanceThreshold,
	}, logger)

	msg, err := NewMessenger(cfg.Messaging, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("messaging: %w", err)
	}

	logger.Info().
		Str("embedder", emb.Name()).
		Str("generator", gen.Name()).
		Str("vector_store", backend.Name()).
		Msg("Components initialized")

	return &App{
		Config:    cfg,
		Logger:    logger,
		Embedder:  emb,
		Generator: gen,
		Chunker:   ch,
		Store:     store,
		Pipeline:  service.NewPipeline(store, gen, cfg.Generator.MaxReplyChars, logger),
		Ingestor:  service.NewIngestor(ch, store, logger),
		Messenger: msg,
	}, nil
}

// Close releases the vector store.
func (a *App) Close() error {
	return a.Store.Close()
}

func NewEmbedder(cfg config.EmbedderConfig, logger arbor.ILogger) (domain.Embedder, error) {
	switch cfg.Type {
	case "ollama":
		return ollama.NewClient(ollama.Config{
			URL:         cfg.Ollama.URL,
			APIKeyEnv:   cfg.Ollama.APIKeyEnv,
			Model:       cfg.Ollama.Model,
			Timeout:     seconds(cfg.Ollama.TimeoutSecs),
			MaxAttempts: cfg.Ollama.MaxAttempts,
			Backoff:     seconds(cfg.Ollama.BackoffSecs),
		}, logger)
	case "hashing":
		return hashing.NewEmbedder(cfg.Hashing.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

// NewGenerator picks the generation backend once.
func NewGenerator(ctx context.Context, cfg config.GeneratorConfig, logger arbor.ILogger) (domain.Generator, error) {
	switch cfg.Type {
	case "local":
		return generation.NewLocalGenerator(generation.LocalConfig{
			URL:     cfg.Local.URL,
			Model:   cfg.Local.Model,
			Timeout: seconds(cfg.Local.TimeoutSecs),
		}, logger)
	case "openai":
		return generation.NewOpenAIGenerator(generation.OpenAIConfig{
			URL:         cfg.OpenAI.URL,
			APIKeyEnv:   cfg.OpenAI.APIKeyEnv,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     seconds(cfg.OpenAI.TimeoutSecs),
		}, logger)
	case "anthropic":
		return generation.NewAnthropicGenerator(generation.AnthropicConfig{
			BaseURL:     cfg.Anthropic.BaseURL,
			APIKeyEnv:   cfg.Anthropic.APIKeyEnv,
			Model:       cfg.Anthropic.Model,
			Temperature: cfg.Anthropic.Temperature,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Timeout:     seconds(cfg.Anthropic.TimeoutSecs),
		}, logger)
	case "gemini":
		return generation.NewGeminiGenerator(ctx, generation.GeminiConfig{
			BaseURL:     cfg.Gemini.BaseURL,
			APIKeyEnv:   cfg.Gemini.APIKeyEnv,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
			Timeout:     seconds(cfg.Gemini.TimeoutSecs),
		}, logger)
	case "extractive":
		return generation.NewExtractiveGenerator(cfg.Extractive.MaxSentences), nil
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Type)
	}
}

func NewChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "paragraph":
		return chunker.NewParagraphChunker(cfg.MaxChunkSize), nil
	case "sentence":
		return chunker.NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}

// NewBackend opens the configured index. dimension may be 0 when the
// embedder's output size is only known after the first call.
func NewBackend(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger arbor.ILogger) (vectorstore.Backend, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(dimension), nil
	case "sqlite":
		return sqlite.Open(ctx, sqlite.Config{
			Path:       cfg.SQLite.Path,
			Collection: cfg.SQLite.Collection,
			Dimension:  dimension,
		}, logger)
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Dimension:  dimension,
			Timeout:    seconds(cfg.Qdrant.TimeoutSecs),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

// NewMessenger returns the Telnyx client when an API key is configured and
// a logging stand-in otherwise.
func NewMessenger(cfg config.MessagingConfig, logger arbor.ILogger) (domain.Messenger, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "log"
		if cfg.Telnyx.APIKey != "" {
			provider = "telnyx"
		}
	}
	switch provider {
	case "telnyx":
		if cfg.Telnyx.APIKey == "" {
			return nil, errors.New("telnyx api key is not set")
		}
		return messaging.NewTelnyxClient(cfg.Telnyx.APIKey, cfg.Telnyx.From, cfg.Telnyx.ProfileID, logger,
			messaging.WithURL(cfg.Telnyx.URL),
			messaging.WithHTTPClient(httpclient.NewDefaultHTTPClient(seconds(cfg.Telnyx.TimeoutSecs))),
			messaging.WithRateLimit(cfg.RatePerSecond))
	case "log":
		logger.Warn().Msg("No SMS provider configured, replies will only be logged")
		return messaging.NewLogMessenger(logger), nil
	default:
		return nil, fmt.Errorf("unknown messaging provider: %s", provider)
	}
}
