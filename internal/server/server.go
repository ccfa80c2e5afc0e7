// Package server exposes the SMS webhook and the document CRUD surface over
// HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"smsrag/internal/config"
	"smsrag/internal/domain"
	"smsrag/internal/service"
)

// QueryService answers messages and search requests.
type QueryService interface {
	Process(ctx context.Context, message string) (string, error)
	Search(ctx context.Context, req service.SearchRequest) (domain.QueryOutcome, error)
}

// DocumentService stores and removes single documents.
type DocumentService interface {
	Add(ctx context.Context, id, content string, metadata map[string]any) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Ingester chunks and stores uploaded files.
type Ingester interface {
	Ingest(ctx context.Context, filename, content string) (service.IngestResult, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Queries   QueryService
	Documents DocumentService
	Ingester  Ingester
	Messenger domain.Messenger
}

// Server manages the HTTP server and routes
type Server struct {
	deps           Deps
	logger         arbor.ILogger
	validate       *validator.Validate
	requestTimeout time.Duration
	router         *http.ServeMux
	server         *http.Server
}

// New creates a new HTTP server.
func New(cfg config.ServerConfig, deps Deps, logger arbor.ILogger) *Server {
	s := &Server{
		deps:           deps,
		logger:         logger,
		validate:       validator.New(),
		requestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
	}
	s.router = s.setupRoutes()
	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler is the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/add_document", s.addDocumentHandler)
	mux.HandleFunc("/search_documents", s.searchDocumentsHandler)
	mux.HandleFunc("/delete_document", s.deleteDocumentHandler)
	mux.HandleFunc("/upload_markdown", s.uploadMarkdownHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
