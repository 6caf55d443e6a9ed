// Package api exposes the extraction pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/billscan/billscan/internal/bill"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/fetch"
	"github.com/billscan/billscan/internal/llm"
	"github.com/billscan/billscan/internal/version"
)

// Processor runs the extraction pipeline for a rendered document.
type Processor interface {
	ProcessDocument(ctx context.Context, pages []llm.Page) (bill.DocumentResult, error)
}

// Server is the billscan HTTP API server.
type Server struct {
	router    chi.Router
	processor Processor
	fetcher   *fetch.Fetcher
	validate  *validator.Validate
	cfg       config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(processor Processor, cfg config.Config) *Server {
	s := &Server{
		processor: processor,
		fetcher: fetch.New(fetch.Config{
			Timeout:  cfg.FetchTimeout,
			MaxBytes: cfg.MaxUploadBytes,
		}),
		validate: validator.New(),
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger())

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Extraction endpoints, authenticated when a server key is configured.
	r.Group(func(r chi.Router) {
		if s.cfg.ServerAPIKey != "" {
			r.Use(AuthMiddleware(s.cfg.ServerAPIKey))
		}

		r.Post("/api/v1/bills/process", s.handleProcess)
		r.Post("/api/v1/bills/upload", s.handleUpload)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","version":%q}`, version.Version)
}
