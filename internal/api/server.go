// Package api exposes the memory service over HTTP for local clients that
// do not speak MCP. Routes mirror the MCP tool operations one to one.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"contextvault/internal/di"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes caps request bodies; conversations are text, not uploads.
const maxBodyBytes = 4 << 20

// Server is the HTTP transport.
type Server struct {
	container *di.Container
	logger    logging.Logger
	http      *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(container *di.Container) *Server {
	s := &Server{
		container: container,
		logger:    container.Logger.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))
	r.Use(s.requestLogger)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/process", s.handleProcessConversation)
			r.Post("/analyze", s.handleAnalyzeConversation)
			r.Post("/suggest", s.handleSuggestStorage)
			r.Post("/", s.handleStoreContext)
			r.Get("/", s.handleGetHistory)
			r.Get("/recent", s.handleBrowseRecent)
			r.Get("/category/{category}", s.handleBrowseByCategory)
			r.Post("/bulk", s.handleBulk)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Put("/", s.handleEditConversation)
				r.Delete("/", s.handleDeleteConversation)
				r.Patch("/category", s.handleUpdateCategory)
				r.Get("/related", s.handleFindRelated)
			})
		})

		r.Post("/search", s.handleSearch)
		r.Get("/context", s.handleEnhancedContext)
		r.Post("/duplicates/check", s.handleCheckDuplicate)

		r.Route("/suggestions", func(r chi.Router) {
			r.Get("/", s.handleListSuggestions)
			r.Post("/{id}/approve", s.handleApproveSuggestion)
			r.Post("/{id}/reject", s.handleRejectSuggestion)
		})

		r.Post("/feedback", s.handleFeedback)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Get("/{id}", s.handleGetProject)
			r.Get("/{id}/context", s.handleProjectContext)
			r.Delete("/{id}", s.handleDeleteProject)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Put("/", s.handleSetPreference)
			r.Get("/", s.handleListPreferences)
			r.Get("/{key}", s.handleGetPreference)
			r.Delete("/{key}", s.handleDeletePreference)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/analyze", s.handleAnalyzeSessions)
			r.Post("/summaries", s.handleCreateSessionSummaries)
		})

		r.Get("/statistics", s.handleStatistics)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/integrity", s.handleCheckIntegrity)
			r.Post("/retention", s.handleApplyRetention)
			r.Post("/vacuum", s.handleVacuum)
			r.Post("/reload-config", s.handleReloadConfig)
		})
	})

	cfg := container.Config.Server
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Serve blocks until the context ends, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "http server starting", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.http.WriteTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// writeJSON serializes a success payload.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", "error", err.Error())
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := apperrors.FromError(err)
	if traceID := logging.GetTraceID(r.Context()); traceID != "" {
		se = se.WithTraceID(traceID)
	}
	se.WriteHTTPError(w)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewInvalidArgument("body", "invalid JSON: "+err.Error(), nil)
	}
	return nil
}
