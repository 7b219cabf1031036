package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter registers the service routes and middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware(h.logger))
	r.Use(loggingMiddleware(h.logger))
	r.Use(enableCORS)

	r.Get("/health", h.Health)
	r.Post("/description", h.Describe)
	r.Get("/cache-stats", h.CacheStats)

	return r
}
