package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all capital stack routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/optimize", h.HandleOptimize)
	r.Get("/history", h.HandleHistory)
}
