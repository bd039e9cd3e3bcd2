package customers

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers customer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/customers/{id}", h.Show)
	r.Get("/customers/{id}/history", h.History)
}
