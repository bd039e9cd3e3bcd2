package quotations

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the actor-scoped API. The caller installs
// httpx.RequireActor.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/quotations/preview", h.Preview)
	r.Post("/quotations", h.Create)
	r.Get("/quotations", h.List)
	r.Route("/quotations/{id}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Put("/", h.Update)
		r.Delete("/", h.Delete)
		r.Get("/versions", h.Versions)
		r.Post("/versions", h.CreateVersion)
		r.Get("/history", h.History)
		r.Get("/history/{actionID}", h.Snapshot)
		r.Patch("/share", h.Share)
		r.Post("/payments", h.RecordPayment)
	})
}

// MountPublicRoutes registers the unauthenticated share view.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Get("/view/{token}", h.PublicView)
}
