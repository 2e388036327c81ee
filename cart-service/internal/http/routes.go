package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the cart API under /api/v1.
func NewRouter(h *CartHandler, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Use(SessionMiddleware)
			// streams outlive the request timeout
			r.Get("/events", h.Events)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))
				r.Get("/", h.GetCart)
				r.Post("/classify", h.Classify)
				r.Post("/items", h.CommitItem)
				r.Put("/items/{index}", h.UpdateQuantity)
				r.Delete("/items/{index}", h.RemoveItem)
				r.Post("/items/{index}/increment", h.Increment)
				r.Post("/items/{index}/decrement", h.Decrement)
				r.Put("/items/{index}/selected", h.SetSelected)
				r.Delete("/selected", h.RemoveSelected)
				r.Delete("/unavailable", h.RemoveUnavailable)
				r.Post("/refresh", h.RefreshAvailability)
			})
		})
		r.With(middleware.Timeout(requestTimeout)).Get("/products/{id}/related", h.Related)
	})

	return r
}
