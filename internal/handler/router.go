package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/coinshop/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина монет.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.Site(h.sites, h.logger))

	r.Route("/api/coins", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/packages", h.GetPackages)
		r.Get("/balance", h.GetBalance)

		r.Post("/promo", h.ApplyPromoCode)
		r.Delete("/promo", h.RemovePromoCode)

		r.Post("/purchase", h.Purchase)
		r.Get("/purchase/{attemptID}", h.GetAttempt)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
