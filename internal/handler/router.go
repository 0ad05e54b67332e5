package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/cardbook/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса cardbook.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	r.Handle("/metrics", promhttp.Handler())

	if h.hub != nil {
		r.Get("/api/events", h.hub.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Post("/api/activate", h.Activate)
		r.Post("/api/renewals", h.RunRenewals)

		r.Route("/api/cards", func(r chi.Router) {
			r.Get("/", h.ListCards)
			r.Post("/", h.CreateCard)
			r.Get("/{id}", h.GetCard)
			r.Put("/{id}", h.UpdateCard)
			r.Delete("/{id}", h.DeleteCard)
			r.Get("/{id}/credits", h.ListCardCredits)
			r.Post("/{id}/credits", h.CreateCardCredit)
		})

		r.Route("/api/credits", func(r chi.Router) {
			r.Get("/", h.ListCredits)
			r.Get("/expiring", h.ListExpiringCredits)
			r.Get("/{id}", h.GetCredit)
			r.Put("/{id}", h.UpdateCredit)
			r.Delete("/{id}", h.DeleteCredit)
			r.Post("/{id}/toggle", h.ToggleCredit)
			r.Put("/{id}/usage", h.SetCreditUsage)
		})

		r.Get("/api/summary", h.GetSummary)
		r.Get("/api/dashboard", h.GetDashboard)

		r.Get("/api/catalog", h.GetCatalog)
		r.Get("/api/catalog/{cardType}", h.GetCatalogCard)

		r.Get("/api/export", h.Export)
		r.Post("/api/import", h.Import)

		r.Route("/api/user", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/", h.GetUser)
				r.Put("/sync", h.SetSync)
				r.Post("/sync", h.SyncNow)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
