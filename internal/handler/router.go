package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/greenway-loyalty/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/api/health", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/{id}", h.GetProduct)
	})

	if h.blog != nil {
		r.Route("/api/blog", func(r chi.Router) {
			r.Get("/", h.ListPosts)
			r.Get("/categories", h.GetBlogCategories)
			r.Get("/{slug}", h.GetPost)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/api/checkout", h.Checkout)
		r.Get("/api/checkout/orders/{id}", h.GetOrder)

		r.Route("/api/loyalty", func(r chi.Router) {
			r.Get("/program", h.GetProgram)
			r.Get("/tiers", h.GetTiers)
			r.Get("/rewards", h.GetRewards)
			r.Post("/rewards/{id}/redeem", h.Redeem)

			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)

			r.Get("/me", h.GetDashboard)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/redemptions", h.GetRedemptions)
			r.Get("/points", h.GetPointsForPurchase)
			r.Post("/referrals", h.Referral)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}
