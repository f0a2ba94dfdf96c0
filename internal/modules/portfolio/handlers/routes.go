package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers portfolio and market routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Get("/", h.HandleGetPortfolio)
		r.Post("/refresh", h.HandleRefresh)
		r.Get("/history", h.HandleGetHistory)
		r.Get("/export", h.HandleExport)
		r.Post("/import", h.HandleImport)

		r.Route("/positions/{coinId}", func(r chi.Router) {
			r.Get("/", h.HandleGetPosition)
			r.Post("/transactions", h.HandleAddTransaction)
			r.Put("/transactions/{txId}", h.HandleUpdateTransaction)
			r.Delete("/transactions/{txId}", h.HandleRemoveTransaction)
		})
	})

	r.Route("/market", func(r chi.Router) {
		r.Get("/top", h.HandleGetTopQuotes)
		r.Get("/search", h.HandleSearch)
		r.Get("/coins/{coinId}/series", h.HandleGetSeries)
	})
}
