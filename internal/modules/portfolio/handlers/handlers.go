// Package handlers provides HTTP handlers for the portfolio and market data API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/modules/portfolio"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxImportBytes caps the size of an imported ledger document
const maxImportBytes = 5 << 20

// Handler serves the portfolio API
type Handler struct {
	service *portfolio.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleGetPortfolio returns every position with its valuation
// GET /api/portfolio
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPortfolio(r.Context())
	if err != nil {
		h.handleError(w, err, "Failed to get portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleRefresh re-fetches held coin prices
// POST /api/portfolio/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Refresh(r.Context())
	if err != nil {
		h.handleError(w, err, "Failed to refresh portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleGetHistory returns the portfolio value over time
// GET /api/portfolio/history?days=30
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 30)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hist, err := h.service.GetPortfolioHistory(r.Context(), days)
	if err != nil {
		h.handleError(w, err, "Failed to get portfolio history")
		return
	}
	h.writeJSON(w, http.StatusOK, hist)
}

// HandleExport downloads the ledger document
// GET /api/portfolio/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportPortfolio(r.Context())
	if err != nil {
		h.handleError(w, err, "Failed to export portfolio")
		return
	}

	filename := fmt.Sprintf("coinfolio-%s.json", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleImport replaces the ledger with the uploaded document
// POST /api/portfolio/import
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "Import document too large")
		return
	}

	view, err := h.service.ImportPortfolio(r.Context(), data)
	if err != nil {
		h.handleError(w, err, "Failed to import portfolio")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleGetPosition returns one position
// GET /api/portfolio/positions/{coinId}
func (h *Handler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPosition(r.Context(), chi.URLParam(r, "coinId"))
	if err != nil {
		h.handleError(w, err, "Failed to get position")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleAddTransaction records a buy or sell
// POST /api/portfolio/positions/{coinId}/transactions
func (h *Handler) HandleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var req portfolio.AddTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.service.AddTransaction(r.Context(), chi.URLParam(r, "coinId"), req)
	if err != nil {
		h.handleError(w, err, "Failed to add transaction")
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

// HandleUpdateTransaction replaces a transaction
// PUT /api/portfolio/positions/{coinId}/transactions/{txId}
func (h *Handler) HandleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in domain.TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.service.UpdateTransaction(r.Context(), chi.URLParam(r, "coinId"), chi.URLParam(r, "txId"), in)
	if err != nil {
		h.handleError(w, err, "Failed to update transaction")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleRemoveTransaction deletes a transaction
// DELETE /api/portfolio/positions/{coinId}/transactions/{txId}
func (h *Handler) HandleRemoveTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveTransaction(r.Context(), chi.URLParam(r, "coinId"), chi.URLParam(r, "txId")); err != nil {
		h.handleError(w, err, "Failed to remove transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetTopQuotes returns the top coins by market cap
// GET /api/market/top?limit=50
func (h *Handler) HandleGetTopQuotes(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil || limit < 1 || limit > 250 {
		h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 250")
		return
	}

	quotes, err := h.service.GetTopQuotes(r.Context(), limit)
	if err != nil {
		h.handleError(w, err, "Failed to get top coins")
		return
	}
	h.writeJSON(w, http.StatusOK, quotes)
}

// HandleSearch finds coins by name or symbol
// GET /api/market/search?q=bit
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.handleError(w, err, "Failed to search coins")
		return
	}
	h.writeJSON(w, http.StatusOK, results)
}

// HandleGetSeries returns a coin's price history with summary statistics
// GET /api/market/coins/{coinId}/series?days=7&symbol=BTC
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", 7)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, err := h.service.GetSeries(r.Context(), chi.URLParam(r, "coinId"), r.URL.Query().Get("symbol"), days)
	if err != nil {
		h.handleError(w, err, "Failed to get price series")
		return
	}
	h.writeJSON(w, http.StatusOK, series)
}

// handleError maps domain errors to status codes
func (h *Handler) handleError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrInvalidLedgerData):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoData):
		h.log.Warn().Err(err).Msg(msg)
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg(msg)
		h.writeError(w, http.StatusInternalServerError, msg)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
