// Package portfolio is the engine API used by the HTTP layer: it combines
// the ledger, market data and valuation into portfolio views.
package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/events"
	"github.com/aristath/coinfolio/internal/marketdata"
	"github.com/aristath/coinfolio/internal/modules/analytics"
	"github.com/aristath/coinfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// MarketData is the market data the engine needs. marketdata.Service implements it.
type MarketData interface {
	Quote(ctx context.Context, coinID string) (domain.Quote, error)
	QuotesBulk(ctx context.Context, coinIDs []string, force bool) (marketdata.BulkResult, error)
	TopQuotes(ctx context.Context, limit int) ([]domain.Quote, error)
	Series(ctx context.Context, coinID, symbol string, days int) (domain.Series, error)
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// Ledger is the transaction store. ledger.Repository implements it.
type Ledger interface {
	Load() (*domain.Portfolio, error)
	AddTransaction(coinID string, info domain.CoinInfo, in domain.TransactionInput) (domain.Transaction, error)
	UpdateTransaction(coinID, txID string, in domain.TransactionInput) (domain.Transaction, error)
	RemoveTransaction(coinID, txID string) error
	Replace(p *domain.Portfolio) error
}

// Emitter publishes portfolio events. events.Bus implements it.
type Emitter interface {
	Emit(module string, data events.EventData)
}

// ExportVersion is the version tag written into exported documents
const ExportVersion = 1

// Service orchestrates portfolio operations
type Service struct {
	ledger Ledger
	market MarketData
	events Emitter
	now    func() time.Time
	log    zerolog.Logger
}

// NewService creates a portfolio service
func NewService(ledger Ledger, market MarketData, log zerolog.Logger) *Service {
	return &Service{
		ledger: ledger,
		market: market,
		now:    time.Now,
		log:    log.With().Str("service", "portfolio").Logger(),
	}
}

// SetEventBus attaches an emitter for change notifications
func (s *Service) SetEventBus(e Emitter) {
	s.events = e
}

func (s *Service) emit(data events.EventData) {
	if s.events != nil {
		s.events.Emit("portfolio", data)
	}
}

// GetPortfolio returns every position valued at the latest known prices
func (s *Service) GetPortfolio(ctx context.Context) (PortfolioView, error) {
	return s.view(ctx, false)
}

// Refresh re-fetches the prices of every held coin, bypassing fresh cache entries
func (s *Service) Refresh(ctx context.Context) (PortfolioView, error) {
	view, err := s.view(ctx, true)
	if err != nil {
		return PortfolioView{}, err
	}
	s.emit(&events.PricesRefreshedData{
		Priced:   len(view.Positions) - len(view.Totals.Unpriced),
		Unpriced: view.Totals.Unpriced,
		Stale:    view.Stale,
	})
	return view, nil
}

func (s *Service) view(ctx context.Context, force bool) (PortfolioView, error) {
	p, err := s.ledger.Load()
	if err != nil {
		return PortfolioView{}, err
	}

	quotes := map[string]domain.Quote{}
	if ids := p.CoinIDs(); len(ids) > 0 {
		res, err := s.market.QuotesBulk(ctx, ids, force)
		if err != nil {
			return PortfolioView{}, err
		}
		quotes = res.Quotes
		if len(res.Missing) > 0 {
			s.log.Warn().Strs("coins", res.Missing).Msg("No price available for some positions")
		}
	}

	return buildPortfolioView(p, quotes), nil
}

// GetPosition returns one position with its valuation
func (s *Service) GetPosition(ctx context.Context, coinID string) (PositionView, error) {
	p, err := s.ledger.Load()
	if err != nil {
		return PositionView{}, err
	}
	idx := p.Find(coinID)
	if idx < 0 {
		return PositionView{}, fmt.Errorf("coin %s: %w", coinID, domain.ErrPositionNotFound)
	}
	return s.positionView(ctx, p.Positions[idx]), nil
}

// AddTransactionRequest is a new transaction plus optional coin metadata.
// Missing metadata is looked up from market data for new positions.
type AddTransactionRequest struct {
	domain.TransactionInput
	Symbol string `json:"symbol,omitempty"`
	Name   string `json:"name,omitempty"`
	Image  string `json:"image,omitempty"`
}

// AddTransaction records a buy or sell and returns the updated position
func (s *Service) AddTransaction(ctx context.Context, coinID string, req AddTransactionRequest) (PositionView, error) {
	if err := ledger.ValidateTransaction(req.TransactionInput); err != nil {
		return PositionView{}, err
	}

	info := domain.CoinInfo{Symbol: req.Symbol, Name: req.Name, Image: req.Image}
	if info.Symbol == "" || info.Name == "" {
		info = s.lookupInfo(ctx, coinID, info)
	}

	tx, err := s.ledger.AddTransaction(coinID, info, req.TransactionInput)
	if err != nil {
		return PositionView{}, err
	}
	s.log.Info().
		Str("coin", coinID).
		Str("type", string(tx.Type)).
		Str("amount", tx.Amount.String()).
		Msg("Transaction recorded")
	s.emit(&events.PortfolioChangedData{CoinID: coinID, TransactionID: tx.ID, Action: "added"})

	return s.GetPosition(ctx, coinID)
}

// lookupInfo fills missing metadata from a quote; failures keep what was given
func (s *Service) lookupInfo(ctx context.Context, coinID string, info domain.CoinInfo) domain.CoinInfo {
	p, err := s.ledger.Load()
	if err == nil {
		if idx := p.Find(coinID); idx >= 0 {
			return info
		}
	}

	q, err := s.market.Quote(ctx, coinID)
	if err != nil {
		s.log.Debug().Err(err).Str("coin", coinID).Msg("Could not look up coin metadata")
		return info
	}
	if info.Symbol == "" {
		info.Symbol = q.Symbol
	}
	if info.Name == "" {
		info.Name = q.Name
	}
	if info.Image == "" {
		info.Image = q.Image
	}
	return info
}

// UpdateTransaction replaces a transaction and returns the updated position
func (s *Service) UpdateTransaction(ctx context.Context, coinID, txID string, in domain.TransactionInput) (PositionView, error) {
	if _, err := s.ledger.UpdateTransaction(coinID, txID, in); err != nil {
		return PositionView{}, err
	}
	s.emit(&events.PortfolioChangedData{CoinID: coinID, TransactionID: txID, Action: "updated"})
	return s.GetPosition(ctx, coinID)
}

// RemoveTransaction deletes a transaction. The position goes away with its last transaction.
func (s *Service) RemoveTransaction(ctx context.Context, coinID, txID string) error {
	if err := s.ledger.RemoveTransaction(coinID, txID); err != nil {
		return err
	}
	s.log.Info().Str("coin", coinID).Str("tx", txID).Msg("Transaction removed")
	s.emit(&events.PortfolioChangedData{CoinID: coinID, TransactionID: txID, Action: "removed"})
	return nil
}

// Search finds coins by name or symbol
func (s *Service) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	return s.market.Search(ctx, query)
}

// GetTopQuotes returns the top coins by market cap
func (s *Service) GetTopQuotes(ctx context.Context, limit int) ([]domain.Quote, error) {
	return s.market.TopQuotes(ctx, limit)
}

// SeriesView is a price series with its summary statistics
type SeriesView struct {
	domain.Series
	Summary analytics.Summary `json:"summary"`
}

// GetSeries returns a coin's price history. Without a symbol the held
// position's symbol is used for the candle fallback.
func (s *Service) GetSeries(ctx context.Context, coinID, symbol string, days int) (SeriesView, error) {
	if symbol == "" {
		if p, err := s.ledger.Load(); err == nil {
			if idx := p.Find(coinID); idx >= 0 {
				symbol = p.Positions[idx].Symbol
			}
		}
	}

	series, err := s.market.Series(ctx, coinID, strings.ToUpper(symbol), days)
	if err != nil {
		return SeriesView{}, err
	}
	return SeriesView{Series: series, Summary: analytics.Summarize(series)}, nil
}

// exportDocument is the serialized portfolio. Derived figures are not exported.
type exportDocument struct {
	Version    int                   `json:"version"`
	ExportedAt time.Time             `json:"exportedAt"`
	UpdatedAt  time.Time             `json:"updatedAt"`
	Positions  []domain.CoinPosition `json:"positions"`
}

// ExportPortfolio serializes the ledger as a JSON document
func (s *Service) ExportPortfolio(ctx context.Context) ([]byte, error) {
	p, err := s.ledger.Load()
	if err != nil {
		return nil, err
	}

	positions := make([]domain.CoinPosition, len(p.Positions))
	for i, pos := range p.Positions {
		pos.Transactions = pos.SortedTransactions()
		positions[i] = pos
	}

	data, err := json.MarshalIndent(exportDocument{
		Version:    ExportVersion,
		ExportedAt: s.now().UTC(),
		UpdatedAt:  p.UpdatedAt,
		Positions:  positions,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode portfolio: %w", err)
	}
	return data, nil
}

// ImportPortfolio validates a document and replaces the ledger with it.
// An invalid document leaves the existing portfolio untouched.
func (s *Service) ImportPortfolio(ctx context.Context, data []byte) (PortfolioView, error) {
	p, err := ledger.ParsePortfolioDocument(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("Rejected portfolio import")
		return PortfolioView{}, err
	}
	if err := s.ledger.Replace(p); err != nil {
		return PortfolioView{}, err
	}

	txCount := 0
	for _, pos := range p.Positions {
		txCount += len(pos.Transactions)
	}
	s.log.Info().Int("positions", len(p.Positions)).Int("transactions", txCount).Msg("Portfolio imported")
	s.emit(&events.PortfolioImportedData{Positions: len(p.Positions), Transactions: txCount})
	return s.GetPortfolio(ctx)
}

func (s *Service) positionView(ctx context.Context, pos domain.CoinPosition) PositionView {
	q, err := s.market.Quote(ctx, pos.CoinID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoData) && !errors.Is(err, domain.ErrNotFound) {
			s.log.Debug().Err(err).Str("coin", pos.CoinID).Msg("Quote lookup failed")
		}
		return buildPositionView(pos, nil)
	}
	return buildPositionView(pos, &q)
}
