// Package domain provides core domain models and types.
package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the side of a ledger transaction
type TransactionType string

const (
	TransactionBuy  TransactionType = "buy"
	TransactionSell TransactionType = "sell"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// Transaction is a single buy or sell of a coin.
// Only an explicit update may change it, and never its ID.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TransactionType `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Note      string          `json:"note,omitempty"`
}

// TransactionInput carries every user-editable field of a transaction.
// Used for both creation and full-replacement updates.
type TransactionInput struct {
	Type      TransactionType `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Note      string          `json:"note,omitempty"`
}

// CoinInfo is the display metadata of a coin
type CoinInfo struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`
}

// CoinPosition holds every transaction for one coin.
// Derived figures (holdings, cost basis, P&L) are never stored here.
type CoinPosition struct {
	CoinID       string        `json:"coinId"`
	Symbol       string        `json:"symbol"`
	Name         string        `json:"name"`
	Image        string        `json:"image,omitempty"`
	Transactions []Transaction `json:"transactions"`
}

// SortedTransactions returns a copy of the transactions ordered by timestamp.
// Ties keep their stored order.
func (p CoinPosition) SortedTransactions() []Transaction {
	txs := make([]Transaction, len(p.Transactions))
	copy(txs, p.Transactions)
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})
	return txs
}

// Portfolio is the persisted ledger document
type Portfolio struct {
	Positions []CoinPosition `json:"positions"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewPortfolio returns an empty portfolio
func NewPortfolio() *Portfolio {
	return &Portfolio{Positions: []CoinPosition{}}
}

// Find returns the index of the position for coinID, or -1
func (p *Portfolio) Find(coinID string) int {
	for i := range p.Positions {
		if p.Positions[i].CoinID == coinID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the portfolio
func (p *Portfolio) Clone() *Portfolio {
	out := &Portfolio{
		Positions: make([]CoinPosition, len(p.Positions)),
		UpdatedAt: p.UpdatedAt,
	}
	for i, pos := range p.Positions {
		pos.Transactions = append([]Transaction(nil), pos.Transactions...)
		out.Positions[i] = pos
	}
	return out
}

// CoinIDs returns the coin ids of every position
func (p *Portfolio) CoinIDs() []string {
	ids := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		ids = append(ids, pos.CoinID)
	}
	return ids
}

// NormalizeSymbol upper-cases and trims a ticker symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Quote is a point-in-time market quote for one coin. Quotes only live in the cache.
type Quote struct {
	CoinID       string    `json:"coinId" msgpack:"coin_id"`
	Symbol       string    `json:"symbol" msgpack:"symbol"`
	Name         string    `json:"name" msgpack:"name"`
	Image        string    `json:"image,omitempty" msgpack:"image"`
	CurrentPrice float64   `json:"currentPrice" msgpack:"current_price"`
	Change24hPct float64   `json:"change24hPct" msgpack:"change_24h_pct"`
	MarketCap    float64   `json:"marketCap,omitempty" msgpack:"market_cap"`
	Rank         int       `json:"rank,omitempty" msgpack:"rank"`
	AsOf         time.Time `json:"asOf" msgpack:"as_of"`
	Source       string    `json:"source" msgpack:"source"`
	Stale        bool      `json:"stale" msgpack:"-"`
	Estimated    bool      `json:"estimated,omitempty" msgpack:"-"`
}

// PricePoint is one sample of a price series
type PricePoint struct {
	Time  time.Time `json:"time" msgpack:"t"`
	Price float64   `json:"price" msgpack:"p"`
}

// Series is a historical price series for one coin
type Series struct {
	CoinID    string       `json:"coinId" msgpack:"coin_id"`
	Days      int          `json:"days" msgpack:"days"`
	Points    []PricePoint `json:"points" msgpack:"points"`
	Source    string       `json:"source" msgpack:"source"`
	Stale     bool         `json:"stale" msgpack:"-"`
	Estimated bool         `json:"estimated,omitempty" msgpack:"-"`
}

// PriceAt returns the last price at or before t, or false when the series starts after t
func (s *Series) PriceAt(t time.Time) (float64, bool) {
	idx := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].Time.After(t)
	})
	if idx == 0 {
		return 0, false
	}
	return s.Points[idx-1].Price, true
}

// SearchResult is a coin matched by a text search
type SearchResult struct {
	CoinID        string `json:"coinId" msgpack:"coin_id"`
	Symbol        string `json:"symbol" msgpack:"symbol"`
	Name          string `json:"name" msgpack:"name"`
	Thumb         string `json:"thumb,omitempty" msgpack:"thumb"`
	MarketCapRank int    `json:"marketCapRank,omitempty" msgpack:"market_cap_rank"`
}

// PriceTick is a price update from a secondary source, keyed by symbol
type PriceTick struct {
	Symbol       string
	Price        float64
	Change24hPct float64
	At           time.Time
}
