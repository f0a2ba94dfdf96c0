package portfolio

import (
	"sort"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/modules/valuation"
	"github.com/shopspring/decimal"
)

// PositionView is a position with its derived figures and price provenance
type PositionView struct {
	CoinID       string               `json:"coinId"`
	Symbol       string               `json:"symbol"`
	Name         string               `json:"name"`
	Image        string               `json:"image,omitempty"`
	Transactions []domain.Transaction `json:"transactions"`
	valuation.Valuation
	Change24hPct *float64   `json:"change24hPct"`
	PriceAsOf    *time.Time `json:"priceAsOf,omitempty"`
	PriceSource  string     `json:"priceSource,omitempty"`
	PriceStale   bool       `json:"priceStale"`
}

// PortfolioView is the whole portfolio as shown to the user
type PortfolioView struct {
	Positions []PositionView   `json:"positions"`
	Totals    valuation.Totals `json:"totals"`
	// Stale is set when any price came from the stale fallback
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func buildPositionView(pos domain.CoinPosition, q *domain.Quote) PositionView {
	var price *decimal.Decimal
	if q != nil {
		p := decimal.NewFromFloat(q.CurrentPrice)
		price = &p
	}

	v := PositionView{
		CoinID:       pos.CoinID,
		Symbol:       pos.Symbol,
		Name:         pos.Name,
		Image:        pos.Image,
		Transactions: pos.SortedTransactions(),
		Valuation:    valuation.ValueCoin(pos, price),
	}
	if q != nil {
		change := q.Change24hPct
		asOf := q.AsOf
		v.Change24hPct = &change
		v.PriceAsOf = &asOf
		v.PriceSource = q.Source
		v.PriceStale = q.Stale
		if v.Image == "" {
			v.Image = q.Image
		}
	}
	return v
}

func buildPortfolioView(p *domain.Portfolio, quotes map[string]domain.Quote) PortfolioView {
	view := PortfolioView{
		Positions: make([]PositionView, 0, len(p.Positions)),
		UpdatedAt: p.UpdatedAt,
	}
	vals := make([]valuation.Valuation, 0, len(p.Positions))

	for _, pos := range p.Positions {
		var qp *domain.Quote
		if q, ok := quotes[pos.CoinID]; ok {
			qp = &q
			if q.Stale {
				view.Stale = true
			}
		}
		pv := buildPositionView(pos, qp)
		view.Positions = append(view.Positions, pv)
		vals = append(vals, pv.Valuation)
	}

	// Largest positions first, unpriced ones last
	sort.SliceStable(view.Positions, func(i, j int) bool {
		a, b := view.Positions[i].CurrentValue, view.Positions[j].CurrentValue
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.GreaterThan(*b)
	})

	view.Totals = valuation.Aggregate(vals)
	return view
}
