// Package valuation turns a coin's transactions and current price into
// holdings, cost basis and profit/loss, and aggregates them per portfolio.
//
// Cost basis uses a moving average: a buy adds amount*price to the invested
// capital, a sell shrinks it by the fraction of holdings sold. Sells never
// realize a separate gain.
package valuation

import (
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Valuation holds the derived figures of one position. Price-dependent
// fields are nil when no price is known.
type Valuation struct {
	CoinID          string           `json:"coinId,omitempty"`
	Holdings        decimal.Decimal  `json:"holdings"`
	InvestedCapital decimal.Decimal  `json:"investedCapital"`
	AverageCost     decimal.Decimal  `json:"averageCost"`
	CurrentPrice    *decimal.Decimal `json:"currentPrice"`
	CurrentValue    *decimal.Decimal `json:"currentValue"`
	ProfitLoss      *decimal.Decimal `json:"profitLoss"`
	ProfitLossPct   *decimal.Decimal `json:"profitLossPct"`
	FirstBuyAt      *time.Time       `json:"firstBuyAt,omitempty"`
	LastActivityAt  *time.Time       `json:"lastActivityAt,omitempty"`
	// Inconsistent is set when a sell exceeded the holdings at that time
	Inconsistent bool `json:"inconsistent"`
}

// Priced reports whether the valuation has a current price
func (v Valuation) Priced() bool {
	return v.CurrentPrice != nil
}

// ValuePosition values the transactions at price, which may be nil.
// Transactions are processed in timestamp order whatever their stored order.
func ValuePosition(txs []domain.Transaction, price *decimal.Decimal) Valuation {
	sorted := domain.CoinPosition{Transactions: txs}.SortedTransactions()

	var v Valuation
	holdings := decimal.Zero
	invested := decimal.Zero

	for _, tx := range sorted {
		ts := tx.Timestamp
		switch tx.Type {
		case domain.TransactionBuy:
			invested = invested.Add(tx.Amount.Mul(tx.Price))
			holdings = holdings.Add(tx.Amount)
			if v.FirstBuyAt == nil {
				v.FirstBuyAt = &ts
			}
		case domain.TransactionSell:
			if holdings.IsPositive() {
				ratio := tx.Amount.Div(holdings)
				if ratio.GreaterThan(decimal.NewFromInt(1)) {
					ratio = decimal.NewFromInt(1)
				}
				invested = invested.Sub(ratio.Mul(invested))
			}
			holdings = holdings.Sub(tx.Amount)
			if holdings.IsNegative() {
				v.Inconsistent = true
			}
		default:
			continue
		}
		v.LastActivityAt = &ts
	}

	v.Holdings = holdings
	v.InvestedCapital = invested
	if holdings.IsPositive() {
		v.AverageCost = invested.Div(holdings)
	}

	if price != nil {
		p := *price
		value := holdings.Mul(p)
		pl := value.Sub(invested)
		pct := decimal.Zero
		if invested.IsPositive() {
			pct = pl.Div(invested).Mul(hundred)
		}
		v.CurrentPrice = &p
		v.CurrentValue = &value
		v.ProfitLoss = &pl
		v.ProfitLossPct = &pct
	}
	return v
}

// ValueCoin values a position and tags the result with its coin id
func ValueCoin(pos domain.CoinPosition, price *decimal.Decimal) Valuation {
	v := ValuePosition(pos.Transactions, price)
	v.CoinID = pos.CoinID
	return v
}

// Totals aggregates position valuations. Current value and P&L cover priced
// positions only; Complete is false when any position is unpriced.
type Totals struct {
	InvestedCapital decimal.Decimal `json:"investedCapital"`
	CurrentValue    decimal.Decimal `json:"currentValue"`
	ProfitLoss      decimal.Decimal `json:"profitLoss"`
	ProfitLossPct   decimal.Decimal `json:"profitLossPct"`
	Complete        bool            `json:"complete"`
	Unpriced        []string        `json:"unpriced"`
	Inconsistent    []string        `json:"inconsistent"`
}

// Aggregate sums invested capital and current value and recomputes the
// percentage from the sums rather than averaging per-position percentages
func Aggregate(vals []Valuation) Totals {
	t := Totals{
		Complete:     true,
		Unpriced:     []string{},
		Inconsistent: []string{},
	}
	pricedInvested := decimal.Zero

	for _, v := range vals {
		t.InvestedCapital = t.InvestedCapital.Add(v.InvestedCapital)
		if v.Inconsistent {
			t.Inconsistent = append(t.Inconsistent, v.CoinID)
		}
		if !v.Priced() {
			t.Complete = false
			t.Unpriced = append(t.Unpriced, v.CoinID)
			continue
		}
		t.CurrentValue = t.CurrentValue.Add(*v.CurrentValue)
		pricedInvested = pricedInvested.Add(v.InvestedCapital)
	}

	t.ProfitLoss = t.CurrentValue.Sub(pricedInvested)
	if pricedInvested.IsPositive() {
		t.ProfitLossPct = t.ProfitLoss.Div(pricedInvested).Mul(hundred)
	}
	return t
}
