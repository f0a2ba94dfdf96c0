package testing

import (
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureTime is the reference instant fixtures are built around
var FixtureTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Tx builds a transaction input from string amounts
func Tx(typ domain.TransactionType, amount, price string, at time.Time) domain.TransactionInput {
	return domain.TransactionInput{
		Type:      typ,
		Amount:    decimal.RequireFromString(amount),
		Price:     decimal.RequireFromString(price),
		Timestamp: at,
	}
}

// NewPortfolioFixture returns a portfolio holding BTC (bought 1 @ 10000,
// sold 0.4 @ 12000) and ETH (bought 2 @ 2000)
func NewPortfolioFixture() *domain.Portfolio {
	return &domain.Portfolio{
		Positions: []domain.CoinPosition{
			{
				CoinID: "bitcoin",
				Symbol: "BTC",
				Name:   "Bitcoin",
				Transactions: []domain.Transaction{
					{
						ID:        "btc-buy-1",
						Type:      domain.TransactionBuy,
						Amount:    decimal.RequireFromString("1.0"),
						Price:     decimal.RequireFromString("10000"),
						Timestamp: FixtureTime,
					},
					{
						ID:        "btc-sell-1",
						Type:      domain.TransactionSell,
						Amount:    decimal.RequireFromString("0.4"),
						Price:     decimal.RequireFromString("12000"),
						Timestamp: FixtureTime.Add(24 * time.Hour),
						Note:      "partial take profit",
					},
				},
			},
			{
				CoinID: "ethereum",
				Symbol: "ETH",
				Name:   "Ethereum",
				Transactions: []domain.Transaction{
					{
						ID:        "eth-buy-1",
						Type:      domain.TransactionBuy,
						Amount:    decimal.RequireFromString("2"),
						Price:     decimal.RequireFromString("2000"),
						Timestamp: FixtureTime.Add(48 * time.Hour),
					},
				},
			},
		},
	}
}
