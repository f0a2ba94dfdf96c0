// Package analytics derives summary statistics from price series.
package analytics

import (
	"math"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/pkg/formulas"
)

// SMALength is the moving average window, in points
const SMALength = 7

// Summary describes a price series
type Summary struct {
	First       float64  `json:"first"`
	Last        float64  `json:"last"`
	High        float64  `json:"high"`
	Low         float64  `json:"low"`
	ChangePct   float64  `json:"changePct"`
	Volatility  float64  `json:"volatility"` // std-dev of point-to-point returns, in percent
	MaxDrawdown float64  `json:"maxDrawdownPct"`
	SMA         *float64 `json:"sma,omitempty"`
	Points      int      `json:"points"`
	Estimated   bool     `json:"estimated,omitempty"`
}

// Summarize computes the summary of a series. An empty series yields a zero summary.
func Summarize(s domain.Series) Summary {
	sum := Summary{Points: len(s.Points), Estimated: s.Estimated}
	if len(s.Points) == 0 {
		return sum
	}

	prices := make([]float64, len(s.Points))
	sum.High, sum.Low = math.Inf(-1), math.Inf(1)
	for i, p := range s.Points {
		prices[i] = p.Price
		sum.High = math.Max(sum.High, p.Price)
		sum.Low = math.Min(sum.Low, p.Price)
	}
	sum.First = prices[0]
	sum.Last = prices[len(prices)-1]
	if sum.First != 0 {
		sum.ChangePct = (sum.Last - sum.First) / sum.First * 100
	}

	sum.Volatility = formulas.StdDev(formulas.CalculateReturns(prices)) * 100
	sum.MaxDrawdown = formulas.MaxDrawdown(prices) * 100
	sum.SMA = formulas.CalculateSMA(prices, SMALength)
	return sum
}
