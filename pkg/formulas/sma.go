package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateSMA returns the latest simple moving average over length prices,
// or nil if there are fewer prices than length
func CalculateSMA(closes []float64, length int) *float64 {
	if length < 2 || len(closes) < length {
		return nil
	}

	sma := talib.Sma(closes, length)
	if len(sma) > 0 && !isNaN(sma[len(sma)-1]) {
		result := sma[len(sma)-1]
		return &result
	}
	return nil
}

// SMASeries returns the moving average aligned with closes. The first
// length-1 entries have no average and are nil.
func SMASeries(closes []float64, length int) []*float64 {
	out := make([]*float64, len(closes))
	if length < 2 || len(closes) < length {
		return out
	}

	sma := talib.Sma(closes, length)
	for i := length - 1; i < len(sma) && i < len(closes); i++ {
		if v := sma[i]; !isNaN(v) {
			out[i] = &v
		}
	}
	return out
}
