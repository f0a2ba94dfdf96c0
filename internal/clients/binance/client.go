// Package binance is the secondary market data source. It refreshes prices
// and 24h change by ticker symbol and provides candle-close price series.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/coinfolio/internal/clients/httputil"
	"github.com/aristath/coinfolio/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// ProviderName identifies Binance in rate limits, errors and sources
	ProviderName = "binance"

	quoteAsset = "USDT"
	maxKlines  = 1000
)

// Client for the Binance spot REST API
type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
	log     zerolog.Logger
}

// NewClient creates a new Binance client
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		now:     time.Now,
		log:     log.With().Str("client", ProviderName).Logger(),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

// PairFor maps a coin symbol to its USDT trading pair
func PairFor(symbol string) string {
	return domain.NormalizeSymbol(symbol) + quoteAsset
}

// SymbolFor maps a USDT trading pair back to the coin symbol, or "" for other quote assets
func SymbolFor(pair string) string {
	pair = strings.ToUpper(pair)
	if !strings.HasSuffix(pair, quoteAsset) || len(pair) == len(quoteAsset) {
		return ""
	}
	return strings.TrimSuffix(pair, quoteAsset)
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	c.log.Debug().Str("op", op).Str("path", path).Msg("Calling provider")
	return httputil.GetJSON(ctx, c.client, httputil.Request{
		Provider: ProviderName,
		Op:       op,
		URL:      c.baseURL + path,
		Query:    query,
		Timeout:  c.timeout,
	})
}

type ticker24h struct {
	Symbol             string         `json:"symbol"`
	LastPrice          httputil.Float `json:"lastPrice"`
	PriceChangePercent httputil.Float `json:"priceChangePercent"`
	CloseTime          int64          `json:"closeTime"`
}

// FetchPrices returns the latest price and 24h change for each symbol Binance lists.
// A single symbol is looked up on its own and comes back absent when Binance
// does not list it. Several symbols go out as one batch request, which Binance
// rejects as a whole when any pair is unknown; callers then look them up one
// by one so every request is paid for against the rate budget.
func (c *Client) FetchPrices(ctx context.Context, symbols []string) (map[string]domain.PriceTick, error) {
	out := make(map[string]domain.PriceTick, len(symbols))

	pairs := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		p := PairFor(s)
		if p == quoteAsset || seen[p] {
			continue
		}
		seen[p] = true
		pairs = append(pairs, p)
	}

	var (
		tickers []ticker24h
		err     error
	)
	switch len(pairs) {
	case 0:
		return out, nil
	case 1:
		tickers, err = c.fetchTicker(ctx, pairs[0])
	default:
		tickers, err = c.fetchTickers(ctx, pairs)
	}
	if err != nil {
		return nil, err
	}

	for _, t := range tickers {
		sym := SymbolFor(t.Symbol)
		if sym == "" || t.LastPrice <= 0 {
			continue
		}
		at := c.now().UTC()
		if t.CloseTime > 0 {
			at = time.UnixMilli(t.CloseTime).UTC()
		}
		out[sym] = domain.PriceTick{
			Symbol:       sym,
			Price:        float64(t.LastPrice),
			Change24hPct: float64(t.PriceChangePercent),
			At:           at,
		}
	}
	return out, nil
}

func (c *Client) fetchTickers(ctx context.Context, pairs []string) ([]ticker24h, error) {
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "prices", "/api/v3/ticker/24hr", url.Values{"symbols": {string(encoded)}})
	if err != nil {
		return nil, err
	}

	var tickers []ticker24h
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, domain.NewProviderError(ProviderName, "prices", domain.KindMalformed, http.StatusOK, err)
	}
	return tickers, nil
}

// fetchTicker looks up one pair. An unlisted pair yields no ticker.
func (c *Client) fetchTicker(ctx context.Context, pair string) ([]ticker24h, error) {
	body, err := c.get(ctx, "price", "/api/v3/ticker/24hr", url.Values{"symbol": {pair}})
	if errors.Is(err, domain.ErrRejected) || errors.Is(err, domain.ErrNotFound) {
		c.log.Debug().Str("pair", pair).Msg("Pair not listed")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var t ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, domain.NewProviderError(ProviderName, "price", domain.KindMalformed, http.StatusOK, err)
	}
	return []ticker24h{t}, nil
}

// intervalFor picks the candle size for a range of days
func intervalFor(days int) (string, time.Duration) {
	switch {
	case days <= 1:
		return "15m", 15 * time.Minute
	case days <= 30:
		return "1h", time.Hour
	case days <= 365:
		return "1d", 24 * time.Hour
	default:
		return "1w", 7 * 24 * time.Hour
	}
}

// FetchKlines returns candle close prices for the symbol over the last days.
// Each point is stamped with the candle's close time, capped at now.
func (c *Client) FetchKlines(ctx context.Context, symbol string, days int) ([]domain.PricePoint, error) {
	if days <= 0 {
		days = 1
	}
	interval, step := intervalFor(days)
	span := time.Duration(days) * 24 * time.Hour
	limit := int(span / step)
	if limit < 1 {
		limit = 1
	}
	if limit > maxKlines {
		limit = maxKlines
	}

	now := c.now()
	query := url.Values{
		"symbol":    {PairFor(symbol)},
		"interval":  {interval},
		"startTime": {strconv.FormatInt(now.Add(-span).UnixMilli(), 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	body, err := c.get(ctx, "klines", "/api/v3/klines", query)
	if err != nil {
		return nil, err
	}

	points, err := decodeKlines(body, now)
	if err != nil {
		return nil, domain.NewProviderError(ProviderName, "klines", domain.KindMalformed, http.StatusOK, err)
	}
	if len(points) == 0 {
		return nil, domain.NewProviderError(ProviderName, "klines", domain.KindNotFound, http.StatusOK, fmt.Errorf("no candles for %s", symbol))
	}
	return points, nil
}

// decodeKlines reads [openTime, open, high, low, close, volume, closeTime, ...] rows
func decodeKlines(body []byte, now time.Time) ([]domain.PricePoint, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	points := make([]domain.PricePoint, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("candle %d has %d fields", i, len(row))
		}
		var closePrice httputil.Float
		var closeTime int64
		if err := json.Unmarshal(row[4], &closePrice); err != nil {
			return nil, fmt.Errorf("candle %d close: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeTime); err != nil {
			return nil, fmt.Errorf("candle %d close time: %w", i, err)
		}

		at := time.UnixMilli(closeTime).UTC()
		if at.After(now) {
			at = now.UTC()
		}
		points = append(points, domain.PricePoint{Time: at, Price: float64(closePrice)})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}
